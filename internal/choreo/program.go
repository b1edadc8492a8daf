// Package choreo is the choreography execution engine (spec.md §4.5): it
// plays a command item's audio list and/or choreography program against the
// actuator capabilities with 10ms tempo resolution, as three cooperating
// sub-timelines (LEDs, ears, audio) joined on completion — the Go
// realization of spec.md §9's "one command, three parallel sub-timelines
// modeled as cooperating goroutines joined on a completion signal."
package choreo

import "github.com/datagutt/pynab/internal/actuator"

// TickDuration is the base tempo quantum (spec.md §4.5).
const TickDuration = 10 // milliseconds; kept as an untyped const so program
// JSON can express tempo multipliers as plain numbers.

// LEDFrame carries per-LED "new color or hold" (spec.md §4.5): a nil entry
// means hold-previous and is skipped on write.
type LEDFrame struct {
	Left        *actuator.Color `json:"left,omitempty"`
	LeftMiddle  *actuator.Color `json:"left_middle,omitempty"`
	Center      *actuator.Color `json:"center,omitempty"`
	RightMiddle *actuator.Color `json:"right_middle,omitempty"`
	Right       *actuator.Color `json:"right,omitempty"`
}

// AllHold reports whether every LED entry in the frame is hold-previous, in
// which case the frame skips the LED write entirely (spec.md §4.5).
func (f LEDFrame) AllHold() bool {
	return f.Left == nil && f.LeftMiddle == nil && f.Center == nil && f.RightMiddle == nil && f.Right == nil
}

// EarTargets carries an optional new target per ear for one frame.
type EarTargets struct {
	Left  *int16 `json:"left,omitempty"`
	Right *int16 `json:"right,omitempty"`
}

// ProgramFrame is one time-quantized tick of a choreography program.
type ProgramFrame struct {
	// TempoMultiplier scales this frame's duration in units of
	// TickDuration; 0 is treated as 1 (spec.md §4.5 "tempo override").
	TempoMultiplier int        `json:"tempo,omitempty"`
	LEDs            LEDFrame   `json:"leds,omitempty"`
	Ears            EarTargets `json:"ears,omitempty"`
	// Audio is an optional inline resource reference cue; the engine
	// resolves it when the frame is dispatched, through the ResolveInline
	// callback passed to Engine.Run, since the engine itself has no
	// resolver dependency.
	Audio string `json:"audio,omitempty"`
}

// Ticks returns this frame's duration in ticks, defaulting to 1.
func (f ProgramFrame) Ticks() int {
	if f.TempoMultiplier <= 0 {
		return 1
	}
	return f.TempoMultiplier
}

// Program is a parsed choreography asset: a sequence of frames.
type Program struct {
	Frames []ProgramFrame `json:"frames"`
}
