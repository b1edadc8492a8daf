// Package actuator defines the narrow capability interfaces the scheduler
// and choreography engine drive hardware through (spec.md §6, §9: "Abstract
// actuator classes with virtual methods become a small capability interface
// per device"). The real drivers, the virtual/TUI backend (internal/virtual)
// and test doubles each implement these.
//
// Grounded on the devicecode-go HAL pack example's resource-registry shape
// (ClaimPin/ReleasePin, one owner at a time per bus); here the scheduler is
// the single owner for the whole process lifetime (spec.md §5's I1/I2), so
// there is no separate claim/release step — the interfaces model only the
// operations, and exclusivity is enforced by construction (the scheduler
// never calls two of these concurrently for the same device).
package actuator

import (
	"context"
	"time"
)

// Color is a six-hex-digit lowercase RGB string without a leading '#'
// (spec.md §6.1).
type Color string

// LEDSnapshot is an idempotent write of all five LEDs at once
// (spec.md §4.5: "LED writes are idempotent snapshots of all five LEDs").
type LEDSnapshot struct {
	Left        Color
	LeftMiddle  Color
	Center      Color
	RightMiddle Color
	Right       Color
}

// LEDStrip drives the five addressable LEDs.
type LEDStrip interface {
	// SetAll writes a full snapshot. Callers only invoke this for frames
	// that aren't pure "hold" (spec.md §4.5).
	SetAll(ctx context.Context, snap LEDSnapshot) error
	// Clear turns every LED off, used on cancellation and failure recovery
	// (spec.md §4.5, §7).
	Clear(ctx context.Context) error
}

// Ear identifies one of the two ear steppers.
type Ear int

const (
	EarLeft Ear = iota
	EarRight
)

// EarMin and EarMax bound the valid target position, spec.md §4.5.
const (
	EarMin = -17
	EarMax = 17
)

// EarController drives both ear steppers. Targets are asynchronous: the
// controller clamps and starts moving but does not block until arrival
// (spec.md §4.5).
type EarController interface {
	// SetTarget issues a new target position for one ear, clamped to
	// [EarMin, EarMax]. Returns once the command has been accepted by the
	// hardware, not once the ear has arrived.
	SetTarget(ctx context.Context, ear Ear, position int16) error
	// Halt stops both ears in place, used on cancellation (spec.md §4.5).
	Halt(ctx context.Context) error
	// Position reports an ear's last known position, used by the virtual
	// backend's ANSI rendering and by tests.
	Position(ear Ear) int16
}

// AudioHandle is the opaque, preloaded playable asset a Resolver returns
// (spec.md §3 ResourceRef, §6.3).
type AudioHandle interface {
	// Name is a human-readable identifier for logging; it is not
	// necessarily the original resource path.
	Name() string
}

// AudioSink is the single audio output device. Enqueued clips play in
// submission order; clips from the choreography engine's inline audio
// cues interleave with the command item's own audio list on the same
// sink (spec.md §4.5).
type AudioSink interface {
	// Enqueue schedules a clip for playback and returns immediately along
	// with a channel that closes once that specific clip finishes
	// playing. Callers that need "play concatenated" semantics wait on
	// each clip's channel before enqueueing the next; callers issuing a
	// fire-and-forget inline cue (spec.md §4.5) may ignore it.
	Enqueue(ctx context.Context, clip AudioHandle) (<-chan struct{}, error)
	// Flush stops playback and drops anything queued, used on
	// cancellation (spec.md §4.5).
	Flush(ctx context.Context) error
}

// AudioSource is the optional audio input device (microphone). No work item
// drives it: the scheduler never enters the "recording" state (see
// queue.StateRecording).
type AudioSource interface {
	StartCapture(ctx context.Context, dest string) error
	StopCapture(ctx context.Context) error
}

// RFIDReader is the optional RFID reader.
type RFIDReader interface {
	// Write programs a tag; used by the rfid_write work item
	// (spec.md §3, §6.1).
	Write(ctx context.Context, tech, uid, picture, app, data string, timeout time.Duration) error
}

// Button is the read-only button input. Its events reach the sensor
// dispatcher through the daemon, which forwards them as they arrive (see
// daemon.pumpVirtualEvents for the virtual backend).
type Button interface {
	// Events returns a channel of raw event names
	// (down/up/click/double_click/triple_click/hold).
	Events() <-chan string
}

// Capabilities bundles every device the daemon arbitrates. AudioSource and
// RFIDReader are optional per spec.md §1 and may be nil.
type Capabilities struct {
	LEDs   LEDStrip
	Ears   EarController
	Sink   AudioSink
	Source AudioSource // optional
	RFID   RFIDReader  // optional
	Button Button
}
