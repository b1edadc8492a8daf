package queue

// State is one of the five daemon states (spec.md §3 DaemonState, §4.4).
type State string

const (
	StateIdle        State = "idle"
	StatePlaying      State = "playing"
	StateInteractive State = "interactive"
	StateRecording   State = "recording"
	StateAsleep      State = "asleep"
)

// Note: "recording" is part of the state enum (spec.md §4.4 transition
// diagram) but nothing in the wire protocol's packet set (spec.md §6.1)
// requests audio capture, so the scheduler never transitions into it; the
// actuator.AudioSource capability exists for the virtual backend's symmetry
// and for a future packet to drive.
