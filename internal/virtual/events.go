package virtual

// EarEvent, RFIDEvent and ASREvent are raw, backend-local event shapes
// pushed by scripted socket input (socket.go); the daemon adapts them onto
// internal/sensor.Event the same way it would adapt a real driver's native
// event shape, keeping this package free of a dependency on internal/sensor.
type EarEvent struct {
	Ear      string
	Position int16
}

type RFIDEvent struct {
	Tech    string
	UID     string
	Event   string
	Support string
	App     string
	Data    string
}

type ASREvent struct {
	Intent string
	Slots  map[string]string
}

// Events implements actuator.Button.
func (b *Backend) Events() <-chan string { return b.buttonEvents }

// EarEvents, RFIDEvents and ASREvents expose the scripted sensor channels
// for the daemon to fan into internal/sensor.Dispatcher.
func (b *Backend) EarEvents() <-chan EarEvent   { return b.earEvents }
func (b *Backend) RFIDEvents() <-chan RFIDEvent { return b.rfidEvents }
func (b *Backend) ASREvents() <-chan ASREvent   { return b.asrEvents }
