// Package virtual is the alternative actuator/sensor backend of spec.md
// §6.4: it implements every internal/actuator capability interface by
// rendering an ANSI snapshot to an auxiliary TCP socket (daemon port + 1)
// and accepting scripted button/ear/RFID input over that same socket.
//
// Fault-injection knobs (FailLEDs, FailEars, ActuatorDelay, ...) are
// grounded on the teacher's MockLauncher test-double pattern
// (FailCreate/CreateDelay), generalized from machine-launch faults to
// actuator-call faults so slow and failing actuator calls can be exercised
// deterministically in tests.
package virtual

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/datagutt/pynab/internal/actuator"
)

var errInjectedFault = errors.New("virtual: injected fault")

// Backend implements every actuator capability interface against in-memory
// state, rendered over an auxiliary ANSI socket (socket.go).
type Backend struct {
	log zerolog.Logger

	mu    sync.Mutex
	leds  actuator.LEDSnapshot
	ears  [2]int16 // indexed by actuator.Ear
	clips []string // names of clips currently "playing", FIFO

	rand *rand.Rand

	buttonEvents chan string
	earEvents    chan EarEvent
	rfidEvents   chan RFIDEvent
	asrEvents    chan ASREvent

	onRender func() // best-effort hook, set by socket.go to push a snapshot

	// Fault injection, exported so tests and the aux socket's script
	// commands can flip them (spec.md §6.4's determinism requirement
	// extends to making failures reproducible on demand).
	FailLEDs      bool
	FailEars      bool
	FailAudio     bool
	FailRFID      bool
	ActuatorDelay time.Duration
}

// NewBackend builds a virtual backend with a deterministic wildcard PRNG
// seed (spec.md §6.4: "A deterministic seed controls any randomness").
// The seed only affects this package's own use of randomness (none at
// present — resource wildcard selection lives in internal/resource); it is
// accepted here for symmetry with that resolver's seeding and reserved for
// future use (e.g. simulated sensor jitter).
func NewBackend(seed int64, log zerolog.Logger) *Backend {
	return &Backend{
		log:          log,
		rand:         rand.New(rand.NewSource(seed)),
		buttonEvents: make(chan string, 32),
		earEvents:    make(chan EarEvent, 32),
		rfidEvents:   make(chan RFIDEvent, 32),
		asrEvents:    make(chan ASREvent, 32),
	}
}

func (b *Backend) delay(ctx context.Context) error {
	if b.ActuatorDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(b.ActuatorDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetAll implements actuator.LEDStrip.
func (b *Backend) SetAll(ctx context.Context, snap actuator.LEDSnapshot) error {
	if err := b.delay(ctx); err != nil {
		return err
	}
	if b.FailLEDs {
		return errInjectedFault
	}
	b.mu.Lock()
	b.leds = snap
	b.mu.Unlock()
	b.render()
	return nil
}

// Clear implements actuator.LEDStrip.
func (b *Backend) Clear(ctx context.Context) error {
	return b.SetAll(ctx, actuator.LEDSnapshot{})
}

// SetTarget implements actuator.EarController.
func (b *Backend) SetTarget(ctx context.Context, ear actuator.Ear, position int16) error {
	if err := b.delay(ctx); err != nil {
		return err
	}
	if b.FailEars {
		return errInjectedFault
	}
	if position < actuator.EarMin {
		position = actuator.EarMin
	}
	if position > actuator.EarMax {
		position = actuator.EarMax
	}
	b.mu.Lock()
	b.ears[ear] = position
	b.mu.Unlock()
	b.render()
	return nil
}

// Halt implements actuator.EarController.
func (b *Backend) Halt(ctx context.Context) error {
	return b.delay(ctx)
}

// Position implements actuator.EarController.
func (b *Backend) Position(ear actuator.Ear) int16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ears[ear]
}

// virtualClip is the AudioHandle the virtual sink hands back to a resolved
// asset's Name(), and the Enqueue completion it manufactures.
type virtualClip struct {
	name string
}

func (c virtualClip) Name() string { return c.name }

// Enqueue implements actuator.AudioSink: it simulates playback with a short
// fixed duration proportional to nothing in particular (there is no real
// audio decoder here) and renders the clip name into the ANSI view.
func (b *Backend) Enqueue(ctx context.Context, clip actuator.AudioHandle) (<-chan struct{}, error) {
	done := make(chan struct{})
	if b.FailAudio {
		close(done)
		return done, errInjectedFault
	}

	b.mu.Lock()
	b.clips = append(b.clips, clip.Name())
	b.mu.Unlock()
	b.render()

	go func() {
		defer close(done)
		timer := time.NewTimer(150 * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		b.mu.Lock()
		for i, n := range b.clips {
			if n == clip.Name() {
				b.clips = append(b.clips[:i], b.clips[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		b.render()
	}()
	return done, nil
}

// Flush implements actuator.AudioSink.
func (b *Backend) Flush(ctx context.Context) error {
	b.mu.Lock()
	b.clips = nil
	b.mu.Unlock()
	b.render()
	return nil
}

// StartCapture/StopCapture implement actuator.AudioSource minimally: the
// virtual backend has no microphone, so capture is a no-op that always
// succeeds. Nothing in the daemon calls them.
func (b *Backend) StartCapture(ctx context.Context, dest string) error { return nil }
func (b *Backend) StopCapture(ctx context.Context) error               { return nil }

// Write implements actuator.RFIDReader.
func (b *Backend) Write(ctx context.Context, tech, uid, picture, app, data string, timeout time.Duration) error {
	writeCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := b.delay(writeCtx); err != nil {
		return err
	}
	if b.FailRFID {
		return errInjectedFault
	}
	return nil
}

func (b *Backend) render() {
	if b.onRender != nil {
		b.onRender()
	}
}

// snapshot is a render-friendly copy of the backend's current state, used
// by socket.go's ANSI writer.
type snapshot struct {
	LEDs  actuator.LEDSnapshot
	Ears  [2]int16
	Clips []string
}

func (b *Backend) snapshot() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := snapshot{LEDs: b.leds, Ears: b.ears}
	s.Clips = append(s.Clips, b.clips...)
	return s
}
