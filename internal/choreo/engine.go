package choreo

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/datagutt/pynab/internal/actuator"
)

// Clock abstracts wall-clock time so a fixed, mocked clock can make frame
// dispatch deterministic in tests (spec.md §4.5 "Determinism").
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the real wall clock.
var SystemClock Clock = systemClock{}

// ResolveInline resolves a choreography frame's inline audio cue string
// (spec.md §3 ResourceRef) to a playable handle. Injected rather than a
// concrete resource.Resolver dependency so the engine stays testable with
// fakes and has no import-cycle with internal/resource.
type ResolveInline func(ref string) (actuator.AudioHandle, error)

// Engine executes one command item's audio list and/or choreography
// program (spec.md §4.5).
type Engine struct {
	Caps  actuator.Capabilities
	Clock Clock
}

// Outcome is the result of running one command item.
type Outcome struct {
	Canceled bool
	Err      error
}

// Run plays audio (concatenated, in order) and program (frame-quantized)
// concurrently, honoring cancel, and returns once both sub-timelines and
// any still-inflight inline audio cues have drained. On cancel or error it
// clears LEDs, halts ears and flushes audio before returning (spec.md §4.5,
// §7 "the rabbit always returns to idle on any execution failure").
func (e *Engine) Run(ctx context.Context, cancel <-chan struct{}, audio []actuator.AudioHandle, program *Program, resolveInline ResolveInline) Outcome {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		select {
		case <-cancel:
			stop()
		case <-runCtx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return e.playAudioList(gctx, audio) })
	g.Go(func() error { return e.playProgram(gctx, program, resolveInline) })

	err := g.Wait()

	canceled := runCtx.Err() != nil

	// The rabbit always returns to a clean physical state on completion,
	// cancellation or failure (spec.md §4.5, §7).
	cleanupCtx := context.Background()
	if e.Caps.LEDs != nil {
		_ = e.Caps.LEDs.Clear(cleanupCtx)
	}
	if e.Caps.Ears != nil {
		_ = e.Caps.Ears.Halt(cleanupCtx)
	}
	if (canceled || err != nil) && e.Caps.Sink != nil {
		_ = e.Caps.Sink.Flush(cleanupCtx)
	}

	if canceled {
		return Outcome{Canceled: true}
	}
	return Outcome{Err: err}
}

func (e *Engine) playAudioList(ctx context.Context, audio []actuator.AudioHandle) error {
	if e.Caps.Sink == nil {
		return nil
	}
	for _, clip := range audio {
		done, err := e.Caps.Sink.Enqueue(ctx, clip)
		if err != nil {
			return err
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *Engine) playProgram(ctx context.Context, program *Program, resolveInline ResolveInline) error {
	if program == nil || len(program.Frames) == 0 {
		return nil
	}

	clock := e.Clock
	if clock == nil {
		clock = SystemClock
	}

	start := clock.Now()
	var elapsed time.Duration
	var inflight []<-chan struct{}
	var leds actuator.LEDSnapshot

	for _, frame := range program.Frames {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.dispatchFrame(ctx, frame, &leds, resolveInline, &inflight); err != nil {
			return err
		}

		elapsed += time.Duration(frame.Ticks()) * TickDuration * time.Millisecond
		deadline := start.Add(elapsed)
		if err := sleepUntil(ctx, clock, deadline); err != nil {
			return err
		}
	}

	for _, done := range inflight {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *Engine) dispatchFrame(ctx context.Context, frame ProgramFrame, leds *actuator.LEDSnapshot, resolveInline ResolveInline, inflight *[]<-chan struct{}) error {
	if !frame.LEDs.AllHold() && e.Caps.LEDs != nil {
		snap := *leds
		if frame.LEDs.Left != nil {
			snap.Left = *frame.LEDs.Left
		}
		if frame.LEDs.LeftMiddle != nil {
			snap.LeftMiddle = *frame.LEDs.LeftMiddle
		}
		if frame.LEDs.Center != nil {
			snap.Center = *frame.LEDs.Center
		}
		if frame.LEDs.RightMiddle != nil {
			snap.RightMiddle = *frame.LEDs.RightMiddle
		}
		if frame.LEDs.Right != nil {
			snap.Right = *frame.LEDs.Right
		}
		if err := e.Caps.LEDs.SetAll(ctx, snap); err != nil {
			return err
		}
		*leds = snap
	}

	if e.Caps.Ears != nil {
		if frame.Ears.Left != nil {
			if err := e.Caps.Ears.SetTarget(ctx, actuator.EarLeft, clampEar(*frame.Ears.Left)); err != nil {
				return err
			}
		}
		if frame.Ears.Right != nil {
			if err := e.Caps.Ears.SetTarget(ctx, actuator.EarRight, clampEar(*frame.Ears.Right)); err != nil {
				return err
			}
		}
	}

	// Inline audio cues enqueue without blocking the LED/ear timeline
	// (spec.md §4.5).
	if frame.Audio != "" && e.Caps.Sink != nil && resolveInline != nil {
		clip, err := resolveInline(frame.Audio)
		if err == nil {
			if done, err := e.Caps.Sink.Enqueue(ctx, clip); err == nil {
				*inflight = append(*inflight, done)
			}
		}
	}
	return nil
}

func clampEar(pos int16) int16 {
	switch {
	case pos < actuator.EarMin:
		return actuator.EarMin
	case pos > actuator.EarMax:
		return actuator.EarMax
	default:
		return pos
	}
}

// sleepUntil blocks until deadline or ctx cancellation, using an absolute
// deadline rather than a relative sleep so rounding error never
// accumulates across frames (spec.md §4.5).
func sleepUntil(ctx context.Context, clock Clock, deadline time.Time) error {
	d := deadline.Sub(clock.Now())
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
