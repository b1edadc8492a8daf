package virtual

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/datagutt/pynab/internal/actuator"
)

func testLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func TestBackendSetAllAndClear(t *testing.T) {
	b := NewBackend(1, testLogger())
	white := actuator.Color("ffffff")
	if err := b.SetAll(context.Background(), actuator.LEDSnapshot{Center: white}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.snapshot().LEDs.Center != white {
		t.Error("expected center LED to reflect the write")
	}
	if err := b.Clear(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.snapshot().LEDs.Center != "" {
		t.Error("expected LEDs cleared")
	}
}

func TestBackendEarClamping(t *testing.T) {
	b := NewBackend(1, testLogger())
	if err := b.SetTarget(context.Background(), actuator.EarLeft, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.Position(actuator.EarLeft); got != actuator.EarMax {
		t.Errorf("expected clamped to %d, got %d", actuator.EarMax, got)
	}

	if err := b.SetTarget(context.Background(), actuator.EarRight, -100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.Position(actuator.EarRight); got != actuator.EarMin {
		t.Errorf("expected clamped to %d, got %d", actuator.EarMin, got)
	}
}

func TestBackendFaultInjection(t *testing.T) {
	b := NewBackend(1, testLogger())
	b.FailLEDs = true
	if err := b.SetAll(context.Background(), actuator.LEDSnapshot{}); err == nil {
		t.Error("expected injected LED fault")
	}

	b.FailEars = true
	if err := b.SetTarget(context.Background(), actuator.EarLeft, 0); err == nil {
		t.Error("expected injected ear fault")
	}

	b.FailAudio = true
	if _, err := b.Enqueue(context.Background(), stubClip("x")); err == nil {
		t.Error("expected injected audio fault")
	}

	b.FailRFID = true
	if err := b.Write(context.Background(), "nfc", "uid", "", "", "", 0); err == nil {
		t.Error("expected injected RFID fault")
	}
}

func TestBackendEnqueueCompletes(t *testing.T) {
	b := NewBackend(1, testLogger())
	done, err := b.Enqueue(context.Background(), stubClip("bark.wav"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-done
}

type stubClip string

func (c stubClip) Name() string { return string(c) }
