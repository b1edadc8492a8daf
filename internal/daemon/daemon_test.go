package daemon

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/datagutt/pynab/internal/config"
)

func testLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Port = 31000
	cfg.Virtual.Enabled = true
	cfg.Virtual.Seed = 1
	return cfg
}

func TestNewAssemblesVirtualBackend(t *testing.T) {
	d, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.virtualBackend == nil {
		t.Fatal("expected a virtual backend when cfg.Virtual.Enabled")
	}
	if d.virtualSocket == nil {
		t.Fatal("expected a virtual socket when cfg.Virtual.Enabled")
	}
	if d.listener == nil || d.sched == nil || d.dispatcher == nil || d.idle == nil {
		t.Fatal("expected every core component assembled")
	}
}

func TestNewWithoutVirtualHasNoHardware(t *testing.T) {
	cfg := config.Default()
	cfg.Port = 31010
	d, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.virtualBackend != nil || d.virtualSocket != nil {
		t.Fatal("expected no virtual backend without cfg.Virtual.Enabled")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	d, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	// Give every component a moment to actually start listening before
	// asking them to stop.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down after context cancellation")
	}
}

func TestOnShutdownUnblocksRun(t *testing.T) {
	d, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	d.onShutdown("halt")

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown packet did not unblock Run")
	}
}

func TestOnConfigUpdateNeverErrors(t *testing.T) {
	d, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.onConfigUpdate("tts", "slotA"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
