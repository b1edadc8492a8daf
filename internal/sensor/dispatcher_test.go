package sensor

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/datagutt/pynab/internal/writer"
)

type fakeCanceler struct {
	calls int
}

func (f *fakeCanceler) CancelRunning() { f.calls++ }

type fakePictures struct {
	pics map[string]string
}

func (f *fakePictures) PictureFor(app string) (string, bool) {
	p, ok := f.pics[app]
	return p, ok
}

func testLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func TestDispatcherButtonClickCancelsRunning(t *testing.T) {
	writers := writer.NewRegistry()
	canceler := &fakeCanceler{}
	d := NewDispatcher(writers, canceler, &fakePictures{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Push(Event{Kind: "button", ButtonEvent: "click"})
	waitFor(t, func() bool { return canceler.calls == 1 })

	d.Push(Event{Kind: "button", ButtonEvent: "down"})
	time.Sleep(20 * time.Millisecond)
	if canceler.calls != 1 {
		t.Errorf("expected a non-click button event not to cancel, calls=%d", canceler.calls)
	}
}

func TestDispatcherBroadcastsToSubscribers(t *testing.T) {
	writers := writer.NewRegistry()
	w := writer.NewWriter(1, 8)
	w.Subscribe([]string{"rfid/*"})
	writers.Add(w)

	d := NewDispatcher(writers, &fakeCanceler{}, &fakePictures{pics: map[string]string{"lamp": "lamp.png"}}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Push(Event{Kind: "rfid", RFIDTech: "nfc", RFIDUID: "uid1", RFIDEvent: "detected", RFIDSupport: "formatted", RFIDApp: "lamp"})

	select {
	case payload := <-w.Out:
		if len(payload) == 0 {
			t.Error("expected a non-empty broadcast payload")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestDispatcherPushDropsWhenFull(t *testing.T) {
	writers := writer.NewRegistry()
	d := NewDispatcher(writers, &fakeCanceler{}, &fakePictures{}, testLogger())

	// Never start Run: fill the bounded channel and confirm Push doesn't block.
	for i := 0; i < cap(d.events)+10; i++ {
		d.Push(Event{Kind: "ear", Ear: "left", EarPosition: 3})
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
