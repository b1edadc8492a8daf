package queue

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/datagutt/pynab/internal/actuator"
	"github.com/datagutt/pynab/internal/choreo"
	"github.com/datagutt/pynab/internal/proto"
	"github.com/datagutt/pynab/internal/resource"
	"github.com/datagutt/pynab/internal/virtual"
	"github.com/datagutt/pynab/internal/writer"
)

type fakeIdle struct {
	starts, stops int
}

func (f *fakeIdle) Start() { f.starts++ }
func (f *fakeIdle) Stop()  { f.stops++ }

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, ref string, kind resource.Kind) (*resource.Asset, error) {
	return &resource.Asset{Ref: ref}, nil
}

func (fakeResolver) ResolveAll(ctx context.Context, refs []string, kind resource.Kind) ([]*resource.Asset, error) {
	out := make([]*resource.Asset, 0, len(refs))
	for _, ref := range refs {
		out = append(out, &resource.Asset{Ref: ref})
	}
	return out, nil
}

func testLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func newTestScheduler(t *testing.T) (*Scheduler, *writer.Registry, context.CancelFunc) {
	t.Helper()
	writers := writer.NewRegistry()
	backend := virtual.NewBackend(1, testLogger())
	backend.ActuatorDelay = 0
	engine := &choreo.Engine{Caps: actuator.Capabilities{
		LEDs:   backend,
		Ears:   backend,
		Sink:   backend,
		Source: backend,
		RFID:   backend,
		Button: backend,
	}}
	sched := NewScheduler(writers, fakeResolver{}, engine, &fakeIdle{}, testLogger(), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)
	return sched, writers, cancel
}

// recvResponse reads off w.Out until it finds the next "response" packet,
// skipping over any interleaved "state" broadcasts (spec.md §4.4 broadcasts
// a state event to every writer on every transition, independent of and
// interleaved with that writer's own deferred responses).
func recvResponse(t *testing.T, w *writer.Writer) proto.Response {
	t.Helper()
	for {
		select {
		case payload := <-w.Out:
			var head struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(payload, &head); err != nil {
				t.Fatalf("failed to unmarshal message: %v", err)
			}
			if head.Type != proto.TypeResponse {
				continue
			}
			var resp proto.Response
			if err := json.Unmarshal(payload, &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			return resp
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for response")
			return proto.Response{}
		}
	}
}

// recvWire reads one payload off w.Out and decodes it loosely enough to
// cover both a Response and a StateEvent, since a writer's outbound queue
// carries both (spec.md §4.4, §6.1).
func recvWire(t *testing.T, w *writer.Writer) proto.StateEvent {
	t.Helper()
	select {
	case payload := <-w.Out:
		var ev proto.StateEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("failed to unmarshal wire message: %v", err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a wire message")
		return proto.StateEvent{}
	}
}

func TestSchedulerCommandCompletesOK(t *testing.T) {
	sched, writers, cancel := newTestScheduler(t)
	defer cancel()

	w := writer.NewWriter(1, 8)
	writers.Add(w)

	sched.Submit(&WorkItem{Kind: KindCommand, Origin: 1, RequestID: "r1", Sequence: []proto.CommandItem{{Audio: []string{"bark.wav"}}}})

	resp := recvResponse(t, w)
	if resp.Status != proto.StatusOK {
		t.Fatalf("expected ok, got %+v", resp)
	}
}

func TestSchedulerBroadcastsStateTransitionsToEveryWriter(t *testing.T) {
	sched, writers, cancel := newTestScheduler(t)
	defer cancel()

	owner := writer.NewWriter(1, 8)
	writers.Add(owner)
	bystander := writer.NewWriter(2, 8)
	writers.Add(bystander)

	sched.Submit(&WorkItem{Kind: KindCommand, Origin: 1, RequestID: "r1", Sequence: []proto.CommandItem{{Audio: []string{"bark.wav"}}}})

	// The bystander never subscribed to anything and has no item of its
	// own, but state events are broadcast unfiltered to every writer
	// (spec.md §4.4): idle->playing as the command starts running, then
	// playing->idle once it completes.
	bystanderPlaying := recvWire(t, bystander)
	if bystanderPlaying.Type != proto.TypeState || bystanderPlaying.State != string(StatePlaying) {
		t.Fatalf("expected a playing state event, got %+v", bystanderPlaying)
	}
	bystanderIdle := recvWire(t, bystander)
	if bystanderIdle.Type != proto.TypeState || bystanderIdle.State != string(StateIdle) {
		t.Fatalf("expected an idle state event once the command completes, got %+v", bystanderIdle)
	}

	// The owner sees the same two state broadcasts, plus its own deferred
	// response to the command in between them.
	ownerPlaying := recvWire(t, owner)
	if ownerPlaying.Type != proto.TypeState || ownerPlaying.State != string(StatePlaying) {
		t.Fatalf("expected the owner to also observe the playing state event, got %+v", ownerPlaying)
	}
	ownerResp := recvResponse(t, owner)
	if ownerResp.RequestID != "r1" || ownerResp.Status != proto.StatusOK {
		t.Fatalf("expected the owner's own deferred response, got %+v", ownerResp)
	}
	ownerIdle := recvWire(t, owner)
	if ownerIdle.Type != proto.TypeState || ownerIdle.State != string(StateIdle) {
		t.Fatalf("expected the owner to also observe the idle state event, got %+v", ownerIdle)
	}
}

func TestSchedulerSleepTransitionsAsleepThenWakes(t *testing.T) {
	sched, writers, cancel := newTestScheduler(t)
	defer cancel()

	w := writer.NewWriter(1, 8)
	writers.Add(w)

	sched.Submit(&WorkItem{Kind: KindSleep, Origin: 1, RequestID: "sleep1"})
	resp := recvResponse(t, w)
	if resp.Status != proto.StatusOK {
		t.Fatalf("expected sleep ack ok, got %+v", resp)
	}

	waitForState(t, sched, StateAsleep)

	sched.Wakeup()
	waitForState(t, sched, StateIdle)
}

func TestSchedulerSleepBarrierRotation(t *testing.T) {
	// I4: a Sleep sitting at the queue head ahead of a non-sleep-like item
	// rotates to the tail instead of blocking the queue.
	sched, writers, cancel := newTestScheduler(t)
	defer cancel()

	w := writer.NewWriter(1, 8)
	writers.Add(w)

	sched.Submit(&WorkItem{Kind: KindCommand, Origin: 1, RequestID: "occupy", Sequence: []proto.CommandItem{{Audio: []string{"occupy.wav"}}}})
	time.Sleep(20 * time.Millisecond) // let "occupy" start running so the next two queue up behind it

	sched.Submit(&WorkItem{Kind: KindSleep, Origin: 1, RequestID: "sleep1"})
	sched.Submit(&WorkItem{Kind: KindCommand, Origin: 1, RequestID: "cmd2", Sequence: []proto.CommandItem{{Audio: []string{"bark.wav"}}}})

	occupyResp := recvResponse(t, w)
	if occupyResp.RequestID != "occupy" {
		t.Fatalf("expected occupy to complete first, got %+v", occupyResp)
	}

	second := recvResponse(t, w)
	third := recvResponse(t, w)

	// cmd2 should complete before sleep1 is honored, since sleep1 rotates
	// behind it rather than blocking the queue.
	if second.RequestID != "cmd2" || second.Status != proto.StatusOK {
		t.Errorf("expected cmd2 to complete next, got %+v", second)
	}
	if third.RequestID != "sleep1" {
		t.Errorf("expected sleep1 to complete last, got %+v", third)
	}

	waitForState(t, sched, StateAsleep)
}

func TestSchedulerCancelQueuedItem(t *testing.T) {
	sched, writers, cancel := newTestScheduler(t)
	defer cancel()

	w := writer.NewWriter(1, 8)
	writers.Add(w)

	sched.Submit(&WorkItem{Kind: KindSleep, Origin: 1, RequestID: "blocker"})
	waitForState(t, sched, StateAsleep)
	_ = recvResponse(t, w) // blocker's own ok response

	sched.Submit(&WorkItem{Kind: KindCommand, Origin: 1, RequestID: "queued", Sequence: []proto.CommandItem{{Audio: []string{"bark.wav"}}}})
	sched.Cancel("queued", 1)

	resp := recvResponse(t, w)
	if resp.Status != proto.StatusCanceled {
		t.Fatalf("expected canceled, got %+v", resp)
	}
}

func TestSchedulerDoubleCancelYieldsError(t *testing.T) {
	sched, writers, cancel := newTestScheduler(t)
	defer cancel()

	w := writer.NewWriter(1, 8)
	writers.Add(w)

	sched.Submit(&WorkItem{
		Kind:       KindCommand,
		Origin:     1,
		RequestID:  "cancelable",
		Sequence:   []proto.CommandItem{{Audio: []string{"long.wav"}}},
		Cancelable: true,
	})

	// Give the item a moment to actually start running.
	time.Sleep(20 * time.Millisecond)

	sched.Cancel("cancelable", 1)
	first := recvResponse(t, w)
	if first.Status != proto.StatusCanceled {
		t.Fatalf("expected first cancel to succeed, got %+v", first)
	}

	sched.Cancel("cancelable", 1)
	// Second cancel targets an item that no longer exists; the scheduler
	// replies with an explicit error rather than silently ignoring it.
	second := recvResponse(t, w)
	if second.Status != proto.StatusError {
		t.Fatalf("expected second cancel to error, got %+v", second)
	}
}

func TestSchedulerInteractiveBypass(t *testing.T) {
	sched, writers, cancel := newTestScheduler(t)
	defer cancel()

	w := writer.NewWriter(7, 8)
	writers.Add(w)

	sched.Submit(&WorkItem{Kind: KindModeSwitch, Origin: 7, RequestID: "grant"})
	grantResp := recvResponse(t, w)
	if grantResp.Status != proto.StatusOK {
		t.Fatalf("expected mode switch granted, got %+v", grantResp)
	}
	waitForState(t, sched, StateInteractive)

	// The owner's own running command keeps the daemon in Interactive
	// state (beginRunState's owner exception), giving a window to queue
	// a non-owner command and a second owner command behind it.
	sched.Submit(&WorkItem{Kind: KindCommand, Origin: 7, RequestID: "occupy", Sequence: []proto.CommandItem{{Audio: []string{"occupy.wav"}}}})
	time.Sleep(20 * time.Millisecond) // let "occupy" start running

	other := writer.NewWriter(8, 8)
	writers.Add(other)
	sched.Submit(&WorkItem{Kind: KindCommand, Origin: 8, RequestID: "other", Sequence: []proto.CommandItem{{Audio: []string{"x.wav"}}}})

	// The interactive owner's own command should bypass ahead of the
	// already-queued, unrelated writer's item (spec.md §4.3 "Interactive
	// bypass").
	sched.Submit(&WorkItem{Kind: KindCommand, Origin: 7, RequestID: "mine", Sequence: []proto.CommandItem{{Audio: []string{"y.wav"}}}})

	occupyResp := recvResponse(t, w)
	if occupyResp.RequestID != "occupy" {
		t.Fatalf("expected occupy to complete first, got %+v", occupyResp)
	}

	mineResp := recvResponse(t, w)
	if mineResp.RequestID != "mine" {
		t.Errorf("expected bypassing owner command to complete next, got %+v", mineResp)
	}

	otherResp := recvResponse(t, other)
	if otherResp.RequestID != "other" {
		t.Errorf("expected the other writer's own command to complete last, got %+v", otherResp)
	}
}

func TestSchedulerDisconnectWriterCancelsQueuedItems(t *testing.T) {
	sched, writers, cancel := newTestScheduler(t)
	defer cancel()

	w := writer.NewWriter(1, 8)
	writers.Add(w)

	sched.Submit(&WorkItem{Kind: KindSleep, Origin: 1, RequestID: "blocker"})
	waitForState(t, sched, StateAsleep)
	_ = recvResponse(t, w)

	sched.Submit(&WorkItem{Kind: KindCommand, Origin: 1, RequestID: "orphan", Sequence: []proto.CommandItem{{Audio: []string{"x.wav"}}}})

	// A real front-end removes the writer from the registry before telling
	// the scheduler it disconnected (internal/frontend.Listener.handle), so
	// the orphaned item's canceled response has nowhere left to go.
	wasOwner := writers.Remove(1)
	sched.DisconnectWriter(1, wasOwner)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sched.QueueDepth() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected orphaned queued item removed, queue depth = %d", sched.QueueDepth())
}

func waitForState(t *testing.T, sched *Scheduler, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sched.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, last was %s", want, sched.State())
}
