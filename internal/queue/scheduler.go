package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/datagutt/pynab/internal/actuator"
	"github.com/datagutt/pynab/internal/choreo"
	"github.com/datagutt/pynab/internal/metrics"
	"github.com/datagutt/pynab/internal/proto"
	"github.com/datagutt/pynab/internal/resource"
	"github.com/datagutt/pynab/internal/writer"
)

// IdleController is the idle animator's contract, driven by the scheduler
// per I6: LEDs only animate when the queue is empty and state==idle
// (spec.md §4.6).
type IdleController interface {
	Start()
	Stop()
}

// Scheduler is the single authority that advances work (spec.md §4.3). It
// runs as one goroutine processing closures off a mailbox channel — the Go
// shape of the teacher's Hub.Run select-loop actor, generalized from
// register/unregister/stop to the full work-item vocabulary.
type Scheduler struct {
	mailbox chan func()
	stopped chan struct{}

	items   []*WorkItem
	running *WorkItem
	state   State

	writers  *writer.Registry
	resolver resource.Resolver
	engine   *choreo.Engine
	idle     IdleController
	log      zerolog.Logger

	onConfigUpdate func(service, slot string) error
	onShutdown     func(mode string)
	onRFIDWrite    func(app, picture string)

	startedAt time.Time
}

// NewScheduler builds a Scheduler wired to its collaborators.
// onConfigUpdate, onShutdown and onRFIDWrite may be nil.
func NewScheduler(writers *writer.Registry, resolver resource.Resolver, engine *choreo.Engine, idle IdleController, log zerolog.Logger, onConfigUpdate func(service, slot string) error, onShutdown func(mode string), onRFIDWrite func(app, picture string)) *Scheduler {
	return &Scheduler{
		mailbox:        make(chan func()),
		stopped:        make(chan struct{}),
		state:          StateIdle,
		writers:        writers,
		resolver:       resolver,
		engine:         engine,
		idle:           idle,
		log:            log,
		onConfigUpdate: onConfigUpdate,
		onShutdown:     onShutdown,
		onRFIDWrite:    onRFIDWrite,
	}
}

// Run drives the actor loop until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	s.startedAt = time.Now()
	for {
		select {
		case f := <-s.mailbox:
			f()
		case <-ctx.Done():
			close(s.stopped)
			return
		}
	}
}

func (s *Scheduler) post(f func()) {
	select {
	case s.mailbox <- f:
	case <-s.stopped:
	}
}

func ask[T any](s *Scheduler, fn func() T) T {
	ch := make(chan T, 1)
	s.post(func() { ch <- fn() })
	return <-ch
}

// State returns the current daemon state.
func (s *Scheduler) State() State { return ask(s, func() State { return s.state }) }

// QueueDepth returns the number of queued (not running) items.
func (s *Scheduler) QueueDepth() int { return ask(s, func() int { return len(s.items) }) }

// Uptime returns time elapsed since Run started, or zero before Run is
// called.
func (s *Scheduler) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// transition moves the daemon to a new state and broadcasts it to every
// connected writer, unfiltered (spec.md §4.4 "every transition emits
// {type:"state",state:<new>} to all writers").
func (s *Scheduler) transition(new State) {
	s.state = new
	if payload, err := json.Marshal(proto.NewStateEvent(string(new))); err == nil {
		s.writers.BroadcastAll(payload)
	}
}

// Submit enqueues item, bypassing the FIFO queue if it qualifies for
// interactive bypass (spec.md §4.3 "Interactive bypass").
func (s *Scheduler) Submit(item *WorkItem) {
	item.cancel = make(chan struct{})
	s.post(func() {
		if s.bypassEligible(item) {
			s.items = append([]*WorkItem{item}, s.items...)
		} else {
			s.items = append(s.items, item)
		}
		s.advance()
	})
}

func (s *Scheduler) bypassEligible(item *WorkItem) bool {
	return s.state == StateInteractive &&
		(item.Kind == KindCommand || item.Kind == KindMessage) &&
		s.writers.InteractiveOwner() == item.Origin
}

// ReleaseInteractive releases the interactive slot immediately and
// out-of-band, with no queueing (spec.md §4.2: "On mode=idle from the
// current owner, ownership is released immediately").
func (s *Scheduler) ReleaseInteractive(writerID uint64) {
	s.post(func() {
		if !s.writers.ReleaseInteractive(writerID) {
			return
		}
		if s.running == nil {
			s.recomputeIdleOrPlaying()
			s.advance()
		}
	})
}

func (s *Scheduler) recomputeIdleOrPlaying() {
	if len(s.items) > 0 {
		s.transition(StatePlaying)
	} else {
		s.transition(StateIdle)
	}
}

// Wakeup transitions asleep → idle and unblocks the scheduler
// (spec.md §4.3 "Wake").
func (s *Scheduler) Wakeup() {
	s.post(func() {
		if s.state != StateAsleep {
			return
		}
		s.transition(StateIdle)
		s.advance()
	})
}

// Cancel processes a cancel packet targeting requestID, submitted by
// requester. Two cancels of the same request_id yield one canceled and one
// error (spec.md §8 property 4).
func (s *Scheduler) Cancel(requestID string, requester uint64) {
	s.post(func() {
		for i, it := range s.items {
			if it.RequestID == requestID {
				s.items = append(s.items[:i], s.items[i+1:]...)
				s.respond(it, Result{Status: proto.StatusCanceled})
				return
			}
		}
		if s.running != nil && s.running.RequestID == requestID {
			if !s.running.Cancelable {
				s.sendError(requester, requestID, proto.ErrStateError, "item is not cancelable")
				return
			}
			if s.running.cancelRequested {
				s.sendError(requester, requestID, proto.ErrStateError, "cancellation already requested")
				return
			}
			s.running.cancelRequested = true
			close(s.running.cancel)
			return
		}
		s.sendError(requester, requestID, proto.ErrStateError, "no matching item to cancel")
	})
}

// CancelRunning cancels the currently running item iff it is cancelable,
// with no response to anyone (spec.md §4.7, I7: "a button click cancels the
// currently running item iff it is marked cancelable; otherwise the click
// is merely broadcast" — unlike an explicit cancel packet, a button click
// that hits a non-cancelable item is simply a no-op, not an error).
func (s *Scheduler) CancelRunning() {
	s.post(func() {
		if s.running != nil && s.running.Cancelable && !s.running.cancelRequested {
			s.running.cancelRequested = true
			close(s.running.cancel)
		}
	})
}

// DisconnectWriter cancels every queued item belonging to writerID and, if
// it held the interactive slot (wasOwner, as already observed by the
// caller's writer.Registry.Remove), re-evaluates state (spec.md §3 Writer
// lifetime).
func (s *Scheduler) DisconnectWriter(writerID uint64, wasOwner bool) {
	s.post(func() {
		remaining := s.items[:0:0]
		for _, it := range s.items {
			if it.Origin == writerID {
				s.respond(it, Result{Status: proto.StatusCanceled})
				continue
			}
			remaining = append(remaining, it)
		}
		s.items = remaining

		if s.running != nil && s.running.Origin == writerID && s.running.Cancelable && !s.running.cancelRequested {
			s.running.cancelRequested = true
			close(s.running.cancel)
		}

		if wasOwner && s.running == nil {
			s.recomputeIdleOrPlaying()
		}
		s.advance()
	})
}

// advance runs the scheduler's core loop step (spec.md §4.3), called after
// any change: enqueue, completion, cancel, wake, disconnect.
func (s *Scheduler) advance() {
	defer func() { metrics.QueueDepth.Set(float64(len(s.items))) }()

	if s.running != nil {
		return
	}

	s.sweepExpiredHead()
	if len(s.items) == 0 {
		s.enterIdle()
		return
	}

	for i := 0; i < len(s.items); i++ {
		if s.items[0].Kind != KindSleep || s.allSleepLike(s.items[1:]) {
			break
		}
		// I4: a blocked Sleep migrates to the tail.
		s.items = append(s.items[1:], s.items[0])
	}

	head := s.items[0]
	if head.Kind == KindSleep {
		s.items = s.items[1:]
		s.respond(head, Result{Status: proto.StatusOK})
		s.enterAsleep()
		return
	}

	if s.state == StateAsleep && !head.isSleepLike() {
		return
	}

	s.items = s.items[1:]
	s.start(head)
}

func (s *Scheduler) sweepExpiredHead() {
	now := time.Now()
	for len(s.items) > 0 && s.items[0].expired(now) {
		item := s.items[0]
		s.items = s.items[1:]
		s.respond(item, Result{Status: proto.StatusExpired})
	}
}

func (s *Scheduler) allSleepLike(items []*WorkItem) bool {
	for _, it := range items {
		if !it.isSleepLike() {
			return false
		}
	}
	return true
}

func (s *Scheduler) enterIdle() {
	if s.state == StateInteractive || s.state == StateAsleep {
		return
	}
	s.transition(StateIdle)
	if s.idle != nil {
		s.idle.Start()
	}
}

func (s *Scheduler) enterAsleep() {
	s.transition(StateAsleep)
	if s.idle != nil {
		s.idle.Stop()
	}
}

func (s *Scheduler) start(item *WorkItem) {
	s.running = item
	s.beginRunState(item)

	if item.Kind == KindModeSwitch {
		result := s.execModeSwitch(item)
		s.completeRunning(item, result)
		return
	}

	if s.idle != nil {
		s.idle.Stop()
	}
	go func() {
		var result Result
		func() {
			// A panic while executing the item fails that item only.
			defer func() {
				if r := recover(); r != nil {
					s.log.Error().Str("request_id", item.RequestID).Interface("panic", r).Str("stack", string(debug.Stack())).Msg("work item panicked")
					result = Result{Status: proto.StatusFailure, Class: proto.ErrHardwareError, Message: fmt.Sprintf("panic: %v", r)}
				}
			}()
			result = s.execute(item)
		}()
		s.post(func() { s.completeRunning(item, result) })
	}()
}

func (s *Scheduler) beginRunState(item *WorkItem) {
	switch item.Kind {
	case KindCommand, KindMessage:
		if s.state == StateInteractive && s.writers.InteractiveOwner() == item.Origin {
			return
		}
		s.transition(StatePlaying)
	case KindModeSwitch:
		// handled in execModeSwitch once granted
	default:
		// Test/RfidWrite/ConfigUpdate/Shutdown run without a dedicated
		// state of their own — Test explicitly runs even while asleep
		// (spec.md §3 WorkItem.Test).
	}
}

func (s *Scheduler) completeRunning(item *WorkItem, result Result) {
	s.running = nil
	s.respond(item, result)
	if item.Kind == KindShutdown {
		return
	}
	s.advance()
}

func (s *Scheduler) execModeSwitch(item *WorkItem) Result {
	s.writers.GrantInteractive(item.Origin)
	s.transition(StateInteractive)
	return Result{Status: proto.StatusOK}
}

// execute runs a dequeued item's side effects in a dedicated goroutine (the
// actor thread itself must never block on hardware I/O).
func (s *Scheduler) execute(item *WorkItem) Result {
	switch item.Kind {
	case KindCommand:
		return s.execCommand(item)
	case KindMessage:
		return s.execMessage(item)
	case KindTest:
		return s.execTest(item)
	case KindRFIDWrite:
		return s.execRFIDWrite(item)
	case KindConfigUpdate:
		return s.execConfigUpdate(item)
	case KindShutdown:
		return s.execShutdown(item)
	default:
		return Result{Status: proto.StatusOK}
	}
}

func (s *Scheduler) execCommand(item *WorkItem) Result {
	ctx := context.Background()
	for _, ci := range item.Sequence {
		select {
		case <-item.cancel:
			return Result{Status: proto.StatusCanceled}
		default:
		}
		if res := s.runCommandItem(ctx, item.cancel, ci); res.Status != proto.StatusOK {
			return res
		}
	}
	return Result{Status: proto.StatusOK}
}

// execMessage plays signature, then each body item, then signature again
// (spec.md §3, §4.5).
func (s *Scheduler) execMessage(item *WorkItem) Result {
	ctx := context.Background()
	if item.Signature != nil {
		if res := s.runCommandItem(ctx, item.cancel, *item.Signature); res.Status != proto.StatusOK {
			return res
		}
	}
	for _, ci := range item.Body {
		if res := s.runCommandItem(ctx, item.cancel, ci); res.Status != proto.StatusOK {
			return res
		}
	}
	if item.Signature != nil {
		if res := s.runCommandItem(ctx, item.cancel, *item.Signature); res.Status != proto.StatusOK {
			return res
		}
	}
	return Result{Status: proto.StatusOK}
}

func (s *Scheduler) runCommandItem(ctx context.Context, cancel <-chan struct{}, ci proto.CommandItem) Result {
	var audioHandles []actuator.AudioHandle
	if len(ci.Audio) > 0 {
		assets, err := s.resolver.ResolveAll(ctx, ci.Audio, resource.KindAudio)
		if err != nil {
			return Result{Status: proto.StatusError, Class: proto.ErrInvalidResource, Message: err.Error()}
		}
		for _, a := range assets {
			audioHandles = append(audioHandles, a)
		}
	}

	var program *choreo.Program
	if ci.Choreography != nil && *ci.Choreography != "" {
		asset, err := s.resolver.Resolve(ctx, *ci.Choreography, resource.KindChoreography)
		if err != nil {
			return Result{Status: proto.StatusError, Class: proto.ErrInvalidResource, Message: err.Error()}
		}
		var p choreo.Program
		if err := json.Unmarshal(asset.Data, &p); err != nil {
			return Result{Status: proto.StatusError, Class: proto.ErrInvalidResource, Message: "malformed choreography program: " + err.Error()}
		}
		program = &p
	}

	outcome := s.engine.Run(ctx, cancel, audioHandles, program, s.resolveInline)
	switch {
	case outcome.Canceled:
		return Result{Status: proto.StatusCanceled}
	case outcome.Err != nil:
		return Result{Status: proto.StatusFailure, Class: proto.ErrHardwareError, Message: outcome.Err.Error()}
	default:
		return Result{Status: proto.StatusOK}
	}
}

func (s *Scheduler) resolveInline(ref string) (actuator.AudioHandle, error) {
	asset, err := s.resolver.Resolve(context.Background(), ref, resource.KindAudio)
	if err != nil {
		return nil, err
	}
	return asset, nil
}

func (s *Scheduler) execTest(item *WorkItem) Result {
	caps := s.engine.Caps
	ctx := context.Background()
	switch item.TestTarget {
	case proto.TestLEDs:
		if caps.LEDs == nil {
			return Result{Status: proto.StatusError, Class: proto.ErrHardwareError, Message: "no LED strip attached"}
		}
		swatch := actuator.Color("ffffff")
		if err := caps.LEDs.SetAll(ctx, actuator.LEDSnapshot{Left: swatch, LeftMiddle: swatch, Center: swatch, RightMiddle: swatch, Right: swatch}); err != nil {
			return Result{Status: proto.StatusFailure, Class: proto.ErrHardwareError, Message: err.Error()}
		}
		time.Sleep(200 * time.Millisecond)
		_ = caps.LEDs.Clear(ctx)
		return Result{Status: proto.StatusOK}
	case proto.TestEars:
		if caps.Ears == nil {
			return Result{Status: proto.StatusError, Class: proto.ErrHardwareError, Message: "no ear controller attached"}
		}
		if err := caps.Ears.SetTarget(ctx, actuator.EarLeft, actuator.EarMax); err != nil {
			return Result{Status: proto.StatusFailure, Class: proto.ErrHardwareError, Message: err.Error()}
		}
		_ = caps.Ears.SetTarget(ctx, actuator.EarRight, actuator.EarMax)
		time.Sleep(300 * time.Millisecond)
		_ = caps.Ears.Halt(ctx)
		return Result{Status: proto.StatusOK}
	default:
		return Result{Status: proto.StatusError, Class: proto.ErrInvalidParameter, Message: "unknown test target"}
	}
}

func (s *Scheduler) execRFIDWrite(item *WorkItem) Result {
	caps := s.engine.Caps
	if caps.RFID == nil {
		return Result{Status: proto.StatusError, Class: proto.ErrNFCException, Message: "no RFID reader attached"}
	}
	ctx, cancel := context.WithTimeout(context.Background(), item.Timeout)
	defer cancel()
	if err := caps.RFID.Write(ctx, item.Tech, item.UID, item.Picture, item.App, item.Data, item.Timeout); err != nil {
		return Result{Status: proto.StatusFailure, Class: proto.ErrNFCException, Message: err.Error()}
	}
	if s.onRFIDWrite != nil {
		s.onRFIDWrite(item.App, item.Picture)
	}
	return Result{Status: proto.StatusOK}
}

func (s *Scheduler) execConfigUpdate(item *WorkItem) Result {
	if s.onConfigUpdate == nil {
		return Result{Status: proto.StatusOK}
	}
	if err := s.onConfigUpdate(item.Service, item.Slot); err != nil {
		return Result{Status: proto.StatusError, Class: proto.ErrInvalidParameter, Message: err.Error()}
	}
	return Result{Status: proto.StatusOK}
}

func (s *Scheduler) execShutdown(item *WorkItem) Result {
	if s.onShutdown != nil {
		s.onShutdown(item.ShutdownMode)
	}
	return Result{Status: proto.StatusOK}
}

func (s *Scheduler) respond(item *WorkItem, result Result) {
	resp := proto.Response{Type: proto.TypeResponse, Status: result.Status, RequestID: item.RequestID}
	if result.Class != "" {
		resp.Class = result.Class
		resp.Message = result.Message
	}
	payload, err := json.Marshal(resp)
	if err == nil {
		if w, ok := s.writers.Get(item.Origin); ok {
			w.Send(payload)
		}
	}
	item.result = result
	if item.done != nil {
		close(item.done)
	}
	metrics.WorkItemsTotal.WithLabelValues(kindLabel(item.Kind), result.Status).Inc()
}

func kindLabel(k Kind) string {
	switch k {
	case KindCommand:
		return "command"
	case KindMessage:
		return "message"
	case KindSleep:
		return "sleep"
	case KindModeSwitch:
		return "mode_switch"
	case KindTest:
		return "test"
	case KindRFIDWrite:
		return "rfid_write"
	case KindConfigUpdate:
		return "config_update"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

func (s *Scheduler) sendError(writerID uint64, requestID string, class proto.ErrorClass, msg string) {
	resp := proto.Fail(requestID, proto.NewError(class, msg))
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if w, ok := s.writers.Get(writerID); ok {
		w.Send(payload)
	}
}
