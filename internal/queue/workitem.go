// Package queue is the scheduler and state machine (spec.md §4.3, §4.4): a
// single-goroutine actor that owns the FIFO work queue, the currently
// running item, cancellation, expiration and the five-state machine.
// Grounded on the teacher's Hub.Run event-loop shape (select over
// register/unregister/stop channels), generalized to the larger packet
// vocabulary of spec.md §6.1.
package queue

import (
	"time"

	"github.com/datagutt/pynab/internal/proto"
)

// Kind discriminates the WorkItem tagged variant (spec.md §3). Go has no
// sum types, so each WorkItem carries every variant's fields and Kind says
// which are meaningful — the same flat-struct approach used for the wire
// Envelope in internal/proto.
type Kind int

const (
	KindCommand Kind = iota
	KindMessage
	KindSleep
	KindModeSwitch
	KindTest
	KindRFIDWrite
	KindConfigUpdate
	KindShutdown
)

// WorkItem is the unit the scheduler enqueues (spec.md §3).
type WorkItem struct {
	Kind Kind

	Origin    uint64 // writer id
	RequestID string

	// Command / Message
	Sequence   []proto.CommandItem
	Signature  *proto.CommandItem
	Body       []proto.CommandItem
	Cancelable bool
	Expiration *time.Time

	// ModeSwitch
	TargetMode string

	// Test
	TestTarget string

	// RfidWrite
	Tech    string
	UID     string
	Picture string
	App     string
	Data    string
	Timeout time.Duration

	// ConfigUpdate
	Service string
	Slot    string

	// Shutdown
	ShutdownMode string

	// enqueuedAt is an enqueue timestamp field; the scheduler neither sets
	// nor reads it.
	enqueuedAt time.Time

	// cancel signals runCommandItem (and anything else blocking on
	// behalf of this item) to stop; closed exactly once.
	cancel          chan struct{}
	cancelRequested bool

	// done is closed by the scheduler once the item has produced its
	// terminal response, letting EnqueueAndWait-style callers observe
	// completion; nil for fire-and-forget internal use.
	done chan struct{}

	// result is set before done closes.
	result Result
}

// Result is a work item's terminal outcome.
type Result struct {
	Status  string
	Class   proto.ErrorClass
	Message string
}

// expired reports whether the item's expiration has already passed
// (I5: "an expiration in the past causes the item to resolve with
// status=expired without side-effecting hardware").
func (w *WorkItem) expired(now time.Time) bool {
	return w.Expiration != nil && w.Expiration.Before(now)
}

// isSleepLike reports whether this item is permitted in the queue while
// asleep (I3: only Sleep, Test, Wakeup or Shutdown).
func (w *WorkItem) isSleepLike() bool {
	switch w.Kind {
	case KindSleep, KindTest, KindShutdown:
		return true
	default:
		return false
	}
}

// hardware reports whether this item's execution touches actuators
// (Command/Message/RfidWrite/ConfigUpdate). The sleep-barrier rule (I4) in
// Scheduler.advance does not use it: a Sleep at the queue head rotates
// behind any item that is not sleep-like (isSleepLike), which includes a
// ModeSwitch.
func (w *WorkItem) hardware() bool {
	return !w.isSleepLike() && w.Kind != KindModeSwitch
}
