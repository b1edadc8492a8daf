// Package writer tracks connected TCP clients ("writers", spec.md §3), their
// event subscriptions, and which one (if any) currently owns the
// interactive slot (spec.md §4.2).
package writer

import (
	"strings"
	"sync"

	"github.com/datagutt/pynab/internal/metrics"
)

// Writer is a connected client. Out is the bounded outbound queue the
// front-end's writer pump drains; a full queue means the connection is
// disconnected rather than stalling every other writer (spec.md §4.1),
// mirroring the teacher's Hub.broadcast non-blocking-send-or-drop shape,
// upgraded to a hard disconnect here because a dropped protocol frame
// (unlike a dropped PTY byte) silently breaks request/response correlation.
type Writer struct {
	ID  uint64
	Out chan []byte

	mu         sync.Mutex
	patterns   []string
	closed     bool
	overflowed bool
}

// NewWriter creates a writer with the given outbound buffer size.
func NewWriter(id uint64, bufSize int) *Writer {
	return &Writer{
		ID:  id,
		Out: make(chan []byte, bufSize),
	}
}

// Subscribe replaces this writer's subscription patterns (from a "mode"
// packet's "events" field, spec.md §6.1).
func (w *Writer) Subscribe(patterns []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.patterns = append([]string(nil), patterns...)
}

// Patterns returns a copy of the writer's current subscription patterns.
func (w *Writer) Patterns() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.patterns...)
}

// Matches reports whether event matches one of this writer's subscription
// patterns (spec.md §4.2): exact match, or a trailing "*" prefix match
// (which also covers the "/*"-suffixed "any child" form, since a pattern
// ending "/*" is just a prefix ending in "/").
func (w *Writer) Matches(event string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.patterns {
		if p == event {
			return true
		}
		if strings.HasSuffix(p, "*") && strings.HasPrefix(event, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}

// Send attempts a non-blocking enqueue of payload onto the writer's
// outbound channel. On overflow it closes the writer itself (spec.md §4.1,
// §7 QueueOverflow: a full queue means disconnected rather than stalling
// every other writer) and reports false so the front-end's writer pump can
// tear down the underlying connection.
func (w *Writer) Send(payload []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	select {
	case w.Out <- payload:
		return true
	default:
		metrics.WriterQueueOverflowsTotal.Inc()
		w.overflowed = true
		w.closed = true
		close(w.Out)
		return false
	}
}

// Overflowed reports whether this writer was closed because its outbound
// queue overflowed, as opposed to an ordinary disconnect.
func (w *Writer) Overflowed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.overflowed
}

// Close marks the writer closed and closes Out, unblocking the front-end's
// writer pump (internal/frontend). Safe to call more than once.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.Out)
}
