package writer

import (
	"sync"

	"github.com/datagutt/pynab/internal/metrics"
)

// Registry tracks every connected writer and the current interactive
// owner (spec.md §4.2). The FIFO wait queue for interactive requests is the
// scheduler's own work queue, not a structure here — a pending
// mode=interactive request is just an ordinary queued ModeSwitch work item
// (spec.md §3); Registry only ever holds the current, already-granted
// owner.
type Registry struct {
	mu      sync.RWMutex
	writers map[uint64]*Writer
	owner   uint64 // 0 means no interactive owner
}

func NewRegistry() *Registry {
	return &Registry{writers: make(map[uint64]*Writer)}
}

func (r *Registry) Add(w *Writer) {
	r.mu.Lock()
	r.writers[w.ID] = w
	n := len(r.writers)
	r.mu.Unlock()
	metrics.WriterCount.Set(float64(n))
}

// Remove deletes the writer and reports whether it was the interactive
// owner, so the caller (the scheduler) can re-evaluate the queue head for
// the next pending interactive grant (spec.md §3 Writer lifetime).
func (r *Registry) Remove(id uint64) (wasOwner bool) {
	r.mu.Lock()
	delete(r.writers, id)
	n := len(r.writers)
	wasOwner = r.owner == id
	if wasOwner {
		r.owner = 0
	}
	r.mu.Unlock()
	metrics.WriterCount.Set(float64(n))
	return wasOwner
}

func (r *Registry) Get(id uint64) (*Writer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.writers[id]
	return w, ok
}

func (r *Registry) List() []*Writer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Writer, 0, len(r.writers))
	for _, w := range r.writers {
		out = append(out, w)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.writers)
}

// GrantInteractive makes id the interactive owner. Succeeds unconditionally
// (the scheduler only calls this once it has decided to dequeue the
// ModeSwitch item, so there is by construction no current owner — I2).
func (r *Registry) GrantInteractive(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owner = id
}

// ReleaseInteractive releases the slot if id currently holds it, returning
// whether it did. Release is immediate and out-of-band (spec.md §4.2): it
// never queues.
func (r *Registry) ReleaseInteractive(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner == id {
		r.owner = 0
		return true
	}
	return false
}

// InteractiveOwner returns the current owner id, or 0 if none.
func (r *Registry) InteractiveOwner() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// Broadcast delivers payload to every writer whose subscriptions match
// eventName (spec.md §4.2). A writer with a full outbound queue closes
// itself inside Send (spec.md §7 QueueOverflow); the front-end's writer
// pump notices and tears down its connection.
func (r *Registry) Broadcast(eventName string, payload []byte) {
	for _, w := range r.List() {
		if w.Matches(eventName) {
			w.Send(payload)
		}
	}
}

// BroadcastAll delivers payload to every writer unconditionally, used only
// for "state" events, which are universal and not subscription-filtered
// (spec.md §4.4).
func (r *Registry) BroadcastAll(payload []byte) {
	for _, w := range r.List() {
		w.Send(payload)
	}
}
