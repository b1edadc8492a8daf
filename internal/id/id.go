// Package id generates opaque identifiers used when the wire protocol
// doesn't supply one (e.g. a writer's numeric id, or a synthesized
// request_id for server-initiated bookkeeping).
package id

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// New returns a random UUID string, for opaque identifiers that are never
// parsed, only compared. No package of the daemon calls it: writer ids come
// from NextWriterID and request_ids come from the writers.
func New() string {
	return uuid.New().String()
}

var writerSeq uint64

// NextWriterID returns a small monotonically increasing id suitable for a
// connected writer (spec.md §3: "stable numeric id"). Monotonic ids are
// preferred over UUIDs here because they show up in every log line and
// response correlation path, and a human scanning logs benefits from
// small numbers.
func NextWriterID() uint64 {
	return atomic.AddUint64(&writerSeq, 1)
}
