package index

import (
	"sync/atomic"
	"time"
)

// Tracker records when documents were last mutated by this process. It is
// owned by the service instance and starts at zero on every process start.
type Tracker struct {
	last atomic.Int64 // unix milliseconds
	now  func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Touch records a mutation now and returns the recorded time. The stored
// value never moves backwards.
func (t *Tracker) Touch() time.Time {
	ms := t.now().UnixMilli()
	for {
		cur := t.last.Load()
		if cur >= ms {
			return time.UnixMilli(cur).UTC()
		}
		if t.last.CompareAndSwap(cur, ms) {
			return time.UnixMilli(ms).UTC()
		}
	}
}

// Seed raises the last mutation time to at if it is later. Used at startup
// with the newest document mtime found on disk.
func (t *Tracker) Seed(at time.Time) {
	ms := at.UnixMilli()
	for {
		cur := t.last.Load()
		if cur >= ms || t.last.CompareAndSwap(cur, ms) {
			return
		}
	}
}

// Last returns the last recorded mutation in unix milliseconds, 0 if none.
func (t *Tracker) Last() int64 {
	return t.last.Load()
}
