package pageservice

import (
	"sync"
	"time"
)

// debouncer runs fn once after calls to trigger stop arriving for delay.
// When fn reports false (busy) it is retried after another delay.
type debouncer struct {
	delay time.Duration
	fn    func() bool

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

func newDebouncer(delay time.Duration, fn func() bool) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) trigger() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.timer != nil {
		d.timer.Reset(d.delay)
		return
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *debouncer) fire() {
	if d.fn() {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.timer.Reset(d.delay)
	}
}

func (d *debouncer) stop() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
