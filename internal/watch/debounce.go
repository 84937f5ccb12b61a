package watch

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Debouncer collapses bursts of Touch calls into one callback that runs
// wait after the last Touch. Each Touch restarts the window.
type Debouncer struct {
	clock clock.Clock
	wait  time.Duration
	fn    func(last string, count int)

	mu      sync.Mutex
	timer   *clock.Timer
	seq     uint64
	count   int
	last    string
	stopped bool
}

// NewDebouncer returns a Debouncer. A nil clock means the wall clock.
func NewDebouncer(c clock.Clock, wait time.Duration, fn func(last string, count int)) *Debouncer {
	if c == nil {
		c = clock.New()
	}
	return &Debouncer{clock: c, wait: wait, fn: fn}
}

// Touch records reason and restarts the quiet window.
func (d *Debouncer) Touch(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.seq++
	d.count++
	d.last = reason
	if d.timer != nil {
		d.timer.Stop()
	}
	seq := d.seq
	d.timer = d.clock.AfterFunc(d.wait, func() { d.fire(seq) })
}

func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	if d.stopped || seq != d.seq {
		d.mu.Unlock()
		return
	}
	last, count := d.last, d.count
	d.timer = nil
	d.count = 0
	d.last = ""
	d.mu.Unlock()
	d.fn(last, count)
}

// Pending reports whether a callback is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop cancels any scheduled callback. Later Touch calls are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
