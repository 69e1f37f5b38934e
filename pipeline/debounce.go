package pipeline

import (
	"sync"
	"time"
)

// Debouncer runs fn once the quiet period has elapsed since the last Call.
// Each Call restarts the timer. A generation counter makes a timer that fired
// concurrently with Call or Cancel a no-op.
type Debouncer struct {
	quiet time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending bool
}

// NewDebouncer creates a debouncer for fn.
func NewDebouncer(quiet time.Duration, fn func()) *Debouncer {
	return &Debouncer{quiet: quiet, fn: fn}
}

// Call (re)starts the quiet period. It reports whether a pending call was replaced.
func (d *Debouncer) Call() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	replaced := d.stopLocked()
	d.gen++
	gen := d.gen
	d.pending = true
	d.timer = time.AfterFunc(d.quiet, func() { d.fire(gen) })
	return replaced
}

// Cancel drops the pending call, if any. It reports whether one was dropped.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	return d.stopLocked()
}

// Flush runs the pending call now on the calling goroutine. It reports whether
// there was one.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return false
	}
	d.gen++
	d.stopLocked()
	d.mu.Unlock()

	d.fn()
	return true
}

// Pending reports whether a call is waiting for its quiet period.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	d.fn()
}

// stopLocked stops the timer and clears the pending flag. Caller holds mu.
func (d *Debouncer) stopLocked() bool {
	was := d.pending
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = false
	return was
}
