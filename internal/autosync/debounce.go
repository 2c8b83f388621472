package autosync

import (
	"sync"
	"time"
)

// Debouncer coalesces a burst of triggers into one callback: each Trigger
// resets a countdown, and the callback fires once the countdown elapses
// with no further triggers.
//
// All timer bookkeeping lives here so every teardown path cancels the
// same way; call sites never manage their own timers.
type Debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	timer    *time.Timer
	gen      uint64
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger schedules fn to run after the debounce window, resetting any
// pending countdown. fn runs on a timer goroutine.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	gen := d.gen

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.interval, func() {
		// A Cancel or newer Trigger between the timer firing and this
		// check invalidates the generation; the fire is dropped.
		d.mu.Lock()
		stale := gen != d.gen
		if !stale {
			d.timer = nil
		}
		d.mu.Unlock()

		if !stale {
			fn()
		}
	})
}

// Cancel drops any pending countdown without firing.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Pending returns true if a countdown is armed.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// SetInterval updates the debounce window for subsequent triggers.
func (d *Debouncer) SetInterval(interval time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interval = interval
}
