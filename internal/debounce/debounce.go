// Package debounce delays a callback until input has settled.
package debounce

import (
	"sync"
	"time"
)

// Timer is the part of *time.Timer the debouncer needs.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d and returns a handle that can cancel it.
type Scheduler func(d time.Duration, f func()) Timer

// RealScheduler schedules with time.AfterFunc.
func RealScheduler(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Debouncer keeps at most one pending callback. Each Trigger cancels the
// previous pending callback before scheduling a new one.
type Debouncer struct {
	mu         sync.Mutex
	delay      time.Duration
	schedule   Scheduler
	timer      Timer
	generation uint64
}

// New creates a Debouncer. A nil scheduler uses RealScheduler.
func New(delay time.Duration, schedule Scheduler) *Debouncer {
	if schedule == nil {
		schedule = RealScheduler
	}
	return &Debouncer{
		delay:    delay,
		schedule: schedule,
	}
}

// Delay returns the configured delay.
func (d *Debouncer) Delay() time.Duration {
	return d.delay
}

// Trigger schedules fn after the delay, replacing any pending callback.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.generation++
	gen := d.generation

	d.timer = d.schedule(d.delay, func() {
		d.mu.Lock()
		// A timer that was stopped too late to prevent firing must not run.
		if gen != d.generation {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()

		fn()
	})
}

// Cancel drops the pending callback, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.generation++
}

// Pending reports whether a callback is scheduled and not yet fired.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.timer != nil
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
