// Package clock abstracts wall-clock time and single-shot timers so that
// deadline-driven logic (session expiry, inactivity teardown, window resets)
// can be tested against a virtual clock without real waits.
package clock

import "time"

// Clock provides the current time and schedules single-shot callbacks.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc schedules f to run once after d elapses and returns a
	// Timer that can be stopped or rescheduled.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the callback had not
	// yet fired.
	Stop() bool

	// Reset reschedules the timer to fire after d.
	Reset(d time.Duration) bool
}

// realClock delegates to the time package.
type realClock struct{}

// New returns a Clock backed by real wall-clock time.
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) Stop() bool                 { return r.t.Stop() }
func (r realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }
