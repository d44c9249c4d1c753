package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Timers fire synchronously
// from Advance in deadline order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

// NewFake returns a Fake clock pinned to the given start time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc schedules f to run when the fake clock advances past d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTimer{
		clock:    f,
		deadline: f.now.Add(d),
		fn:       fn,
	}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the fake clock forward by d, firing due timers in
// deadline order. Callbacks run without the clock lock held so they may
// schedule or stop other timers.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)

	for {
		next := f.nextDueLocked(target)
		if next == nil {
			break
		}
		if next.deadline.After(f.now) {
			f.now = next.deadline
		}
		next.fired = true
		fn := next.fn
		f.mu.Unlock()
		fn()
		f.mu.Lock()
	}

	f.now = target
	f.mu.Unlock()
}

// nextDueLocked returns the unfired timer with the earliest deadline at or
// before target, or nil.
func (f *Fake) nextDueLocked(target time.Time) *fakeTimer {
	var due *fakeTimer
	for _, t := range f.timers {
		if t.fired || t.stopped || t.deadline.After(target) {
			continue
		}
		if due == nil || t.deadline.Before(due.deadline) {
			due = t
		}
	}
	return due
}

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	fn       func()
	fired    bool
	stopped  bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	active := !t.fired && !t.stopped
	t.stopped = true
	return active
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	active := !t.fired && !t.stopped
	t.deadline = t.clock.now.Add(d)
	t.fired = false
	t.stopped = false
	return active
}
