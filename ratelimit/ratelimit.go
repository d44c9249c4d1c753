// Package ratelimit provides fixed-window admission control keyed by
// operation class (authentication, form submission, generic API) plus a
// caller-supplied identifier. Checking is side-effect free; callers commit
// an attempt explicitly with Record, so admission can be probed without
// consuming budget. Exhausting a window arms a block cooldown to prevent
// trivial window-boundary circumvention.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/manglanigaurav01-jpg/trustgate/internal/clock"
)

// Class identifies an operation class with independent limits, so
// exhausting one class never starves another.
type Class string

const (
	// ClassAuth covers authentication attempts.
	ClassAuth Class = "auth"

	// ClassForm covers form submissions.
	ClassForm Class = "form"

	// ClassAPI covers generic API operations.
	ClassAPI Class = "api"
)

// Limits bounds one operation class.
type Limits struct {
	// MaxRequests is the number of requests admitted per window.
	MaxRequests int

	// Window is the fixed counting window.
	Window time.Duration

	// Cooldown is how long a key stays blocked after exhausting the
	// window. Zero means block for one Window.
	Cooldown time.Duration
}

// DefaultLimits returns the per-class limits used when none are supplied.
func DefaultLimits() map[Class]Limits {
	return map[Class]Limits{
		ClassAuth: {MaxRequests: 5, Window: 15 * time.Minute, Cooldown: 30 * time.Minute},
		ClassForm: {MaxRequests: 10, Window: time.Minute},
		ClassAPI:  {MaxRequests: 60, Window: time.Minute},
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Status describes the current window for a key.
type Status struct {
	Requests     int
	MaxRequests  int
	Blocked      bool
	BlockedUntil time.Time
	WindowStart  time.Time
}

// window tracks one (class, key) counting window.
type window struct {
	start        time.Time
	count        int
	blockedUntil time.Time
	lastAccess   time.Time
}

// Limiter is a fixed-window rate limiter with per-class limits and
// idle-entry cleanup to prevent unbounded memory growth.
type Limiter struct {
	mu      sync.Mutex
	classes map[Class]Limits
	windows map[string]*window
	clock   clock.Clock
	logger  *slog.Logger

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once

	totalDenied   int64
	totalCleanups int64
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used for cleanup diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock injects a clock for virtual-time tests.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// New creates a limiter with the given per-class limits (nil uses
// DefaultLimits) and starts the background cleanup loop. Call Stop to
// release it.
func New(classes map[Class]Limits, opts ...Option) *Limiter {
	if classes == nil {
		classes = DefaultLimits()
	}

	l := &Limiter{
		classes:         classes,
		windows:         make(map[string]*window),
		clock:           clock.New(),
		logger:          slog.Default(),
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.cleanupLoop()
	return l
}

// Check reports whether a request for (class, key) would be admitted.
// It never consumes budget: callers branch on the decision and commit the
// attempt with Record.
func (l *Limiter) Check(class Class, key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	limits := l.limitsFor(class)
	w := l.windowLocked(class, key)
	now := l.clock.Now()
	w.lastAccess = now

	if now.Before(w.blockedUntil) {
		l.totalDenied++
		return Decision{Allowed: false, Remaining: 0, ResetAt: w.blockedUntil}
	}

	l.rolloverLocked(w, limits, now)

	remaining := limits.MaxRequests - w.count
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   remaining > 0,
		Remaining: remaining,
		ResetAt:   w.start.Add(limits.Window),
	}
	if !d.Allowed {
		l.totalDenied++
	}
	return d
}

// Record commits an attempt against (class, key). Success and failure
// both count. Reaching the window cap arms the block cooldown.
func (l *Limiter) Record(class Class, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limits := l.limitsFor(class)
	w := l.windowLocked(class, key)
	now := l.clock.Now()
	w.lastAccess = now

	l.rolloverLocked(w, limits, now)

	w.count++
	if w.count >= limits.MaxRequests && w.blockedUntil.Before(now) {
		cooldown := limits.Cooldown
		if cooldown <= 0 {
			cooldown = limits.Window
		}
		w.blockedUntil = now.Add(cooldown)
		l.logger.Debug("rate limit window exhausted",
			"class", string(class),
			"blocked_until", w.blockedUntil)
	}
}

// Status returns the current window state for (class, key).
func (l *Limiter) Status(class Class, key string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	limits := l.limitsFor(class)
	now := l.clock.Now()

	w, ok := l.windows[windowKey(class, key)]
	if !ok {
		return Status{MaxRequests: limits.MaxRequests}
	}

	return Status{
		Requests:     w.count,
		MaxRequests:  limits.MaxRequests,
		Blocked:      now.Before(w.blockedUntil),
		BlockedUntil: w.blockedUntil,
		WindowStart:  w.start,
	}
}

// Reset drops the window for (class, key), clearing any block.
func (l *Limiter) Reset(class Class, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, windowKey(class, key))
}

// ResetKey drops the windows for key across all classes. Used on session
// teardown so a fresh session starts with clean budgets.
func (l *Limiter) ResetKey(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for class := range l.classes {
		delete(l.windows, windowKey(class, key))
	}
}

// Cleanup removes windows that have not been touched for maxIdle and are
// not currently blocked.
func (l *Limiter) Cleanup(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for k, w := range l.windows {
		if now.Sub(w.lastAccess) > maxIdle && !now.Before(w.blockedUntil) {
			delete(l.windows, k)
			removed++
		}
	}

	if removed > 0 {
		l.totalCleanups++
		l.logger.Debug("rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(l.windows),
			"total_cleanups", l.totalCleanups)
	}
}

// Stop gracefully stops the cleanup goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}

// Stats holds limiter statistics for monitoring.
type Stats struct {
	CurrentEntries int
	TotalDenied    int64
	TotalCleanups  int64
}

// Stats returns current limiter statistics.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		CurrentEntries: len(l.windows),
		TotalDenied:    l.totalDenied,
		TotalCleanups:  l.totalCleanups,
	}
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup(30 * time.Minute)
		case <-l.stopCleanup:
			return
		}
	}
}

// limitsFor resolves the limits for a class, falling back to the API
// class for unknown classes.
func (l *Limiter) limitsFor(class Class) Limits {
	if limits, ok := l.classes[class]; ok {
		return limits
	}
	if limits, ok := l.classes[ClassAPI]; ok {
		return limits
	}
	return Limits{MaxRequests: 60, Window: time.Minute}
}

func (l *Limiter) windowLocked(class Class, key string) *window {
	k := windowKey(class, key)
	w, ok := l.windows[k]
	if !ok {
		w = &window{start: l.clock.Now()}
		l.windows[k] = w
	}
	return w
}

// rolloverLocked resets an elapsed window. A block that has lapsed is
// cleared with it.
func (l *Limiter) rolloverLocked(w *window, limits Limits, now time.Time) {
	if now.Sub(w.start) >= limits.Window {
		w.start = now
		w.count = 0
		w.blockedUntil = time.Time{}
	}
}

func windowKey(class Class, key string) string {
	return string(class) + "|" + key
}
