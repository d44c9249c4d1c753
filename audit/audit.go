// Package audit provides an append-only, capped, time-retained record of
// security-relevant events. Events persist through the secure store so the
// trail is encrypted at rest, and every event is mirrored to structured
// logs with hashed subject identifiers. Critical-severity events are
// additionally surfaced through an immediate side-channel hook.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/manglanigaurav01-jpg/trustgate/internal/clock"
	"github.com/manglanigaurav01-jpg/trustgate/internal/util"
	"github.com/manglanigaurav01-jpg/trustgate/securestore"
)

// Severity classifies how serious an audit event is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (0) to critical (3). Unknown severities
// rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// Event is one entry in the audit trail.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	SubjectID string         `json:"subject_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Severity  Severity       `json:"severity"`
	Source    string         `json:"source"`
	Details   map[string]any `json:"details,omitempty"`
}

const (
	defaultMaxEntries = 1000
	defaultRetention  = 90 * 24 * time.Hour

	persistKey = "audit:events"

	summaryRecentCount = 10
)

// Config holds audit trail bounds.
type Config struct {
	// MaxEntries caps the number of retained events. Oldest entries are
	// evicted first. Default: 1000.
	MaxEntries int

	// Retention is the time horizon past which events are evicted on
	// every write. Default: 90 days.
	Retention time.Duration
}

// Log is the append-only audit trail.
type Log struct {
	mu         sync.RWMutex
	store      *securestore.Store
	clock      clock.Clock
	logger     *slog.Logger
	cfg        Config
	events     []Event // oldest first
	criticalFn func(Event)
	eventsCtr  metric.Int64Counter
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the structured logger used to mirror events.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock injects a clock for virtual-time tests.
func WithClock(c clock.Clock) Option {
	return func(l *Log) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithConfig overrides the retention bounds.
func WithConfig(cfg Config) Option {
	return func(l *Log) {
		if cfg.MaxEntries > 0 {
			l.cfg.MaxEntries = cfg.MaxEntries
		}
		if cfg.Retention > 0 {
			l.cfg.Retention = cfg.Retention
		}
	}
}

// WithCriticalHook registers a side-channel callback invoked synchronously
// for every critical-severity event, distinct from the normal logging path.
func WithCriticalHook(fn func(Event)) Option {
	return func(l *Log) { l.criticalFn = fn }
}

// WithMetrics counts every recorded event, tagged by type and severity.
func WithMetrics(events metric.Int64Counter) Option {
	return func(l *Log) { l.eventsCtr = events }
}

// New creates an audit log persisting through the given secure store.
func New(store *securestore.Store, opts ...Option) *Log {
	l := &Log{
		store:  store,
		clock:  clock.New(),
		logger: slog.Default(),
		cfg: Config{
			MaxEntries: defaultMaxEntries,
			Retention:  defaultRetention,
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load rehydrates the trail from the secure store. Malformed stored
// records are purged rather than surfaced; the log starts empty.
func (l *Log) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var events []Event
	found, err := l.store.Get(ctx, persistKey, &events)
	if err != nil {
		if errors.Is(err, securestore.ErrNotInitialized) {
			return err
		}
		// Corrupted or foreign-key ciphertext: purge and start fresh.
		l.logger.Warn("purging unreadable audit trail", "error", err)
		_ = l.store.Remove(ctx, persistKey)
		l.events = nil
		return nil
	}
	if found {
		l.events = events
	}
	return nil
}

// Record appends an event to the trail, enforcing both the entry cap and
// the retention horizon. The stored event (with ID and timestamp filled
// in) is returned.
func (l *Log) Record(ctx context.Context, event Event) Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock.Now()
	}
	if event.Severity.Rank() < 0 {
		event.Severity = SeverityLow
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.enforceBoundsLocked()
	l.persistLocked(ctx)
	l.mu.Unlock()

	if l.eventsCtr != nil {
		l.eventsCtr.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event_type", event.Type),
			attribute.String("severity", string(event.Severity))))
	}

	l.logger.Info("security_audit",
		"event_type", event.Type,
		"severity", string(event.Severity),
		"source", event.Source,
		"subject_hash", util.HashForLogging(event.SubjectID),
		"session_id", util.SafeTruncate(event.SessionID, 8),
		"details", event.Details,
	)

	if event.Severity == SeverityCritical {
		l.logger.Error("critical security event",
			"event_type", event.Type,
			"source", event.Source)
		if l.criticalFn != nil {
			l.criticalFn(event)
		}
	}

	return event
}

// LogEvent is a convenience wrapper around Record.
func (l *Log) LogEvent(ctx context.Context, eventType string, severity Severity, source string, details map[string]any) Event {
	return l.Record(ctx, Event{
		Type:     eventType,
		Severity: severity,
		Source:   source,
		Details:  details,
	})
}

// Filter selects events for Query. Zero fields match everything.
type Filter struct {
	Type      string
	SubjectID string
	Severity  Severity
	Text      string // substring match against type, source, and details
	Limit     int
}

// Query returns matching events sorted newest-first.
func (l *Log) Query(filter Filter) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []Event
	for _, e := range l.events {
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.SubjectID != "" && e.SubjectID != filter.SubjectID {
			continue
		}
		if filter.Severity != "" && e.Severity != filter.Severity {
			continue
		}
		if filter.Text != "" && !matchesText(e, filter.Text) {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched
}

// Summary aggregates the current trail for compliance dashboards.
type Summary struct {
	TotalEvents      int              `json:"total_events"`
	EventsByType     map[string]int   `json:"events_by_type"`
	EventsBySeverity map[Severity]int `json:"events_by_severity"`
	RecentEvents     []Event          `json:"recent_events"`
	LastActivity     time.Time        `json:"last_activity"`
}

// Summary returns aggregate statistics over the retained events.
func (l *Log) Summary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Summary{
		TotalEvents:      len(l.events),
		EventsByType:     make(map[string]int),
		EventsBySeverity: make(map[Severity]int),
	}
	for _, e := range l.events {
		s.EventsByType[e.Type]++
		s.EventsBySeverity[e.Severity]++
		if e.Timestamp.After(s.LastActivity) {
			s.LastActivity = e.Timestamp
		}
	}

	recent := len(l.events)
	if recent > summaryRecentCount {
		recent = summaryRecentCount
	}
	for i := len(l.events) - 1; i >= len(l.events)-recent; i-- {
		s.RecentEvents = append(s.RecentEvents, l.events[i])
	}
	return s
}

// Export serializes the full trail as JSON, newest-first.
func (l *Log) Export() ([]byte, error) {
	events := l.Query(Filter{})
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("audit: exporting events: %w", err)
	}
	return data, nil
}

// Clear wipes the trail and records the wipe itself as the first entry of
// the fresh trail.
func (l *Log) Clear(ctx context.Context) {
	l.mu.Lock()
	l.events = nil
	l.persistLocked(ctx)
	l.mu.Unlock()

	l.LogEvent(ctx, EventAuditCleared, SeverityMedium, "audit", nil)
}

// Sweep applies the retention horizon without appending. Exposed so
// callers can run periodic maintenance on an otherwise idle trail.
func (l *Log) Sweep(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := len(l.events)
	l.enforceBoundsLocked()
	removed := before - len(l.events)
	if removed > 0 {
		l.persistLocked(ctx)
	}
	return removed
}

// enforceBoundsLocked applies the retention horizon, then the entry cap,
// evicting oldest-first on both bounds.
func (l *Log) enforceBoundsLocked() {
	// Events are normally appended in time order, but callers may record
	// backdated entries, so the horizon check scans the whole slice.
	horizon := l.clock.Now().Add(-l.cfg.Retention)
	live := l.events[:0]
	for _, e := range l.events {
		if !e.Timestamp.Before(horizon) {
			live = append(live, e)
		}
	}
	l.events = live

	if excess := len(l.events) - l.cfg.MaxEntries; excess > 0 {
		l.events = l.events[excess:]
	}
}

// persistLocked writes the trail through the secure store. Before a
// subject is authenticated the store has no key material; events then
// stay memory-only and are flushed on the next write after Initialize.
func (l *Log) persistLocked(ctx context.Context) {
	err := l.store.Put(ctx, persistKey, l.events)
	if err != nil && !errors.Is(err, securestore.ErrNotInitialized) {
		l.logger.Warn("persisting audit trail failed", "error", err)
	}
}

func matchesText(e Event, text string) bool {
	needle := strings.ToLower(text)
	if strings.Contains(strings.ToLower(e.Type), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(e.Source), needle) {
		return true
	}
	for k, v := range e.Details {
		if strings.Contains(strings.ToLower(k), needle) {
			return true
		}
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}
