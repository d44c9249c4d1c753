// Package threat scores requests against a set of heuristics: injection
// patterns shared with the sanitizer, brute-force velocity per IP and
// subject, suspicious login characteristics, behavioral anomalies, and IP
// reputation. Findings reduce to a single assessment carrying the highest
// severity seen; every detection is persisted encrypted and mirrored to
// the audit trail.
package threat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/manglanigaurav01-jpg/trustgate/audit"
	"github.com/manglanigaurav01-jpg/trustgate/internal/clock"
	"github.com/manglanigaurav01-jpg/trustgate/internal/util"
	"github.com/manglanigaurav01-jpg/trustgate/sanitize"
	"github.com/manglanigaurav01-jpg/trustgate/securestore"
)

// Action is the response a finding recommends.
type Action string

const (
	// ActionMonitor records the finding without interfering.
	ActionMonitor Action = "monitor"

	// ActionThrottle recommends slowing the caller down.
	ActionThrottle Action = "throttle"

	// ActionBlock recommends rejecting the request outright.
	ActionBlock Action = "block"
)

// Input is one request plus the context the detector enriches it with
// before scoring. Scorers are pure functions over this struct.
type Input struct {
	Request    sanitize.Request
	SubjectID  string
	SessionID  string
	Violations []string // sanitizer findings, if the request passed through it

	// Enrichment filled in by the detector.
	IPFailures        int
	SubjectFailures   int
	FrequencyExceeded bool
	Hour              int
}

// Finding is one scorer's verdict.
type Finding struct {
	Scorer     string         `json:"scorer"`
	Severity   audit.Severity `json:"severity"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
	Action     Action         `json:"action"`
}

// Assessment is the reduced verdict over all findings.
type Assessment struct {
	Threat     bool
	Severity   audit.Severity
	Confidence float64
	Action     Action
	Findings   []Finding
}

// Scorer evaluates one heuristic. A nil return means no finding.
type Scorer interface {
	Name() string
	Score(in Input) *Finding
}

// Event is a persisted threat detection.
type Event struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	SubjectID  string         `json:"subject_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	Severity   audit.Severity `json:"severity"`
	Confidence float64        `json:"confidence"`
	Reasons    []string       `json:"reasons"`
}

// Config bounds the detector's heuristics.
type Config struct {
	// BruteForceThreshold is the failed-attempt count per IP or subject
	// within BruteForceWindow that constitutes a brute-force signal.
	// Default: 5 failures in 15 minutes.
	BruteForceThreshold int
	BruteForceWindow    time.Duration

	// SuspiciousIPEvents is the per-IP evaluation count per hour above
	// which the IP's reputation degrades. Default: 10.
	SuspiciousIPEvents int

	// SessionRate and SessionBurst bound per-session request frequency
	// for the anomaly scorer. Default: 10/s with a burst of 20.
	SessionRate  rate.Limit
	SessionBurst int

	// AnomalyThreshold is the combined anomaly score at or above which a
	// finding is emitted. Default: 0.7.
	AnomalyThreshold float64

	// MaxNormalBodyBytes is the body size above which the anomaly scorer
	// adds weight. Default: 256 KiB.
	MaxNormalBodyBytes int

	// Retention is the horizon past which persisted detections are
	// removed by Sweep. Default: 90 days, matching the audit trail.
	Retention time.Duration
}

// DefaultConfig returns the default heuristic bounds.
func DefaultConfig() Config {
	return Config{
		BruteForceThreshold: 5,
		BruteForceWindow:    15 * time.Minute,
		SuspiciousIPEvents:  10,
		SessionRate:         10,
		SessionBurst:        20,
		AnomalyThreshold:    0.7,
		MaxNormalBodyBytes:  256 << 10,
		Retention:           defaultRetention,
	}
}

const (
	eventKeyPrefix    = "threat:"
	recentEventsCap   = 100
	reputationWindow  = time.Hour
	maxTrackedEntries = 10000
	defaultRetention  = 90 * 24 * time.Hour
)

// Detector evaluates requests and tracks the signals feeding its scorers.
type Detector struct {
	store  *securestore.Store
	trail  *audit.Log
	clock  clock.Clock
	logger *slog.Logger
	cfg    Config

	mu        sync.Mutex
	scorers   []Scorer
	blocklist map[string]time.Time
	failures  map[string][]time.Time // "ip:<addr>" and "subject:<id>"
	ipEvents  map[string][]time.Time
	limiters  map[string]*rate.Limiter // per session
	recent    []Event

	evaluations int64
	detected    int64
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger for detection diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock injects a clock for virtual-time tests.
func WithClock(c clock.Clock) Option {
	return func(d *Detector) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithConfig overrides the heuristic bounds.
func WithConfig(cfg Config) Option {
	return func(d *Detector) {
		def := DefaultConfig()
		if cfg.BruteForceThreshold <= 0 {
			cfg.BruteForceThreshold = def.BruteForceThreshold
		}
		if cfg.BruteForceWindow <= 0 {
			cfg.BruteForceWindow = def.BruteForceWindow
		}
		if cfg.SuspiciousIPEvents <= 0 {
			cfg.SuspiciousIPEvents = def.SuspiciousIPEvents
		}
		if cfg.SessionRate <= 0 {
			cfg.SessionRate = def.SessionRate
		}
		if cfg.SessionBurst <= 0 {
			cfg.SessionBurst = def.SessionBurst
		}
		if cfg.AnomalyThreshold <= 0 {
			cfg.AnomalyThreshold = def.AnomalyThreshold
		}
		if cfg.MaxNormalBodyBytes <= 0 {
			cfg.MaxNormalBodyBytes = def.MaxNormalBodyBytes
		}
		if cfg.Retention <= 0 {
			cfg.Retention = def.Retention
		}
		d.cfg = cfg
	}
}

// WithScorer appends a custom scorer to the built-in set.
func WithScorer(s Scorer) Option {
	return func(d *Detector) {
		if s != nil {
			d.scorers = append(d.scorers, s)
		}
	}
}

// New creates a Detector with the built-in scorer set.
func New(store *securestore.Store, trail *audit.Log, opts ...Option) *Detector {
	d := &Detector{
		store:     store,
		trail:     trail,
		clock:     clock.New(),
		logger:    slog.Default(),
		cfg:       DefaultConfig(),
		blocklist: make(map[string]time.Time),
		failures:  make(map[string][]time.Time),
		ipEvents:  make(map[string][]time.Time),
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.scorers = append([]Scorer{
		patternScorer{},
		bruteForceScorer{cfg: d.cfg},
		loginScorer{cfg: d.cfg},
		anomalyScorer{cfg: d.cfg},
	}, d.scorers...)
	return d
}

// Evaluate scores the request. Detections are persisted and audited
// before the assessment is returned.
func (d *Detector) Evaluate(ctx context.Context, req sanitize.Request, subjectID, sessionID string, violations []string) Assessment {
	in := Input{
		Request:    req,
		SubjectID:  subjectID,
		SessionID:  sessionID,
		Violations: violations,
		Hour:       d.clock.Now().Hour(),
	}

	d.mu.Lock()
	d.evaluations++
	now := d.clock.Now()
	in.IPFailures = d.countLocked(d.failures, "ip:"+req.IPAddress, d.cfg.BruteForceWindow, now)
	in.SubjectFailures = d.countLocked(d.failures, "subject:"+subjectID, d.cfg.BruteForceWindow, now)
	in.FrequencyExceeded = sessionID != "" && !d.limiterLocked(sessionID).Allow()

	var findings []Finding
	if req.IPAddress != "" {
		if _, blocked := d.blocklist[req.IPAddress]; blocked {
			findings = append(findings, Finding{
				Scorer:     "ip_reputation",
				Severity:   audit.SeverityCritical,
				Confidence: 1.0,
				Reason:     "ip_blocklisted",
				Action:     ActionBlock,
			})
		} else if d.trackIPEventLocked(req.IPAddress, now) > d.cfg.SuspiciousIPEvents {
			findings = append(findings, Finding{
				Scorer:     "ip_reputation",
				Severity:   audit.SeverityMedium,
				Confidence: 0.6,
				Reason:     "elevated_ip_event_rate",
				Action:     ActionThrottle,
			})
		}
	}
	scorers := d.scorers
	d.mu.Unlock()

	for _, s := range scorers {
		if f := s.Score(in); f != nil {
			f.Scorer = s.Name()
			findings = append(findings, *f)
		}
	}

	assessment := reduce(findings)
	if assessment.Threat {
		d.recordDetection(ctx, in, assessment)
	}
	return assessment
}

// RecordFailure tracks a failed authentication attempt, feeding the
// brute-force and login scorers.
func (d *Detector) RecordFailure(ip, subjectID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if ip != "" {
		d.appendLocked(d.failures, "ip:"+ip, now)
	}
	if subjectID != "" {
		d.appendLocked(d.failures, "subject:"+subjectID, now)
	}
}

// BlockIP adds an address to the blocklist.
func (d *Detector) BlockIP(ctx context.Context, ip, reason string) {
	d.mu.Lock()
	d.blocklist[ip] = d.clock.Now()
	d.mu.Unlock()

	d.trail.Record(ctx, audit.Event{
		Type:     audit.EventIPBlocked,
		Severity: audit.SeverityHigh,
		Source:   "threat",
		Details:  map[string]any{"ip": ip, "reason": reason},
	})
}

// UnblockIP removes an address from the blocklist.
func (d *Detector) UnblockIP(ctx context.Context, ip string) {
	d.mu.Lock()
	_, existed := d.blocklist[ip]
	delete(d.blocklist, ip)
	d.mu.Unlock()

	if existed {
		d.trail.Record(ctx, audit.Event{
			Type:     audit.EventIPUnblocked,
			Severity: audit.SeverityLow,
			Source:   "threat",
			Details:  map[string]any{"ip": ip},
		})
	}
}

// IsBlocked reports whether an address is on the blocklist.
func (d *Detector) IsBlocked(ip string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.blocklist[ip]
	return ok
}

// Recent returns up to limit of the most recent detections, newest first.
func (d *Detector) Recent(limit int) []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, d.recent[i])
	}
	return out
}

// Sweep removes persisted detections older than the retention horizon,
// along with any slot that no longer decrypts. It returns the number of
// slots removed. Callers run it on startup or as periodic maintenance.
func (d *Detector) Sweep(ctx context.Context) (int, error) {
	keys, err := d.store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("threat: listing events: %w", err)
	}

	horizon := d.clock.Now().Add(-d.cfg.Retention)
	removed := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, eventKeyPrefix) {
			continue
		}
		var ev Event
		found, err := d.store.Get(ctx, key, &ev)
		if !found {
			continue
		}
		if err != nil || ev.Timestamp.Before(horizon) {
			if rmErr := d.store.Remove(ctx, key); rmErr != nil {
				return removed, fmt.Errorf("threat: removing event: %w", rmErr)
			}
			removed++
		}
	}
	return removed, nil
}

// Stats holds detector counters for monitoring.
type Stats struct {
	Evaluations     int64
	ThreatsDetected int64
	BlockedIPs      int
	TrackedFailures int
}

// Stats returns current detector counters.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Evaluations:     d.evaluations,
		ThreatsDetected: d.detected,
		BlockedIPs:      len(d.blocklist),
		TrackedFailures: len(d.failures),
	}
}

func (d *Detector) recordDetection(ctx context.Context, in Input, a Assessment) {
	reasons := make([]string, 0, len(a.Findings))
	for _, f := range a.Findings {
		reasons = append(reasons, f.Scorer+":"+f.Reason)
	}

	ev := Event{
		ID:         uuid.NewString(),
		Timestamp:  d.clock.Now(),
		SubjectID:  in.SubjectID,
		SessionID:  in.SessionID,
		IPAddress:  in.Request.IPAddress,
		Severity:   a.Severity,
		Confidence: a.Confidence,
		Reasons:    reasons,
	}

	d.mu.Lock()
	d.detected++
	d.recent = append(d.recent, ev)
	if len(d.recent) > recentEventsCap {
		d.recent = d.recent[len(d.recent)-recentEventsCap:]
	}
	d.mu.Unlock()

	if err := d.store.Put(ctx, eventKeyPrefix+ev.ID, ev); err != nil &&
		!errors.Is(err, securestore.ErrNotInitialized) {
		d.logger.Warn("persisting threat event failed", "error", err)
	}

	d.trail.Record(ctx, audit.Event{
		Type:      audit.EventSecurityViolation,
		Severity:  a.Severity,
		Source:    "threat",
		SubjectID: in.SubjectID,
		SessionID: in.SessionID,
		Details: map[string]any{
			"confidence": a.Confidence,
			"reasons":    reasons,
			"action":     string(a.Action),
		},
	})
	d.logger.Warn("threat detected",
		"severity", string(a.Severity),
		"confidence", fmt.Sprintf("%.2f", a.Confidence),
		"subject_hash", util.HashForLogging(in.SubjectID),
		"reasons", reasons)
}

func (d *Detector) appendLocked(m map[string][]time.Time, key string, now time.Time) {
	if len(m) >= maxTrackedEntries {
		// Drop the oldest signals wholesale rather than growing unbounded.
		for k := range m {
			delete(m, k)
			if len(m) < maxTrackedEntries/2 {
				break
			}
		}
	}
	m[key] = append(m[key], now)
}

func (d *Detector) countLocked(m map[string][]time.Time, key string, window time.Duration, now time.Time) int {
	stamps := m[key]
	live := stamps[:0]
	for _, ts := range stamps {
		if now.Sub(ts) <= window {
			live = append(live, ts)
		}
	}
	if len(live) == 0 {
		delete(m, key)
	} else {
		m[key] = live
	}
	return len(live)
}

func (d *Detector) trackIPEventLocked(ip string, now time.Time) int {
	d.appendLocked(d.ipEvents, ip, now)
	return d.countLocked(d.ipEvents, ip, reputationWindow, now)
}

func (d *Detector) limiterLocked(sessionID string) *rate.Limiter {
	lim, ok := d.limiters[sessionID]
	if !ok {
		lim = rate.NewLimiter(d.cfg.SessionRate, d.cfg.SessionBurst)
		d.limiters[sessionID] = lim
	}
	return lim
}

// reduce collapses findings into one assessment: the highest severity
// wins, confidence is the maximum among findings at that severity, and
// the most aggressive action is kept.
func reduce(findings []Finding) Assessment {
	if len(findings) == 0 {
		return Assessment{Severity: audit.SeverityLow, Action: ActionMonitor}
	}

	a := Assessment{
		Threat:   true,
		Severity: audit.SeverityLow,
		Action:   ActionMonitor,
		Findings: findings,
	}
	for _, f := range findings {
		if f.Severity.Rank() > a.Severity.Rank() {
			a.Severity = f.Severity
			a.Confidence = f.Confidence
		} else if f.Severity == a.Severity && f.Confidence > a.Confidence {
			a.Confidence = f.Confidence
		}
		if actionRank(f.Action) > actionRank(a.Action) {
			a.Action = f.Action
		}
	}
	return a
}

func actionRank(a Action) int {
	switch a {
	case ActionBlock:
		return 2
	case ActionThrottle:
		return 1
	default:
		return 0
	}
}
