// Package session tracks the authenticated session's lifecycle: creation
// after authentication, restoration across restarts with identity proof
// revalidation, activity-based extension, and teardown on logout, expiry,
// or inactivity. Teardown cascades to the anti-forgery guard and the rate
// limiter so no stale state survives the session it belonged to.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/manglanigaurav01-jpg/trustgate/audit"
	"github.com/manglanigaurav01-jpg/trustgate/internal/clock"
	"github.com/manglanigaurav01-jpg/trustgate/internal/util"
	"github.com/manglanigaurav01-jpg/trustgate/securestore"
)

// ErrNoSession is returned by operations that need an active session when
// none exists.
var ErrNoSession = errors.New("session: no active session")

const (
	defaultMaxDuration       = 24 * time.Hour
	defaultInactivityTimeout = 2 * time.Hour
	defaultSkewGrace         = 2 * time.Minute

	expiringSoonWindow = 5 * time.Minute

	recordStoreKey = "session:current"
	sessionEntropy = 32
)

// Record is the persisted shape of a session.
type Record struct {
	SessionID         string    `json:"session_id"`
	SubjectID         string    `json:"subject_id"`
	StartedAt         time.Time `json:"started_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`

	// ProofHash is a bcrypt hash of the identity proof the session was
	// created with. Restore recomputes it so a stolen session record is
	// useless without the proof itself.
	ProofHash []byte `json:"proof_hash"`
}

// Config bounds session lifetimes.
type Config struct {
	// MaxDuration is the absolute session lifetime. Activity never
	// extends a session past StartedAt + MaxDuration. Default: 24 hours.
	MaxDuration time.Duration

	// InactivityTimeout ends a session with no recorded activity.
	// Default: 2 hours.
	InactivityTimeout time.Duration

	// ExtendOnActivity slides the expiry forward on each recorded
	// activity, clamped to MaxDuration. Default: true (via DefaultConfig).
	ExtendOnActivity bool

	// SkewGrace tolerates small clock drift when judging a restored
	// record's expiry. Default: 2 minutes.
	SkewGrace time.Duration
}

// DefaultConfig returns the default session bounds.
func DefaultConfig() Config {
	return Config{
		MaxDuration:       defaultMaxDuration,
		InactivityTimeout: defaultInactivityTimeout,
		ExtendOnActivity:  true,
		SkewGrace:         defaultSkewGrace,
	}
}

// TokenRevoker revokes all anti-forgery tokens for a session.
type TokenRevoker interface {
	RevokeAll(ctx context.Context, sessionID string) error
}

// BudgetResetter clears rate-limit windows for a key.
type BudgetResetter interface {
	ResetKey(key string)
}

// Status describes the current session for callers that poll it.
type Status struct {
	Active            bool
	SessionID         string
	SubjectID         string
	TimeRemaining     time.Duration
	TimeSinceActivity time.Duration
	ExpiringSoon      bool

	// InactivityRemaining is how long the session survives without
	// further activity. InactiveSoon flags that the allowance is nearly
	// spent, giving callers a window to prompt for activity before the
	// inactivity timer tears the session down.
	InactivityRemaining time.Duration
	InactiveSoon        bool
}

// Manager owns the single active session.
type Manager struct {
	mu       sync.Mutex
	store    *securestore.Store
	trail    *audit.Log
	revoker  TokenRevoker
	resetter BudgetResetter
	clock    clock.Clock
	logger   *slog.Logger
	cfg      Config

	current         *Record
	expiryTimer     clock.Timer
	inactivityTimer clock.Timer
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for lifecycle diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock injects a clock for virtual-time tests.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithConfig overrides the session bounds.
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		if cfg.MaxDuration > 0 {
			m.cfg.MaxDuration = cfg.MaxDuration
		}
		if cfg.InactivityTimeout > 0 {
			m.cfg.InactivityTimeout = cfg.InactivityTimeout
		}
		if cfg.SkewGrace > 0 {
			m.cfg.SkewGrace = cfg.SkewGrace
		}
		m.cfg.ExtendOnActivity = cfg.ExtendOnActivity
	}
}

// WithTokenRevoker wires the anti-forgery guard into teardown.
func WithTokenRevoker(r TokenRevoker) Option {
	return func(m *Manager) { m.revoker = r }
}

// WithBudgetResetter wires the rate limiter into teardown.
func WithBudgetResetter(r BudgetResetter) Option {
	return func(m *Manager) { m.resetter = r }
}

// New creates a Manager persisting the session record through the secure
// store.
func New(store *securestore.Store, trail *audit.Log, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		trail:  trail,
		clock:  clock.New(),
		logger: slog.Default(),
		cfg:    DefaultConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a fresh session for the subject. Any existing session is
// torn down first.
func (m *Manager) Create(ctx context.Context, subjectID, identityProof, deviceFingerprint string) (Record, error) {
	if subjectID == "" {
		return Record{}, fmt.Errorf("session: subject ID must not be empty")
	}
	if identityProof == "" {
		return Record{}, fmt.Errorf("session: identity proof must not be empty")
	}

	proofHash, err := bcrypt.GenerateFromPassword(proofDigest(identityProof), bcrypt.DefaultCost)
	if err != nil {
		return Record{}, fmt.Errorf("session: hashing identity proof: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.teardownLocked(ctx, audit.EventSessionEnded, "replaced by new session")
	}

	now := m.clock.Now()
	rec := Record{
		SessionID:         util.RandomToken(sessionEntropy),
		SubjectID:         subjectID,
		StartedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(m.cfg.MaxDuration),
		DeviceFingerprint: deviceFingerprint,
		ProofHash:         proofHash,
	}

	if err := m.store.Put(ctx, recordStoreKey, rec); err != nil {
		return Record{}, fmt.Errorf("session: persisting record: %w", err)
	}

	m.current = &rec
	m.armTimersLocked()

	m.trail.Record(ctx, audit.Event{
		Type:      audit.EventSessionStarted,
		Severity:  audit.SeverityLow,
		Source:    "session",
		SubjectID: subjectID,
		SessionID: rec.SessionID,
	})
	m.logger.Info("session started",
		"subject_hash", util.HashForLogging(subjectID),
		"session_id", util.SafeTruncate(rec.SessionID, 8),
		"expires_at", rec.ExpiresAt)
	return rec, nil
}

// Restore rehydrates a persisted session after a restart. The identity
// proof is revalidated against the stored hash; a mismatch is treated as
// an authentication failure and the stale record is discarded. It reports
// whether a session became active.
func (m *Manager) Restore(ctx context.Context, identityProof string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rec Record
	found, err := m.store.Get(ctx, recordStoreKey, &rec)
	if err != nil {
		if errors.Is(err, securestore.ErrNotInitialized) {
			return false, fmt.Errorf("session: reading record: %w", err)
		}
		// The record no longer decrypts under the current key, most
		// often because the identity proof rotated since it was written.
		// Purge it and report no session rather than wedging sign-in.
		m.logger.Warn("purging unreadable session record", "error", err)
		_ = m.store.Remove(ctx, recordStoreKey)
		m.trail.Record(ctx, audit.Event{
			Type:     audit.EventSessionEnded,
			Severity: audit.SeverityLow,
			Source:   "session",
			Details:  map[string]any{"reason": "record unreadable after proof rotation"},
		})
		return false, nil
	}
	if !found {
		return false, nil
	}

	if bcrypt.CompareHashAndPassword(rec.ProofHash, proofDigest(identityProof)) != nil {
		m.trail.Record(ctx, audit.Event{
			Type:      audit.EventAuthFailure,
			Severity:  audit.SeverityHigh,
			Source:    "session",
			SubjectID: rec.SubjectID,
			SessionID: rec.SessionID,
			Details:   map[string]any{"reason": "proof mismatch on restore"},
		})
		_ = m.store.Remove(ctx, recordStoreKey)
		return false, nil
	}

	now := m.clock.Now()
	if now.After(rec.ExpiresAt.Add(m.cfg.SkewGrace)) {
		m.trail.Record(ctx, audit.Event{
			Type:      audit.EventSessionExpired,
			Severity:  audit.SeverityLow,
			Source:    "session",
			SubjectID: rec.SubjectID,
			SessionID: rec.SessionID,
		})
		_ = m.store.Remove(ctx, recordStoreKey)
		return false, nil
	}
	if now.Sub(rec.LastActivityAt) > m.cfg.InactivityTimeout+m.cfg.SkewGrace {
		m.trail.Record(ctx, audit.Event{
			Type:      audit.EventSessionInactive,
			Severity:  audit.SeverityLow,
			Source:    "session",
			SubjectID: rec.SubjectID,
			SessionID: rec.SessionID,
		})
		_ = m.store.Remove(ctx, recordStoreKey)
		return false, nil
	}

	rec.LastActivityAt = now
	if err := m.store.Put(ctx, recordStoreKey, rec); err != nil {
		return false, fmt.Errorf("session: persisting record: %w", err)
	}

	m.current = &rec
	m.armTimersLocked()

	m.trail.Record(ctx, audit.Event{
		Type:      audit.EventSessionRestored,
		Severity:  audit.SeverityLow,
		Source:    "session",
		SubjectID: rec.SubjectID,
		SessionID: rec.SessionID,
	})
	return true, nil
}

// RecordActivity marks the session as active now, rearming the inactivity
// timer and, when configured, sliding the expiry forward clamped to the
// absolute maximum.
func (m *Manager) RecordActivity(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ErrNoSession
	}

	now := m.clock.Now()
	m.current.LastActivityAt = now

	if m.cfg.ExtendOnActivity {
		extended := now.Add(m.cfg.MaxDuration)
		ceiling := m.current.StartedAt.Add(m.cfg.MaxDuration)
		if extended.After(ceiling) {
			extended = ceiling
		}
		m.current.ExpiresAt = extended
	}

	if err := m.store.Put(ctx, recordStoreKey, *m.current); err != nil {
		return fmt.Errorf("session: persisting record: %w", err)
	}

	m.armTimersLocked()
	return nil
}

// End terminates the session explicitly.
func (m *Manager) End(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ErrNoSession
	}
	m.teardownLocked(ctx, audit.EventSessionEnded, "logout")
	return nil
}

// Close stops the lifecycle timers without ending the session. Intended
// for process shutdown: the persisted record survives for a later Restore.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expiryTimer != nil {
		m.expiryTimer.Stop()
		m.expiryTimer = nil
	}
	if m.inactivityTimer != nil {
		m.inactivityTimer.Stop()
		m.inactivityTimer = nil
	}
	m.current = nil
}

// HasActiveSession reports whether a session is currently active.
func (m *Manager) HasActiveSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Current returns a copy of the active session record.
func (m *Manager) Current() (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Record{}, false
	}
	return *m.current, true
}

// Status returns a snapshot of the session for polling callers.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Status{}
	}

	now := m.clock.Now()
	remaining := m.current.ExpiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	sinceActivity := now.Sub(m.current.LastActivityAt)
	idleRemaining := m.cfg.InactivityTimeout - sinceActivity
	if idleRemaining < 0 {
		idleRemaining = 0
	}
	return Status{
		Active:              true,
		SessionID:           m.current.SessionID,
		SubjectID:           m.current.SubjectID,
		TimeRemaining:       remaining,
		TimeSinceActivity:   sinceActivity,
		ExpiringSoon:        remaining <= expiringSoonWindow,
		InactivityRemaining: idleRemaining,
		InactiveSoon:        idleRemaining <= expiringSoonWindow,
	}
}

// armTimersLocked clears and rearms both lifecycle timers from the
// current record. They are always managed as a pair so a stale timer can
// never outlive the state it was armed for.
func (m *Manager) armTimersLocked() {
	if m.expiryTimer != nil {
		m.expiryTimer.Stop()
	}
	if m.inactivityTimer != nil {
		m.inactivityTimer.Stop()
	}

	now := m.clock.Now()
	sessionID := m.current.SessionID

	m.expiryTimer = m.clock.AfterFunc(m.current.ExpiresAt.Sub(now), func() {
		m.onTimer(sessionID, audit.EventSessionExpired, "absolute lifetime elapsed")
	})
	m.inactivityTimer = m.clock.AfterFunc(m.cfg.InactivityTimeout, func() {
		m.onTimer(sessionID, audit.EventSessionInactive, "inactivity timeout")
	})
}

// onTimer runs in the timer goroutine. The session ID check discards
// callbacks that raced with a teardown or replacement.
func (m *Manager) onTimer(sessionID, eventType, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.SessionID != sessionID {
		return
	}
	m.teardownLocked(context.Background(), eventType, reason)
}

// teardownLocked ends the current session and cascades: the persisted
// record, the session's anti-forgery tokens, and the subject's rate-limit
// windows are all discarded.
func (m *Manager) teardownLocked(ctx context.Context, eventType, reason string) {
	rec := *m.current
	m.current = nil

	if m.expiryTimer != nil {
		m.expiryTimer.Stop()
		m.expiryTimer = nil
	}
	if m.inactivityTimer != nil {
		m.inactivityTimer.Stop()
		m.inactivityTimer = nil
	}

	if err := m.store.Remove(ctx, recordStoreKey); err != nil {
		m.logger.Warn("removing session record failed", "error", err)
	}
	if m.revoker != nil {
		if err := m.revoker.RevokeAll(ctx, rec.SessionID); err != nil {
			m.logger.Warn("revoking session tokens failed", "error", err)
		}
	}
	if m.resetter != nil {
		m.resetter.ResetKey(rec.SubjectID)
	}

	severity := audit.SeverityLow
	m.trail.Record(ctx, audit.Event{
		Type:      eventType,
		Severity:  severity,
		Source:    "session",
		SubjectID: rec.SubjectID,
		SessionID: rec.SessionID,
		Details:   map[string]any{"reason": reason},
	})
	m.logger.Info("session ended",
		"session_id", util.SafeTruncate(rec.SessionID, 8),
		"reason", reason)
}

// proofDigest pre-hashes the proof so bcrypt's 72-byte input cap never
// truncates long tokens.
func proofDigest(proof string) []byte {
	sum := util.SHA256Hex(proof)
	return []byte(sum)
}
