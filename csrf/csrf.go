// Package csrf issues and validates anti-forgery tokens bound to a
// session. Tokens are single-use: validation consumes the stored record
// atomically, so two concurrent submissions of the same token can never
// both succeed. Safe methods bypass validation entirely.
package csrf

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/manglanigaurav01-jpg/trustgate/audit"
	"github.com/manglanigaurav01-jpg/trustgate/internal/clock"
	"github.com/manglanigaurav01-jpg/trustgate/internal/util"
	"github.com/manglanigaurav01-jpg/trustgate/securestore"
)

var (
	// ErrMissingToken is returned when a state-changing request carries no
	// token at all.
	ErrMissingToken = errors.New("csrf: token missing")

	// ErrInvalidToken is returned when the supplied token does not match a
	// live record for the session, or the header and body copies disagree.
	ErrInvalidToken = errors.New("csrf: token invalid")

	// ErrExpiredToken is returned when the token existed but its lifetime
	// had lapsed. The record is purged as part of the check.
	ErrExpiredToken = errors.New("csrf: token expired")
)

const (
	// DefaultCookieName uses the __Host- prefix so browsers bind the
	// cookie to the origin with Secure and no Domain attribute.
	DefaultCookieName = "__Host-trustgate-csrf"

	// DefaultHeaderName is the request header carrying the token copy.
	DefaultHeaderName = "X-CSRF-Token"

	defaultTTL      = time.Hour
	tokenEntropy    = 32
	storeKeyPattern = "csrf:%s:%s" // sessionID, token
)

// CookieJar abstracts the double-submit cookie channel. Implementations
// must set cookies with Secure, HttpOnly off (the client script reads it
// back), and SameSite=Strict.
type CookieJar interface {
	SetCookie(name, value string, expires time.Time)
	Cookie(name string) (string, bool)
	ClearCookie(name string)
}

// Record is the stored shape of one issued token.
type Record struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Config bounds the guard.
type Config struct {
	// TTL is the token lifetime. Default: 1 hour.
	TTL time.Duration

	// CookieName overrides DefaultCookieName.
	CookieName string

	// HeaderName overrides DefaultHeaderName.
	HeaderName string
}

// Guard issues and validates anti-forgery tokens.
type Guard struct {
	store  *securestore.Store
	trail  *audit.Log
	jar    CookieJar
	clock  clock.Clock
	logger *slog.Logger
	cfg    Config

	mu       sync.Mutex
	sessions map[string]*sync.Mutex

	issued    int64
	validated int64
	rejected  int64
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger for validation diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock injects a clock for virtual-time tests.
func WithClock(c clock.Clock) Option {
	return func(g *Guard) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithCookieJar enables the double-submit cookie channel.
func WithCookieJar(jar CookieJar) Option {
	return func(g *Guard) { g.jar = jar }
}

// WithConfig overrides token lifetime and channel names.
func WithConfig(cfg Config) Option {
	return func(g *Guard) {
		if cfg.TTL > 0 {
			g.cfg.TTL = cfg.TTL
		}
		if cfg.CookieName != "" {
			g.cfg.CookieName = cfg.CookieName
		}
		if cfg.HeaderName != "" {
			g.cfg.HeaderName = cfg.HeaderName
		}
	}
}

// New creates a Guard persisting tokens through the secure store and
// recording outcomes to the audit trail.
func New(store *securestore.Store, trail *audit.Log, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		trail:  trail,
		clock:  clock.New(),
		logger: slog.Default(),
		cfg: Config{
			TTL:        defaultTTL,
			CookieName: DefaultCookieName,
			HeaderName: DefaultHeaderName,
		},
		sessions: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HeaderName returns the configured token header.
func (g *Guard) HeaderName() string { return g.cfg.HeaderName }

// Issue mints a fresh token for the session, persists it, and mirrors it
// into the double-submit cookie when a jar is configured.
func (g *Guard) Issue(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("csrf: session ID must not be empty")
	}

	token := util.RandomToken(tokenEntropy)
	now := g.clock.Now()
	rec := Record{
		Token:     token,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(g.cfg.TTL),
	}

	if err := g.store.Put(ctx, recordKey(sessionID, token), rec); err != nil {
		return "", fmt.Errorf("csrf: storing token: %w", err)
	}

	if g.jar != nil {
		g.jar.SetCookie(g.cfg.CookieName, token, rec.ExpiresAt)
	}

	g.mu.Lock()
	g.issued++
	g.mu.Unlock()

	g.trail.Record(ctx, audit.Event{
		Type:      audit.EventCSRFTokenIssued,
		Severity:  audit.SeverityLow,
		Source:    "csrf",
		SessionID: sessionID,
	})
	return token, nil
}

// Validate checks the token attached to a state-changing request. Safe
// methods (GET, HEAD, OPTIONS) pass without a token and without consuming
// anything. A successful validation consumes the token; callers needing a
// token for the next request must Issue a new one.
func (g *Guard) Validate(ctx context.Context, sessionID, method, headerToken, bodyToken string) error {
	if isSafeMethod(method) {
		return nil
	}

	token, err := g.resolveToken(headerToken, bodyToken)
	if err != nil {
		g.reject(ctx, sessionID, err)
		return err
	}

	// Serialize per session so a Refresh cannot interleave with a
	// Validate on the same session's records.
	unlock := g.lockSession(sessionID)
	defer unlock()

	var rec Record
	found, err := g.store.Take(ctx, recordKey(sessionID, token), &rec)
	if err != nil || !found {
		g.reject(ctx, sessionID, ErrInvalidToken)
		return ErrInvalidToken
	}

	if g.clock.Now().After(rec.ExpiresAt) {
		// Take already purged the record.
		g.reject(ctx, sessionID, ErrExpiredToken)
		return ErrExpiredToken
	}

	g.mu.Lock()
	g.validated++
	g.mu.Unlock()
	return nil
}

// Refresh rotates the session's tokens: every live token is revoked and
// a fresh one issued under the per-session lock, so a concurrent Validate
// either consumes an old token before the rotation or finds nothing after
// it.
func (g *Guard) Refresh(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("csrf: session ID must not be empty")
	}

	unlock := g.lockSession(sessionID)
	defer unlock()

	if err := g.revokeLocked(ctx, sessionID); err != nil {
		return "", err
	}
	return g.Issue(ctx, sessionID)
}

// RevokeAll purges every live token for the session and clears the
// double-submit cookie. Called on session teardown.
func (g *Guard) RevokeAll(ctx context.Context, sessionID string) error {
	unlock := g.lockSession(sessionID)
	defer unlock()
	return g.revokeLocked(ctx, sessionID)
}

// revokeLocked purges the session's tokens. Callers hold the per-session
// lock.
func (g *Guard) revokeLocked(ctx context.Context, sessionID string) error {
	keys, err := g.store.Keys(ctx)
	if err != nil {
		return fmt.Errorf("csrf: listing tokens: %w", err)
	}

	prefix := fmt.Sprintf("csrf:%s:", sessionID)
	revoked := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := g.store.Remove(ctx, key); err != nil {
			return fmt.Errorf("csrf: revoking token: %w", err)
		}
		revoked++
	}

	if g.jar != nil {
		g.jar.ClearCookie(g.cfg.CookieName)
	}

	if revoked > 0 {
		g.trail.Record(ctx, audit.Event{
			Type:      audit.EventCSRFTokensRevoked,
			Severity:  audit.SeverityLow,
			Source:    "csrf",
			SessionID: sessionID,
			Details:   map[string]any{"revoked": revoked},
		})
	}
	return nil
}

// Stats holds guard counters for monitoring.
type Stats struct {
	Issued    int64
	Validated int64
	Rejected  int64
}

// Stats returns current guard counters.
func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{Issued: g.issued, Validated: g.validated, Rejected: g.rejected}
}

// resolveToken picks the token from its two channels. When both carry a
// value they must agree.
func (g *Guard) resolveToken(headerToken, bodyToken string) (string, error) {
	switch {
	case headerToken == "" && bodyToken == "":
		return "", ErrMissingToken
	case headerToken != "" && bodyToken != "":
		if subtle.ConstantTimeCompare([]byte(headerToken), []byte(bodyToken)) != 1 {
			return "", ErrInvalidToken
		}
		return headerToken, nil
	case headerToken != "":
		return headerToken, nil
	default:
		return bodyToken, nil
	}
}

func (g *Guard) reject(ctx context.Context, sessionID string, cause error) {
	g.mu.Lock()
	g.rejected++
	g.mu.Unlock()

	g.trail.Record(ctx, audit.Event{
		Type:      audit.EventCSRFValidationFailed,
		Severity:  audit.SeverityHigh,
		Source:    "csrf",
		SessionID: sessionID,
		Details:   map[string]any{"reason": cause.Error()},
	})
	g.logger.Warn("csrf validation failed",
		"session_id", util.SafeTruncate(sessionID, 8),
		"reason", cause.Error())
}

// lockSession acquires the per-session mutex, creating it on first use.
func (g *Guard) lockSession(sessionID string) func() {
	g.mu.Lock()
	m, ok := g.sessions[sessionID]
	if !ok {
		m = &sync.Mutex{}
		g.sessions[sessionID] = m
	}
	g.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func recordKey(sessionID, token string) string {
	return fmt.Sprintf(storeKeyPattern, sessionID, token)
}

func isSafeMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "OPTIONS":
		return true
	}
	return false
}
