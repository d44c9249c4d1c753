package trustgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/manglanigaurav01-jpg/trustgate/audit"
	"github.com/manglanigaurav01-jpg/trustgate/csrf"
	"github.com/manglanigaurav01-jpg/trustgate/identity"
	"github.com/manglanigaurav01-jpg/trustgate/instrumentation"
	"github.com/manglanigaurav01-jpg/trustgate/internal/clock"
	"github.com/manglanigaurav01-jpg/trustgate/internal/util"
	"github.com/manglanigaurav01-jpg/trustgate/ratelimit"
	"github.com/manglanigaurav01-jpg/trustgate/sanitize"
	"github.com/manglanigaurav01-jpg/trustgate/securestore"
	"github.com/manglanigaurav01-jpg/trustgate/session"
	"github.com/manglanigaurav01-jpg/trustgate/storage"
	"github.com/manglanigaurav01-jpg/trustgate/storage/memory"
	"github.com/manglanigaurav01-jpg/trustgate/threat"
)

// Gateway composes every protection layer behind a single Guard call:
// sanitization, rate limiting, threat detection, anti-forgery validation,
// all gated on an authenticated session and recorded to the audit trail.
type Gateway struct {
	cfg      Config
	logger   *slog.Logger
	clock    clock.Clock
	provider identity.Provider

	backend     storage.Backend
	ownsBackend bool
	store       *securestore.Store
	trail       *audit.Log
	limiter     *ratelimit.Limiter
	sanitizer   *sanitize.Sanitizer
	csrfGuard   *csrf.Guard
	sessions    *session.Manager
	detector    *threat.Detector
	inst        *instrumentation.Instrumentation
}

type options struct {
	clock clock.Clock
}

// Option configures a Gateway beyond its Config.
type Option func(*options)

// withClock injects a clock for virtual-time tests.
func withClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New wires the full gateway from its configuration. The gateway is not
// usable until SignIn initializes key material and a session.
func New(provider identity.Provider, cfg Config, opts ...Option) (*Gateway, error) {
	if provider == nil {
		return nil, fmt.Errorf("trustgate: identity provider must not be nil")
	}

	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	ownsBackend := false
	if backend == nil {
		backend = memory.New()
		ownsBackend = true
	}

	inst, err := instrumentation.New(cfg.Instrumentation)
	if err != nil {
		return nil, fmt.Errorf("trustgate: creating instrumentation: %w", err)
	}

	storeOpts := []securestore.Option{
		securestore.WithLogger(logger),
		securestore.WithMetrics(inst.Metrics().StoreOperationsTotal, inst.Metrics().StoreOperationDuration),
	}
	if cfg.StorePrefix != "" {
		storeOpts = append(storeOpts, securestore.WithPrefix(cfg.StorePrefix))
	}
	if cfg.KDFParams != (securestore.KDFParams{}) {
		storeOpts = append(storeOpts, securestore.WithKDFParams(cfg.KDFParams))
	}
	store := securestore.New(backend, storeOpts...)

	trail := audit.New(store,
		audit.WithLogger(logger),
		audit.WithClock(o.clock),
		audit.WithConfig(cfg.Audit),
		audit.WithMetrics(inst.Metrics().AuditEventsTotal))

	limiter := ratelimit.New(cfg.RateLimit,
		ratelimit.WithLogger(logger),
		ratelimit.WithClock(o.clock))

	sanitizer := sanitize.New(cfg.Sanitize, sanitize.WithLogger(logger))

	csrfOpts := []csrf.Option{
		csrf.WithLogger(logger),
		csrf.WithClock(o.clock),
		csrf.WithConfig(cfg.CSRF),
	}
	if cfg.CookieJar != nil {
		csrfOpts = append(csrfOpts, csrf.WithCookieJar(cfg.CookieJar))
	}
	csrfGuard := csrf.New(store, trail, csrfOpts...)

	detector := threat.New(store, trail,
		threat.WithLogger(logger),
		threat.WithClock(o.clock),
		threat.WithConfig(cfg.Threat))

	sessions := session.New(store, trail,
		session.WithLogger(logger),
		session.WithClock(o.clock),
		session.WithConfig(cfg.Session),
		session.WithTokenRevoker(csrfGuard),
		session.WithBudgetResetter(limiter))

	g := &Gateway{
		cfg:         cfg,
		logger:      logger,
		clock:       o.clock,
		provider:    provider,
		backend:     backend,
		ownsBackend: ownsBackend,
		store:       store,
		trail:       trail,
		limiter:     limiter,
		sanitizer:   sanitizer,
		csrfGuard:   csrfGuard,
		sessions:    sessions,
		detector:    detector,
		inst:        inst,
	}

	if err := inst.RegisterStateCallbacks(
		func() int64 {
			keys, err := store.Keys(context.Background())
			if err != nil {
				return 0
			}
			return int64(len(keys))
		},
		func() int64 { return int64(limiter.Stats().CurrentEntries) },
		func() int64 { return int64(detector.Stats().BlockedIPs) },
	); err != nil {
		return nil, fmt.Errorf("trustgate: registering state gauges: %w", err)
	}

	return g, nil
}

// SignIn authenticates the gateway: credentials are fetched from the
// identity provider, key material is derived, the audit trail is loaded,
// and a session is restored or created. The active session record is
// returned.
func (g *Gateway) SignIn(ctx context.Context, deviceFingerprint string) (session.Record, error) {
	creds, err := g.provider.Credentials(ctx)
	if err != nil {
		return session.Record{}, fmt.Errorf("trustgate: fetching credentials: %w", err)
	}
	if creds.SubjectID == "" || creds.Proof() == "" {
		return session.Record{}, fmt.Errorf("trustgate: provider returned incomplete credentials")
	}

	if err := g.store.Initialize(ctx, creds.SubjectID, creds.Proof()); err != nil {
		return session.Record{}, fmt.Errorf("trustgate: initializing store: %w", err)
	}
	if err := g.trail.Load(ctx); err != nil {
		return session.Record{}, fmt.Errorf("trustgate: loading audit trail: %w", err)
	}
	if removed, err := g.detector.Sweep(ctx); err != nil {
		g.logger.Warn("sweeping persisted threat events failed", "error", err)
	} else if removed > 0 {
		g.logger.Debug("swept stale threat events", "removed", removed)
	}

	restored, err := g.sessions.Restore(ctx, creds.Proof())
	if err != nil {
		return session.Record{}, fmt.Errorf("trustgate: restoring session: %w", err)
	}
	if !restored {
		if _, err := g.sessions.Create(ctx, creds.SubjectID, creds.Proof(), deviceFingerprint); err != nil {
			return session.Record{}, fmt.Errorf("trustgate: creating session: %w", err)
		}
	}

	g.inst.Metrics().SessionsStarted.Add(ctx, 1)
	rec, _ := g.sessions.Current()
	return rec, nil
}

// SignOut ends the session and wipes the derived key material. Stored
// ciphertext survives for the next SignIn with the same credentials.
func (g *Gateway) SignOut(ctx context.Context) error {
	err := g.sessions.End(ctx)
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		return fmt.Errorf("trustgate: ending session: %w", err)
	}
	g.store.Reset()
	g.inst.Metrics().SessionsEnded.Add(ctx, 1)
	return nil
}

// IssueToken mints a fresh anti-forgery token for the active session.
func (g *Gateway) IssueToken(ctx context.Context) (string, error) {
	rec, ok := g.sessions.Current()
	if !ok {
		return "", ErrNoActiveSession("sign in before issuing tokens")
	}
	token, err := g.csrfGuard.Issue(ctx, rec.SessionID)
	if err != nil {
		return "", fmt.Errorf("trustgate: issuing token: %w", err)
	}
	return token, nil
}

// Guard runs the request through the full pipeline: sanitization, rate
// limiting, threat detection, then anti-forgery validation. The returned
// decision carries the sanitized request; on rejection the error is a
// *GuardError with a stable code.
//
// The rate budget is charged only after structural sanitization passes,
// so malformed garbage cannot exhaust a subject's budget; every rejection
// is audited either way.
func (g *Gateway) Guard(ctx context.Context, req Request, gc GuardContext) (Decision, error) {
	start := g.clock.Now()
	decision := Decision{RequestID: uuid.NewString()}

	defer func() {
		elapsed := g.clock.Now().Sub(start)
		g.inst.Metrics().GuardDecisionDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond))
	}()
	g.inst.Metrics().GuardRequestsTotal.Add(ctx, 1)

	rec, ok := g.sessions.Current()
	if !ok {
		return decision, ErrNoActiveSession("sign in before issuing requests")
	}

	if req.IPAddress == "" && g.cfg.TrustProxy {
		req.IPAddress = threat.ClientIP(req.Headers, "", true, g.cfg.TrustedProxyCount)
	}

	class := gc.Class
	if class == "" {
		class = ratelimit.ClassAPI
	}

	res := g.sanitizer.Sanitize(req)
	decision.Request = res.Request
	decision.Violations = res.Violations
	if !res.Valid {
		g.inst.Metrics().SanitizationRejected.Add(ctx, 1)
		g.trail.Record(ctx, audit.Event{
			Type:      audit.EventSanitizationRejected,
			Severity:  audit.SeverityMedium,
			Source:    "guard",
			SubjectID: rec.SubjectID,
			SessionID: rec.SessionID,
			Details: map[string]any{
				"request_id": decision.RequestID,
				"violations": res.Violations,
			},
		})
		return decision, ErrSanitizationRejected(fmt.Sprintf("request rejected: %v", res.Violations))
	}

	rl := g.limiter.Check(class, rec.SubjectID)
	decision.Remaining = rl.Remaining
	if !rl.Allowed {
		g.inst.Metrics().RateLimitDenied.Add(ctx, 1)
		g.trail.Record(ctx, audit.Event{
			Type:      audit.EventRateLimitExceeded,
			Severity:  audit.SeverityMedium,
			Source:    "guard",
			SubjectID: rec.SubjectID,
			SessionID: rec.SessionID,
			Details: map[string]any{
				"request_id": decision.RequestID,
				"class":      string(class),
				"reset_at":   rl.ResetAt,
			},
		})
		return decision, ErrRateLimitExceeded(
			fmt.Sprintf("%s budget exhausted, resets at %s", class, rl.ResetAt.Format(time.RFC3339)))
	}
	g.limiter.Record(class, rec.SubjectID)
	decision.Remaining = rl.Remaining - 1

	decision.Threat = g.detector.Evaluate(ctx, res.Request, rec.SubjectID, rec.SessionID, res.Violations)
	if decision.Threat.Threat {
		g.inst.Metrics().ThreatsDetected.Add(ctx, 1, metric.WithAttributes(
			attribute.String(instrumentation.AttrThreatSeverity, string(decision.Threat.Severity))))
	}
	if decision.Threat.Action == threat.ActionBlock {
		return decision, ErrThreatDetected(
			fmt.Sprintf("%s severity, confidence %.2f", decision.Threat.Severity, decision.Threat.Confidence))
	}

	if err := g.csrfGuard.Validate(ctx, rec.SessionID, res.Request.Method, gc.HeaderToken, gc.BodyToken); err != nil {
		g.inst.Metrics().CSRFFailures.Add(ctx, 1)
		return decision, mapCSRFError(err)
	}

	if err := g.sessions.RecordActivity(ctx); err != nil && !errors.Is(err, session.ErrNoSession) {
		g.logger.Warn("recording session activity failed", "error", err)
	}

	decision.Allowed = true
	g.logger.Debug("request allowed",
		"request_id", decision.RequestID,
		"subject_hash", util.HashForLogging(rec.SubjectID),
		"class", string(class),
		"sanitized", res.Sanitized)
	return decision, nil
}

// RecordAuthFailure feeds a failed authentication attempt to the threat
// detector and the audit trail. Embedders call this when their own login
// flow fails, so brute-force velocity is tracked even before a session
// exists.
func (g *Gateway) RecordAuthFailure(ctx context.Context, ip, subjectID string) {
	g.detector.RecordFailure(ip, subjectID)
	g.trail.Record(ctx, audit.Event{
		Type:      audit.EventAuthFailure,
		Severity:  audit.SeverityMedium,
		Source:    "guard",
		SubjectID: subjectID,
		Details:   map[string]any{"ip": ip},
	})
}

// Close releases the gateway: background loops stop, timers are cleared,
// instrumentation shuts down, and an owned backend is closed. The session
// record is preserved for a later SignIn.
func (g *Gateway) Close(ctx context.Context) error {
	g.limiter.Stop()
	g.sessions.Close()
	g.store.Reset()

	var firstErr error
	if err := g.inst.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if g.ownsBackend {
		if err := g.backend.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Store returns the secure store for direct encrypted persistence.
func (g *Gateway) Store() *securestore.Store { return g.store }

// Audit returns the audit trail.
func (g *Gateway) Audit() *audit.Log { return g.trail }

// Sessions returns the session manager.
func (g *Gateway) Sessions() *session.Manager { return g.sessions }

// RateLimiter returns the rate limiter.
func (g *Gateway) RateLimiter() *ratelimit.Limiter { return g.limiter }

// CSRF returns the anti-forgery guard.
func (g *Gateway) CSRF() *csrf.Guard { return g.csrfGuard }

// Detector returns the threat detector.
func (g *Gateway) Detector() *threat.Detector { return g.detector }

// Instrumentation returns the instrumentation instance.
func (g *Gateway) Instrumentation() *instrumentation.Instrumentation { return g.inst }

func mapCSRFError(err error) *GuardError {
	switch {
	case errors.Is(err, csrf.ErrMissingToken):
		return ErrCSRFMissing("state-changing request carried no token")
	case errors.Is(err, csrf.ErrExpiredToken):
		return ErrCSRFExpired("token lifetime elapsed")
	default:
		return ErrCSRFInvalid("token did not match a live record")
	}
}
