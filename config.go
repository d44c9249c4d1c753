package trustgate

import (
	"log/slog"

	"github.com/manglanigaurav01-jpg/trustgate/audit"
	"github.com/manglanigaurav01-jpg/trustgate/csrf"
	"github.com/manglanigaurav01-jpg/trustgate/instrumentation"
	"github.com/manglanigaurav01-jpg/trustgate/ratelimit"
	"github.com/manglanigaurav01-jpg/trustgate/sanitize"
	"github.com/manglanigaurav01-jpg/trustgate/securestore"
	"github.com/manglanigaurav01-jpg/trustgate/session"
	"github.com/manglanigaurav01-jpg/trustgate/storage"
	"github.com/manglanigaurav01-jpg/trustgate/threat"
)

// Config holds the gateway configuration.
// Structured using composition: each layer's config lives in that layer's
// package and is zero-value usable with secure defaults.
type Config struct {
	// Backend is the persistence substrate for encrypted state. If nil,
	// an in-memory backend is used and nothing survives the process.
	// Use storage/bolt for durable single-file persistence.
	Backend storage.Backend

	// StorePrefix namespaces this gateway's slots in the backend, so
	// several gateways can share one backend. Empty uses the default.
	StorePrefix string

	// KDFParams overrides the Argon2id parameters for key derivation.
	// Zero value uses securestore.DefaultKDFParams.
	KDFParams securestore.KDFParams

	// Session bounds session lifetimes.
	Session session.Config

	// RateLimit maps operation classes to their limits. Nil uses
	// ratelimit.DefaultLimits.
	RateLimit map[ratelimit.Class]ratelimit.Limits

	// CSRF bounds anti-forgery token issuance.
	CSRF csrf.Config

	// CookieJar enables the double-submit cookie channel for
	// anti-forgery tokens. Nil disables it.
	CookieJar csrf.CookieJar

	// Sanitize bounds request sanitization.
	Sanitize sanitize.Config

	// Threat bounds the detection heuristics.
	Threat threat.Config

	// Audit bounds the audit trail.
	Audit audit.Config

	// Instrumentation configures OpenTelemetry metrics and tracing.
	Instrumentation instrumentation.Config

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// when extracting client addresses. Only enable behind a trusted
	// reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is how many proxies to trust from the right of
	// X-Forwarded-For. Zero assumes one.
	TrustedProxyCount int

	// Logger for structured logging (optional, uses slog.Default if not
	// provided). Shared by every layer.
	Logger *slog.Logger
}
