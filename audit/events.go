package audit

// Event type constants for security audit logging. These ensure
// consistency across the codebase and prevent typos when logging
// security-relevant events.
const (
	// Session lifecycle events

	// EventSessionStarted is logged when a session is created after
	// successful authentication.
	EventSessionStarted = "session_started"

	// EventSessionRestored is logged when a persisted session is
	// rehydrated on startup.
	EventSessionRestored = "session_restored"

	// EventSessionEnded is logged on explicit logout.
	EventSessionEnded = "session_ended"

	// EventSessionExpired is logged when the absolute session lifetime
	// elapses.
	EventSessionExpired = "session_expired"

	// EventSessionInactive is logged when the inactivity timeout fires.
	EventSessionInactive = "session_inactive"

	// Anti-forgery token events

	// EventCSRFTokenIssued is logged when an anti-forgery token is issued.
	EventCSRFTokenIssued = "csrf_token_issued"

	// EventCSRFValidationFailed is logged when token validation fails
	// (missing, invalid, or expired).
	EventCSRFValidationFailed = "csrf_validation_failed"

	// EventCSRFTokensRevoked is logged when a session's tokens are revoked.
	EventCSRFTokensRevoked = "csrf_tokens_revoked"

	// Security violation events

	// EventAuthFailure is logged when authentication fails.
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit window is
	// exhausted or a block cooldown rejects a request.
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventSecurityViolation is logged for every threat detection,
	// mirroring the detector's own event store.
	EventSecurityViolation = "security_violation"

	// EventSanitizationRejected is logged when request sanitization
	// finds non-recoverable violations.
	EventSanitizationRejected = "sanitization_rejected"

	// EventIPBlocked is logged when an IP is added to the blocklist.
	EventIPBlocked = "ip_blocked"

	// EventIPUnblocked is logged when an IP is removed from the blocklist.
	EventIPUnblocked = "ip_unblocked"

	// Store events

	// EventStoreCleared is logged when a subject's encrypted slots are
	// wiped.
	EventStoreCleared = "store_cleared"

	// EventDecryptionFailure is logged when an authentication tag fails
	// to verify on read.
	EventDecryptionFailure = "decryption_failure"

	// EventAuditCleared is logged as the first entry after the audit
	// trail itself is cleared, so a wipe is never silent.
	EventAuditCleared = "audit_cleared"
)
