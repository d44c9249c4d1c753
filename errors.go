package trustgate

import "fmt"

// Guard error codes as constants
const (
	ErrorCodeNoActiveSession      = "no_active_session"
	ErrorCodeNotInitialized       = "not_initialized"
	ErrorCodeDecryptionFailure    = "decryption_failure"
	ErrorCodeSanitizationRejected = "sanitization_rejected"
	ErrorCodeRateLimitExceeded    = "rate_limit_exceeded"
	ErrorCodeThreatDetected       = "threat_detected"
	ErrorCodeCSRFMissing          = "csrf_missing"
	ErrorCodeCSRFInvalid          = "csrf_invalid"
	ErrorCodeCSRFExpired          = "csrf_expired"
)

// GuardError is a rejection surfaced by the guard pipeline. The code is a
// stable machine-readable label; the description is for humans and logs.
type GuardError struct {
	Code        string
	Description string
}

// Error implements the error interface.
func (e *GuardError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewGuardError creates a new guard error.
func NewGuardError(code, description string) *GuardError {
	return &GuardError{Code: code, Description: description}
}

// Common guard errors as reusable constructors
var (
	// ErrNoActiveSession indicates no session is active; authenticate first.
	ErrNoActiveSession = func(desc string) *GuardError {
		return NewGuardError(ErrorCodeNoActiveSession, desc)
	}

	// ErrSanitizationRejected indicates the request failed structural validation.
	ErrSanitizationRejected = func(desc string) *GuardError {
		return NewGuardError(ErrorCodeSanitizationRejected, desc)
	}

	// ErrRateLimitExceeded indicates the operation class budget is exhausted.
	ErrRateLimitExceeded = func(desc string) *GuardError {
		return NewGuardError(ErrorCodeRateLimitExceeded, desc)
	}

	// ErrThreatDetected indicates the threat detector recommended blocking.
	ErrThreatDetected = func(desc string) *GuardError {
		return NewGuardError(ErrorCodeThreatDetected, desc)
	}

	// ErrCSRFMissing indicates a state-changing request carried no token.
	ErrCSRFMissing = func(desc string) *GuardError {
		return NewGuardError(ErrorCodeCSRFMissing, desc)
	}

	// ErrCSRFInvalid indicates the token did not match a live record.
	ErrCSRFInvalid = func(desc string) *GuardError {
		return NewGuardError(ErrorCodeCSRFInvalid, desc)
	}

	// ErrCSRFExpired indicates the token existed but its lifetime lapsed.
	ErrCSRFExpired = func(desc string) *GuardError {
		return NewGuardError(ErrorCodeCSRFExpired, desc)
	}
)
