package trustgate

import (
	"github.com/manglanigaurav01-jpg/trustgate/ratelimit"
	"github.com/manglanigaurav01-jpg/trustgate/sanitize"
	"github.com/manglanigaurav01-jpg/trustgate/threat"
)

// Request is the untrusted input handed to Guard. It is an alias so
// callers construct it without importing the sanitize package.
type Request = sanitize.Request

// GuardContext carries the per-request metadata the pipeline needs beyond
// the request itself.
type GuardContext struct {
	// Class selects the rate limit budget to charge. Zero value charges
	// the generic API class.
	Class ratelimit.Class

	// HeaderToken is the anti-forgery token from the request header.
	HeaderToken string

	// BodyToken is the anti-forgery token from the request body, for
	// form posts that cannot set headers.
	BodyToken string
}

// Decision is the outcome of one Guard call.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// RequestID correlates this decision with its audit events and logs.
	RequestID string

	// Request is the sanitized request. Process this, never the input.
	Request Request

	// Violations lists everything sanitization found, recoverable or not.
	Violations []string

	// Threat is the detector's assessment of the request.
	Threat threat.Assessment

	// Remaining is the rate budget left in the charged class's window.
	Remaining int
}
