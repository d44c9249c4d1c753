package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
//
// Never set an attribute to an actual secret: no identity proofs, no
// anti-forgery tokens, no derived key material. Only metadata such as
// hashed subject identifiers, truncated session identifiers, outcome
// labels, and severities belongs in traces.
const (
	// Guard pipeline attributes
	AttrGuardOutcome = "guard.outcome"     // allowed / rejected label
	AttrGuardReason  = "guard.reason"      // rejection reason code
	AttrSubjectHash  = "guard.subject"     // hashed subject identifier, never the raw ID
	AttrSessionID    = "guard.session"     // truncated session identifier
	AttrRequestID    = "guard.request_id"  // correlation identifier
	AttrRateClass    = "guard.rate_class"  // rate limit class charged
	AttrHTTPMethod   = "guard.http_method" // request method

	// Threat attributes
	AttrThreatSeverity   = "threat.severity"
	AttrThreatConfidence = "threat.confidence"
	AttrThreatAction     = "threat.action"

	// Store attributes
	AttrStoreOperation = "store.operation"
	AttrStoreResult    = "store.result"

	// Audit attributes
	AttrAuditEventType = "audit.event_type"
	AttrAuditSeverity  = "audit.severity"
)

// RecordError records an error on a span with proper status codes (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddGuardAttributes adds guard pipeline attributes to a span (nil-safe).
// subjectHash must already be hashed and sessionID truncated.
func AddGuardAttributes(span trace.Span, outcome, subjectHash, sessionID string) {
	if outcome != "" {
		SetSpanAttributes(span, attribute.String(AttrGuardOutcome, outcome))
	}
	if subjectHash != "" {
		SetSpanAttributes(span, attribute.String(AttrSubjectHash, subjectHash))
	}
	if sessionID != "" {
		SetSpanAttributes(span, attribute.String(AttrSessionID, sessionID))
	}
}

// AddThreatAttributes adds threat assessment attributes to a span (nil-safe).
func AddThreatAttributes(span trace.Span, severity string, confidence float64, action string) {
	SetSpanAttributes(span,
		attribute.String(AttrThreatSeverity, severity),
		attribute.Float64(AttrThreatConfidence, confidence),
		attribute.String(AttrThreatAction, action),
	)
}

// AddStoreAttributes adds secure store operation attributes to a span (nil-safe).
func AddStoreAttributes(span trace.Span, operation, result string) {
	SetSpanAttributes(span,
		attribute.String(AttrStoreOperation, operation),
		attribute.String(AttrStoreResult, result),
	)
}
