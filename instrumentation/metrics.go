package instrumentation

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the trustgate library.
type Metrics struct {
	// Guard pipeline metrics
	GuardRequestsTotal    metric.Int64Counter
	GuardDecisionDuration metric.Float64Histogram

	// Per-layer rejection counters
	SanitizationRejected metric.Int64Counter
	RateLimitDenied      metric.Int64Counter
	CSRFFailures         metric.Int64Counter
	ThreatsDetected      metric.Int64Counter

	// Session lifecycle metrics
	SessionsStarted metric.Int64Counter
	SessionsEnded   metric.Int64Counter

	// Secure store metrics
	StoreOperationsTotal   metric.Int64Counter
	StoreOperationDuration metric.Float64Histogram

	// Audit metrics
	AuditEventsTotal metric.Int64Counter

	// Observable state gauges, fed through RegisterStateCallbacks
	StoreSlotsCount        metric.Int64ObservableGauge
	RateLimitActiveWindows metric.Int64ObservableGauge
	BlockedIPsCount        metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	guardMeter := inst.Meter("guard")
	storeMeter := inst.Meter("store")
	stateMeter := inst.Meter("state")

	var err error
	m.GuardRequestsTotal, err = guardMeter.Int64Counter(
		"trustgate.guard.requests.total",
		metric.WithDescription("Total number of requests evaluated by the guard pipeline"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard.requests.total counter: %w", err)
	}

	m.GuardDecisionDuration, err = guardMeter.Float64Histogram(
		"trustgate.guard.decision.duration",
		metric.WithDescription("Guard pipeline decision latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard.decision.duration histogram: %w", err)
	}

	m.SanitizationRejected, err = guardMeter.Int64Counter(
		"trustgate.sanitization.rejected",
		metric.WithDescription("Requests rejected by sanitization"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sanitization.rejected counter: %w", err)
	}

	m.RateLimitDenied, err = guardMeter.Int64Counter(
		"trustgate.ratelimit.denied",
		metric.WithDescription("Requests denied by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.denied counter: %w", err)
	}

	m.CSRFFailures, err = guardMeter.Int64Counter(
		"trustgate.csrf.failures",
		metric.WithDescription("Anti-forgery token validation failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create csrf.failures counter: %w", err)
	}

	m.ThreatsDetected, err = guardMeter.Int64Counter(
		"trustgate.threats.detected",
		metric.WithDescription("Threat detections by severity"),
		metric.WithUnit("{detection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create threats.detected counter: %w", err)
	}

	m.SessionsStarted, err = guardMeter.Int64Counter(
		"trustgate.sessions.started",
		metric.WithDescription("Sessions created or restored"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions.started counter: %w", err)
	}

	m.SessionsEnded, err = guardMeter.Int64Counter(
		"trustgate.sessions.ended",
		metric.WithDescription("Sessions ended by logout, expiry, or inactivity"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions.ended counter: %w", err)
	}

	m.StoreOperationsTotal, err = storeMeter.Int64Counter(
		"trustgate.store.operations.total",
		metric.WithDescription("Secure store operations by type and result"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.operations.total counter: %w", err)
	}

	m.StoreOperationDuration, err = storeMeter.Float64Histogram(
		"trustgate.store.operation.duration",
		metric.WithDescription("Secure store operation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.operation.duration histogram: %w", err)
	}

	m.AuditEventsTotal, err = guardMeter.Int64Counter(
		"trustgate.audit.events.total",
		metric.WithDescription("Audit events recorded by type and severity"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	m.StoreSlotsCount, err = stateMeter.Int64ObservableGauge(
		"trustgate.store.slots",
		metric.WithDescription("Encrypted slots currently stored"),
		metric.WithUnit("{slot}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.slots gauge: %w", err)
	}

	m.RateLimitActiveWindows, err = stateMeter.Int64ObservableGauge(
		"trustgate.ratelimit.active_windows",
		metric.WithDescription("Rate limit windows currently tracked"),
		metric.WithUnit("{window}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.active_windows gauge: %w", err)
	}

	m.BlockedIPsCount, err = stateMeter.Int64ObservableGauge(
		"trustgate.threat.blocked_ips",
		metric.WithDescription("Addresses currently on the blocklist"),
		metric.WithUnit("{address}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create threat.blocked_ips gauge: %w", err)
	}

	return m, nil
}
