package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceVersion is used when no version is provided.
	DefaultServiceVersion = "unknown"

	scopePrefix = "github.com/manglanigaurav01-jpg/trustgate/"
)

// Config holds instrumentation configuration.
type Config struct {
	// ServiceName identifies the embedding application.
	ServiceName string

	// ServiceVersion is the embedding application's version.
	ServiceVersion string

	// Enabled controls whether instrumentation is active. When false,
	// no-op providers are used and instrument calls cost nothing.
	Enabled bool

	// Resource allows custom resource attributes. If nil, a default
	// resource is created from the service name and version.
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components.
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	// Shutdown functions must be registered during New only.
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates an instrumentation instance.
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = "trustgate"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
		// No-op providers are installed in both modes. When enabled,
		// embedders swap in real exporters through the provider
		// accessors; the instrument plumbing is identical either way.
		meterProvider:  noop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	return inst, nil
}

// Shutdown gracefully shuts down all instrumentation providers.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})
	return shutdownErr
}

// Meter returns a named meter for the given scope. Scopes are layer names
// like "guard", "store", "threat", "session".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording values.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider.
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider.
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// SizeCallback reports the current size of a component.
type SizeCallback func() int64

// RegisterStateCallbacks registers the observable gauges backing the
// gateway's size metrics. Nil callbacks are skipped.
func (i *Instrumentation) RegisterStateCallbacks(storeSlots, rateWindows, blockedIPs SizeCallback) error {
	meter := i.Meter("state")

	_, err := meter.RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			if storeSlots != nil {
				observer.ObserveInt64(i.metrics.StoreSlotsCount, storeSlots())
			}
			if rateWindows != nil {
				observer.ObserveInt64(i.metrics.RateLimitActiveWindows, rateWindows())
			}
			if blockedIPs != nil {
				observer.ObserveInt64(i.metrics.BlockedIPsCount, blockedIPs())
			}
			return nil
		},
		i.metrics.StoreSlotsCount,
		i.metrics.RateLimitActiveWindows,
		i.metrics.BlockedIPsCount,
	)
	return err
}
