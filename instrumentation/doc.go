// Package instrumentation provides OpenTelemetry metrics and tracing for
// the trustgate library.
//
// Instrumentation is optional and zero-overhead when disabled: with
// Enabled false, no-op providers are installed and every instrument call
// compiles down to an interface call that does nothing. Embedders that
// want real telemetry can supply their own resource attributes and read
// the providers back to wire exporters.
//
// Usage:
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-app",
//		ServiceVersion: "1.4.2",
//		Enabled:        true,
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(context.Background())
//
//	inst.Metrics().GuardRequestsTotal.Add(ctx, 1)
//
// Never attach secret material (identity proofs, anti-forgery tokens,
// derived keys) to spans or metric attributes. Attribute helpers in this
// package only accept metadata: hashed subject identifiers, truncated
// session identifiers, outcome labels.
package instrumentation
