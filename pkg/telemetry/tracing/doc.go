// Package tracing provides OpenTelemetry tracing for pipeline runs.
//
// One span is opened per phase execution and one per item computation, so a
// trace shows where a run spent its time and which items needed retries.
// Spans are exported over OTLP/gRPC when tracing is enabled. When it is
// disabled, or when the *Tracer is nil, every helper falls back to a noop
// tracer.
//
// # Sampling Strategies
//
// Three sampling strategies are supported:
//   - always: Sample all traces
//   - never: Sample no traces
//   - ratio: Sample a fraction of traces by trace id
//
// All samplers are wrapped in ParentBased.
//
// # Usage
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.StartPhase(ctx, run.ID, "screening")
//	err = runPhase(ctx)
//	tracing.End(span, err)
package tracing
