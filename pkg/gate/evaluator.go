package gate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"mercator-hq/saturn/pkg/pipeline"
	"mercator-hq/saturn/pkg/telemetry/metrics"
)

// Log is the append-only audit trail verdicts are written to.
// checkpoint.Store satisfies it.
type Log interface {
	AppendGateResult(ctx context.Context, result *pipeline.GateResult) error
}

// Decision is the aggregated outcome of a phase's gates.
type Decision struct {
	Status   pipeline.GateStatus
	Verdicts []*pipeline.GateResult
	Failures []pipeline.GateFailure
}

// Err returns a *pipeline.GateError if a blocking gate failed.
func (d *Decision) Err(runID, phase string) error {
	if d.Status != pipeline.GateFail {
		return nil
	}
	return &pipeline.GateError{RunID: runID, Phase: phase, Failures: d.Failures}
}

// Evaluator runs gates and records their verdicts.
type Evaluator struct {
	log     Log
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMetrics records one gate_evaluations_total sample per verdict.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Evaluator) { e.metrics = c }
}

// WithLogger sets the evaluator logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// NewEvaluator creates an evaluator that persists verdicts to log.
func NewEvaluator(log Log, opts ...Option) *Evaluator {
	e := &Evaluator{
		log:    log,
		logger: slog.Default().With("component", "gate.evaluator"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs gates in order against snap. Every verdict is appended to
// the audit trail before Evaluate returns. A predicate error produces a
// failing verdict with a NaN observation; only a persistence failure is
// returned as an error.
func (e *Evaluator) Evaluate(ctx context.Context, snap *Snapshot, gates []Gate) (*Decision, error) {
	decision := &Decision{Status: pipeline.GatePass}

	for _, g := range gates {
		m, err := g.Predicate.Measure(ctx, snap)
		if err != nil {
			m = Measurement{Threshold: m.Threshold, Observed: math.NaN(), Message: fmt.Sprintf("predicate error: %v", err)}
		}

		status := pipeline.GatePass
		if !m.Pass {
			status = pipeline.GateWarn
			if g.Blocking {
				status = pipeline.GateFail
			}
		}

		verdict := &pipeline.GateResult{
			RunID:       snap.RunID,
			Phase:       snap.Phase,
			Gate:        g.Name,
			Status:      status,
			Blocking:    g.Blocking,
			Threshold:   m.Threshold,
			Observed:    m.Observed,
			Message:     m.Message,
			EvaluatedAt: e.now(),
		}
		if err := e.log.AppendGateResult(ctx, verdict); err != nil {
			return nil, fmt.Errorf("failed to record gate %s: %w", g.Name, err)
		}
		decision.Verdicts = append(decision.Verdicts, verdict)
		e.metrics.RecordGateEvaluation(snap.Phase, g.Name, string(status))

		switch status {
		case pipeline.GateFail:
			decision.Status = pipeline.GateFail
			decision.Failures = append(decision.Failures, pipeline.GateFailure{
				Gate:      g.Name,
				Threshold: m.Threshold,
				Observed:  m.Observed,
				Message:   m.Message,
			})
			e.logger.WarnContext(ctx, "blocking gate failed",
				"gate", g.Name, "threshold", m.Threshold, "observed", m.Observed, "message", m.Message)
		case pipeline.GateWarn:
			if decision.Status == pipeline.GatePass {
				decision.Status = pipeline.GateWarn
			}
			e.logger.WarnContext(ctx, "gate warning",
				"gate", g.Name, "threshold", m.Threshold, "observed", m.Observed, "message", m.Message)
		}
	}

	return decision, nil
}
