package gate

import (
	"context"
	"fmt"
	"math"
)

// Metric names published into a Snapshot by phase observers.
const (
	MetricKappa            = "kappa"
	MetricArbitrationRate  = "arbitration_rate"
	MetricMeanQuality      = "mean_quality"
	MetricUnresolvedClaims = "unresolved_claims"
)

// Snapshot is the state of a phase at gate-evaluation time.
type Snapshot struct {
	RunID string
	Phase string

	// Required is the size of the declared input set. Zero for whole phases.
	Required int

	// Processed is the number of items with a primary record.
	Processed int

	// Errored lists items whose computation failed in this execution.
	Errored []string

	// Metrics holds phase-specific observations such as kappa.
	Metrics map[string]float64
}

// SetMetric records a phase observation.
func (s *Snapshot) SetMetric(name string, value float64) {
	if s.Metrics == nil {
		s.Metrics = make(map[string]float64)
	}
	s.Metrics[name] = value
}

// Metric returns the named observation, or NaN if it was never recorded.
func (s *Snapshot) Metric(name string) float64 {
	v, ok := s.Metrics[name]
	if !ok {
		return math.NaN()
	}
	return v
}

// Measurement is the outcome of one predicate.
type Measurement struct {
	Pass      bool
	Threshold float64
	Observed  float64
	Message   string
}

// Predicate measures a snapshot against a threshold.
type Predicate interface {
	Measure(ctx context.Context, snap *Snapshot) (Measurement, error)
}

// PredicateFunc adapts a function to the Predicate interface.
type PredicateFunc func(ctx context.Context, snap *Snapshot) (Measurement, error)

// Measure calls f(ctx, snap).
func (f PredicateFunc) Measure(ctx context.Context, snap *Snapshot) (Measurement, error) {
	return f(ctx, snap)
}

// Gate is a named predicate attached to a phase.
type Gate struct {
	Name      string
	Blocking  bool
	Predicate Predicate
}

// atLeast passes when observed >= threshold. NaN never passes.
func atLeast(name string, threshold, observed float64) Measurement {
	m := Measurement{Threshold: threshold, Observed: observed, Pass: observed >= threshold}
	if !m.Pass {
		m.Message = fmt.Sprintf("%s %g below minimum %g", name, observed, threshold)
	}
	return m
}

// atMost passes when observed <= threshold. NaN never passes.
func atMost(name string, threshold, observed float64) Measurement {
	m := Measurement{Threshold: threshold, Observed: observed, Pass: observed <= threshold}
	if !m.Pass {
		m.Message = fmt.Sprintf("%s %g above maximum %g", name, observed, threshold)
	}
	return m
}

// MinItems requires at least threshold processed items.
func MinItems(threshold float64) Predicate {
	return PredicateFunc(func(_ context.Context, snap *Snapshot) (Measurement, error) {
		return atLeast("processed items", threshold, float64(snap.Processed)), nil
	})
}

// Completeness requires processed/required >= threshold. An empty required
// set is complete.
func Completeness(threshold float64) Predicate {
	return PredicateFunc(func(_ context.Context, snap *Snapshot) (Measurement, error) {
		observed := 1.0
		if snap.Required > 0 {
			observed = float64(snap.Processed) / float64(snap.Required)
		}
		m := atLeast("completeness", threshold, observed)
		if !m.Pass && len(snap.Errored) > 0 {
			m.Message = fmt.Sprintf("%s (%d errored)", m.Message, len(snap.Errored))
		}
		return m, nil
	})
}

// MinMetric requires the named snapshot metric to be at least threshold.
func MinMetric(metric string, threshold float64) Predicate {
	return PredicateFunc(func(_ context.Context, snap *Snapshot) (Measurement, error) {
		return atLeast(metric, threshold, snap.Metric(metric)), nil
	})
}

// MaxMetric requires the named snapshot metric to be at most threshold.
func MaxMetric(metric string, threshold float64) Predicate {
	return PredicateFunc(func(_ context.Context, snap *Snapshot) (Measurement, error) {
		return atMost(metric, threshold, snap.Metric(metric)), nil
	})
}
