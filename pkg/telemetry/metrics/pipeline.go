package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/saturn/pkg/config"
)

// ItemMetrics tracks item computations.
//
// Metrics:
//   - saturn_pipeline_items_total: items by phase and status
//   - saturn_pipeline_item_duration_seconds: computation time per item
//   - saturn_pipeline_item_retries_total: transient failures retried
//   - saturn_pipeline_items_skipped_total: items already processed on resume
type ItemMetrics struct {
	itemsTotal   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	retriesTotal *prometheus.CounterVec
	skippedTotal *prometheus.CounterVec
}

// NewItemMetrics creates and registers item metrics with the provided registry.
func NewItemMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ItemMetrics {
	m := &ItemMetrics{
		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "items_total",
				Help:      "Total number of item computations by outcome",
			},
			[]string{"phase", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "item_duration_seconds",
				Help:      "Duration of item computations in seconds, retries included",
				Buckets:   cfg.ItemDurationBuckets,
			},
			[]string{"phase"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "item_retries_total",
				Help:      "Total number of retried item computations",
			},
			[]string{"phase"},
		),
		skippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "items_skipped_total",
				Help:      "Total number of items skipped because they were already checkpointed",
			},
			[]string{"phase"},
		),
	}

	registry.MustRegister(m.itemsTotal, m.duration, m.retriesTotal, m.skippedTotal)
	return m
}

// RecordItem records an item outcome and its duration.
func (m *ItemMetrics) RecordItem(phase, status string, duration time.Duration) {
	m.itemsTotal.WithLabelValues(phase, status).Inc()
	m.duration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordRetry records one retry.
func (m *ItemMetrics) RecordRetry(phase string) {
	m.retriesTotal.WithLabelValues(phase).Inc()
}

// RecordSkipped records n skipped items.
func (m *ItemMetrics) RecordSkipped(phase string, n int) {
	m.skippedTotal.WithLabelValues(phase).Add(float64(n))
}

// GateMetrics tracks gate evaluations.
type GateMetrics struct {
	evaluationsTotal *prometheus.CounterVec
}

// NewGateMetrics creates and registers gate metrics with the provided registry.
func NewGateMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *GateMetrics {
	m := &GateMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "gate_evaluations_total",
				Help:      "Total number of gate evaluations by verdict",
			},
			[]string{"phase", "gate", "status"},
		),
	}
	registry.MustRegister(m.evaluationsTotal)
	return m
}

// RecordEvaluation records one verdict.
func (m *GateMetrics) RecordEvaluation(phase, gate, status string) {
	m.evaluationsTotal.WithLabelValues(phase, gate, status).Inc()
}

// RunMetrics tracks runs and phase state changes.
type RunMetrics struct {
	transitionsTotal *prometheus.CounterVec
	active           prometheus.Gauge
	finished         *prometheus.CounterVec
}

// NewRunMetrics creates and registers run metrics with the provided registry.
func NewRunMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RunMetrics {
	m := &RunMetrics{
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "phase_transitions_total",
				Help:      "Total number of phase state transitions",
			},
			[]string{"phase", "state"},
		),
		active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "runs_active",
				Help:      "Number of runs executing in this process",
			},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "run_executions_total",
				Help:      "Total number of run executions by the status they stopped in",
			},
			[]string{"status"},
		),
	}
	registry.MustRegister(m.transitionsTotal, m.active, m.finished)
	return m
}

// RecordTransition records a phase entering state.
func (m *RunMetrics) RecordTransition(phase, state string) {
	m.transitionsTotal.WithLabelValues(phase, state).Inc()
}

// ConsensusMetrics tracks the screening protocol.
type ConsensusMetrics struct {
	outcomesTotal *prometheus.CounterVec
	reliability   *prometheus.GaugeVec
}

// NewConsensusMetrics creates and registers consensus metrics with the provided registry.
func NewConsensusMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ConsensusMetrics {
	m := &ConsensusMetrics{
		outcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "consensus_outcomes_total",
				Help:      "Total number of consensus outcomes",
			},
			[]string{"phase", "outcome"},
		),
		reliability: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "reliability",
				Help:      "Cohen's kappa between the two reviewers of the last evaluated phase",
			},
			[]string{"phase"},
		),
	}
	registry.MustRegister(m.outcomesTotal, m.reliability)
	return m
}

// RecordOutcome records one consensus outcome.
func (m *ConsensusMetrics) RecordOutcome(phase, outcome string) {
	m.outcomesTotal.WithLabelValues(phase, outcome).Inc()
}
