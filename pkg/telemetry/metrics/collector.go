package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/saturn/pkg/config"
)

// Collector owns every Saturn metric. A nil *Collector, or one built from a
// disabled config, accepts all calls and records nothing, so components can
// hold one unconditionally.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	itemMetrics      *ItemMetrics
	gateMetrics      *GateMetrics
	runMetrics       *RunMetrics
	consensusMetrics *ConsensusMetrics
}

// NewCollector creates a collector registered on registry. If registry is
// nil a private registry is created.
//
// Example:
//
//	cfg := &config.MetricsConfig{Enabled: true, Namespace: "saturn", Subsystem: "pipeline"}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.ItemDurationBuckets) == 0 {
		cfg.ItemDurationBuckets = append([]float64(nil), config.DefaultItemDurationBuckets...)
	}

	return &Collector{
		config:           cfg,
		registry:         registry,
		itemMetrics:      NewItemMetrics(cfg, registry),
		gateMetrics:      NewGateMetrics(cfg, registry),
		runMetrics:       NewRunMetrics(cfg, registry),
		consensusMetrics: NewConsensusMetrics(cfg, registry),
	}
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// Registry returns the Prometheus registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordItem records the outcome of one item computation.
//
// Parameters:
//   - phase: phase name
//   - status: "processed" or "errored"
//   - duration: total time across attempts
func (c *Collector) RecordItem(phase, status string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.itemMetrics.RecordItem(phase, status, duration)
}

// RecordItemRetry records one retry of a transient item failure.
func (c *Collector) RecordItemRetry(phase string) {
	if !c.enabled() {
		return
	}
	c.itemMetrics.RecordRetry(phase)
}

// RecordItemsSkipped records items skipped because they were already processed.
func (c *Collector) RecordItemsSkipped(phase string, n int) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.itemMetrics.RecordSkipped(phase, n)
}

// RecordGateEvaluation records one gate verdict.
func (c *Collector) RecordGateEvaluation(phase, gate, status string) {
	if !c.enabled() {
		return
	}
	c.gateMetrics.RecordEvaluation(phase, gate, status)
}

// RecordPhaseTransition records a phase entering state.
func (c *Collector) RecordPhaseTransition(phase, state string) {
	if !c.enabled() {
		return
	}
	c.runMetrics.RecordTransition(phase, state)
}

// RunStarted increments the active-run gauge.
func (c *Collector) RunStarted() {
	if !c.enabled() {
		return
	}
	c.runMetrics.active.Inc()
}

// RunStopped decrements the active-run gauge and counts the final status.
func (c *Collector) RunStopped(status string) {
	if !c.enabled() {
		return
	}
	c.runMetrics.active.Dec()
	c.runMetrics.finished.WithLabelValues(status).Inc()
}

// RecordConsensusOutcome records one consensus outcome:
// "agreed", "arbitrated_disagreement" or "arbitrated_ambiguous".
func (c *Collector) RecordConsensusOutcome(phase, outcome string) {
	if !c.enabled() {
		return
	}
	c.consensusMetrics.RecordOutcome(phase, outcome)
}

// SetReliability publishes the inter-rater reliability of a phase. Undefined
// reliability is not published.
func (c *Collector) SetReliability(phase string, kappa float64, defined bool) {
	if !c.enabled() || !defined {
		return
	}
	c.consensusMetrics.reliability.WithLabelValues(phase).Set(kappa)
}
