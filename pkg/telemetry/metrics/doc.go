// Package metrics exposes Prometheus metrics for pipeline runs.
//
// All metrics live on a private registry owned by a Collector and are served
// by Collector.Handler. Metric names use the configured namespace and
// subsystem, "saturn_pipeline" by default:
//
//   - items_total{phase,status}
//   - item_duration_seconds{phase}
//   - item_retries_total{phase}
//   - items_skipped_total{phase}
//   - gate_evaluations_total{phase,gate,status}
//   - phase_transitions_total{phase,state}
//   - runs_active
//   - run_executions_total{status}
//   - consensus_outcomes_total{phase,outcome}
//   - reliability{phase}
package metrics
