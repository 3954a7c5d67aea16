// Package telemetry groups the observability packages of Saturn.
//
//   - logging: structured logging with run, phase and item context
//   - metrics: Prometheus metrics for items, gates, consensus and runs
//   - tracing: OpenTelemetry spans per phase and per item
//   - health: liveness and readiness endpoints of "saturn serve"
package telemetry
