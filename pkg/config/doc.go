// Package config provides configuration management for Saturn.
//
// Configuration is loaded from a YAML file, completed with defaults,
// overridden from the environment and validated as a whole:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("saturn.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention SATURN_SECTION_FIELD:
//
//   - SATURN_EXECUTOR_WORKERS overrides executor.workers
//   - SATURN_JUDGE_API_KEY overrides judge.api_key
//   - SATURN_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Gates
//
// Gate thresholds are policy, not mechanism. Each entry of the gates list
// attaches a named predicate to a phase with a kind (blocking or warn) and a
// threshold. When the list is empty DefaultGates is used.
//
// # Run Identity
//
// Hash fingerprints the run-relevant sections. It is stored on every run so
// operators can tell whether a resumed run is still using the configuration
// it was started with.
//
// # Hot Reload
//
// Watcher reloads the singleton when the file changes, which lets an operator
// adjust a gate threshold while a run is paused on that gate and then resume.
package config
