package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "executor.workers").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// KnownGates lists the gate names the pipeline can build.
var KnownGates = map[string]bool{
	"min_items":            true,
	"completeness":         true,
	"min_reliability":      true,
	"max_arbitration_rate": true,
	"min_mean_quality":     true,
	"evidence_coverage":    true,
	"export_integrity":     true,
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateStorage(cfg)...)
	errs = append(errs, validateExecutor(&cfg.Executor)...)
	errs = append(errs, validateConsensus(&cfg.Consensus)...)
	errs = append(errs, validateGates(cfg.Gates)...)
	errs = append(errs, validateJudge(&cfg.Judge)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateStorage(cfg *Config) []FieldError {
	var errs []FieldError

	if cfg.Storage.Path == "" {
		errs = append(errs, FieldError{Field: "storage.path", Message: "checkpoint database path is required"})
	}
	if cfg.Storage.BusyTimeout < 0 {
		errs = append(errs, FieldError{Field: "storage.busy_timeout", Message: "busy timeout cannot be negative"})
	}

	switch cfg.Ledger.Backend {
	case "memory":
	case "sqlite":
		if cfg.Ledger.Path == "" {
			errs = append(errs, FieldError{Field: "ledger.path", Message: "ledger path is required for the sqlite backend"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "ledger.backend",
			Message: fmt.Sprintf("invalid ledger backend %q: must be 'sqlite' or 'memory'", cfg.Ledger.Backend),
		})
	}

	if cfg.Output.Directory == "" {
		errs = append(errs, FieldError{Field: "output.directory", Message: "output directory is required"})
	}

	return errs
}

func validateExecutor(cfg *ExecutorConfig) []FieldError {
	var errs []FieldError

	if cfg.Workers < 1 {
		errs = append(errs, FieldError{Field: "executor.workers", Message: "workers must be at least 1"})
	}
	if cfg.BatchSize < 1 {
		errs = append(errs, FieldError{Field: "executor.batch_size", Message: "batch size must be at least 1"})
	}
	if cfg.ItemTimeout <= 0 {
		errs = append(errs, FieldError{Field: "executor.item_timeout", Message: "item timeout must be positive"})
	}
	if cfg.MaxAttempts < 1 {
		errs = append(errs, FieldError{Field: "executor.max_attempts", Message: "max attempts must be at least 1"})
	}
	if cfg.InitialBackoff < 0 || cfg.MaxBackoff < 0 {
		errs = append(errs, FieldError{Field: "executor.initial_backoff", Message: "backoff durations cannot be negative"})
	}
	if cfg.MaxBackoff > 0 && cfg.InitialBackoff > cfg.MaxBackoff {
		errs = append(errs, FieldError{Field: "executor.max_backoff", Message: "max backoff must not be less than initial backoff"})
	}

	return errs
}

func validateConsensus(cfg *ConsensusConfig) []FieldError {
	var errs []FieldError

	band := cfg.Band
	if band.Low < 0 || band.High > 1 || band.Low > band.High {
		errs = append(errs, FieldError{
			Field:   "consensus.band",
			Message: fmt.Sprintf("band [%g, %g] must satisfy 0 <= low <= high <= 1", band.Low, band.High),
		})
	}

	for name, r := range map[string]ReviewerConfig{
		"consensus.reviewer_a.bias": cfg.ReviewerA,
		"consensus.reviewer_b.bias": cfg.ReviewerB,
		"consensus.arbiter.bias":    cfg.Arbiter,
	} {
		if r.Bias < -1 || r.Bias > 1 {
			errs = append(errs, FieldError{Field: name, Message: "bias must be between -1.0 and 1.0"})
		}
	}

	return errs
}

func validateGates(gates []GateConfig) []FieldError {
	var errs []FieldError

	seen := make(map[string]bool)
	export := false
	for i, g := range gates {
		field := fmt.Sprintf("gates[%d]", i)
		if g.Phase == "" {
			errs = append(errs, FieldError{Field: field + ".phase", Message: "phase is required"})
		}
		if !KnownGates[g.Name] {
			errs = append(errs, FieldError{Field: field + ".name", Message: fmt.Sprintf("unknown gate %q", g.Name)})
		}
		if g.Kind != GateKindBlocking && g.Kind != GateKindWarn {
			errs = append(errs, FieldError{
				Field:   field + ".kind",
				Message: fmt.Sprintf("invalid gate kind %q: must be 'blocking' or 'warn'", g.Kind),
			})
		}
		if math.IsNaN(g.Threshold) || math.IsInf(g.Threshold, 0) {
			errs = append(errs, FieldError{Field: field + ".threshold", Message: "threshold must be a finite number"})
		}

		switch {
		case g.Name == "export_integrity" && (g.Kind != GateKindBlocking || g.Threshold != 0):
			errs = append(errs, FieldError{Field: field, Message: "export_integrity must be blocking with threshold 0"})
		case g.Name == "completeness" && g.Kind != GateKindBlocking:
			errs = append(errs, FieldError{Field: field + ".kind", Message: "completeness gates must be blocking"})
		}

		key := gateKey(g)
		if g.Phase == "packaging" && g.Name == "export_integrity" {
			export = true
		}
		if seen[key] {
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("gate %q declared twice for phase %q", g.Name, g.Phase)})
		}
		seen[key] = true
	}
	if !export {
		errs = append(errs, FieldError{Field: "gates", Message: "packaging must declare the export_integrity gate"})
	}

	return errs
}

func validateJudge(cfg *JudgeConfig) []FieldError {
	var errs []FieldError

	if cfg.RequestsPerMinute < 0 {
		errs = append(errs, FieldError{Field: "judge.requests_per_minute", Message: "must not be negative"})
	}

	switch cfg.Provider {
	case "heuristic":
	case "openai":
		if cfg.APIKey == "" {
			errs = append(errs, FieldError{Field: "judge.api_key", Message: "api key is required for the openai provider"})
		}
		if cfg.Model == "" {
			errs = append(errs, FieldError{Field: "judge.model", Message: "model is required for LLM providers"})
		}
	case "ollama":
		if cfg.Model == "" {
			errs = append(errs, FieldError{Field: "judge.model", Message: "model is required for LLM providers"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "judge.provider",
			Message: fmt.Sprintf("invalid judge provider %q: must be 'heuristic', 'openai', or 'ollama'", cfg.Provider),
		})
	}

	return errs
}

func validateScheduler(cfg *SchedulerConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return []FieldError{{
			Field:   "scheduler.schedule",
			Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Schedule, err),
		}}
	}
	return nil
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Path == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path is required when metrics are enabled",
		})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	return errs
}
