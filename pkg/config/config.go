package config

import "time"

// Config is the root configuration structure for Saturn.
// It contains every section the run driver, the phase computations and the
// telemetry stack read at startup.
type Config struct {
	// Storage configures the checkpoint store.
	Storage StorageConfig `yaml:"storage"`

	// Ledger configures the evidence ledger backend.
	Ledger LedgerConfig `yaml:"ledger"`

	// Executor configures per-phase fan-out, timeouts and retries.
	Executor ExecutorConfig `yaml:"executor"`

	// Consensus configures the two-reviewer screening protocol.
	Consensus ConsensusConfig `yaml:"consensus"`

	// Gates adjusts the quality gates attached to each phase. Entries are
	// merged onto the default gate set by phase and name; a new pair is
	// appended after the defaults.
	Gates []GateConfig `yaml:"gates"`

	// Source configures the document manifest the intake phase reads.
	Source SourceConfig `yaml:"source"`

	// Judge selects the judgment provider used by the reviewers.
	Judge JudgeConfig `yaml:"judge"`

	// Output configures where report bundles are written.
	Output OutputConfig `yaml:"output"`

	// Scheduler configures automatic resumption of interrupted runs.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Telemetry contains logging, metrics and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig configures the SQLite checkpoint store.
type StorageConfig struct {
	// Path is the database file path.
	// Default: "data/checkpoints.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait for locks held by other processes.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// DisableWAL turns off write-ahead logging.
	// Default: false
	DisableWAL bool `yaml:"disable_wal"`
}

// LedgerConfig configures the evidence ledger.
type LedgerConfig struct {
	// Backend selects the storage backend.
	// Options: "sqlite", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// Path is the SQLite database file path.
	// Default: "data/ledger.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait for locks.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// ExecutorConfig configures item dispatch for item-granular phases.
type ExecutorConfig struct {
	// Workers bounds the number of concurrent item computations.
	// Default: 4
	Workers int `yaml:"workers"`

	// BatchSize is the number of items dispatched between cancellation checks.
	// Default: 16
	BatchSize int `yaml:"batch_size"`

	// ItemTimeout bounds a single computation attempt.
	// Default: 2m
	ItemTimeout time.Duration `yaml:"item_timeout"`

	// MaxAttempts is the total number of attempts per item, first call included.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the delay before the first retry.
	// Default: 500ms
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the delay between retries.
	// Default: 10s
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// ConsensusConfig configures the reviewers and the escalation band.
type ConsensusConfig struct {
	// Band is the closed confidence interval in which two agreeing
	// judgments are still escalated to the arbiter.
	Band BandConfig `yaml:"band"`

	// ReviewerA is the inclusion-leaning reviewer.
	ReviewerA ReviewerConfig `yaml:"reviewer_a"`

	// ReviewerB is the exclusion-leaning reviewer.
	ReviewerB ReviewerConfig `yaml:"reviewer_b"`

	// Arbiter is the higher-authority reviewer.
	Arbiter ReviewerConfig `yaml:"arbiter"`
}

// BandConfig is a closed confidence interval.
type BandConfig struct {
	// Default: 0.4
	Low float64 `yaml:"low"`
	// Default: 0.6
	High float64 `yaml:"high"`
}

// ReviewerConfig describes one reviewer role.
type ReviewerConfig struct {
	// Bias shifts the reviewer toward inclusion (positive) or exclusion
	// (negative). Range: -1.0 to 1.0.
	Bias float64 `yaml:"bias"`

	// Instructions are appended to the reviewer prompt.
	Instructions string `yaml:"instructions"`
}

// GateConfig attaches one gate to one phase.
type GateConfig struct {
	// Phase is the phase the gate guards.
	Phase string `yaml:"phase"`

	// Name selects the gate predicate, e.g. "completeness" or "min_reliability".
	Name string `yaml:"name"`

	// Kind is "blocking" or "warn".
	Kind string `yaml:"kind"`

	// Threshold is compared against the observed value.
	Threshold float64 `yaml:"threshold"`
}

// SourceConfig configures the document manifest.
type SourceConfig struct {
	// Manifest is the path to a YAML or JSON document manifest.
	// Default: "documents.yaml"
	Manifest string `yaml:"manifest"`
}

// JudgeConfig selects the judgment provider.
type JudgeConfig struct {
	// Provider selects the implementation.
	// Options: "heuristic", "openai", "ollama"
	// Default: "heuristic"
	Provider string `yaml:"provider"`

	// Model is the model name for LLM providers.
	Model string `yaml:"model"`

	// APIKey is the API key for hosted providers.
	APIKey string `yaml:"api_key"`

	// ServerURL overrides the provider endpoint.
	ServerURL string `yaml:"server_url"`

	// RequestsPerMinute caps LLM calls. Zero means unlimited.
	// Default: 0
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Keywords are the inclusion keywords used by the heuristic judge.
	Keywords []string `yaml:"keywords"`
}

// OutputConfig configures bundle output.
type OutputConfig struct {
	// Directory receives one sub-directory per run.
	// Default: "output"
	Directory string `yaml:"directory"`
}

// SchedulerConfig configures the auto-resume job of "saturn serve".
type SchedulerConfig struct {
	// Enabled turns the job on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Schedule is a standard five-field cron expression.
	// Default: "*/5 * * * *"
	Schedule string `yaml:"schedule"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus collector.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configures OpenTelemetry tracing.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "text"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// File is an optional log file. When set, records go to both stderr
	// and the file.
	File string `yaml:"file"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// ListenAddress is where "saturn serve" exposes metrics.
	// Default: "127.0.0.1:9464"
	ListenAddress string `yaml:"listen_address"`

	// Namespace is the metric name prefix.
	// Default: "saturn"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "pipeline"
	Subsystem string `yaml:"subsystem"`

	// ItemDurationBuckets defines histogram buckets for item computations (seconds).
	// Default: [0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60]
	ItemDurationBuckets []float64 `yaml:"item_duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP/gRPC collector endpoint, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "saturn"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS for the collector connection.
	// Default: false
	Insecure bool `yaml:"insecure"`
}
