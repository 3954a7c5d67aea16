package config

import "time"

// Default values for configuration fields.
const (
	// Storage defaults
	DefaultStoragePath        = "data/checkpoints.db"
	DefaultStorageBusyTimeout = 5 * time.Second

	// Ledger defaults
	DefaultLedgerBackend     = "sqlite"
	DefaultLedgerPath        = "data/ledger.db"
	DefaultLedgerBusyTimeout = 5 * time.Second

	// Executor defaults
	DefaultExecutorWorkers        = 4
	DefaultExecutorBatchSize      = 16
	DefaultExecutorItemTimeout    = 2 * time.Minute
	DefaultExecutorMaxAttempts    = 3
	DefaultExecutorInitialBackoff = 500 * time.Millisecond
	DefaultExecutorMaxBackoff     = 10 * time.Second

	// Consensus defaults
	DefaultBandLow       = 0.4
	DefaultBandHigh      = 0.6
	DefaultReviewerABias = 0.15
	DefaultReviewerBBias = -0.15

	// Source defaults
	DefaultSourceManifest = "documents.yaml"

	// Judge defaults
	DefaultJudgeProvider = "heuristic"

	// Output defaults
	DefaultOutputDirectory = "output"

	// Scheduler defaults
	DefaultSchedulerSchedule = "*/5 * * * *"

	// Telemetry defaults
	DefaultLoggingLevel          = "info"
	DefaultLoggingFormat         = "text"
	DefaultMetricsEnabled        = true
	DefaultMetricsPath           = "/metrics"
	DefaultMetricsListenAddress  = "127.0.0.1:9464"
	DefaultMetricsNamespace      = "saturn"
	DefaultMetricsSubsystem      = "pipeline"
	DefaultTracingSampler        = "ratio"
	DefaultTracingSampleRatio    = 1.0
	DefaultTracingServiceName    = "saturn"
	GateKindBlocking             = "blocking"
	GateKindWarn                 = "warn"
	defaultCompletenessThreshold = 1.0
)

// DefaultItemDurationBuckets are the histogram buckets for item computations.
var DefaultItemDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60}

// DefaultGates returns the default gate set of the fixed pipeline.
func DefaultGates() []GateConfig {
	gates := []GateConfig{
		{Phase: "intake", Name: "min_items", Kind: GateKindBlocking, Threshold: 1},
	}
	for _, phase := range []string{"intake", "dedup", "screening", "eligibility", "extraction", "quality"} {
		gates = append(gates, GateConfig{Phase: phase, Name: "completeness", Kind: GateKindBlocking, Threshold: defaultCompletenessThreshold})
	}
	for _, phase := range []string{"screening", "eligibility"} {
		gates = append(gates,
			GateConfig{Phase: phase, Name: "min_reliability", Kind: GateKindWarn, Threshold: 0.6},
			GateConfig{Phase: phase, Name: "max_arbitration_rate", Kind: GateKindWarn, Threshold: 0.5},
		)
	}
	return append(gates,
		GateConfig{Phase: "quality", Name: "min_mean_quality", Kind: GateKindWarn, Threshold: 0.5},
		GateConfig{Phase: "composition", Name: "evidence_coverage", Kind: GateKindWarn, Threshold: 0},
		GateConfig{Phase: "packaging", Name: "export_integrity", Kind: GateKindBlocking, Threshold: 0},
	)
}

// MergeGates returns base with every gate of overrides applied. A gate
// replaces the base entry with the same phase and name and keeps its
// position; other gates are appended in order. Neither input is modified.
func MergeGates(base, overrides []GateConfig) []GateConfig {
	merged := append([]GateConfig(nil), base...)
	index := make(map[string]int, len(merged))
	for i, g := range merged {
		index[gateKey(g)] = i
	}
	for _, g := range overrides {
		if i, ok := index[gateKey(g)]; ok {
			merged[i] = g
			continue
		}
		index[gateKey(g)] = len(merged)
		merged = append(merged, g)
	}
	return merged
}

func gateKey(g GateConfig) string {
	return g.Phase + "/" + g.Name
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Storage defaults
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = DefaultStorageBusyTimeout
	}

	// Ledger defaults
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = DefaultLedgerBackend
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = DefaultLedgerPath
	}
	if cfg.Ledger.BusyTimeout == 0 {
		cfg.Ledger.BusyTimeout = DefaultLedgerBusyTimeout
	}

	// Executor defaults
	if cfg.Executor.Workers == 0 {
		cfg.Executor.Workers = DefaultExecutorWorkers
	}
	if cfg.Executor.BatchSize == 0 {
		cfg.Executor.BatchSize = DefaultExecutorBatchSize
	}
	if cfg.Executor.ItemTimeout == 0 {
		cfg.Executor.ItemTimeout = DefaultExecutorItemTimeout
	}
	if cfg.Executor.MaxAttempts == 0 {
		cfg.Executor.MaxAttempts = DefaultExecutorMaxAttempts
	}
	if cfg.Executor.InitialBackoff == 0 {
		cfg.Executor.InitialBackoff = DefaultExecutorInitialBackoff
	}
	if cfg.Executor.MaxBackoff == 0 {
		cfg.Executor.MaxBackoff = DefaultExecutorMaxBackoff
	}

	// Consensus defaults. A band of exactly zero width at zero is treated
	// as unset.
	if cfg.Consensus.Band.Low == 0 && cfg.Consensus.Band.High == 0 {
		cfg.Consensus.Band = BandConfig{Low: DefaultBandLow, High: DefaultBandHigh}
	}
	if cfg.Consensus.ReviewerA.Bias == 0 {
		cfg.Consensus.ReviewerA.Bias = DefaultReviewerABias
	}
	if cfg.Consensus.ReviewerB.Bias == 0 {
		cfg.Consensus.ReviewerB.Bias = DefaultReviewerBBias
	}

	cfg.Gates = MergeGates(DefaultGates(), cfg.Gates)

	if cfg.Source.Manifest == "" {
		cfg.Source.Manifest = DefaultSourceManifest
	}
	if cfg.Judge.Provider == "" {
		cfg.Judge.Provider = DefaultJudgeProvider
	}
	if cfg.Output.Directory == "" {
		cfg.Output.Directory = DefaultOutputDirectory
	}
	if cfg.Scheduler.Schedule == "" {
		cfg.Scheduler.Schedule = DefaultSchedulerSchedule
	}

	applyTelemetryDefaults(cfg)
}

func applyTelemetryDefaults(cfg *Config) {
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		// An untouched metrics section means metrics were never configured.
		cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.ListenAddress == "" {
		cfg.Telemetry.Metrics.ListenAddress = DefaultMetricsListenAddress
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(cfg.Telemetry.Metrics.ItemDurationBuckets) == 0 {
		cfg.Telemetry.Metrics.ItemDurationBuckets = append([]float64(nil), DefaultItemDurationBuckets...)
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
}

// NewDefaultConfig returns a configuration with every default applied.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
