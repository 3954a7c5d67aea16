package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides named SATURN_SECTION_FIELD (for example
// SATURN_EXECUTOR_WORKERS). Environment variables always take precedence over
// the file.
//
// A missing file is not an error when path is empty: defaults plus
// environment overrides are used instead.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = NewDefaultConfig()
	} else {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// FileExists reports whether a configuration file is present at path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Storage overrides
	envString("SATURN_STORAGE_PATH", &cfg.Storage.Path)
	envDuration("SATURN_STORAGE_BUSY_TIMEOUT", &cfg.Storage.BusyTimeout)
	envBool("SATURN_STORAGE_DISABLE_WAL", &cfg.Storage.DisableWAL)

	// Ledger overrides
	envString("SATURN_LEDGER_BACKEND", &cfg.Ledger.Backend)
	envString("SATURN_LEDGER_PATH", &cfg.Ledger.Path)

	// Executor overrides
	envInt("SATURN_EXECUTOR_WORKERS", &cfg.Executor.Workers)
	envInt("SATURN_EXECUTOR_BATCH_SIZE", &cfg.Executor.BatchSize)
	envDuration("SATURN_EXECUTOR_ITEM_TIMEOUT", &cfg.Executor.ItemTimeout)
	envInt("SATURN_EXECUTOR_MAX_ATTEMPTS", &cfg.Executor.MaxAttempts)
	envDuration("SATURN_EXECUTOR_INITIAL_BACKOFF", &cfg.Executor.InitialBackoff)
	envDuration("SATURN_EXECUTOR_MAX_BACKOFF", &cfg.Executor.MaxBackoff)

	// Consensus overrides
	envFloat("SATURN_CONSENSUS_BAND_LOW", &cfg.Consensus.Band.Low)
	envFloat("SATURN_CONSENSUS_BAND_HIGH", &cfg.Consensus.Band.High)

	// Source, judge and output overrides
	envString("SATURN_SOURCE_MANIFEST", &cfg.Source.Manifest)
	envString("SATURN_JUDGE_PROVIDER", &cfg.Judge.Provider)
	envString("SATURN_JUDGE_MODEL", &cfg.Judge.Model)
	envString("SATURN_JUDGE_API_KEY", &cfg.Judge.APIKey)
	envString("SATURN_JUDGE_SERVER_URL", &cfg.Judge.ServerURL)
	envInt("SATURN_JUDGE_REQUESTS_PER_MINUTE", &cfg.Judge.RequestsPerMinute)
	envString("SATURN_OUTPUT_DIRECTORY", &cfg.Output.Directory)

	// Scheduler overrides
	envBool("SATURN_SCHEDULER_ENABLED", &cfg.Scheduler.Enabled)
	envString("SATURN_SCHEDULER_SCHEDULE", &cfg.Scheduler.Schedule)

	// Telemetry overrides
	envString("SATURN_TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("SATURN_TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envString("SATURN_TELEMETRY_LOGGING_FILE", &cfg.Telemetry.Logging.File)
	envBool("SATURN_TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("SATURN_TELEMETRY_METRICS_LISTEN_ADDRESS", &cfg.Telemetry.Metrics.ListenAddress)
	envBool("SATURN_TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("SATURN_TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
}
