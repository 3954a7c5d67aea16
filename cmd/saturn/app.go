package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mercator-hq/saturn/pkg/checkpoint"
	"mercator-hq/saturn/pkg/cli"
	"mercator-hq/saturn/pkg/config"
	"mercator-hq/saturn/pkg/consensus"
	"mercator-hq/saturn/pkg/driver"
	"mercator-hq/saturn/pkg/executor"
	"mercator-hq/saturn/pkg/gate"
	"mercator-hq/saturn/pkg/judge"
	"mercator-hq/saturn/pkg/ledger"
	"mercator-hq/saturn/pkg/phases"
	"mercator-hq/saturn/pkg/telemetry/logging"
	"mercator-hq/saturn/pkg/telemetry/metrics"
	"mercator-hq/saturn/pkg/telemetry/tracing"
)

// app holds the process-wide collaborators shared by every command.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   checkpoint.Store
	ledger  ledger.Ledger
	metrics *metrics.Collector
	tracer  *tracing.Tracer
}

// configPath returns the configuration file to load. A missing default file
// means built-in defaults; a missing file named with --config is an error.
func configPath() string {
	if !rootCmd.PersistentFlags().Changed("config") && !config.FileExists(cfgFile) {
		return ""
	}
	return cfgFile
}

// loadConfig initialises the process-wide configuration.
func loadConfig() (*config.Config, error) {
	if err := config.Initialize(configPath()); err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// newApp loads configuration and opens the stores.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
		File:      cfg.Telemetry.Logging.File,
	})
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	logger.SetDefault()

	a := &app{cfg: cfg, logger: logger}
	a.store, err = checkpoint.NewSQLiteStore(&checkpoint.SQLiteConfig{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeout,
		WALMode:     !cfg.Storage.DisableWAL,
	})
	if err != nil {
		a.Close(context.Background())
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	a.ledger, err = ledger.Open(cfg.Ledger)
	if err != nil {
		a.Close(context.Background())
		return nil, fmt.Errorf("failed to open evidence ledger: %w", err)
	}
	a.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	a.tracer, err = tracing.New(&cfg.Telemetry.Tracing)
	if err != nil {
		a.Close(context.Background())
		return nil, cli.NewConfigError("telemetry.tracing", err.Error())
	}

	slog.Debug("application initialised",
		"storage", cfg.Storage.Path,
		"ledger", cfg.Ledger.Backend,
		"judge", cfg.Judge.Provider,
	)
	return a, nil
}

// newDriver builds a driver whose reviewers are tuned to topic.
func (a *app) newDriver(topic string, opts ...driver.Option) (*driver.Driver, error) {
	j, err := judge.New(a.cfg.Judge, topic)
	if err != nil {
		return nil, cli.NewConfigError("judge", err.Error())
	}
	protocol := consensus.NewProtocol(a.store, j, consensus.ConfigFrom(a.cfg.Consensus), consensus.WithMetrics(a.metrics))

	registry, err := phases.NewRegistry(phases.Deps{
		Store:     a.store,
		Ledger:    a.ledger,
		Protocol:  protocol,
		Manifest:  a.cfg.Source.Manifest,
		OutputDir: a.cfg.Output.Directory,
	})
	if err != nil {
		return nil, err
	}

	exec := executor.New(a.store, executor.ConfigFrom(a.cfg.Executor),
		executor.WithMetrics(a.metrics),
		executor.WithTracer(a.tracer),
	)
	evaluator := gate.NewEvaluator(a.store, gate.WithMetrics(a.metrics))

	base := []driver.Option{
		driver.WithGates(currentGates),
		driver.WithMetrics(a.metrics),
		driver.WithTracer(a.tracer),
	}
	return driver.New(a.store, registry, exec, evaluator, append(base, opts...)...), nil
}

// driverFor builds a driver for an existing run.
func (a *app) driverFor(ctx context.Context, runID string, opts ...driver.Option) (*driver.Driver, error) {
	run, err := a.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return a.newDriver(run.Topic, opts...)
}

// currentGates reads the gate set from the live configuration, so a reload
// applies to the next gate evaluation.
func currentGates() []config.GateConfig {
	if cfg := config.GetConfig(); cfg != nil && len(cfg.Gates) > 0 {
		return cfg.Gates
	}
	return config.DefaultGates()
}

// Close releases every resource the app opened.
func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
	if a.logger != nil {
		a.logger.Close()
	}
}
