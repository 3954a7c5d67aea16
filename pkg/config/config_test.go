package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "saturn.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// TestApplyDefaults tests that an empty config is completed and valid.
func TestApplyDefaults(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Executor.Workers != DefaultExecutorWorkers {
		t.Errorf("Workers = %d, want %d", cfg.Executor.Workers, DefaultExecutorWorkers)
	}
	if cfg.Consensus.Band.Low != DefaultBandLow || cfg.Consensus.Band.High != DefaultBandHigh {
		t.Errorf("Band = %+v", cfg.Consensus.Band)
	}
	if len(cfg.Gates) != len(DefaultGates()) {
		t.Errorf("expected default gates, got %d", len(cfg.Gates))
	}
	if !cfg.Telemetry.Metrics.Enabled {
		t.Errorf("metrics should be enabled by default")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("default config should validate: %v", err)
	}

	// Idempotent
	before := cfg.Executor
	ApplyDefaults(cfg)
	if cfg.Executor != before {
		t.Errorf("ApplyDefaults is not idempotent")
	}
}

// TestDefaultGates tests that the export gate is blocking and that every item phase checks completeness.
func TestDefaultGates(t *testing.T) {
	byPhase := make(map[string]map[string]GateConfig)
	for _, g := range DefaultGates() {
		if byPhase[g.Phase] == nil {
			byPhase[g.Phase] = make(map[string]GateConfig)
		}
		byPhase[g.Phase][g.Name] = g
	}

	export, ok := byPhase["packaging"]["export_integrity"]
	if !ok || export.Kind != GateKindBlocking || export.Threshold != 0 {
		t.Errorf("export_integrity gate = %+v, want blocking with threshold 0", export)
	}
	for _, phase := range []string{"intake", "dedup", "screening", "eligibility", "extraction", "quality"} {
		if _, ok := byPhase[phase]["completeness"]; !ok {
			t.Errorf("phase %s has no completeness gate", phase)
		}
	}
	if byPhase["screening"]["min_reliability"].Kind != GateKindWarn {
		t.Errorf("min_reliability should warn by default")
	}
}

// TestValidate_CollectsAllErrors tests that every invalid field is reported.
func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Executor.Workers = 0
	cfg.Consensus.Band = BandConfig{Low: 0.8, High: 0.2}
	cfg.Gates = append(cfg.Gates, GateConfig{Phase: "screening", Name: "bogus", Kind: "maybe"})
	cfg.Judge.Provider = "openai"
	cfg.Judge.RequestsPerMinute = -1
	cfg.Telemetry.Logging.Level = "loud"

	err := Validate(cfg)
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	fields := make(map[string]bool)
	for _, fe := range ve.Errors {
		fields[fe.Field] = true
	}
	for _, want := range []string{
		"executor.workers",
		"consensus.band",
		"judge.api_key",
		"judge.model",
		"judge.requests_per_minute",
		"telemetry.logging.level",
	} {
		if !fields[want] {
			t.Errorf("missing field error for %s in %v", want, ve.Errors)
		}
	}

	last := len(cfg.Gates) - 1
	if !strings.Contains(err.Error(), "unknown gate \"bogus\"") || !fields[fmt.Sprintf("gates[%d].kind", last)] {
		t.Errorf("gate errors not reported: %v", err)
	}
}

// TestValidate_DuplicateGate tests that a gate cannot be declared twice for a phase.
func TestValidate_DuplicateGate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Gates = []GateConfig{
		{Phase: "intake", Name: "min_items", Kind: GateKindBlocking, Threshold: 1},
		{Phase: "intake", Name: "min_items", Kind: GateKindWarn, Threshold: 5},
	}
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "declared twice") {
		t.Errorf("expected duplicate gate error, got %v", err)
	}
}

// TestValidate_Scheduler tests cron expression validation.
func TestValidate_Scheduler(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.Schedule = "every now and then"
	if err := Validate(cfg); err == nil {
		t.Errorf("expected invalid cron expression to fail validation")
	}

	cfg.Scheduler.Schedule = "*/10 * * * *"
	if err := Validate(cfg); err != nil {
		t.Errorf("valid schedule rejected: %v", err)
	}
}

// TestLoadConfig tests loading a YAML file with partial settings.
func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
executor:
  workers: 8
  batch_size: 10
consensus:
  band:
    low: 0.3
    high: 0.7
gates:
  - phase: quality
    name: min_mean_quality
    kind: blocking
    threshold: 0.7
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Executor.Workers != 8 || cfg.Executor.BatchSize != 10 {
		t.Errorf("executor = %+v", cfg.Executor)
	}
	if cfg.Executor.MaxAttempts != DefaultExecutorMaxAttempts {
		t.Errorf("MaxAttempts default not applied: %d", cfg.Executor.MaxAttempts)
	}
	if cfg.Consensus.Band.Low != 0.3 || cfg.Consensus.Band.High != 0.7 {
		t.Errorf("band = %+v", cfg.Consensus.Band)
	}
	if len(cfg.Gates) != len(DefaultGates()) {
		t.Errorf("gate override must merge onto defaults, got %d gates", len(cfg.Gates))
	}
}

// TestMergeGates tests that overrides replace by phase and name and that
// new gates are appended.
func TestMergeGates(t *testing.T) {
	base := []GateConfig{
		{Phase: "intake", Name: "min_items", Kind: GateKindBlocking, Threshold: 1},
		{Phase: "packaging", Name: "export_integrity", Kind: GateKindBlocking},
	}
	merged := MergeGates(base, []GateConfig{
		{Phase: "intake", Name: "min_items", Kind: GateKindWarn, Threshold: 5},
		{Phase: "quality", Name: "min_mean_quality", Kind: GateKindWarn, Threshold: 0.5},
	})

	want := []GateConfig{
		{Phase: "intake", Name: "min_items", Kind: GateKindWarn, Threshold: 5},
		{Phase: "packaging", Name: "export_integrity", Kind: GateKindBlocking},
		{Phase: "quality", Name: "min_mean_quality", Kind: GateKindWarn, Threshold: 0.5},
	}
	if len(merged) != len(want) {
		t.Fatalf("merged = %+v", merged)
	}
	for i := range want {
		if merged[i] != want[i] {
			t.Errorf("merged[%d] = %+v, want %+v", i, merged[i], want[i])
		}
	}
	if base[0].Threshold != 1 {
		t.Errorf("base was modified: %+v", base[0])
	}

	cfg := &Config{Gates: merged}
	ApplyDefaults(cfg)
	again := append([]GateConfig(nil), cfg.Gates...)
	ApplyDefaults(cfg)
	if len(again) != len(cfg.Gates) {
		t.Errorf("ApplyDefaults is not idempotent: %d then %d gates", len(again), len(cfg.Gates))
	}
}

// TestValidate_ExportGate tests that the export gate cannot be removed or relaxed.
func TestValidate_ExportGate(t *testing.T) {
	tests := []struct {
		name  string
		gates []GateConfig
	}{
		{"missing", []GateConfig{{Phase: "intake", Name: "min_items", Kind: GateKindBlocking, Threshold: 1}}},
		{"warn", []GateConfig{{Phase: "packaging", Name: "export_integrity", Kind: GateKindWarn}}},
		{"threshold", []GateConfig{{Phase: "packaging", Name: "export_integrity", Kind: GateKindBlocking, Threshold: 1}}},
		{"completeness warn", []GateConfig{
			{Phase: "packaging", Name: "export_integrity", Kind: GateKindBlocking},
			{Phase: "dedup", Name: "completeness", Kind: GateKindWarn, Threshold: 1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Gates = tt.gates
			if err := Validate(cfg); err == nil {
				t.Errorf("Validate() accepted %+v", tt.gates)
			}
		})
	}

	cfg := NewDefaultConfig()
	cfg.Gates = []GateConfig{{Phase: "packaging", Name: "export_integrity", Kind: GateKindBlocking}}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate() rejected a minimal gate set: %v", err)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected error for missing file")
	}

	path := writeConfig(t, "executor: [unclosed")
	if _, err := LoadConfig(path); err == nil {
		t.Errorf("expected parse error")
	}
}

// TestLoadConfigWithEnvOverrides tests that SATURN_ variables take precedence.
func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, "executor:\n  workers: 2\n")
	t.Setenv("SATURN_EXECUTOR_WORKERS", "12")
	t.Setenv("SATURN_EXECUTOR_ITEM_TIMEOUT", "45s")
	t.Setenv("SATURN_CONSENSUS_BAND_HIGH", "0.65")
	t.Setenv("SATURN_SCHEDULER_ENABLED", "true")
	t.Setenv("SATURN_EXECUTOR_BATCH_SIZE", "not-a-number")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides failed: %v", err)
	}
	if cfg.Executor.Workers != 12 {
		t.Errorf("Workers = %d, want 12", cfg.Executor.Workers)
	}
	if cfg.Executor.ItemTimeout != 45*time.Second {
		t.Errorf("ItemTimeout = %v", cfg.Executor.ItemTimeout)
	}
	if cfg.Consensus.Band.High != 0.65 {
		t.Errorf("Band.High = %v", cfg.Consensus.Band.High)
	}
	if !cfg.Scheduler.Enabled {
		t.Errorf("scheduler override not applied")
	}
	if cfg.Executor.BatchSize != DefaultExecutorBatchSize {
		t.Errorf("unparseable override should be ignored, got %d", cfg.Executor.BatchSize)
	}
}

func TestLoadConfigWithEnvOverrides_NoFile(t *testing.T) {
	t.Setenv("SATURN_STORAGE_PATH", "/tmp/other.db")
	cfg, err := LoadConfigWithEnvOverrides("")
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides failed: %v", err)
	}
	if cfg.Storage.Path != "/tmp/other.db" {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
}

// TestHash tests that the hash tracks run-relevant fields only.
func TestHash(t *testing.T) {
	base := NewDefaultConfig()
	h1, err := Hash(base)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	tuned := NewDefaultConfig()
	tuned.Executor.Workers = 32
	tuned.Judge.APIKey = "sk-secret"
	tuned.Telemetry.Logging.Level = "debug"
	h2, _ := Hash(tuned)
	if h1 != h2 {
		t.Errorf("executor, secrets and telemetry must not change the hash")
	}

	changed := NewDefaultConfig()
	changed.Consensus.Band.High = 0.9
	h3, _ := Hash(changed)
	if h1 == h3 {
		t.Errorf("band change must change the hash")
	}
}

// TestSingleton tests SetConfig/GetConfig/ReloadConfig.
func TestSingleton(t *testing.T) {
	original := GetConfig()
	t.Cleanup(func() { SetConfig(original) })

	cfg := NewDefaultConfig()
	SetConfig(cfg)
	if GetConfig() != cfg {
		t.Errorf("GetConfig did not return the injected config")
	}

	path := writeConfig(t, "executor:\n  workers: 7\n")
	if err := ReloadConfig(path); err != nil {
		t.Fatalf("ReloadConfig failed: %v", err)
	}
	if MustGetConfig().Executor.Workers != 7 {
		t.Errorf("reload not applied")
	}

	bad := writeConfig(t, "executor:\n  workers: -1\n")
	if err := ReloadConfig(bad); err == nil {
		t.Errorf("expected invalid reload to fail")
	}
	if GetConfig().Executor.Workers != 7 {
		t.Errorf("failed reload must keep the previous configuration")
	}
}

// TestWatcher_ReloadsOnWrite tests that a file change reloads the singleton.
func TestWatcher_ReloadsOnWrite(t *testing.T) {
	original := GetConfig()
	t.Cleanup(func() { SetConfig(original) })

	path := writeConfig(t, "executor:\n  workers: 3\n")
	if err := ReloadConfig(path); err != nil {
		t.Fatalf("ReloadConfig failed: %v", err)
	}

	w, err := NewWatcher(path, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	reloaded := make(chan *Config, 1)
	w.OnReload = func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("executor:\n  workers: 9\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Executor.Workers != 9 {
			t.Errorf("reloaded Workers = %d, want 9", cfg.Executor.Workers)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned error: %v", err)
	}
}

func TestDebouncer_CoalescesTriggers(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	calls := make(chan int, 10)
	for i := 0; i < 5; i++ {
		n := i
		d.Trigger(func() { calls <- n })
	}

	select {
	case n := <-calls:
		if n != 4 {
			t.Errorf("expected last callback to fire, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("debounced callback never fired")
	}

	select {
	case n := <-calls:
		t.Errorf("unexpected extra callback %d", n)
	case <-time.After(100 * time.Millisecond):
	}
}
