package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mercator-hq/saturn/pkg/checkpoint"
	"mercator-hq/saturn/pkg/config"
	"mercator-hq/saturn/pkg/executor"
	"mercator-hq/saturn/pkg/gate"
	"mercator-hq/saturn/pkg/pipeline"
)

func testExecutorConfig() executor.Config {
	return executor.Config{
		Workers:        2,
		BatchSize:      2,
		ItemTimeout:    time.Second,
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}
}

func makeItems(ids ...string) []pipeline.Item {
	items := make([]pipeline.Item, len(ids))
	for i, id := range ids {
		items[i] = pipeline.Item{ID: id}
	}
	return items
}

// fixture is a three-phase pipeline: collect (item), review (item), report (whole).
type fixture struct {
	store   *checkpoint.MemoryStore
	driver  *Driver
	gates   []config.GateConfig
	gatesMu sync.Mutex

	items []pipeline.Item

	mu         sync.Mutex
	computed   map[string][]string
	failItem   string
	failWhole  error
	committed  int
	hook       func(phase, id string)
	unresolved float64
}

func newFixture(t *testing.T, items ...string) *fixture {
	t.Helper()
	f := &fixture{
		store:    checkpoint.NewMemoryStore(),
		items:    makeItems(items...),
		computed: make(map[string][]string),
		gates: []config.GateConfig{
			{Phase: "collect", Name: "min_items", Kind: config.GateKindBlocking, Threshold: 1},
			{Phase: "collect", Name: "completeness", Kind: config.GateKindBlocking, Threshold: 1},
			{Phase: "review", Name: "completeness", Kind: config.GateKindBlocking, Threshold: 1},
			{Phase: "review", Name: "min_mean_quality", Kind: config.GateKindWarn, Threshold: 0.9},
			{Phase: "report", Name: "export_integrity", Kind: config.GateKindBlocking, Threshold: 0},
		},
	}

	compute := func(phase string) func(run *pipeline.Run) pipeline.Computation {
		return func(run *pipeline.Run) pipeline.Computation {
			return pipeline.ComputeFunc(func(ctx context.Context, item pipeline.Item) (pipeline.Result, error) {
				f.mu.Lock()
				f.computed[phase] = append(f.computed[phase], item.ID)
				fail := f.failItem == item.ID && phase == "review"
				hook := f.hook
				f.mu.Unlock()
				if hook != nil {
					hook(phase, item.ID)
				}
				if fail {
					return pipeline.Result{}, pipeline.Permanent(errors.New("judge unavailable"))
				}
				return pipeline.Result{Decision: "ok"}, nil
			})
		}
	}

	registry, err := NewRegistry(
		PhaseSpec{
			Name:        "collect",
			Granularity: pipeline.PerItem,
			Inputs:      func(ctx context.Context, run *pipeline.Run) ([]pipeline.Item, error) { return f.items, nil },
			Compute:     compute("collect"),
		},
		PhaseSpec{
			Name:        "review",
			Granularity: pipeline.PerItem,
			Inputs:      func(ctx context.Context, run *pipeline.Run) ([]pipeline.Item, error) { return f.items, nil },
			Compute:     compute("review"),
			Observe: func(ctx context.Context, snap *gate.Snapshot) error {
				snap.SetMetric(gate.MetricMeanQuality, 0.5)
				return nil
			},
		},
		PhaseSpec{
			Name:        "report",
			Granularity: pipeline.WholePhase,
			Run: func(ctx context.Context, run *pipeline.Run) error {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.computed["report"] = append(f.computed["report"], run.ID)
				return f.failWhole
			},
			Observe: func(ctx context.Context, snap *gate.Snapshot) error {
				f.mu.Lock()
				defer f.mu.Unlock()
				snap.SetMetric(gate.MetricUnresolvedClaims, f.unresolved)
				return nil
			},
			Commit: func(ctx context.Context, run *pipeline.Run) error {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.committed++
				return nil
			},
		},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	exec := executor.New(f.store, testExecutorConfig())
	f.driver = New(f.store, registry, exec, gate.NewEvaluator(f.store), WithGates(func() []config.GateConfig {
		f.gatesMu.Lock()
		defer f.gatesMu.Unlock()
		return f.gates
	}))
	return f
}

func (f *fixture) seen(phase string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.computed[phase]...)
}

func checkpointNames(t *testing.T, store checkpoint.Store, runID string) []string {
	t.Helper()
	cps, err := store.PhaseCheckpoints(context.Background(), runID)
	if err != nil {
		t.Fatalf("PhaseCheckpoints() error = %v", err)
	}
	names := make([]string, len(cps))
	for i, cp := range cps {
		names[i] = cp.Phase
	}
	return names
}

// TestDriver_CompleteRun tests a run that passes every blocking gate.
func TestDriver_CompleteRun(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	ctx := context.Background()

	run, err := f.driver.Start(ctx, "Exercise and anxiety", "cfg-hash")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if run.Status != pipeline.RunCompleted {
		t.Errorf("status = %s, want completed", run.Status)
	}
	if run.ConfigHash != "cfg-hash" || run.Fingerprint != pipeline.Fingerprint("exercise and anxiety") {
		t.Errorf("run = %+v", run)
	}
	if diff := cmp.Diff([]string{"collect", "review", "report"}, checkpointNames(t, f.store, run.ID)); diff != "" {
		t.Errorf("checkpoints mismatch (-want +got):\n%s", diff)
	}
	if f.committed != 1 {
		t.Errorf("commit ran %d times, want 1", f.committed)
	}

	// The warn-only quality gate failed and was recorded, but did not stop the run.
	results, err := f.store.GateResults(ctx, run.ID, "review")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[1].Gate != "min_mean_quality" || results[1].Status != pipeline.GateWarn || results[1].Blocking {
		t.Errorf("review gate results = %+v", results)
	}

	again, err := f.driver.Resume(ctx, run.ID, ResumeOptions{})
	if err != nil || again.Status != pipeline.RunCompleted {
		t.Errorf("Resume(completed) = %v, %v", again, err)
	}
	if len(f.seen("collect")) != 3 {
		t.Errorf("completed run was re-executed: %v", f.seen("collect"))
	}
}

// TestDriver_GatePauseAndResume tests that a blocking gate pauses the run and
// that resuming recomputes only the outstanding items.
func TestDriver_GatePauseAndResume(t *testing.T) {
	f := newFixture(t, "a", "b", "c", "d")
	f.failItem = "c"
	ctx := context.Background()

	run, err := f.driver.Start(ctx, "topic", "")
	var gateErr *pipeline.GateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("Start() error = %v, want GateError", err)
	}
	if gateErr.Phase != "review" || len(gateErr.Failures) != 1 {
		t.Fatalf("gate error = %+v", gateErr)
	}
	if got := gateErr.Failures[0]; got.Gate != "completeness" || got.Threshold != 1 || got.Observed != 0.75 {
		t.Errorf("failure = %+v", got)
	}
	if run.Status != pipeline.RunPaused || run.PauseReason != pipeline.PauseGate {
		t.Errorf("run = %s/%s, want paused/gate", run.Status, run.PauseReason)
	}
	if diff := cmp.Diff([]string{"collect"}, checkpointNames(t, f.store, run.ID)); diff != "" {
		t.Errorf("checkpoints mismatch (-want +got):\n%s", diff)
	}
	if len(f.seen("report")) != 0 {
		t.Error("downstream phase ran while a blocking gate was failing")
	}

	f.mu.Lock()
	f.failItem = ""
	f.computed["review"] = nil
	f.mu.Unlock()

	run, err = f.driver.Resume(ctx, run.ID, ResumeOptions{})
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if run.Status != pipeline.RunCompleted {
		t.Errorf("status = %s, want completed", run.Status)
	}
	if diff := cmp.Diff([]string{"c"}, f.seen("review")); diff != "" {
		t.Errorf("resume recomputed (-want +got):\n%s", diff)
	}

	results, err := f.store.GateResults(ctx, run.ID, "review")
	if err != nil {
		t.Fatal(err)
	}
	var completeness []pipeline.GateStatus
	for _, r := range results {
		if r.Gate == "completeness" {
			completeness = append(completeness, r.Status)
		}
	}
	if diff := cmp.Diff([]pipeline.GateStatus{pipeline.GateFail, pipeline.GatePass}, completeness); diff != "" {
		t.Errorf("completeness audit trail mismatch (-want +got):\n%s", diff)
	}
}

// TestDriver_ThresholdRemediation tests that a gate reads the current
// configuration when a paused run resumes.
func TestDriver_ThresholdRemediation(t *testing.T) {
	f := newFixture(t, "a")
	f.unresolved = 2
	ctx := context.Background()

	run, err := f.driver.Start(ctx, "topic", "")
	var gateErr *pipeline.GateError
	if !errors.As(err, &gateErr) || gateErr.Phase != "report" {
		t.Fatalf("Start() error = %v, want report GateError", err)
	}
	if gateErr.Failures[0].Observed != 2 {
		t.Errorf("observed = %v, want 2", gateErr.Failures[0].Observed)
	}
	if f.committed != 0 {
		t.Error("commit ran although the export gate failed")
	}

	f.gatesMu.Lock()
	f.gates[len(f.gates)-1].Threshold = 2
	f.gatesMu.Unlock()

	run, err = f.driver.Resume(ctx, run.ID, ResumeOptions{})
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if run.Status != pipeline.RunCompleted || f.committed != 1 {
		t.Errorf("status = %s, commits = %d", run.Status, f.committed)
	}
}

// TestDriver_WholePhaseFault tests that a whole-phase fault fails the run and
// that only a forced resume retries it.
func TestDriver_WholePhaseFault(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.failWhole = errors.New("renderer crashed")
	ctx := context.Background()

	run, err := f.driver.Start(ctx, "topic", "")
	var phaseErr *pipeline.PhaseError
	if !errors.As(err, &phaseErr) || phaseErr.Phase != "report" {
		t.Fatalf("Start() error = %v, want report PhaseError", err)
	}
	if run.Status != pipeline.RunFailed {
		t.Errorf("status = %s, want failed", run.Status)
	}
	if done, _ := f.store.IsPhaseComplete(ctx, run.ID, "report"); done {
		t.Error("failed phase has a checkpoint")
	}

	if _, err := f.driver.Resume(ctx, run.ID, ResumeOptions{}); !errors.Is(err, pipeline.ErrRunFailed) {
		t.Errorf("Resume() error = %v, want ErrRunFailed", err)
	}

	f.mu.Lock()
	f.failWhole = nil
	f.mu.Unlock()
	run, err = f.driver.Resume(ctx, run.ID, ResumeOptions{Force: true})
	if err != nil {
		t.Fatalf("Resume(force) error = %v", err)
	}
	if run.Status != pipeline.RunCompleted {
		t.Errorf("status = %s, want completed", run.Status)
	}
	if len(f.seen("collect")) != 2 {
		t.Errorf("forced resume recomputed checkpointed items: %v", f.seen("collect"))
	}
}

// TestDriver_Cancellation tests that cancellation pauses the run at a batch
// boundary and that resuming completes it without recomputation.
func TestDriver_Cancellation(t *testing.T) {
	f := newFixture(t, "a", "b", "c", "d", "e", "f")
	ctx, cancel := context.WithCancel(context.Background())
	f.hook = func(phase, id string) {
		if phase == "collect" && id == "b" {
			cancel()
		}
	}

	run, err := f.driver.Start(ctx, "topic", "")
	if !errors.Is(err, pipeline.ErrInterrupted) {
		t.Fatalf("Start() error = %v, want ErrInterrupted", err)
	}
	if run.Status != pipeline.RunPaused || run.PauseReason != pipeline.PauseInterrupted {
		t.Errorf("run = %s/%s, want paused/interrupted", run.Status, run.PauseReason)
	}
	processed, _ := f.store.ProcessedItemIDs(context.Background(), run.ID, "collect")
	if len(processed) != 2 {
		t.Errorf("processed %d items, want the first batch of 2", len(processed))
	}

	f.mu.Lock()
	f.hook = nil
	f.mu.Unlock()
	run, err = f.driver.Resume(context.Background(), run.ID, ResumeOptions{})
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if run.Status != pipeline.RunCompleted {
		t.Errorf("status = %s", run.Status)
	}
	if got := len(f.seen("collect")); got != 6 {
		t.Errorf("collect computed %d times, want 6", got)
	}
}

// TestDriver_OperatorPause tests that an operator pause stops the run at the
// next batch boundary and is not overwritten.
func TestDriver_OperatorPause(t *testing.T) {
	f := newFixture(t, "a", "b", "c", "d")
	var runID atomic.Value
	f.hook = func(phase, id string) {
		if phase == "collect" && id == "a" {
			if err := f.driver.Pause(context.Background(), runID.Load().(string)); err != nil {
				t.Errorf("Pause() error = %v", err)
			}
		}
	}

	ctx := context.Background()
	created, err := f.driver.Create(ctx, "topic", "")
	if err != nil {
		t.Fatal(err)
	}
	runID.Store(created.ID)

	run, err := f.driver.execute(ctx, created)
	if !errors.Is(err, pipeline.ErrInterrupted) {
		t.Fatalf("execute() error = %v, want ErrInterrupted", err)
	}
	if run.Status != pipeline.RunPaused || run.PauseReason != pipeline.PauseOperator {
		t.Errorf("run = %s/%s, want paused/operator", run.Status, run.PauseReason)
	}
	if err := f.driver.Pause(ctx, run.ID); err != nil {
		t.Errorf("Pause(paused) error = %v", err)
	}
}

// TestDriver_Supersedes tests that a new run for the same scope supersedes the latest.
func TestDriver_Supersedes(t *testing.T) {
	f := newFixture(t, "a")
	ctx := context.Background()

	first, err := f.driver.Create(ctx, "Exercise and Anxiety", "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.driver.Create(ctx, "exercise  and anxiety", "")
	if err != nil {
		t.Fatal(err)
	}
	other, err := f.driver.Create(ctx, "sleep", "")
	if err != nil {
		t.Fatal(err)
	}
	if first.Supersedes != "" || second.Supersedes != first.ID || other.Supersedes != "" {
		t.Errorf("supersedes = %q, %q, %q", first.Supersedes, second.Supersedes, other.Supersedes)
	}

	runs, err := f.driver.Runs(ctx, checkpoint.RunFilter{Fingerprint: first.Fingerprint})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("Runs() returned %d runs, want 2", len(runs))
	}

	if _, err := f.driver.Create(ctx, "   ", ""); err == nil {
		t.Error("expected error for empty topic")
	}
}

// TestDriver_CorruptCheckpoints tests that checkpoints out of registry order fail the run.
func TestDriver_CorruptCheckpoints(t *testing.T) {
	f := newFixture(t, "a")
	ctx := context.Background()

	run, err := f.driver.Create(ctx, "topic", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.MarkPhaseComplete(ctx, run.ID, "review", 1); err != nil {
		t.Fatal(err)
	}

	run, err = f.driver.Resume(ctx, run.ID, ResumeOptions{})
	var corrupt *pipeline.CorruptionError
	if !errors.As(err, &corrupt) {
		t.Fatalf("Resume() error = %v, want CorruptionError", err)
	}
	if run.Status != pipeline.RunFailed {
		t.Errorf("status = %s, want failed", run.Status)
	}
	if len(f.seen("collect")) != 0 {
		t.Error("items were computed from corrupt state")
	}
}

// TestDriver_ForeignItemRecord tests that a recorded item outside the declared set fails the run.
func TestDriver_ForeignItemRecord(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	run, err := f.driver.Create(ctx, "topic", "")
	if err != nil {
		t.Fatal(err)
	}
	err = f.store.RecordItemProcessed(ctx, &pipeline.ItemRecord{RunID: run.ID, Phase: "collect", ItemID: "zzz", Role: pipeline.RolePrimary})
	if err != nil {
		t.Fatal(err)
	}

	run, err = f.driver.Resume(ctx, run.ID, ResumeOptions{})
	var corrupt *pipeline.CorruptionError
	if !errors.As(err, &corrupt) || corrupt.Phase != "collect" {
		t.Fatalf("Resume() error = %v, want collect CorruptionError", err)
	}
	if run.Status != pipeline.RunFailed {
		t.Errorf("status = %s, want failed", run.Status)
	}
}

// TestDriver_Status tests the operator view.
func TestDriver_Status(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	f.failItem = "b"
	ctx := context.Background()

	run, _ := f.driver.Start(ctx, "topic", "")
	status, err := f.driver.Status(ctx, run.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Phase != "review" {
		t.Errorf("phase = %q, want review", status.Phase)
	}
	want := []PhaseStatus{
		{Name: "collect", Granularity: "item", Completed: true, ItemsProcessed: 3},
		{Name: "review", Granularity: "item", ItemsProcessed: 2},
		{Name: "report", Granularity: "whole"},
	}
	got := make([]PhaseStatus, len(status.Phases))
	for i, p := range status.Phases {
		p.CompletedAt = nil
		got[i] = p
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("phases mismatch (-want +got):\n%s", diff)
	}
	// collect: min_items + completeness; review: completeness + min_mean_quality.
	if len(status.Gates) != 4 {
		t.Errorf("gate trail has %d rows, want 4", len(status.Gates))
	}

	if _, err := f.driver.Status(ctx, "missing"); !errors.Is(err, pipeline.ErrRunNotFound) {
		t.Errorf("Status(missing) error = %v", err)
	}
}

// TestDriver_ConcurrentRuns tests that runs sharing a store do not interfere.
func TestDriver_ConcurrentRuns(t *testing.T) {
	f := newFixture(t, "a", "b", "c", "d", "e")
	ctx := context.Background()

	var wg sync.WaitGroup
	runs := make([]*pipeline.Run, 4)
	errs := make([]error, 4)
	for i := range runs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runs[i], errs[i] = f.driver.Start(ctx, fmt.Sprintf("topic %d", i), "")
		}(i)
	}
	wg.Wait()

	for i, run := range runs {
		if errs[i] != nil {
			t.Fatalf("run %d error = %v", i, errs[i])
		}
		processed, _ := f.store.ProcessedItemIDs(ctx, run.ID, "review")
		if len(processed) != 5 || run.Status != pipeline.RunCompleted {
			t.Errorf("run %d: status %s, %d processed", i, run.Status, len(processed))
		}
	}
	if len(f.driver.Active()) != 0 {
		t.Errorf("active runs left: %v", f.driver.Active())
	}
}

// TestNewRegistry tests registry validation.
func TestNewRegistry(t *testing.T) {
	inputs := func(ctx context.Context, run *pipeline.Run) ([]pipeline.Item, error) { return nil, nil }
	compute := func(run *pipeline.Run) pipeline.Computation { return nil }
	whole := func(ctx context.Context, run *pipeline.Run) error { return nil }

	tests := []struct {
		name    string
		specs   []PhaseSpec
		wantErr bool
	}{
		{"valid", []PhaseSpec{
			{Name: "a", Granularity: pipeline.PerItem, Inputs: inputs, Compute: compute},
			{Name: "b", Granularity: pipeline.WholePhase, Run: whole},
		}, false},
		{"empty", nil, true},
		{"unnamed", []PhaseSpec{{Granularity: pipeline.WholePhase, Run: whole}}, true},
		{"duplicate", []PhaseSpec{{Name: "a", Granularity: pipeline.WholePhase, Run: whole}, {Name: "a", Granularity: pipeline.WholePhase, Run: whole}}, true},
		{"item without compute", []PhaseSpec{{Name: "a", Granularity: pipeline.PerItem, Inputs: inputs}}, true},
		{"whole without run", []PhaseSpec{{Name: "a", Granularity: pipeline.WholePhase}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistry(tt.specs...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewRegistry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if diff := cmp.Diff([]string{"a", "b"}, r.Names()); diff != "" {
					t.Errorf("names mismatch (-want +got):\n%s", diff)
				}
				if _, ok := r.Lookup("b"); !ok {
					t.Error("Lookup(b) failed")
				}
			}
		})
	}
}

// TestDriver_Progress tests that item completions are reported per phase.
func TestDriver_Progress(t *testing.T) {
	f := newFixture(t, "a", "b", "c")

	var mu sync.Mutex
	last := make(map[string][2]int)
	calls := 0
	f.driver.progress = func(runID, phase string, done, total int) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		last[phase] = [2]int{done, total}
	}

	if _, err := f.driver.Start(context.Background(), "topic", ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if calls != 6 {
		t.Errorf("progress calls = %d, want 6", calls)
	}
	want := map[string][2]int{"collect": {3, 3}, "review": {3, 3}}
	if diff := cmp.Diff(want, last); diff != "" {
		t.Errorf("final progress mismatch (-want +got):\n%s", diff)
	}
}
