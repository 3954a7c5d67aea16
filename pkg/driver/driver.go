package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/saturn/pkg/checkpoint"
	"mercator-hq/saturn/pkg/config"
	"mercator-hq/saturn/pkg/executor"
	"mercator-hq/saturn/pkg/gate"
	"mercator-hq/saturn/pkg/pipeline"
	"mercator-hq/saturn/pkg/telemetry/logging"
	"mercator-hq/saturn/pkg/telemetry/metrics"
	"mercator-hq/saturn/pkg/telemetry/tracing"
)

// Driver advances runs through the registry.
type Driver struct {
	store     checkpoint.Store
	registry  *Registry
	executor  *executor.Executor
	evaluator *gate.Evaluator
	gates     func() []config.GateConfig
	metrics   *metrics.Collector
	tracer    *tracing.Tracer
	logger    *slog.Logger
	now       func() time.Time
	progress  func(runID, phase string, done, total int)

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// Option configures a Driver.
type Option func(*Driver)

// WithGates sets the source of gate configuration. It is read each time a
// phase reaches gate evaluation, so a reloaded configuration applies on
// resume. Default: config.DefaultGates.
func WithGates(fn func() []config.GateConfig) Option {
	return func(d *Driver) { d.gates = fn }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(d *Driver) { d.metrics = c }
}

// WithTracer sets the tracer used for phase spans.
func WithTracer(t *tracing.Tracer) Option {
	return func(d *Driver) { d.tracer = t }
}

// WithProgress sets a callback invoked after each item of an item-granular
// phase completes.
func WithProgress(fn func(runID, phase string, done, total int)) Option {
	return func(d *Driver) { d.progress = fn }
}

// WithLogger sets the driver logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// New creates a driver.
func New(store checkpoint.Store, registry *Registry, exec *executor.Executor, evaluator *gate.Evaluator, opts ...Option) *Driver {
	d := &Driver{
		store:     store,
		registry:  registry,
		executor:  exec,
		evaluator: evaluator,
		gates:     config.DefaultGates,
		logger:    slog.Default().With("component", "driver"),
		now:       func() time.Time { return time.Now().UTC() },
		active:    make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the phase registry.
func (d *Driver) Registry() *Registry {
	return d.registry
}

// Create persists a new running run for topic without executing it. If runs
// with the same fingerprint exist, the new run supersedes the latest.
func (d *Driver) Create(ctx context.Context, topic, configHash string) (*pipeline.Run, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	now := d.now()
	run := &pipeline.Run{
		ID:          uuid.NewString(),
		Topic:       topic,
		Fingerprint: pipeline.Fingerprint(topic),
		ConfigHash:  configHash,
		Status:      pipeline.RunRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	latest, err := d.store.LatestRun(ctx, run.Fingerprint)
	switch {
	case err == nil:
		run.Supersedes = latest.ID
	case !errors.Is(err, pipeline.ErrRunNotFound):
		return nil, err
	}

	if err := d.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	d.logger.InfoContext(ctx, "run created", "run_id", run.ID, "topic", topic, "supersedes", run.Supersedes)
	return run, nil
}

// Start creates a run and executes it until it completes, pauses or fails.
// The returned run reflects the final persisted status and is non-nil
// whenever the run was created.
func (d *Driver) Start(ctx context.Context, topic, configHash string) (*pipeline.Run, error) {
	run, err := d.Create(ctx, topic, configHash)
	if err != nil {
		return nil, err
	}
	return d.execute(ctx, run)
}

// ResumeOptions controls Resume.
type ResumeOptions struct {
	// Force resumes a failed run.
	Force bool
}

// Resume continues a run from its first phase without a checkpoint. A
// completed run is returned unchanged. A failed run needs opts.Force.
func (d *Driver) Resume(ctx context.Context, runID string, opts ResumeOptions) (*pipeline.Run, error) {
	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if d.isActive(runID) {
		return run, pipeline.ErrRunActive
	}

	switch run.Status {
	case pipeline.RunCompleted:
		return run, nil
	case pipeline.RunFailed:
		if !opts.Force {
			return run, fmt.Errorf("%w: %s", pipeline.ErrRunFailed, run.Detail)
		}
		fallthrough
	case pipeline.RunPaused:
		if err := d.store.TransitionRun(ctx, runID, run.Status, pipeline.RunRunning, checkpoint.RunUpdate{}); err != nil {
			return run, err
		}
		d.logger.InfoContext(ctx, "run resumed", "run_id", runID, "from", run.Status, "reason", run.PauseReason)
		run.Status = pipeline.RunRunning
		run.PauseReason = pipeline.PauseNone
	case pipeline.RunRunning:
		// Left running by a process that exited without pausing.
		d.logger.WarnContext(ctx, "resuming run left running", "run_id", runID)
	}

	return d.execute(ctx, run)
}

// Pause asks a running run to stop at its next batch boundary. The status is
// written immediately, so executions in other processes observe it too.
// Pausing a paused run is a no-op.
func (d *Driver) Pause(ctx context.Context, runID string) error {
	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == pipeline.RunPaused {
		return nil
	}
	if err := d.store.TransitionRun(ctx, runID, pipeline.RunRunning, pipeline.RunPaused, checkpoint.RunUpdate{
		PauseReason: pipeline.PauseOperator,
		Detail:      "paused by operator",
	}); err != nil {
		return err
	}
	d.logger.InfoContext(ctx, "run paused by operator", "run_id", runID)
	return nil
}

// Runs lists runs, newest first.
func (d *Driver) Runs(ctx context.Context, filter checkpoint.RunFilter) ([]*pipeline.Run, error) {
	return d.store.ListRuns(ctx, filter)
}

// Active returns the ids of runs executing in this process, sorted.
func (d *Driver) Active() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.active))
	for id := range d.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Driver) isActive(runID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.active[runID]
	return ok
}

func (d *Driver) claim(runID string, cancel context.CancelFunc) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.active[runID]; ok {
		return false
	}
	d.active[runID] = cancel
	return true
}

func (d *Driver) release(runID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, runID)
}

// execute advances a running run and records the status it stops in.
func (d *Driver) execute(ctx context.Context, run *pipeline.Run) (*pipeline.Run, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !d.claim(run.ID, cancel) {
		return run, pipeline.ErrRunActive
	}
	defer d.release(run.ID)

	ctx = logging.WithRunID(ctx, run.ID)
	d.metrics.RunStarted()

	runErr := d.advance(ctx, run)
	status := d.settle(ctx, run.ID, runErr)
	d.metrics.RunStopped(string(status))

	final, err := d.store.GetRun(context.WithoutCancel(ctx), run.ID)
	if err != nil {
		final = run
	}
	return final, runErr
}

// advance executes every phase from the resume point.
func (d *Driver) advance(ctx context.Context, run *pipeline.Run) error {
	checkpoints, err := d.store.PhaseCheckpoints(ctx, run.ID)
	if err != nil {
		return err
	}
	start, err := d.registry.resumePoint(run.ID, checkpoints)
	if err != nil {
		return err
	}
	if start > 0 {
		d.logger.InfoContext(ctx, "resuming from checkpoint", "phase", d.registry.At(min(start, d.registry.Len()-1)).Name, "completed_phases", start)
	}

	for i := start; i < d.registry.Len(); i++ {
		spec := d.registry.At(i)
		if !d.stillRunning(ctx, run.ID) {
			return fmt.Errorf("%w: stop requested before phase %s", pipeline.ErrInterrupted, spec.Name)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", pipeline.ErrInterrupted, err)
		}
		if err := d.runPhase(ctx, run, spec); err != nil {
			return err
		}
	}
	return nil
}

// runPhase drives one phase through its state machine.
func (d *Driver) runPhase(ctx context.Context, run *pipeline.Run, spec *PhaseSpec) (err error) {
	ctx = logging.WithPhase(ctx, spec.Name)
	ctx, span := d.tracer.StartPhase(ctx, run.ID, spec.Name)
	defer func() { tracing.End(span, err) }()

	machine := pipeline.NewPhaseMachine(spec.Name, func(phase string, state pipeline.PhaseState) {
		d.metrics.RecordPhaseTransition(phase, string(state))
	})
	defer func() {
		if err == nil {
			return
		}
		next := pipeline.PhaseFailed
		var gateErr *pipeline.GateError
		if errors.As(err, &gateErr) || errors.Is(err, pipeline.ErrInterrupted) {
			next = pipeline.PhasePaused
		}
		_ = machine.Transition(next)
	}()

	if err := machine.Transition(pipeline.PhaseRunning); err != nil {
		return err
	}
	d.logger.InfoContext(ctx, "phase started", "granularity", spec.Granularity.String())
	started := time.Now()

	snap := &gate.Snapshot{RunID: run.ID, Phase: spec.Name}
	itemCount := 0

	switch spec.Granularity {
	case pipeline.PerItem:
		items, err := spec.Inputs(ctx, run)
		if err != nil {
			return &pipeline.PhaseError{RunID: run.ID, Phase: spec.Name, Cause: fmt.Errorf("declare inputs: %w", err)}
		}
		report, err := d.executor.RunItems(ctx, executor.ItemPhase{
			RunID:    run.ID,
			Phase:    spec.Name,
			Items:    items,
			Compute:  spec.Compute(run),
			Continue: func(ctx context.Context) bool { return d.stillRunning(ctx, run.ID) },
			Progress: d.phaseProgress(run.ID, spec.Name),
		})
		if err != nil {
			return err
		}
		processed, err := d.store.ProcessedItemIDs(ctx, run.ID, spec.Name)
		if err != nil {
			return err
		}
		snap.Required = len(items)
		snap.Processed = len(processed)
		snap.Errored = report.Errored
		itemCount = len(processed)
		d.logger.InfoContext(ctx, "phase items settled",
			"required", report.Required, "skipped", report.Skipped, "dispatched", report.Dispatched,
			"processed", report.Processed, "errored", len(report.Errored))

	case pipeline.WholePhase:
		if err := d.executor.RunWhole(ctx, run, spec.Name, spec.Run); err != nil {
			return err
		}
	}

	if err := machine.Transition(pipeline.PhaseGateCheck); err != nil {
		return err
	}
	// Gate evaluation and commit must not be cut short once items settled.
	gctx := context.WithoutCancel(ctx)

	if spec.Observe != nil {
		if err := spec.Observe(gctx, snap); err != nil {
			return &pipeline.PhaseError{RunID: run.ID, Phase: spec.Name, Cause: fmt.Errorf("observe: %w", err)}
		}
	}

	gates, err := gate.ForPhase(d.gates(), spec.Name)
	if err != nil {
		return &pipeline.PhaseError{RunID: run.ID, Phase: spec.Name, Cause: err}
	}
	decision, err := d.evaluator.Evaluate(gctx, snap, gates)
	if err != nil {
		return err
	}
	if err := decision.Err(run.ID, spec.Name); err != nil {
		return err
	}

	if spec.Commit != nil {
		if err := spec.Commit(gctx, run); err != nil {
			return &pipeline.PhaseError{RunID: run.ID, Phase: spec.Name, Cause: fmt.Errorf("commit: %w", err)}
		}
	}
	if err := d.store.MarkPhaseComplete(gctx, run.ID, spec.Name, itemCount); err != nil {
		return err
	}
	if err := machine.Transition(pipeline.PhaseCompleted); err != nil {
		return err
	}

	d.logger.InfoContext(ctx, "phase completed",
		"gates", string(decision.Status), "items", itemCount, "duration", time.Since(started))
	return nil
}

func (d *Driver) phaseProgress(runID, phase string) func(done, total int) {
	if d.progress == nil {
		return nil
	}
	return func(done, total int) { d.progress(runID, phase, done, total) }
}

// stillRunning reports whether the persisted run status is still running.
// Read failures stop the run.
func (d *Driver) stillRunning(ctx context.Context, runID string) bool {
	run, err := d.store.GetRun(context.WithoutCancel(ctx), runID)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to read run status", "error", err)
		return false
	}
	return run.Status == pipeline.RunRunning
}

// settle records the status a run stops in and returns it.
func (d *Driver) settle(ctx context.Context, runID string, runErr error) pipeline.RunStatus {
	ctx = context.WithoutCancel(ctx)

	var (
		to      pipeline.RunStatus
		update  checkpoint.RunUpdate
		gateErr *pipeline.GateError
	)
	switch {
	case runErr == nil:
		to = pipeline.RunCompleted
	case errors.As(runErr, &gateErr):
		to = pipeline.RunPaused
		update = checkpoint.RunUpdate{PauseReason: pipeline.PauseGate, Detail: runErr.Error()}
		d.logger.WarnContext(ctx, "run paused on blocking gate", "error", runErr)
	case errors.Is(runErr, pipeline.ErrInterrupted):
		to = pipeline.RunPaused
		update = checkpoint.RunUpdate{PauseReason: pipeline.PauseInterrupted, Detail: runErr.Error()}
		d.logger.InfoContext(ctx, "run interrupted", "error", runErr)
	default:
		to = pipeline.RunFailed
		update = checkpoint.RunUpdate{Detail: runErr.Error()}
		d.logger.ErrorContext(ctx, "run failed", "error", runErr)
	}

	err := d.store.TransitionRun(ctx, runID, pipeline.RunRunning, to, update)
	if err == nil {
		if to == pipeline.RunCompleted {
			d.logger.InfoContext(ctx, "run completed")
		}
		return to
	}

	// An operator pause already moved the run out of running.
	var transErr *pipeline.TransitionError
	if errors.As(err, &transErr) {
		if run, getErr := d.store.GetRun(ctx, runID); getErr == nil {
			return run.Status
		}
	}
	d.logger.ErrorContext(ctx, "failed to record run status", "status", to, "error", err)
	return to
}
