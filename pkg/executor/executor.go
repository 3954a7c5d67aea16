package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mercator-hq/saturn/pkg/checkpoint"
	"mercator-hq/saturn/pkg/config"
	"mercator-hq/saturn/pkg/pipeline"
	"mercator-hq/saturn/pkg/telemetry/logging"
	"mercator-hq/saturn/pkg/telemetry/metrics"
	"mercator-hq/saturn/pkg/telemetry/tracing"
)

// Config bounds dispatch and retries.
type Config struct {
	Workers        int
	BatchSize      int
	ItemTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// ConfigFrom converts the executor section of the configuration, filling
// zero values with defaults.
func ConfigFrom(cfg config.ExecutorConfig) Config {
	c := Config{
		Workers:        cfg.Workers,
		BatchSize:      cfg.BatchSize,
		ItemTimeout:    cfg.ItemTimeout,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
	if c.Workers <= 0 {
		c.Workers = config.DefaultExecutorWorkers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = config.DefaultExecutorBatchSize
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = config.DefaultExecutorItemTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = config.DefaultExecutorMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = config.DefaultExecutorInitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// ItemPhase describes one execution of an item-granular phase.
type ItemPhase struct {
	RunID string
	Phase string

	// Items is the declared input set. Ids must be unique.
	Items []pipeline.Item

	// Compute produces the result of one item.
	Compute pipeline.Computation

	// Continue is consulted at every batch boundary. Returning false stops
	// dispatch with pipeline.ErrInterrupted. Nil always continues.
	Continue func(ctx context.Context) bool

	// Progress is called after each item completes.
	Progress func(done, total int)
}

// Report summarises one phase execution.
type Report struct {
	// Required is the size of the declared input set.
	Required int
	// Skipped counts items already recorded before this execution.
	Skipped int
	// Dispatched counts items computed in this execution.
	Dispatched int
	// Processed counts items with a primary record after this execution.
	Processed int
	// Errored lists items that failed after all attempts, in completion order.
	Errored []string
}

// Executor dispatches phase work and persists results.
type Executor struct {
	store   checkpoint.Store
	cfg     Config
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Executor) { e.metrics = c }
}

// WithTracer sets the tracer used for item spans.
func WithTracer(t *tracing.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an executor writing to store.
func New(store checkpoint.Store, cfg Config, opts ...Option) *Executor {
	e := &Executor{
		store:  store,
		cfg:    cfg,
		logger: slog.Default().With("component", "executor"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunItems executes an item-granular phase. It returns pipeline.ErrInterrupted
// (wrapped) when cancellation or Continue stopped dispatch at a batch
// boundary, a *pipeline.CorruptionError when recorded items fall outside the
// declared set, and a *pipeline.StoreError when a result could not be
// persisted. Item failures are not errors; they are listed in the report.
func (e *Executor) RunItems(ctx context.Context, p ItemPhase) (*Report, error) {
	declared := make(map[string]struct{}, len(p.Items))
	for _, item := range p.Items {
		if _, dup := declared[item.ID]; dup {
			return nil, &pipeline.PhaseError{RunID: p.RunID, Phase: p.Phase, Cause: fmt.Errorf("duplicate item id %q in input set", item.ID)}
		}
		declared[item.ID] = struct{}{}
	}

	processed, err := e.store.ProcessedItemIDs(ctx, p.RunID, p.Phase)
	if err != nil {
		return nil, err
	}
	for id := range processed {
		if _, ok := declared[id]; !ok {
			return nil, &pipeline.CorruptionError{
				RunID:  p.RunID,
				Phase:  p.Phase,
				Detail: fmt.Sprintf("recorded item %q is not in the declared input set", id),
			}
		}
	}

	pending := make([]pipeline.Item, 0, len(p.Items)-len(processed))
	for _, item := range p.Items {
		if _, done := processed[item.ID]; !done {
			pending = append(pending, item)
		}
	}

	report := &Report{Required: len(p.Items), Skipped: len(processed), Processed: len(processed)}
	e.metrics.RecordItemsSkipped(p.Phase, report.Skipped)
	e.logger.InfoContext(ctx, "dispatching phase items",
		"required", report.Required, "skipped", report.Skipped, "pending", len(pending),
		"workers", e.cfg.Workers, "batch_size", e.cfg.BatchSize)

	var mu sync.Mutex
	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("%w: %v", pipeline.ErrInterrupted, err)
		}
		if p.Continue != nil && !p.Continue(ctx) {
			return report, fmt.Errorf("%w: stop requested", pipeline.ErrInterrupted)
		}

		end := min(start+e.cfg.BatchSize, len(pending))
		batchCtx := context.WithoutCancel(ctx)

		var g errgroup.Group
		g.SetLimit(e.cfg.Workers)
		for _, item := range pending[start:end] {
			g.Go(func() error {
				ok, err := e.runItem(batchCtx, p, item)
				if err != nil {
					return err
				}
				mu.Lock()
				report.Dispatched++
				if ok {
					report.Processed++
				} else {
					report.Errored = append(report.Errored, item.ID)
				}
				done := report.Processed
				mu.Unlock()
				if p.Progress != nil {
					p.Progress(done, report.Required)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return report, err
		}
	}

	return report, nil
}

// runItem computes and persists one item. It reports false for an errored
// item and returns an error only when persistence failed.
func (e *Executor) runItem(ctx context.Context, p ItemPhase, item pipeline.Item) (bool, error) {
	ctx = logging.WithItemID(ctx, item.ID)
	ctx, span := e.tracer.StartItem(ctx, p.Phase, item.ID)
	start := time.Now()

	result, attempts, err := e.computeWithRetry(ctx, p.Phase, p.Compute, item)
	if err != nil {
		e.metrics.RecordItem(p.Phase, "errored", time.Since(start))
		e.logger.WarnContext(ctx, "item computation failed",
			"item_id", item.ID, "attempts", attempts, "error", err)
		tracing.End(span, err)
		return false, nil
	}

	record := &pipeline.ItemRecord{
		RunID:     p.RunID,
		Phase:     p.Phase,
		ItemID:    item.ID,
		Role:      pipeline.RolePrimary,
		Decision:  result.Decision,
		Payload:   result.Payload,
		CreatedAt: e.now(),
	}
	if err := e.store.RecordItemProcessed(ctx, record); err != nil {
		tracing.End(span, err)
		return false, err
	}

	e.metrics.RecordItem(p.Phase, "processed", time.Since(start))
	tracing.End(span, nil)
	return true, nil
}

// RunWhole executes a whole-phase computation. The computation runs on a
// context detached from cancellation so it either completes or fails as a
// unit. Failures are returned as *pipeline.PhaseError.
func (e *Executor) RunWhole(ctx context.Context, run *pipeline.Run, phase string, fn pipeline.PhaseFunc) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrInterrupted, err)
	}
	if err := fn(context.WithoutCancel(ctx), run); err != nil {
		e.metrics.RecordItem(phase, "errored", time.Since(start))
		return &pipeline.PhaseError{RunID: run.ID, Phase: phase, Cause: err}
	}
	e.metrics.RecordItem(phase, "processed", time.Since(start))
	return nil
}
