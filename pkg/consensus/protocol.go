package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"mercator-hq/saturn/pkg/checkpoint"
	"mercator-hq/saturn/pkg/pipeline"
	"mercator-hq/saturn/pkg/telemetry/metrics"
)

// Protocol runs the two-reviewer screening for one phase.
type Protocol struct {
	store   checkpoint.Store
	judge   Judge
	arbiter Judge
	cfg     Config
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithArbiter uses a separate judge for arbitration.
func WithArbiter(j Judge) Option {
	return func(p *Protocol) { p.arbiter = j }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Protocol) { p.metrics = c }
}

// WithLogger sets the protocol logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Protocol) { p.logger = l }
}

// NewProtocol creates a protocol using judge for all three roles unless
// WithArbiter is given.
func NewProtocol(store checkpoint.Store, judge Judge, cfg Config, opts ...Option) *Protocol {
	p := &Protocol{
		store:  store,
		judge:  judge,
		cfg:    cfg,
		logger: slog.Default().With("component", "consensus.protocol"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.arbiter == nil {
		p.arbiter = p.judge
	}
	return p
}

// Computation returns the per-item computation of the protocol for a run
// and phase. Its result decision is the consensus decision.
func (p *Protocol) Computation(runID, phase string) pipeline.Computation {
	return pipeline.ComputeFunc(func(ctx context.Context, item pipeline.Item) (pipeline.Result, error) {
		result, err := p.Screen(ctx, runID, phase, item)
		if err != nil {
			return pipeline.Result{}, err
		}
		payload, err := pipeline.MarshalPayload(result)
		if err != nil {
			return pipeline.Result{}, pipeline.Permanent(err)
		}
		return pipeline.Result{Decision: result.Decision, Payload: payload}, nil
	})
}

// Screen decides one item and persists every judgment and the consensus
// result. Judgments already recorded for the item are reused.
func (p *Protocol) Screen(ctx context.Context, runID, phase string, item pipeline.Item) (*pipeline.ConsensusResult, error) {
	var a, b Judgment
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		a, err = p.judgment(gctx, runID, phase, item, p.roleFor(p.cfg.ReviewerA, pipeline.RoleReviewerA, phase), p.judge)
		return err
	})
	g.Go(func() error {
		var err error
		b, err = p.judgment(gctx, runID, phase, item, p.roleFor(p.cfg.ReviewerB, pipeline.RoleReviewerB, phase), p.judge)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &pipeline.ConsensusResult{
		RunID:     runID,
		Phase:     phase,
		ItemID:    item.ID,
		ReviewerA: pipeline.RecordKey{RunID: runID, Phase: phase, ItemID: item.ID, Role: pipeline.RoleReviewerA},
		ReviewerB: pipeline.RecordKey{RunID: runID, Phase: phase, ItemID: item.ID, Role: pipeline.RoleReviewerB},
		CreatedAt: p.now(),
	}

	outcome := Resolve(a, b, p.cfg.Band)
	switch o := outcome.(type) {
	case Agreed:
		result.Decision = o.Decision
		result.Agreement = true
	case Escalate:
		role := p.roleFor(p.cfg.Arbiter, pipeline.RoleArbiter, phase)
		role.Priors = []Prior{
			{Role: pipeline.RoleReviewerA, Judgment: a},
			{Role: pipeline.RoleReviewerB, Judgment: b},
		}
		final, err := p.judgment(ctx, runID, phase, item, role, p.arbiter)
		if err != nil {
			return nil, err
		}
		arbiterKey := pipeline.RecordKey{RunID: runID, Phase: phase, ItemID: item.ID, Role: pipeline.RoleArbiter}
		result.Decision = final.Decision
		result.Agreement = o.Agreement
		result.Arbitrated = true
		result.Ambiguous = o.Ambiguous
		result.Arbiter = &arbiterKey
		p.logger.InfoContext(ctx, "item arbitrated",
			"item_id", item.ID, "reviewer_a", a.Decision, "reviewer_b", b.Decision,
			"arbiter", final.Decision, "ambiguous", o.Ambiguous)
	}

	if err := p.store.SaveConsensus(ctx, result); err != nil {
		return nil, err
	}
	p.metrics.RecordConsensusOutcome(phase, OutcomeLabel(outcome))
	return result, nil
}

func (p *Protocol) roleFor(base RoleConfig, role pipeline.Role, phase string) RoleConfig {
	base.Role = role
	base.Phase = phase
	base.Priors = nil
	return base
}

// judgment returns the recorded judgment for the role or asks judge and
// records the answer before returning it.
func (p *Protocol) judgment(ctx context.Context, runID, phase string, item pipeline.Item, role RoleConfig, judge Judge) (Judgment, error) {
	key := pipeline.RecordKey{RunID: runID, Phase: phase, ItemID: item.ID, Role: role.Role}
	rec, found, err := p.store.ItemRecord(ctx, key)
	if err != nil {
		return Judgment{}, err
	}
	if found {
		return decodeJudgment(rec)
	}

	j, err := judge.Judge(ctx, item, role)
	if err != nil {
		return Judgment{}, fmt.Errorf("%s judgment: %w", role.Role, err)
	}
	if err := j.Validate(); err != nil {
		return Judgment{}, pipeline.Permanent(fmt.Errorf("%s judgment: %w", role.Role, err))
	}

	payload, err := json.Marshal(j)
	if err != nil {
		return Judgment{}, pipeline.Permanent(err)
	}
	err = p.store.RecordItemProcessed(ctx, &pipeline.ItemRecord{
		RunID:     runID,
		Phase:     phase,
		ItemID:    item.ID,
		Role:      role.Role,
		Decision:  j.Decision,
		Payload:   payload,
		CreatedAt: p.now(),
	})
	if err != nil {
		return Judgment{}, err
	}
	return j, nil
}
