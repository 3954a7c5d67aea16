package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"mercator-hq/saturn/pkg/config"
	"mercator-hq/saturn/pkg/pipeline"
)

// Screening decisions.
const (
	DecisionInclude = "include"
	DecisionExclude = "exclude"
)

// Judgment is one reviewer's verdict on an item.
type Judgment struct {
	Decision   string  `json:"decision"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
}

// Validate checks that the judgment can be recorded.
func (j Judgment) Validate() error {
	if j.Decision == "" {
		return errors.New("judgment has no decision")
	}
	if j.Confidence < 0 || j.Confidence > 1 {
		return fmt.Errorf("confidence %g outside [0, 1]", j.Confidence)
	}
	return nil
}

// Prior is a judgment shown to the arbiter.
type Prior struct {
	Role     pipeline.Role `json:"role"`
	Judgment Judgment      `json:"judgment"`
}

// RoleConfig describes the reviewer a judgment is requested from.
type RoleConfig struct {
	Role         pipeline.Role
	Phase        string
	Bias         float64
	Instructions string

	// Priors is set for the arbiter only.
	Priors []Prior
}

// Judge produces a judgment for an item in a role. Implementations wrap
// permanent failures with pipeline.Permanent.
type Judge interface {
	Judge(ctx context.Context, item pipeline.Item, role RoleConfig) (Judgment, error)
}

// JudgeFunc adapts a function to the Judge interface.
type JudgeFunc func(ctx context.Context, item pipeline.Item, role RoleConfig) (Judgment, error)

// Judge calls f(ctx, item, role).
func (f JudgeFunc) Judge(ctx context.Context, item pipeline.Item, role RoleConfig) (Judgment, error) {
	return f(ctx, item, role)
}

// Band is the closed confidence interval in which agreement is not trusted.
type Band struct {
	Low  float64
	High float64
}

// Contains reports whether confidence lies in [Low, High].
func (b Band) Contains(confidence float64) bool {
	return confidence >= b.Low && confidence <= b.High
}

// Outcome is the result of reconciling two judgments: either Agreed or
// Escalate.
type Outcome interface {
	outcome()
}

// Agreed means both reviewers reached the same decision outside the band.
type Agreed struct {
	Decision string
}

// Escalate means the arbiter decides the item.
type Escalate struct {
	// Agreement is true when the decisions matched but both confidences
	// fell inside the band.
	Agreement bool
	// Ambiguous is true when both confidences fell inside the band.
	Ambiguous bool
}

func (Agreed) outcome()   {}
func (Escalate) outcome() {}

// Resolve reconciles the judgments of reviewers A and B.
func Resolve(a, b Judgment, band Band) Outcome {
	ambiguous := band.Contains(a.Confidence) && band.Contains(b.Confidence)
	agreement := a.Decision == b.Decision
	if agreement && !ambiguous {
		return Agreed{Decision: a.Decision}
	}
	return Escalate{Agreement: agreement, Ambiguous: ambiguous}
}

// OutcomeLabel names an outcome for metrics and logs.
func OutcomeLabel(o Outcome) string {
	switch o := o.(type) {
	case Agreed:
		return "agreed"
	case Escalate:
		if o.Agreement {
			return "arbitrated_ambiguous"
		}
		return "arbitrated_disagreement"
	default:
		return "unknown"
	}
}

// Config configures the protocol.
type Config struct {
	Band      Band
	ReviewerA RoleConfig
	ReviewerB RoleConfig
	Arbiter   RoleConfig
}

// ConfigFrom converts the consensus configuration section.
func ConfigFrom(cfg config.ConsensusConfig) Config {
	return Config{
		Band:      Band{Low: cfg.Band.Low, High: cfg.Band.High},
		ReviewerA: RoleConfig{Role: pipeline.RoleReviewerA, Bias: cfg.ReviewerA.Bias, Instructions: cfg.ReviewerA.Instructions},
		ReviewerB: RoleConfig{Role: pipeline.RoleReviewerB, Bias: cfg.ReviewerB.Bias, Instructions: cfg.ReviewerB.Instructions},
		Arbiter:   RoleConfig{Role: pipeline.RoleArbiter, Bias: cfg.Arbiter.Bias, Instructions: cfg.Arbiter.Instructions},
	}
}

func decodeJudgment(rec *pipeline.ItemRecord) (Judgment, error) {
	var j Judgment
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &j); err != nil {
			return Judgment{}, fmt.Errorf("decode %s judgment for %s: %w", rec.Role, rec.ItemID, err)
		}
	}
	if j.Decision == "" {
		j.Decision = rec.Decision
	}
	return j, nil
}
