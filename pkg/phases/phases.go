package phases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"mercator-hq/saturn/pkg/checkpoint"
	"mercator-hq/saturn/pkg/consensus"
	"mercator-hq/saturn/pkg/driver"
	"mercator-hq/saturn/pkg/ledger"
	"mercator-hq/saturn/pkg/pipeline"
)

// Phase names, stable identifiers persisted in the checkpoint store.
const (
	Intake      = "intake"
	Dedup       = "dedup"
	Screening   = "screening"
	Eligibility = "eligibility"
	Extraction  = "extraction"
	Quality     = "quality"
	Synthesis   = "synthesis"
	Composition = "composition"
	Packaging   = "packaging"
)

// Names lists the builtin phases in registry order.
var Names = []string{Intake, Dedup, Screening, Eligibility, Extraction, Quality, Synthesis, Composition, Packaging}

// Item decisions written by the builtin computations.
const (
	DecisionAccepted  = "accepted"
	DecisionUnique    = "unique"
	DecisionDuplicate = "duplicate"
	DecisionExtracted = "extracted"
	DecisionScored    = "scored"
)

// Deps are the collaborators of the builtin phases.
type Deps struct {
	Store    checkpoint.Store
	Ledger   ledger.Ledger
	Protocol *consensus.Protocol

	// Manifest is the path of the document manifest read by intake.
	Manifest string

	// OutputDir receives <run id>/staging and <run id>/bundle.
	OutputDir string

	Logger *slog.Logger
}

// Builtin returns the builtin phase specs in registry order.
func Builtin(deps Deps) []driver.PhaseSpec {
	if deps.Logger == nil {
		deps.Logger = slog.Default().With("component", "phases")
	}
	p := &builtin{Deps: deps}
	return []driver.PhaseSpec{
		p.intake(),
		p.dedup(),
		p.consensus(Screening, Dedup, DecisionUnique),
		p.consensus(Eligibility, Screening, consensus.DecisionInclude),
		p.extraction(),
		p.quality(),
		p.synthesis(),
		p.composition(),
		p.packaging(),
	}
}

// NewRegistry returns a registry of the builtin phases.
func NewRegistry(deps Deps) (*driver.Registry, error) {
	return driver.NewRegistry(Builtin(deps)...)
}

type builtin struct {
	Deps
}

// StagingDir is where a run's bundle is assembled.
func StagingDir(outputDir, runID string) string {
	return filepath.Join(outputDir, runID, "staging")
}

// BundleDir is where a committed bundle lives.
func BundleDir(outputDir, runID string) string {
	return filepath.Join(outputDir, runID, "bundle")
}

// primary returns the primary records of a phase, ordered by item id.
func (p *builtin) primary(ctx context.Context, runID, phase string) ([]*pipeline.ItemRecord, error) {
	return p.Store.ItemRecords(ctx, runID, phase, pipeline.RolePrimary)
}

// intakeRecords maps item ids to their intake record.
func (p *builtin) intakeRecords(ctx context.Context, runID string) (map[string]*IntakeRecord, error) {
	recs, err := p.primary(ctx, runID, Intake)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*IntakeRecord, len(recs))
	for _, rec := range recs {
		var ir IntakeRecord
		if err := json.Unmarshal(rec.Payload, &ir); err != nil {
			return nil, fmt.Errorf("decode intake record %s: %w", rec.ItemID, err)
		}
		out[rec.ItemID] = &ir
	}
	return out, nil
}

// selectInputs declares the items of from whose decision is want, carrying
// their intake payload.
func (p *builtin) selectInputs(ctx context.Context, runID, from, want string) ([]pipeline.Item, error) {
	recs, err := p.primary(ctx, runID, from)
	if err != nil {
		return nil, err
	}
	intake, err := p.primary(ctx, runID, Intake)
	if err != nil {
		return nil, err
	}
	payloads := make(map[string]json.RawMessage, len(intake))
	for _, rec := range intake {
		payloads[rec.ItemID] = rec.Payload
	}

	var items []pipeline.Item
	for _, rec := range recs {
		if rec.Decision != want {
			continue
		}
		payload, ok := payloads[rec.ItemID]
		if !ok {
			return nil, errMissingIntake(rec.ItemID)
		}
		items = append(items, pipeline.Item{ID: rec.ItemID, Payload: payload})
	}
	return items, nil
}

func errMissingIntake(id string) error {
	return fmt.Errorf("item %s has no intake record", id)
}
