package driver

import (
	"context"
	"time"

	"mercator-hq/saturn/pkg/pipeline"
)

// PhaseStatus is the progress of one phase of a run.
type PhaseStatus struct {
	Name        string     `json:"name"`
	Granularity string     `json:"granularity"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// ItemsProcessed counts items with a primary record. Zero for whole phases.
	ItemsProcessed int `json:"items_processed"`
}

// RunStatus is the operator view of a run.
type RunStatus struct {
	Run *pipeline.Run `json:"run"`
	// Phase is the first phase without a checkpoint, empty once every phase
	// completed.
	Phase  string                 `json:"phase"`
	Phases []PhaseStatus          `json:"phases"`
	Gates  []*pipeline.GateResult `json:"gates"`
	Active bool                   `json:"active"`
}

// Status returns the current phase, per-phase progress and the full gate
// audit trail of a run.
func (d *Driver) Status(ctx context.Context, runID string) (*RunStatus, error) {
	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	checkpoints, err := d.store.PhaseCheckpoints(ctx, runID)
	if err != nil {
		return nil, err
	}
	done := make(map[string]pipeline.PhaseCheckpoint, len(checkpoints))
	for _, cp := range checkpoints {
		done[cp.Phase] = cp
	}

	status := &RunStatus{Run: run, Active: d.isActive(runID)}
	for i := 0; i < d.registry.Len(); i++ {
		spec := d.registry.At(i)
		ps := PhaseStatus{Name: spec.Name, Granularity: spec.Granularity.String()}
		if cp, ok := done[spec.Name]; ok {
			ps.Completed = true
			completedAt := cp.CompletedAt
			ps.CompletedAt = &completedAt
		} else if status.Phase == "" {
			status.Phase = spec.Name
		}
		if spec.Granularity == pipeline.PerItem {
			processed, err := d.store.ProcessedItemIDs(ctx, runID, spec.Name)
			if err != nil {
				return nil, err
			}
			ps.ItemsProcessed = len(processed)
		}
		status.Phases = append(status.Phases, ps)
	}

	status.Gates, err = d.store.GateResults(ctx, runID, "")
	if err != nil {
		return nil, err
	}
	if status.Gates == nil {
		status.Gates = []*pipeline.GateResult{}
	}
	return status, nil
}
