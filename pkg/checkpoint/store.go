// Package checkpoint provides the durable store behind run resumption.
//
// The store holds runs, phase completion markers, per-item records, consensus
// results and the append-only gate audit trail. It contains no business
// logic: callers decide what to write, the store guarantees that a write has
// reached durable storage before the call returns and that duplicate writes
// of the same key are a no-op success.
//
// Two backends are provided:
//   - SQLiteStore: durable, file-backed, safe for several runs and processes
//   - MemoryStore: in-process only, used by tests and dry runs
package checkpoint

import (
	"context"

	"mercator-hq/saturn/pkg/pipeline"
)

// RunFilter selects runs for ListRuns. Zero fields do not filter.
type RunFilter struct {
	Fingerprint string
	Status      pipeline.RunStatus
	PauseReason pipeline.PauseReason
	Limit       int
}

// RunUpdate carries the fields written alongside a status transition.
type RunUpdate struct {
	PauseReason pipeline.PauseReason
	Detail      string
}

// Store is the checkpoint persistence contract. All implementations must be
// safe for concurrent use and keep runs isolated from each other.
type Store interface {
	// CreateRun persists a new run. The run's ID must be unique.
	CreateRun(ctx context.Context, run *pipeline.Run) error

	// GetRun returns the run or pipeline.ErrRunNotFound.
	GetRun(ctx context.Context, runID string) (*pipeline.Run, error)

	// ListRuns returns runs matching filter, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]*pipeline.Run, error)

	// LatestRun returns the newest run for a fingerprint or pipeline.ErrRunNotFound.
	LatestRun(ctx context.Context, fingerprint string) (*pipeline.Run, error)

	// TransitionRun atomically moves a run from one status to another. It
	// returns a *pipeline.TransitionError if the transition is not allowed or
	// the run is no longer in status from.
	TransitionRun(ctx context.Context, runID string, from, to pipeline.RunStatus, update RunUpdate) error

	// MarkPhaseComplete writes the completion marker for (run, phase). A
	// second call for the same pair is a no-op.
	MarkPhaseComplete(ctx context.Context, runID, phase string, itemCount int) error

	// IsPhaseComplete reports whether a completion marker exists.
	IsPhaseComplete(ctx context.Context, runID, phase string) (bool, error)

	// PhaseCheckpoints returns every completion marker of a run in the order
	// they were written.
	PhaseCheckpoints(ctx context.Context, runID string) ([]pipeline.PhaseCheckpoint, error)

	// RecordItemProcessed writes an immutable item record. A record whose key
	// already exists is left untouched and the call succeeds.
	RecordItemProcessed(ctx context.Context, record *pipeline.ItemRecord) error

	// ItemRecord returns the record for key. found is false if none exists.
	ItemRecord(ctx context.Context, key pipeline.RecordKey) (record *pipeline.ItemRecord, found bool, err error)

	// ItemRecords returns all records of a run and phase for one role,
	// ordered by item id.
	ItemRecords(ctx context.Context, runID, phase string, role pipeline.Role) ([]*pipeline.ItemRecord, error)

	// ProcessedItemIDs returns the ids of items with a primary record in
	// (run, phase).
	ProcessedItemIDs(ctx context.Context, runID, phase string) (map[string]struct{}, error)

	// SaveConsensus writes a consensus result keyed by (run, phase, item).
	// A second write for the same key is a no-op.
	SaveConsensus(ctx context.Context, result *pipeline.ConsensusResult) error

	// ConsensusResults returns the consensus results of a phase ordered by item id.
	ConsensusResults(ctx context.Context, runID, phase string) ([]*pipeline.ConsensusResult, error)

	// AppendGateResult appends a verdict to the audit trail.
	AppendGateResult(ctx context.Context, result *pipeline.GateResult) error

	// GateResults returns the audit trail of a run in insertion order. An
	// empty phase returns every phase.
	GateResults(ctx context.Context, runID, phase string) ([]*pipeline.GateResult, error)

	// Close releases backend resources.
	Close() error
}

func transitionErr(from, to pipeline.RunStatus) error {
	return &pipeline.TransitionError{Subject: "run", From: string(from), To: string(to)}
}
