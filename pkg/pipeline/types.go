package pipeline

import (
	"context"
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle status of a Run.
type RunStatus string

const (
	// RunRunning means a driver is (or was, before a crash) advancing the run.
	RunRunning RunStatus = "running"
	// RunPaused means the run stopped in a resumable state.
	RunPaused RunStatus = "paused"
	// RunCompleted means every phase checkpoint exists.
	RunCompleted RunStatus = "completed"
	// RunFailed means the run hit a fault that needs manual intervention.
	RunFailed RunStatus = "failed"
)

// PauseReason records why a run entered RunPaused.
type PauseReason string

const (
	PauseNone        PauseReason = ""
	PauseGate        PauseReason = "gate"
	PauseInterrupted PauseReason = "interrupted"
	PauseOperator    PauseReason = "operator"
)

// Run identifies one pipeline execution.
type Run struct {
	// ID is a UUID v4.
	ID string `json:"id"`

	// Topic is the human-readable scope of the run.
	Topic string `json:"topic"`

	// Fingerprint is the SHA-256 of the normalised topic. Runs sharing a
	// fingerprint supersede one another.
	Fingerprint string `json:"fingerprint"`

	// ConfigHash is the SHA-256 of the run-relevant configuration.
	ConfigHash string `json:"config_hash"`

	// Status is the current lifecycle status.
	Status RunStatus `json:"status"`

	// PauseReason is set while Status is RunPaused.
	PauseReason PauseReason `json:"pause_reason,omitempty"`

	// Detail carries the failure or pause message for operators.
	Detail string `json:"detail,omitempty"`

	// Supersedes is the ID of the latest earlier run with the same fingerprint.
	Supersedes string `json:"supersedes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PhaseCheckpoint marks a phase as complete for a run.
type PhaseCheckpoint struct {
	RunID       string    `json:"run_id"`
	Phase       string    `json:"phase"`
	ItemCount   int       `json:"item_count"`
	CompletedAt time.Time `json:"completed_at"`
}

// Role tags which producer wrote an ItemRecord.
type Role string

const (
	// RolePrimary is the record that marks an item as processed for a phase.
	RolePrimary Role = "primary"
	// RoleReviewerA is the inclusion-leaning reviewer.
	RoleReviewerA Role = "reviewer_a"
	// RoleReviewerB is the exclusion-leaning reviewer.
	RoleReviewerB Role = "reviewer_b"
	// RoleArbiter is the higher-authority reviewer consulted on escalation.
	RoleArbiter Role = "arbiter"
)

// RecordKey uniquely identifies an ItemRecord.
type RecordKey struct {
	RunID  string `json:"run_id"`
	Phase  string `json:"phase"`
	ItemID string `json:"item_id"`
	Role   Role   `json:"role"`
}

// ItemRecord is the immutable, phase-specific result for one item.
type ItemRecord struct {
	RunID     string          `json:"run_id"`
	Phase     string          `json:"phase"`
	ItemID    string          `json:"item_id"`
	Role      Role            `json:"role"`
	Decision  string          `json:"decision,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Key returns the record's unique key.
func (r *ItemRecord) Key() RecordKey {
	return RecordKey{RunID: r.RunID, Phase: r.Phase, ItemID: r.ItemID, Role: r.Role}
}

// ConsensusResult is the merged outcome of two independent judgments plus the
// optional arbitration. It references the exact records it was derived from.
type ConsensusResult struct {
	RunID      string     `json:"run_id"`
	Phase      string     `json:"phase"`
	ItemID     string     `json:"item_id"`
	Decision   string     `json:"decision"`
	Agreement  bool       `json:"agreement"`
	Arbitrated bool       `json:"arbitrated"`
	Ambiguous  bool       `json:"ambiguous"`
	ReviewerA  RecordKey  `json:"reviewer_a"`
	ReviewerB  RecordKey  `json:"reviewer_b"`
	Arbiter    *RecordKey `json:"arbiter,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// GateStatus is the outcome of one gate or of a phase's gate set.
type GateStatus string

const (
	GatePass GateStatus = "pass"
	GateWarn GateStatus = "warn"
	GateFail GateStatus = "fail"
)

// GateResult is one row of the append-only gate audit trail.
type GateResult struct {
	ID          int64      `json:"id,omitempty"`
	RunID       string     `json:"run_id"`
	Phase       string     `json:"phase"`
	Gate        string     `json:"gate"`
	Status      GateStatus `json:"status"`
	Blocking    bool       `json:"blocking"`
	Threshold   float64    `json:"threshold"`
	Observed    float64    `json:"observed"`
	Message     string     `json:"message,omitempty"`
	EvaluatedAt time.Time  `json:"evaluated_at"`
}

// Item is one unit of work for an item-granular phase.
type Item struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Result is what a computation returns for an item or a whole phase.
type Result struct {
	Decision string          `json:"decision,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Computation computes the result for a single item. Implementations must be
// idempotent.
type Computation interface {
	Compute(ctx context.Context, item Item) (Result, error)
}

// ComputeFunc adapts a function to the Computation interface.
type ComputeFunc func(ctx context.Context, item Item) (Result, error)

// Compute calls f(ctx, item).
func (f ComputeFunc) Compute(ctx context.Context, item Item) (Result, error) {
	return f(ctx, item)
}

// PhaseFunc performs whole-phase (non item-granular) work for a run.
type PhaseFunc func(ctx context.Context, run *Run) error

// Granularity selects how a phase is checkpointed.
type Granularity int

const (
	// PerItem phases checkpoint each item independently.
	PerItem Granularity = iota
	// WholePhase phases checkpoint once on success.
	WholePhase
)

// String returns the granularity name.
func (g Granularity) String() string {
	switch g {
	case PerItem:
		return "item"
	case WholePhase:
		return "whole"
	default:
		return "unknown"
	}
}

// MarshalPayload encodes v as a record payload. A nil value yields a nil payload.
func MarshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}
