package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRunNotFound is returned when a run id does not exist in the store.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFailed is returned when resuming a failed run without force.
	ErrRunFailed = errors.New("run failed and requires manual intervention")

	// ErrRunActive is returned when a run is already executing in this process.
	ErrRunActive = errors.New("run is already executing")

	// ErrInterrupted is returned when execution stopped at a batch boundary
	// because of cancellation or an operator pause.
	ErrInterrupted = errors.New("run interrupted")

	// ErrPermanent marks a computation failure that must not be retried.
	ErrPermanent = errors.New("permanent failure")
)

// Permanent wraps err so that retry loops give up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() []error { return []error{ErrPermanent, e.err} }

// StoreError represents a failure of a persistence backend.
type StoreError struct {
	Backend   string // Storage backend type ("sqlite", "memory")
	Operation string // Operation that failed ("record_item", "mark_phase", ...)
	Cause     error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewStoreError creates a new StoreError.
func NewStoreError(backend, operation string, cause error) *StoreError {
	return &StoreError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// PhaseError represents a whole-phase fault. The phase and the run are failed.
type PhaseError struct {
	RunID string
	Phase string
	Cause error
}

// Error implements the error interface.
func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s failed [run_id=%s]: %v", e.Phase, e.RunID, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *PhaseError) Unwrap() error {
	return e.Cause
}

// GateFailure is the threshold/observed mismatch of one blocking gate.
type GateFailure struct {
	Gate      string
	Threshold float64
	Observed  float64
	Message   string
}

// GateError is returned when a blocking gate failed and the run was paused.
type GateError struct {
	RunID    string
	Phase    string
	Failures []GateFailure
}

// Error implements the error interface.
func (e *GateError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (threshold=%g, observed=%g)", f.Gate, f.Threshold, f.Observed))
	}
	return fmt.Sprintf("blocking gate failed for phase %s [run_id=%s]: %s", e.Phase, e.RunID, strings.Join(parts, "; "))
}

// CorruptionError reports checkpoint state that cannot be trusted for
// resumption. The run is failed rather than guessing.
type CorruptionError struct {
	RunID  string
	Phase  string
	Detail string
}

// Error implements the error interface.
func (e *CorruptionError) Error() string {
	if e.Phase == "" {
		return fmt.Sprintf("corrupt checkpoint state [run_id=%s]: %s", e.RunID, e.Detail)
	}
	return fmt.Sprintf("corrupt checkpoint state [run_id=%s, phase=%s]: %s", e.RunID, e.Phase, e.Detail)
}

// TransitionError reports a state transition outside the allowed table.
type TransitionError struct {
	Subject string // "run" or "phase"
	From    string
	To      string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Subject, e.From, e.To)
}
