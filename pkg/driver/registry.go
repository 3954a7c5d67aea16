package driver

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/saturn/pkg/gate"
	"mercator-hq/saturn/pkg/pipeline"
)

// PhaseSpec declares one phase of the pipeline.
type PhaseSpec struct {
	// Name is the stable identifier persisted in the store.
	Name string

	Granularity pipeline.Granularity

	// Inputs declares the required item set of an item-granular phase.
	Inputs func(ctx context.Context, run *pipeline.Run) ([]pipeline.Item, error)

	// Compute returns the per-item computation bound to a run.
	Compute func(run *pipeline.Run) pipeline.Computation

	// Run performs a whole phase.
	Run pipeline.PhaseFunc

	// Observe adds phase-specific metrics to the gate snapshot. Optional.
	Observe func(ctx context.Context, snap *gate.Snapshot) error

	// Commit runs after every blocking gate passed and before the phase is
	// marked complete. Optional.
	Commit func(ctx context.Context, run *pipeline.Run) error
}

func (s *PhaseSpec) validate() error {
	if s.Name == "" {
		return errors.New("phase name is required")
	}
	switch s.Granularity {
	case pipeline.PerItem:
		if s.Inputs == nil || s.Compute == nil {
			return fmt.Errorf("phase %s: item-granular phases need Inputs and Compute", s.Name)
		}
	case pipeline.WholePhase:
		if s.Run == nil {
			return fmt.Errorf("phase %s: whole phases need Run", s.Name)
		}
	default:
		return fmt.Errorf("phase %s: unknown granularity %d", s.Name, s.Granularity)
	}
	return nil
}

// Registry is the ordered, immutable phase list.
type Registry struct {
	phases []PhaseSpec
	index  map[string]int
}

// NewRegistry validates specs and returns a registry in their order.
func NewRegistry(specs ...PhaseSpec) (*Registry, error) {
	if len(specs) == 0 {
		return nil, errors.New("registry needs at least one phase")
	}
	r := &Registry{index: make(map[string]int, len(specs))}
	for i := range specs {
		if err := specs[i].validate(); err != nil {
			return nil, err
		}
		if _, dup := r.index[specs[i].Name]; dup {
			return nil, fmt.Errorf("duplicate phase %q", specs[i].Name)
		}
		r.index[specs[i].Name] = i
		r.phases = append(r.phases, specs[i])
	}
	return r, nil
}

// Len returns the number of phases.
func (r *Registry) Len() int {
	return len(r.phases)
}

// At returns the i-th phase.
func (r *Registry) At(i int) *PhaseSpec {
	return &r.phases[i]
}

// Lookup returns the phase named name.
func (r *Registry) Lookup(name string) (*PhaseSpec, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return &r.phases[i], true
}

// Names returns the phase names in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.phases))
	for i := range r.phases {
		names[i] = r.phases[i].Name
	}
	return names
}

// resumePoint returns the index of the first phase without a checkpoint.
// Checkpoints that are not a prefix of the registry order are corrupt.
func (r *Registry) resumePoint(runID string, checkpoints []pipeline.PhaseCheckpoint) (int, error) {
	if len(checkpoints) > len(r.phases) {
		return 0, &pipeline.CorruptionError{RunID: runID, Detail: fmt.Sprintf("%d checkpoints for %d phases", len(checkpoints), len(r.phases))}
	}
	for i, cp := range checkpoints {
		if cp.Phase != r.phases[i].Name {
			return 0, &pipeline.CorruptionError{
				RunID:  runID,
				Phase:  cp.Phase,
				Detail: fmt.Sprintf("checkpoint %d is %q, expected %q", i, cp.Phase, r.phases[i].Name),
			}
		}
	}
	return len(checkpoints), nil
}
