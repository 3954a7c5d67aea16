package pipeline

import "sync"

// PhaseState is the execution state of one phase within a run.
type PhaseState string

const (
	PhasePending   PhaseState = "pending"
	PhaseRunning   PhaseState = "running"
	PhaseGateCheck PhaseState = "gate_check"
	PhaseCompleted PhaseState = "completed"
	PhasePaused    PhaseState = "paused"
	PhaseFailed    PhaseState = "failed"
)

var phaseTransitions = map[PhaseState][]PhaseState{
	PhasePending:   {PhaseRunning},
	PhaseRunning:   {PhaseGateCheck, PhasePaused, PhaseFailed},
	PhaseGateCheck: {PhaseCompleted, PhasePaused, PhaseFailed},
	PhasePaused:    {PhaseRunning},
	PhaseFailed:    {PhaseRunning},
	PhaseCompleted: nil,
}

var runTransitions = map[RunStatus][]RunStatus{
	RunRunning:   {RunPaused, RunCompleted, RunFailed},
	RunPaused:    {RunRunning, RunFailed},
	RunFailed:    {RunRunning},
	RunCompleted: nil,
}

// CanTransition reports whether a phase may move from s to next.
func (s PhaseState) CanTransition(next PhaseState) bool {
	for _, allowed := range phaseTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible without a new
// execution attempt.
func (s PhaseState) Terminal() bool {
	return s == PhaseCompleted || s == PhasePaused || s == PhaseFailed
}

// CanTransition reports whether a run may move from s to next.
func (s RunStatus) CanTransition(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PhaseMachine tracks the state of one phase execution. It is safe for
// concurrent use.
type PhaseMachine struct {
	mu      sync.Mutex
	phase   string
	state   PhaseState
	history []PhaseState
	onEnter func(phase string, state PhaseState)
}

// NewPhaseMachine returns a machine in PhasePending. onEnter, if non-nil, is
// called after every successful transition.
func NewPhaseMachine(phase string, onEnter func(phase string, state PhaseState)) *PhaseMachine {
	return &PhaseMachine{
		phase:   phase,
		state:   PhasePending,
		history: []PhaseState{PhasePending},
		onEnter: onEnter,
	}
}

// State returns the current state.
func (m *PhaseMachine) State() PhaseState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns every state the machine has been in, oldest first.
func (m *PhaseMachine) History() []PhaseState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PhaseState, len(m.history))
	copy(out, m.history)
	return out
}

// Transition moves the machine to next or returns a TransitionError.
func (m *PhaseMachine) Transition(next PhaseState) error {
	m.mu.Lock()
	if !m.state.CanTransition(next) {
		from := m.state
		m.mu.Unlock()
		return &TransitionError{Subject: "phase", From: string(from), To: string(next)}
	}
	m.state = next
	m.history = append(m.history, next)
	hook := m.onEnter
	m.mu.Unlock()

	if hook != nil {
		hook(m.phase, next)
	}
	return nil
}
