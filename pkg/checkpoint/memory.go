package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mercator-hq/saturn/pkg/pipeline"
)

type phaseKey struct {
	runID string
	phase string
}

type consensusKey struct {
	runID  string
	phase  string
	itemID string
}

// MemoryStore implements Store in memory. It is intended for tests and dry
// runs; nothing survives the process.
type MemoryStore struct {
	mu sync.RWMutex

	runs        map[string]*pipeline.Run
	runOrder    []string
	checkpoints map[string][]pipeline.PhaseCheckpoint
	records     map[pipeline.RecordKey]*pipeline.ItemRecord
	consensus   map[consensusKey]*pipeline.ConsensusResult
	gates       []*pipeline.GateResult
	nextGateID  int64
	closed      bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        make(map[string]*pipeline.Run),
		checkpoints: make(map[string][]pipeline.PhaseCheckpoint),
		records:     make(map[pipeline.RecordKey]*pipeline.ItemRecord),
		consensus:   make(map[consensusKey]*pipeline.ConsensusResult),
	}
}

func (s *MemoryStore) checkOpen(op string) error {
	if s.closed {
		return pipeline.NewStoreError("memory", op, fmt.Errorf("store is closed"))
	}
	return nil
}

// CreateRun implements Store.
func (s *MemoryStore) CreateRun(ctx context.Context, run *pipeline.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("create_run"); err != nil {
		return err
	}
	if _, exists := s.runs[run.ID]; exists {
		return pipeline.NewStoreError("memory", "create_run", fmt.Errorf("run %s already exists", run.ID))
	}
	runCopy := *run
	s.runs[run.ID] = &runCopy
	s.runOrder = append(s.runOrder, run.ID)
	return nil
}

// GetRun implements Store.
func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*pipeline.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrRunNotFound, runID)
	}
	runCopy := *run
	return &runCopy, nil
}

// ListRuns implements Store.
func (s *MemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]*pipeline.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*pipeline.Run
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		run := s.runs[s.runOrder[i]]
		if filter.Fingerprint != "" && run.Fingerprint != filter.Fingerprint {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.PauseReason != "" && run.PauseReason != filter.PauseReason {
			continue
		}
		runCopy := *run
		out = append(out, &runCopy)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// LatestRun implements Store.
func (s *MemoryStore) LatestRun(ctx context.Context, fingerprint string) (*pipeline.Run, error) {
	runs, _ := s.ListRuns(ctx, RunFilter{Fingerprint: fingerprint, Limit: 1})
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: fingerprint %s", pipeline.ErrRunNotFound, fingerprint)
	}
	return runs[0], nil
}

// TransitionRun implements Store.
func (s *MemoryStore) TransitionRun(ctx context.Context, runID string, from, to pipeline.RunStatus, update RunUpdate) error {
	if !from.CanTransition(to) {
		return transitionErr(from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("transition_run"); err != nil {
		return err
	}
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", pipeline.ErrRunNotFound, runID)
	}
	if run.Status != from {
		return transitionErr(run.Status, to)
	}
	run.Status = to
	run.PauseReason = update.PauseReason
	run.Detail = update.Detail
	run.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkPhaseComplete implements Store.
func (s *MemoryStore) MarkPhaseComplete(ctx context.Context, runID, phase string, itemCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("mark_phase_complete"); err != nil {
		return err
	}
	for _, cp := range s.checkpoints[runID] {
		if cp.Phase == phase {
			return nil
		}
	}
	s.checkpoints[runID] = append(s.checkpoints[runID], pipeline.PhaseCheckpoint{
		RunID:       runID,
		Phase:       phase,
		ItemCount:   itemCount,
		CompletedAt: time.Now().UTC(),
	})
	return nil
}

// IsPhaseComplete implements Store.
func (s *MemoryStore) IsPhaseComplete(ctx context.Context, runID, phase string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cp := range s.checkpoints[runID] {
		if cp.Phase == phase {
			return true, nil
		}
	}
	return false, nil
}

// PhaseCheckpoints implements Store.
func (s *MemoryStore) PhaseCheckpoints(ctx context.Context, runID string) ([]pipeline.PhaseCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.PhaseCheckpoint, len(s.checkpoints[runID]))
	copy(out, s.checkpoints[runID])
	return out, nil
}

// RecordItemProcessed implements Store.
func (s *MemoryStore) RecordItemProcessed(ctx context.Context, record *pipeline.ItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("record_item"); err != nil {
		return err
	}
	key := record.Key()
	if _, exists := s.records[key]; exists {
		return nil
	}
	recCopy := *record
	if recCopy.CreatedAt.IsZero() {
		recCopy.CreatedAt = time.Now().UTC()
	}
	s.records[key] = &recCopy
	return nil
}

// ItemRecord implements Store.
func (s *MemoryStore) ItemRecord(ctx context.Context, key pipeline.RecordKey) (*pipeline.ItemRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, false, nil
	}
	recCopy := *rec
	return &recCopy, true, nil
}

// ItemRecords implements Store.
func (s *MemoryStore) ItemRecords(ctx context.Context, runID, phase string, role pipeline.Role) ([]*pipeline.ItemRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*pipeline.ItemRecord
	for key, rec := range s.records {
		if key.RunID == runID && key.Phase == phase && key.Role == role {
			recCopy := *rec
			out = append(out, &recCopy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

// ProcessedItemIDs implements Store.
func (s *MemoryStore) ProcessedItemIDs(ctx context.Context, runID, phase string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]struct{})
	for key := range s.records {
		if key.RunID == runID && key.Phase == phase && key.Role == pipeline.RolePrimary {
			ids[key.ItemID] = struct{}{}
		}
	}
	return ids, nil
}

// SaveConsensus implements Store.
func (s *MemoryStore) SaveConsensus(ctx context.Context, result *pipeline.ConsensusResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("save_consensus"); err != nil {
		return err
	}
	key := consensusKey{runID: result.RunID, phase: result.Phase, itemID: result.ItemID}
	if _, exists := s.consensus[key]; exists {
		return nil
	}
	resCopy := *result
	if resCopy.Arbiter != nil {
		arbiter := *resCopy.Arbiter
		resCopy.Arbiter = &arbiter
	}
	if resCopy.CreatedAt.IsZero() {
		resCopy.CreatedAt = time.Now().UTC()
	}
	s.consensus[key] = &resCopy
	return nil
}

// ConsensusResults implements Store.
func (s *MemoryStore) ConsensusResults(ctx context.Context, runID, phase string) ([]*pipeline.ConsensusResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*pipeline.ConsensusResult
	for key, res := range s.consensus {
		if key.runID == runID && key.phase == phase {
			resCopy := *res
			out = append(out, &resCopy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

// AppendGateResult implements Store.
func (s *MemoryStore) AppendGateResult(ctx context.Context, result *pipeline.GateResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("append_gate_result"); err != nil {
		return err
	}
	s.nextGateID++
	result.ID = s.nextGateID
	resCopy := *result
	if resCopy.EvaluatedAt.IsZero() {
		resCopy.EvaluatedAt = time.Now().UTC()
	}
	s.gates = append(s.gates, &resCopy)
	return nil
}

// GateResults implements Store.
func (s *MemoryStore) GateResults(ctx context.Context, runID, phase string) ([]*pipeline.GateResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*pipeline.GateResult
	for _, res := range s.gates {
		if res.RunID == runID && (phase == "" || res.Phase == phase) {
			resCopy := *res
			out = append(out, &resCopy)
		}
	}
	return out, nil
}

// Close marks the store closed. Subsequent writes fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
