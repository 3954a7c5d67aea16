package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/saturn/pkg/pipeline"
)

const backendSQLite = "sqlite"

// SQLiteConfig configures the SQLite checkpoint store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long to wait for locks held by other processes.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:        "data/checkpoints.db",
		BusyTimeout: 5 * time.Second,
		WALMode:     true,
	}
}

// SQLiteStore implements Store on SQLite. Every write runs with
// synchronous=FULL so that it is on disk when the call returns.
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger

	recordItemStmt *sql.Stmt
	processedStmt  *sql.Stmt
}

// NewSQLiteStore opens (creating if needed) the checkpoint database.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Path == "" {
		return nil, pipeline.NewStoreError(backendSQLite, "open", fmt.Errorf("db path cannot be empty"))
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5 * time.Second
	}

	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", config.BusyTimeout.Milliseconds()),
		"_pragma=synchronous(FULL)",
	}
	if config.WALMode {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	dsn := "file:" + config.Path + "?" + strings.Join(pragmas, "&")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "open", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:     db,
		config: config,
		logger: slog.Default().With("component", "checkpoint.sqlite"),
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("checkpoint store initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
		"busy_timeout", config.BusyTimeout,
	)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return pipeline.NewStoreError(backendSQLite, "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion, time.Now().UnixNano()); err != nil {
		return pipeline.NewStoreError(backendSQLite, "insert_schema_version", err)
	}

	var err error
	s.recordItemStmt, err = s.db.Prepare(`
		INSERT INTO item_records (run_id, phase, item_id, role, decision, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, phase, item_id, role) DO NOTHING
	`)
	if err != nil {
		return pipeline.NewStoreError(backendSQLite, "prepare_record_item", err)
	}

	s.processedStmt, err = s.db.Prepare(`
		SELECT item_id FROM item_records WHERE run_id = ? AND phase = ? AND role = ?
	`)
	if err != nil {
		return pipeline.NewStoreError(backendSQLite, "prepare_processed_ids", err)
	}
	return nil
}

// CreateRun implements Store.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *pipeline.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, topic, fingerprint, config_hash, status, pause_reason, detail, supersedes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Topic, run.Fingerprint, run.ConfigHash, string(run.Status), string(run.PauseReason),
		run.Detail, run.Supersedes, run.CreatedAt.UnixNano(), run.UpdatedAt.UnixNano())
	if err != nil {
		return pipeline.NewStoreError(backendSQLite, "create_run", err)
	}
	return nil
}

const runColumns = `id, topic, fingerprint, config_hash, status, pause_reason, detail, supersedes, created_at, updated_at`

func scanRun(scan func(dest ...any) error) (*pipeline.Run, error) {
	var (
		run                  pipeline.Run
		status, reason       string
		createdAt, updatedAt int64
	)
	if err := scan(&run.ID, &run.Topic, &run.Fingerprint, &run.ConfigHash, &status, &reason,
		&run.Detail, &run.Supersedes, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	run.Status = pipeline.RunStatus(status)
	run.PauseReason = pipeline.PauseReason(reason)
	run.CreatedAt = time.Unix(0, createdAt).UTC()
	run.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &run, nil
}

// GetRun implements Store.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*pipeline.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "get_run", err)
	}
	return run, nil
}

// ListRuns implements Store.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*pipeline.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if filter.Fingerprint != "" {
		query += ` AND fingerprint = ?`
		args = append(args, filter.Fingerprint)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.PauseReason != "" {
		query += ` AND pause_reason = ?`
		args = append(args, string(filter.PauseReason))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "list_runs", err)
	}
	defer rows.Close()

	var runs []*pipeline.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, pipeline.NewStoreError(backendSQLite, "scan_run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "list_runs", err)
	}
	return runs, nil
}

// LatestRun implements Store.
func (s *SQLiteStore) LatestRun(ctx context.Context, fingerprint string) (*pipeline.Run, error) {
	runs, err := s.ListRuns(ctx, RunFilter{Fingerprint: fingerprint, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: fingerprint %s", pipeline.ErrRunNotFound, fingerprint)
	}
	return runs[0], nil
}

// TransitionRun implements Store.
func (s *SQLiteStore) TransitionRun(ctx context.Context, runID string, from, to pipeline.RunStatus, update RunUpdate) error {
	if !from.CanTransition(to) {
		return transitionErr(from, to)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, pause_reason = ?, detail = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), string(update.PauseReason), update.Detail, time.Now().UnixNano(), runID, string(from))
	if err != nil {
		return pipeline.NewStoreError(backendSQLite, "transition_run", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return pipeline.NewStoreError(backendSQLite, "transition_run", err)
	}
	if n == 1 {
		return nil
	}

	current, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	return transitionErr(current.Status, to)
}

// MarkPhaseComplete implements Store.
func (s *SQLiteStore) MarkPhaseComplete(ctx context.Context, runID, phase string, itemCount int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO phase_checkpoints (run_id, phase, item_count, completed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (run_id, phase) DO NOTHING
	`, runID, phase, itemCount, time.Now().UnixNano())
	if err != nil {
		return pipeline.NewStoreError(backendSQLite, "mark_phase_complete", err)
	}
	return nil
}

// IsPhaseComplete implements Store.
func (s *SQLiteStore) IsPhaseComplete(ctx context.Context, runID, phase string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM phase_checkpoints WHERE run_id = ? AND phase = ?`, runID, phase).Scan(&n)
	if err != nil {
		return false, pipeline.NewStoreError(backendSQLite, "is_phase_complete", err)
	}
	return n > 0, nil
}

// PhaseCheckpoints implements Store.
func (s *SQLiteStore) PhaseCheckpoints(ctx context.Context, runID string) ([]pipeline.PhaseCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, phase, item_count, completed_at FROM phase_checkpoints
		WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "phase_checkpoints", err)
	}
	defer rows.Close()

	var out []pipeline.PhaseCheckpoint
	for rows.Next() {
		var (
			cp pipeline.PhaseCheckpoint
			ts int64
		)
		if err := rows.Scan(&cp.RunID, &cp.Phase, &cp.ItemCount, &ts); err != nil {
			return nil, pipeline.NewStoreError(backendSQLite, "scan_phase_checkpoint", err)
		}
		cp.CompletedAt = time.Unix(0, ts).UTC()
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "phase_checkpoints", err)
	}
	return out, nil
}

// RecordItemProcessed implements Store.
func (s *SQLiteStore) RecordItemProcessed(ctx context.Context, record *pipeline.ItemRecord) error {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.recordItemStmt.ExecContext(ctx, record.RunID, record.Phase, record.ItemID, string(record.Role),
		record.Decision, []byte(record.Payload), createdAt.UnixNano())
	if err != nil {
		return pipeline.NewStoreError(backendSQLite, "record_item", err)
	}
	return nil
}

func scanItemRecord(scan func(dest ...any) error) (*pipeline.ItemRecord, error) {
	var (
		rec     pipeline.ItemRecord
		role    string
		payload []byte
		ts      int64
	)
	if err := scan(&rec.RunID, &rec.Phase, &rec.ItemID, &role, &rec.Decision, &payload, &ts); err != nil {
		return nil, err
	}
	rec.Role = pipeline.Role(role)
	if len(payload) > 0 {
		rec.Payload = payload
	}
	rec.CreatedAt = time.Unix(0, ts).UTC()
	return &rec, nil
}

// ItemRecord implements Store.
func (s *SQLiteStore) ItemRecord(ctx context.Context, key pipeline.RecordKey) (*pipeline.ItemRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, phase, item_id, role, decision, payload, created_at FROM item_records
		WHERE run_id = ? AND phase = ? AND item_id = ? AND role = ?
	`, key.RunID, key.Phase, key.ItemID, string(key.Role))
	rec, err := scanItemRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, pipeline.NewStoreError(backendSQLite, "item_record", err)
	}
	return rec, true, nil
}

// ItemRecords implements Store.
func (s *SQLiteStore) ItemRecords(ctx context.Context, runID, phase string, role pipeline.Role) ([]*pipeline.ItemRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, phase, item_id, role, decision, payload, created_at FROM item_records
		WHERE run_id = ? AND phase = ? AND role = ? ORDER BY item_id
	`, runID, phase, string(role))
	if err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "item_records", err)
	}
	defer rows.Close()

	var out []*pipeline.ItemRecord
	for rows.Next() {
		rec, err := scanItemRecord(rows.Scan)
		if err != nil {
			return nil, pipeline.NewStoreError(backendSQLite, "scan_item_record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "item_records", err)
	}
	return out, nil
}

// ProcessedItemIDs implements Store.
func (s *SQLiteStore) ProcessedItemIDs(ctx context.Context, runID, phase string) (map[string]struct{}, error) {
	rows, err := s.processedStmt.QueryContext(ctx, runID, phase, string(pipeline.RolePrimary))
	if err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "processed_ids", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, pipeline.NewStoreError(backendSQLite, "scan_processed_id", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "processed_ids", err)
	}
	return ids, nil
}

// SaveConsensus implements Store.
func (s *SQLiteStore) SaveConsensus(ctx context.Context, result *pipeline.ConsensusResult) error {
	arbiter := ""
	if result.Arbiter != nil {
		arbiter = string(result.Arbiter.Role)
	}
	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consensus_results (run_id, phase, item_id, decision, agreement, arbitrated, ambiguous,
			reviewer_a_role, reviewer_b_role, arbiter_role, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, phase, item_id) DO NOTHING
	`, result.RunID, result.Phase, result.ItemID, result.Decision, result.Agreement, result.Arbitrated,
		result.Ambiguous, string(result.ReviewerA.Role), string(result.ReviewerB.Role), arbiter, createdAt.UnixNano())
	if err != nil {
		return pipeline.NewStoreError(backendSQLite, "save_consensus", err)
	}
	return nil
}

// ConsensusResults implements Store.
func (s *SQLiteStore) ConsensusResults(ctx context.Context, runID, phase string) ([]*pipeline.ConsensusResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, phase, item_id, decision, agreement, arbitrated, ambiguous,
			reviewer_a_role, reviewer_b_role, arbiter_role, created_at
		FROM consensus_results WHERE run_id = ? AND phase = ? ORDER BY item_id
	`, runID, phase)
	if err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "consensus_results", err)
	}
	defer rows.Close()

	var out []*pipeline.ConsensusResult
	for rows.Next() {
		var (
			r                     pipeline.ConsensusResult
			roleA, roleB, arbiter string
			ts                    int64
		)
		if err := rows.Scan(&r.RunID, &r.Phase, &r.ItemID, &r.Decision, &r.Agreement, &r.Arbitrated,
			&r.Ambiguous, &roleA, &roleB, &arbiter, &ts); err != nil {
			return nil, pipeline.NewStoreError(backendSQLite, "scan_consensus", err)
		}
		r.ReviewerA = pipeline.RecordKey{RunID: r.RunID, Phase: r.Phase, ItemID: r.ItemID, Role: pipeline.Role(roleA)}
		r.ReviewerB = pipeline.RecordKey{RunID: r.RunID, Phase: r.Phase, ItemID: r.ItemID, Role: pipeline.Role(roleB)}
		if arbiter != "" {
			r.Arbiter = &pipeline.RecordKey{RunID: r.RunID, Phase: r.Phase, ItemID: r.ItemID, Role: pipeline.Role(arbiter)}
		}
		r.CreatedAt = time.Unix(0, ts).UTC()
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "consensus_results", err)
	}
	return out, nil
}

// nullableFloat maps NaN to NULL, which SQLite cannot store as REAL.
func nullableFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// AppendGateResult implements Store.
func (s *SQLiteStore) AppendGateResult(ctx context.Context, result *pipeline.GateResult) error {
	evaluatedAt := result.EvaluatedAt
	if evaluatedAt.IsZero() {
		evaluatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO gate_results (run_id, phase, gate, status, blocking, threshold, observed, message, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, result.RunID, result.Phase, result.Gate, string(result.Status), result.Blocking,
		nullableFloat(result.Threshold), nullableFloat(result.Observed), result.Message, evaluatedAt.UnixNano())
	if err != nil {
		return pipeline.NewStoreError(backendSQLite, "append_gate_result", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		result.ID = id
	}
	return nil
}

// GateResults implements Store.
func (s *SQLiteStore) GateResults(ctx context.Context, runID, phase string) ([]*pipeline.GateResult, error) {
	query := `
		SELECT id, run_id, phase, gate, status, blocking, threshold, observed, message, evaluated_at
		FROM gate_results WHERE run_id = ?`
	args := []any{runID}
	if phase != "" {
		query += ` AND phase = ?`
		args = append(args, phase)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "gate_results", err)
	}
	defer rows.Close()

	var out []*pipeline.GateResult
	for rows.Next() {
		var (
			r                   pipeline.GateResult
			status              string
			threshold, observed sql.NullFloat64
			ts                  int64
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Phase, &r.Gate, &status, &r.Blocking,
			&threshold, &observed, &r.Message, &ts); err != nil {
			return nil, pipeline.NewStoreError(backendSQLite, "scan_gate_result", err)
		}
		r.Status = pipeline.GateStatus(status)
		r.Threshold = floatOrNaN(threshold)
		r.Observed = floatOrNaN(observed)
		r.EvaluatedAt = time.Unix(0, ts).UTC()
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "gate_results", err)
	}
	return out, nil
}

// Close closes prepared statements and the database.
func (s *SQLiteStore) Close() error {
	if s.recordItemStmt != nil {
		s.recordItemStmt.Close()
	}
	if s.processedStmt != nil {
		s.processedStmt.Close()
	}
	if err := s.db.Close(); err != nil {
		return pipeline.NewStoreError(backendSQLite, "close", err)
	}
	return nil
}
