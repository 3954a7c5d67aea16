package checkpoint

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the checkpoint database schema.
const Schema = `
-- Runs. Status is the only column updated after insert.
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    topic TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    config_hash TEXT NOT NULL,
    status TEXT NOT NULL,
    pause_reason TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    supersedes TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

-- Phase completion markers
CREATE TABLE IF NOT EXISTS phase_checkpoints (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    phase TEXT NOT NULL,
    item_count INTEGER NOT NULL,
    completed_at INTEGER NOT NULL,
    UNIQUE (run_id, phase)
);

-- Immutable per-item records
CREATE TABLE IF NOT EXISTS item_records (
    run_id TEXT NOT NULL,
    phase TEXT NOT NULL,
    item_id TEXT NOT NULL,
    role TEXT NOT NULL,
    decision TEXT NOT NULL DEFAULT '',
    payload BLOB,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (run_id, phase, item_id, role)
);

CREATE INDEX IF NOT EXISTS idx_item_records_role ON item_records(run_id, phase, role);

-- Consensus results
CREATE TABLE IF NOT EXISTS consensus_results (
    run_id TEXT NOT NULL,
    phase TEXT NOT NULL,
    item_id TEXT NOT NULL,
    decision TEXT NOT NULL,
    agreement BOOLEAN NOT NULL,
    arbitrated BOOLEAN NOT NULL,
    ambiguous BOOLEAN NOT NULL,
    reviewer_a_role TEXT NOT NULL,
    reviewer_b_role TEXT NOT NULL,
    arbiter_role TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    PRIMARY KEY (run_id, phase, item_id)
);

-- Append-only gate audit trail
CREATE TABLE IF NOT EXISTS gate_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    phase TEXT NOT NULL,
    gate TEXT NOT NULL,
    status TEXT NOT NULL,
    blocking BOOLEAN NOT NULL,
    threshold REAL,
    observed REAL,
    message TEXT NOT NULL DEFAULT '',
    evaluated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_gate_results_run ON gate_results(run_id, phase);

-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

// InsertSchemaVersion records the current schema version.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, ?)
ON CONFLICT(version) DO NOTHING;
`
