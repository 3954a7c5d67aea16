package ledger

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the ledger schema.
const Schema = `
CREATE TABLE IF NOT EXISTS claims (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    text TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_run ON claims(run_id);

CREATE TABLE IF NOT EXISTS citations (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    cite_key TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    doi TEXT NOT NULL DEFAULT '',
    year INTEGER NOT NULL DEFAULT 0,
    resolved INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    UNIQUE(run_id, cite_key)
);

CREATE TABLE IF NOT EXISTS evidence (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    claim_id TEXT NOT NULL REFERENCES claims(id),
    citation_id TEXT NOT NULL REFERENCES citations(id),
    excerpt TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evidence_claim ON evidence(claim_id);
CREATE INDEX IF NOT EXISTS idx_evidence_run ON evidence(run_id);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// InsertSchemaVersion records the schema version once.
const InsertSchemaVersion = `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`

// GetSchemaVersion returns the highest applied schema version.
const GetSchemaVersion = `SELECT MAX(version) FROM schema_version`
