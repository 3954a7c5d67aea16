package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mercator-hq/saturn/pkg/pipeline"
)

const backendSQLite = "ledger.sqlite"

// SQLiteConfig contains configuration for the SQLite ledger.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 4
	MaxOpenConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/ledger.db",
		MaxOpenConns: 4,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteLedger implements Ledger on SQLite.
type SQLiteLedger struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteLedger opens (creating if needed) the ledger database.
func NewSQLiteLedger(config *SQLiteConfig) (*SQLiteLedger, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Path == "" {
		return nil, pipeline.NewStoreError(backendSQLite, "open", fmt.Errorf("db path cannot be empty"))
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 4
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "ledger.sqlite")

	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, pipeline.NewStoreError(backendSQLite, "mkdir", err)
		}
	}

	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprintf("%d", config.BusyTimeout.Milliseconds()))
	params.Set("_synchronous", "FULL")
	params.Set("_foreign_keys", "on")
	if config.WALMode {
		params.Set("_journal_mode", "WAL")
	}

	db, err := sql.Open("sqlite3", "file:"+config.Path+"?"+params.Encode())
	if err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "open", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	l := &SQLiteLedger{
		db:     db,
		config: config,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := l.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite ledger initialized", "path", config.Path, "wal_mode", config.WALMode)
	return l, nil
}

func (l *SQLiteLedger) initialize() error {
	if _, err := l.db.Exec(Schema); err != nil {
		return pipeline.NewStoreError(backendSQLite, "create_schema", err)
	}
	if _, err := l.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return pipeline.NewStoreError(backendSQLite, "insert_schema_version", err)
	}

	var version sql.NullInt64
	if err := l.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil {
		return pipeline.NewStoreError(backendSQLite, "get_schema_version", err)
	}
	if version.Int64 != SchemaVersion {
		return pipeline.NewStoreError(backendSQLite, "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version.Int64))
	}
	return nil
}

// RegisterClaim implements Ledger.
func (l *SQLiteLedger) RegisterClaim(ctx context.Context, claim *Claim) (string, error) {
	if err := prepareClaim(claim, l.now()); err != nil {
		return "", err
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO claims (id, run_id, text, source, created_at) VALUES (?, ?, ?, ?, ?)`,
		claim.ID, claim.RunID, claim.Text, claim.Source, claim.CreatedAt.UnixNano())
	if err != nil {
		return "", pipeline.NewStoreError(backendSQLite, "register_claim", err)
	}
	return claim.ID, nil
}

// RegisterCitation implements Ledger.
func (l *SQLiteLedger) RegisterCitation(ctx context.Context, citation *Citation) (string, error) {
	if err := prepareCitation(citation, l.now()); err != nil {
		return "", err
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO citations (id, run_id, cite_key, title, doi, year, resolved, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		citation.ID, citation.RunID, citation.Key, citation.Title, citation.DOI, citation.Year,
		citation.Resolved, citation.CreatedAt.UnixNano())
	if err != nil {
		return "", pipeline.NewStoreError(backendSQLite, "register_citation", err)
	}
	return citation.ID, nil
}

// LinkEvidence implements Ledger.
func (l *SQLiteLedger) LinkEvidence(ctx context.Context, evidence *Evidence) (string, error) {
	if err := prepareEvidence(evidence, l.now()); err != nil {
		return "", err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return "", pipeline.NewStoreError(backendSQLite, "link_evidence", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM claims WHERE id = ? AND run_id = ?`, evidence.ClaimID, evidence.RunID).Scan(&n); err != nil {
		return "", pipeline.NewStoreError(backendSQLite, "link_evidence", err)
	}
	if n == 0 {
		return "", fmt.Errorf("%w: %s", ErrClaimNotFound, evidence.ClaimID)
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM citations WHERE id = ? AND run_id = ?`, evidence.CitationID, evidence.RunID).Scan(&n); err != nil {
		return "", pipeline.NewStoreError(backendSQLite, "link_evidence", err)
	}
	if n == 0 {
		return "", fmt.Errorf("%w: %s", ErrCitationNotFound, evidence.CitationID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO evidence (id, run_id, claim_id, citation_id, excerpt, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		evidence.ID, evidence.RunID, evidence.ClaimID, evidence.CitationID, evidence.Excerpt, evidence.CreatedAt.UnixNano())
	if err != nil {
		return "", pipeline.NewStoreError(backendSQLite, "link_evidence", err)
	}
	if err := tx.Commit(); err != nil {
		return "", pipeline.NewStoreError(backendSQLite, "link_evidence", err)
	}
	return evidence.ID, nil
}

// UnresolvedClaims implements Ledger.
func (l *SQLiteLedger) UnresolvedClaims(ctx context.Context, runID string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT c.id FROM claims c
		WHERE c.run_id = ?
		  AND NOT EXISTS (
		    SELECT 1 FROM evidence e
		    JOIN citations ci ON ci.id = e.citation_id
		    WHERE e.claim_id = c.id AND ci.resolved = 1
		  )
		ORDER BY c.id`, runID)
	if err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "unresolved_claims", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, pipeline.NewStoreError(backendSQLite, "unresolved_claims", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "unresolved_claims", err)
	}
	return ids, nil
}

// Claims implements Ledger.
func (l *SQLiteLedger) Claims(ctx context.Context, runID string) ([]*Claim, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, run_id, text, source, created_at FROM claims WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "claims", err)
	}
	defer rows.Close()

	var out []*Claim
	for rows.Next() {
		var c Claim
		var created int64
		if err := rows.Scan(&c.ID, &c.RunID, &c.Text, &c.Source, &created); err != nil {
			return nil, pipeline.NewStoreError(backendSQLite, "claims", err)
		}
		c.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "claims", err)
	}
	return out, nil
}

// Citations implements Ledger.
func (l *SQLiteLedger) Citations(ctx context.Context, runID string) ([]*Citation, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, run_id, cite_key, title, doi, year, resolved, created_at FROM citations WHERE run_id = ? ORDER BY cite_key`, runID)
	if err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "citations", err)
	}
	defer rows.Close()

	var out []*Citation
	for rows.Next() {
		var c Citation
		var created int64
		if err := rows.Scan(&c.ID, &c.RunID, &c.Key, &c.Title, &c.DOI, &c.Year, &c.Resolved, &created); err != nil {
			return nil, pipeline.NewStoreError(backendSQLite, "citations", err)
		}
		c.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "citations", err)
	}
	return out, nil
}

// Evidence implements Ledger.
func (l *SQLiteLedger) Evidence(ctx context.Context, runID string) ([]*Evidence, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, run_id, claim_id, citation_id, excerpt, created_at FROM evidence WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "evidence", err)
	}
	defer rows.Close()

	var out []*Evidence
	for rows.Next() {
		var e Evidence
		var created int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.ClaimID, &e.CitationID, &e.Excerpt, &created); err != nil {
			return nil, pipeline.NewStoreError(backendSQLite, "evidence", err)
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, pipeline.NewStoreError(backendSQLite, "evidence", err)
	}
	return out, nil
}

// Ping checks that the database is reachable.
func (l *SQLiteLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the database.
func (l *SQLiteLedger) Close() error {
	if err := l.db.Close(); err != nil {
		return pipeline.NewStoreError(backendSQLite, "close", err)
	}
	return nil
}
