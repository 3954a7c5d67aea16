package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mercator-hq/saturn/pkg/config"
)

var (
	// ErrClaimNotFound is returned when linking evidence to an unknown claim.
	ErrClaimNotFound = errors.New("claim not found")

	// ErrCitationNotFound is returned when linking evidence to an unknown citation.
	ErrCitationNotFound = errors.New("citation not found")
)

// namespace scopes the name-based identifiers of ledger entries.
var namespace = uuid.MustParse("6f1c8a3e-54b2-4d0e-9a7f-2c3b1d9e8f40")

// Claim is a statement made by the report.
type Claim struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`
	Text  string `json:"text"`
	// Source is the item the claim was extracted from.
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Citation is a bibliographic reference.
type Citation struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`
	// Key identifies the reference within the run, usually the item id.
	Key       string    `json:"key"`
	Title     string    `json:"title,omitempty"`
	DOI       string    `json:"doi,omitempty"`
	Year      int       `json:"year,omitempty"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
}

// Evidence links a claim to a citation that supports it.
type Evidence struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	ClaimID    string    `json:"claim_id"`
	CitationID string    `json:"citation_id"`
	Excerpt    string    `json:"excerpt,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Ledger is the evidence ledger contract. Implementations are safe for
// concurrent use and keep runs isolated.
type Ledger interface {
	// RegisterClaim records a claim and returns its id.
	RegisterClaim(ctx context.Context, claim *Claim) (string, error)

	// RegisterCitation records a citation and returns its id.
	RegisterCitation(ctx context.Context, citation *Citation) (string, error)

	// LinkEvidence links an existing claim to an existing citation of the
	// same run and returns the link id.
	LinkEvidence(ctx context.Context, evidence *Evidence) (string, error)

	// UnresolvedClaims returns the ids of claims without an evidence link to
	// a resolved citation, sorted.
	UnresolvedClaims(ctx context.Context, runID string) ([]string, error)

	// Claims returns the claims of a run ordered by creation.
	Claims(ctx context.Context, runID string) ([]*Claim, error)

	// Citations returns the citations of a run ordered by key.
	Citations(ctx context.Context, runID string) ([]*Citation, error)

	// Evidence returns the evidence links of a run ordered by creation.
	Evidence(ctx context.Context, runID string) ([]*Evidence, error)

	// Close releases backend resources.
	Close() error
}

// ClaimID returns the identifier of a claim text within a run.
func ClaimID(runID, text string) string {
	return nameID(runID, "claim", normalizeText(text))
}

// CitationID returns the identifier of a citation key within a run.
func CitationID(runID, key string) string {
	return nameID(runID, "citation", key)
}

// EvidenceID returns the identifier of a claim-citation link.
func EvidenceID(runID, claimID, citationID string) string {
	return nameID(runID, "evidence", claimID+"/"+citationID)
}

func nameID(parts ...string) string {
	return uuid.NewSHA1(namespace, []byte(strings.Join(parts, "\x00"))).String()
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// prepareClaim validates a claim and fills its derived fields.
func prepareClaim(c *Claim, now time.Time) error {
	if c.RunID == "" {
		return errors.New("claim run id is required")
	}
	c.Text = normalizeText(c.Text)
	if c.Text == "" {
		return errors.New("claim text is required")
	}
	c.ID = ClaimID(c.RunID, c.Text)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	return nil
}

// prepareCitation validates a citation and fills its derived fields. A
// citation is resolved iff it has a DOI.
func prepareCitation(c *Citation, now time.Time) error {
	if c.RunID == "" {
		return errors.New("citation run id is required")
	}
	if c.Key == "" {
		return errors.New("citation key is required")
	}
	c.DOI = strings.TrimSpace(c.DOI)
	c.Resolved = c.DOI != ""
	c.ID = CitationID(c.RunID, c.Key)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	return nil
}

func prepareEvidence(e *Evidence, now time.Time) error {
	if e.RunID == "" || e.ClaimID == "" || e.CitationID == "" {
		return errors.New("evidence requires run, claim and citation ids")
	}
	e.ID = EvidenceID(e.RunID, e.ClaimID, e.CitationID)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return nil
}

// Open creates the ledger backend selected by cfg.
func Open(cfg config.LedgerConfig) (Ledger, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryLedger(), nil
	case "sqlite", "":
		return NewSQLiteLedger(&SQLiteConfig{
			Path:        cfg.Path,
			BusyTimeout: cfg.BusyTimeout,
			WALMode:     true,
		})
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}
