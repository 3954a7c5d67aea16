package export

import (
	"context"
	"fmt"
	"io"

	"mercator-hq/saturn/pkg/ledger"
)

// Bundle is the complete ledger content of one run.
type Bundle struct {
	RunID      string             `json:"run_id"`
	Claims     []*ledger.Claim    `json:"claims"`
	Citations  []*ledger.Citation `json:"citations"`
	Evidence   []*ledger.Evidence `json:"evidence"`
	Unresolved []string           `json:"unresolved_claims"`
}

// Exporter writes a bundle to w.
type Exporter interface {
	Export(ctx context.Context, bundle *Bundle, w io.Writer) error
}

// Load reads every ledger entry of runID.
func Load(ctx context.Context, l ledger.Ledger, runID string) (*Bundle, error) {
	b := &Bundle{RunID: runID}
	var err error
	if b.Claims, err = l.Claims(ctx, runID); err != nil {
		return nil, err
	}
	if b.Citations, err = l.Citations(ctx, runID); err != nil {
		return nil, err
	}
	if b.Evidence, err = l.Evidence(ctx, runID); err != nil {
		return nil, err
	}
	if b.Unresolved, err = l.UnresolvedClaims(ctx, runID); err != nil {
		return nil, err
	}
	if b.Claims == nil {
		b.Claims = []*ledger.Claim{}
	}
	if b.Citations == nil {
		b.Citations = []*ledger.Citation{}
	}
	if b.Evidence == nil {
		b.Evidence = []*ledger.Evidence{}
	}
	if b.Unresolved == nil {
		b.Unresolved = []string{}
	}
	return b, nil
}

// New returns the exporter for format, "json" or "csv".
func New(format string, pretty bool) (Exporter, error) {
	switch format {
	case "json":
		return NewJSONExporter(pretty), nil
	case "csv":
		return NewCSVExporter(true), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// ExportError represents an error during ledger export.
type ExportError struct {
	Format string // Export format ("json", "csv")
	Count  int    // Number of entries being exported
	Cause  error  // Underlying error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [format=%s, count=%d]: %v", e.Format, e.Count, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *ExportError) Unwrap() error {
	return e.Cause
}

func newExportError(format string, count int, cause error) *ExportError {
	return &ExportError{Format: format, Count: count, Cause: cause}
}

func (b *Bundle) size() int {
	return len(b.Claims) + len(b.Citations) + len(b.Evidence)
}
