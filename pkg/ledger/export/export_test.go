package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mercator-hq/saturn/pkg/ledger"
)

func testBundle(t *testing.T) *Bundle {
	t.Helper()
	ctx := context.Background()
	l := ledger.NewMemoryLedger()

	c1, _ := l.RegisterClaim(ctx, &ledger.Claim{RunID: "run-1", Text: "Exercise reduces anxiety", Source: "doc-1"})
	c2, _ := l.RegisterClaim(ctx, &ledger.Claim{RunID: "run-1", Text: "Sleep, \"deep\" sleep, helps", Source: "doc-2"})
	l.RegisterClaim(ctx, &ledger.Claim{RunID: "run-1", Text: "Orphan claim"})
	cit, _ := l.RegisterCitation(ctx, &ledger.Citation{RunID: "run-1", Key: "doc-1", Title: "Exercise", DOI: "10.1/a", Year: 2020})
	bare, _ := l.RegisterCitation(ctx, &ledger.Citation{RunID: "run-1", Key: "doc-2"})
	if _, err := l.LinkEvidence(ctx, &ledger.Evidence{RunID: "run-1", ClaimID: c1, CitationID: cit, Excerpt: "p < 0.05"}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.LinkEvidence(ctx, &ledger.Evidence{RunID: "run-1", ClaimID: c2, CitationID: bare}); err != nil {
		t.Fatal(err)
	}

	b, err := Load(ctx, l, "run-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return b
}

// TestLoad tests bundle assembly.
func TestLoad(t *testing.T) {
	b := testBundle(t)
	if len(b.Claims) != 3 || len(b.Citations) != 2 || len(b.Evidence) != 2 {
		t.Errorf("bundle sizes = %d/%d/%d", len(b.Claims), len(b.Citations), len(b.Evidence))
	}
	if len(b.Unresolved) != 2 {
		t.Errorf("unresolved = %v, want 2 entries", b.Unresolved)
	}

	empty, err := Load(context.Background(), ledger.NewMemoryLedger(), "none")
	if err != nil {
		t.Fatalf("Load(empty) error = %v", err)
	}
	if empty.Claims == nil || empty.Unresolved == nil {
		t.Error("empty bundle should carry empty slices")
	}
}

// TestJSONExporter tests JSON output.
func TestJSONExporter(t *testing.T) {
	b := testBundle(t)
	for _, pretty := range []bool{false, true} {
		var buf bytes.Buffer
		if err := NewJSONExporter(pretty).Export(context.Background(), b, &buf); err != nil {
			t.Fatalf("Export(pretty=%v) error = %v", pretty, err)
		}
		var decoded struct {
			RunID      string            `json:"run_id"`
			Claims     []json.RawMessage `json:"claims"`
			Unresolved []string          `json:"unresolved_claims"`
		}
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if decoded.RunID != "run-1" || len(decoded.Claims) != 3 {
			t.Errorf("decoded = %+v", decoded)
		}
		if diff := cmp.Diff(b.Unresolved, decoded.Unresolved); diff != "" {
			t.Errorf("unresolved mismatch (-want +got):\n%s", diff)
		}
	}
}

// TestCSVExporter tests CSV output and escaping.
func TestCSVExporter(t *testing.T) {
	b := testBundle(t)
	var buf bytes.Buffer
	if err := NewCSVExporter(true).Export(context.Background(), b, &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not CSV: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(rows))
	}
	if diff := cmp.Diff(csvHeader, rows[0]); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}

	want := [][]string{
		{b.Claims[0].ID, "Exercise reduces anxiety", "doc-1", "true", "doc-1", "Exercise", "10.1/a", "2020", "p < 0.05"},
		{b.Claims[1].ID, "Sleep, \"deep\" sleep, helps", "doc-2", "false", "doc-2", "", "", "", ""},
		{b.Claims[2].ID, "Orphan claim", "", "false", "", "", "", "", ""},
	}
	if diff := cmp.Diff(want, rows[1:]); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

// TestExportError tests writer failures.
func TestExportError(t *testing.T) {
	b := testBundle(t)
	for _, format := range []string{"json", "csv"} {
		exp, err := New(format, false)
		if err != nil {
			t.Fatalf("New(%s) error = %v", format, err)
		}
		err = exp.Export(context.Background(), b, failingWriter{})
		var exportErr *ExportError
		if !errors.As(err, &exportErr) || exportErr.Format != format {
			t.Errorf("%s: error = %v, want ExportError", format, err)
		}
	}
	if _, err := New("xml", false); err == nil {
		t.Error("expected error for unsupported format")
	}
}
