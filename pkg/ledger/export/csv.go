package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"mercator-hq/saturn/pkg/ledger"
)

// CSVExporter exports a bundle as flat claim-citation rows.
type CSVExporter struct {
	// IncludeHeader includes a header row with column names.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{IncludeHeader: includeHeader}
}

var csvHeader = []string{
	"claim_id", "claim_text", "claim_source", "resolved",
	"citation_key", "citation_title", "doi", "year", "excerpt",
}

// Export writes the bundle to w.
func (e *CSVExporter) Export(ctx context.Context, bundle *Bundle, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(csvHeader); err != nil {
			return newExportError("csv", bundle.size(), err)
		}
	}

	citations := make(map[string]*ledger.Citation, len(bundle.Citations))
	for _, c := range bundle.Citations {
		citations[c.ID] = c
	}
	links := make(map[string][]*ledger.Evidence)
	for _, ev := range bundle.Evidence {
		links[ev.ClaimID] = append(links[ev.ClaimID], ev)
	}
	unresolved := make(map[string]bool, len(bundle.Unresolved))
	for _, id := range bundle.Unresolved {
		unresolved[id] = true
	}

	for _, claim := range bundle.Claims {
		if err := ctx.Err(); err != nil {
			return err
		}
		resolved := strconv.FormatBool(!unresolved[claim.ID])
		evs := links[claim.ID]
		if len(evs) == 0 {
			row := []string{claim.ID, claim.Text, claim.Source, resolved, "", "", "", "", ""}
			if err := writer.Write(row); err != nil {
				return newExportError("csv", bundle.size(), err)
			}
			continue
		}
		for _, ev := range evs {
			row := []string{claim.ID, claim.Text, claim.Source, resolved, "", "", "", "", ev.Excerpt}
			if c, ok := citations[ev.CitationID]; ok {
				row[4], row[5], row[6] = c.Key, c.Title, c.DOI
				if c.Year != 0 {
					row[7] = strconv.Itoa(c.Year)
				}
			}
			if err := writer.Write(row); err != nil {
				return newExportError("csv", bundle.size(), err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return newExportError("csv", bundle.size(), err)
	}
	return nil
}
