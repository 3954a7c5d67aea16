// Package export writes the evidence ledger of a run to JSON or CSV.
//
// A Bundle is loaded from a ledger once and handed to an exporter:
//
//	bundle, err := export.Load(ctx, l, runID)
//	if err != nil {
//	    return err
//	}
//	err = export.NewCSVExporter(true).Export(ctx, bundle, os.Stdout)
//
// The CSV form has one row per claim-citation link, plus one row with empty
// citation columns for each claim that has no links. Exporters return
// ExportError on failure.
package export
