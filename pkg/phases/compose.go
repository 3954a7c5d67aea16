package phases

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mercator-hq/saturn/pkg/driver"
	"mercator-hq/saturn/pkg/gate"
	"mercator-hq/saturn/pkg/ledger"
	"mercator-hq/saturn/pkg/pipeline"
)

// ReportFile is the name of the rendered report inside a bundle.
const ReportFile = "report.md"

func (p *builtin) composition() driver.PhaseSpec {
	return driver.PhaseSpec{
		Name:        Composition,
		Granularity: pipeline.WholePhase,
		Run: func(ctx context.Context, run *pipeline.Run) error {
			report, err := p.renderReport(ctx, run)
			if err != nil {
				return err
			}
			return writeFile(StagingDir(p.OutputDir, run.ID), ReportFile, report)
		},
		Observe: p.observeUnresolved,
	}
}

// observeUnresolved publishes the number of claims without resolved evidence.
func (p *builtin) observeUnresolved(ctx context.Context, snap *gate.Snapshot) error {
	unresolved, err := p.Ledger.UnresolvedClaims(ctx, snap.RunID)
	if err != nil {
		return err
	}
	snap.SetMetric(gate.MetricUnresolvedClaims, float64(len(unresolved)))
	return nil
}

// renderReport renders the Markdown report of a run from its extraction and
// quality records and its ledger.
func (p *builtin) renderReport(ctx context.Context, run *pipeline.Run) ([]byte, error) {
	extracted, err := p.primary(ctx, run.ID, Extraction)
	if err != nil {
		return nil, err
	}
	scores, err := p.qualityScores(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	claims, err := p.Ledger.Claims(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	citations, err := p.Ledger.Citations(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	evidence, err := p.Ledger.Evidence(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]*ledger.Citation, len(citations))
	for _, c := range citations {
		keys[c.ID] = c
	}
	support := make(map[string][]*ledger.Citation)
	for _, e := range evidence {
		if c, ok := keys[e.CitationID]; ok {
			support[e.ClaimID] = append(support[e.ClaimID], c)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", run.Topic)
	fmt.Fprintf(&b, "Run `%s`, fingerprint `%s`.\n\n", run.ID, run.Fingerprint)

	fmt.Fprintf(&b, "## Included documents (%d)\n\n", len(extracted))
	for _, rec := range extracted {
		var ex ExtractionRecord
		if err := json.Unmarshal(rec.Payload, &ex); err != nil {
			return nil, fmt.Errorf("decode extraction %s: %w", rec.ItemID, err)
		}
		fmt.Fprintf(&b, "- **%s**", ex.Citation.Title)
		if ex.Citation.Year > 0 {
			fmt.Fprintf(&b, " (%d)", ex.Citation.Year)
		}
		if score, ok := scores[rec.ItemID]; ok {
			fmt.Fprintf(&b, ", quality %.2f", score)
		}
		fmt.Fprintf(&b, " [%s]\n", ex.Citation.Key)
	}

	fmt.Fprintf(&b, "\n## Findings (%d)\n\n", len(claims))
	for i, claim := range claims {
		fmt.Fprintf(&b, "%d. %s", i+1, claim.Text)
		cites := support[claim.ID]
		if len(cites) == 0 {
			b.WriteString(" _(no supporting citation)_\n")
			continue
		}
		refs := make([]string, 0, len(cites))
		for _, c := range cites {
			refs = append(refs, c.Key)
		}
		fmt.Fprintf(&b, " [%s]\n", strings.Join(refs, ", "))
	}

	b.WriteString("\n## References\n\n")
	for _, c := range citations {
		fmt.Fprintf(&b, "- [%s] %s", c.Key, c.Title)
		if c.Year > 0 {
			fmt.Fprintf(&b, ", %d", c.Year)
		}
		if c.Resolved {
			fmt.Fprintf(&b, ". https://doi.org/%s\n", c.DOI)
		} else {
			b.WriteString(". _(unresolved)_\n")
		}
	}
	return []byte(b.String()), nil
}

func (p *builtin) qualityScores(ctx context.Context, runID string) (map[string]float64, error) {
	recs, err := p.primary(ctx, runID, Quality)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(recs))
	for _, rec := range recs {
		var q QualityRecord
		if err := json.Unmarshal(rec.Payload, &q); err != nil {
			return nil, fmt.Errorf("decode quality %s: %w", rec.ItemID, err)
		}
		out[rec.ItemID] = q.Score
	}
	return out, nil
}

// writeFile creates dir if needed and replaces name inside it.
func writeFile(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
