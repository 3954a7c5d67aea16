package phases

import (
	"context"
	"encoding/json"
	"fmt"

	"mercator-hq/saturn/pkg/driver"
	"mercator-hq/saturn/pkg/ledger"
	"mercator-hq/saturn/pkg/pipeline"
)

func (p *builtin) synthesis() driver.PhaseSpec {
	return driver.PhaseSpec{
		Name:        Synthesis,
		Granularity: pipeline.WholePhase,
		Run:         p.synthesize,
		Observe:     p.observeUnresolved,
	}
}

// synthesize registers one citation per extracted document and one claim per
// finding, linked to the citation of the document it came from. Ledger ids
// are derived from content, so a rerun writes nothing new.
func (p *builtin) synthesize(ctx context.Context, run *pipeline.Run) error {
	recs, err := p.primary(ctx, run.ID, Extraction)
	if err != nil {
		return err
	}

	var claims, links int
	for _, rec := range recs {
		if rec.Decision != DecisionExtracted {
			continue
		}
		var ex ExtractionRecord
		if err := json.Unmarshal(rec.Payload, &ex); err != nil {
			return pipeline.Permanent(fmt.Errorf("decode extraction %s: %w", rec.ItemID, err))
		}

		citationID, err := p.Ledger.RegisterCitation(ctx, &ledger.Citation{
			RunID: run.ID,
			Key:   ex.Citation.Key,
			Title: ex.Citation.Title,
			DOI:   ex.Citation.DOI,
			Year:  ex.Citation.Year,
		})
		if err != nil {
			return fmt.Errorf("register citation %s: %w", ex.Citation.Key, err)
		}

		for _, finding := range ex.Findings {
			claimID, err := p.Ledger.RegisterClaim(ctx, &ledger.Claim{RunID: run.ID, Text: finding, Source: rec.ItemID})
			if err != nil {
				return fmt.Errorf("register claim from %s: %w", rec.ItemID, err)
			}
			claims++
			if _, err := p.Ledger.LinkEvidence(ctx, &ledger.Evidence{
				RunID:      run.ID,
				ClaimID:    claimID,
				CitationID: citationID,
				Excerpt:    finding,
			}); err != nil {
				return fmt.Errorf("link claim %s: %w", claimID, err)
			}
			links++
		}
	}

	p.Logger.Info("synthesis complete",
		"run_id", run.ID,
		"documents", len(recs),
		"claims", claims,
		"links", links,
	)
	return nil
}
