package phases

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"mercator-hq/saturn/pkg/consensus"
	"mercator-hq/saturn/pkg/driver"
	"mercator-hq/saturn/pkg/gate"
	"mercator-hq/saturn/pkg/pipeline"
	"mercator-hq/saturn/pkg/source"
)

// CitationRecord is the bibliographic reference of an extracted document.
type CitationRecord struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	DOI   string `json:"doi,omitempty"`
	Year  int    `json:"year,omitempty"`
}

// ExtractionRecord is the payload of an extraction result.
type ExtractionRecord struct {
	Findings []string       `json:"findings"`
	Citation CitationRecord `json:"citation"`
}

// QualityRecord is the payload of a quality score.
type QualityRecord struct {
	Score      float64            `json:"score"`
	Components map[string]float64 `json:"components"`
}

// Weights of the reporting quality components. They sum to 1.
var qualityWeights = map[string]float64{
	"doi":       0.25,
	"year":      0.15,
	"abstract":  0.2,
	"full_text": 0.2,
	"findings":  0.2,
}

func (p *builtin) extraction() driver.PhaseSpec {
	return driver.PhaseSpec{
		Name:        Extraction,
		Granularity: pipeline.PerItem,
		Inputs: func(ctx context.Context, run *pipeline.Run) ([]pipeline.Item, error) {
			return p.selectInputs(ctx, run.ID, Eligibility, consensus.DecisionInclude)
		},
		Compute: func(run *pipeline.Run) pipeline.Computation {
			return pipeline.ComputeFunc(extract)
		},
	}
}

func extract(_ context.Context, item pipeline.Item) (pipeline.Result, error) {
	doc, err := source.Decode(item)
	if err != nil {
		return pipeline.Result{}, err
	}

	rec := ExtractionRecord{
		Findings: findings(doc),
		Citation: CitationRecord{Key: doc.ID, Title: doc.Title, DOI: doc.DOI, Year: doc.Year},
	}
	payload, err := pipeline.MarshalPayload(rec)
	if err != nil {
		return pipeline.Result{}, pipeline.Permanent(err)
	}
	return pipeline.Result{Decision: DecisionExtracted, Payload: payload}, nil
}

// findings returns the stated findings of a document, or the first sentence
// of its abstract when none are stated.
func findings(doc *source.Document) []string {
	var out []string
	for _, f := range doc.Findings {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) > 0 {
		return out
	}
	abstract := strings.TrimSpace(doc.Abstract)
	if abstract == "" {
		return []string{}
	}
	if i := strings.IndexAny(abstract, ".!?"); i >= 0 {
		abstract = abstract[:i+1]
	}
	return []string{abstract}
}

func (p *builtin) quality() driver.PhaseSpec {
	return driver.PhaseSpec{
		Name:        Quality,
		Granularity: pipeline.PerItem,
		Inputs: func(ctx context.Context, run *pipeline.Run) ([]pipeline.Item, error) {
			return p.selectInputs(ctx, run.ID, Extraction, DecisionExtracted)
		},
		Compute: func(run *pipeline.Run) pipeline.Computation {
			return pipeline.ComputeFunc(func(ctx context.Context, item pipeline.Item) (pipeline.Result, error) {
				rec, found, err := p.Store.ItemRecord(ctx, pipeline.RecordKey{RunID: run.ID, Phase: Extraction, ItemID: item.ID, Role: pipeline.RolePrimary})
				if err != nil {
					return pipeline.Result{}, err
				}
				var ex ExtractionRecord
				if found {
					if err := json.Unmarshal(rec.Payload, &ex); err != nil {
						return pipeline.Result{}, pipeline.Permanent(fmt.Errorf("decode extraction %s: %w", item.ID, err))
					}
				}
				return score(item, ex)
			})
		},
		Observe: func(ctx context.Context, snap *gate.Snapshot) error {
			mean, err := p.meanQuality(ctx, snap.RunID)
			if err != nil {
				return err
			}
			snap.SetMetric(gate.MetricMeanQuality, mean)
			return nil
		},
	}
}

func score(item pipeline.Item, ex ExtractionRecord) (pipeline.Result, error) {
	doc, err := source.Decode(item)
	if err != nil {
		return pipeline.Result{}, err
	}
	present := map[string]bool{
		"doi":       doc.DOI != "",
		"year":      doc.Year > 0,
		"abstract":  strings.TrimSpace(doc.Abstract) != "",
		"full_text": strings.TrimSpace(doc.FullText) != "",
		"findings":  len(ex.Findings) > 0,
	}

	rec := QualityRecord{Components: make(map[string]float64, len(qualityWeights))}
	for name, w := range qualityWeights {
		v := 0.0
		if present[name] {
			v = w
		}
		rec.Components[name] = v
		rec.Score += v
	}
	rec.Score = math.Round(rec.Score*1000) / 1000

	payload, err := pipeline.MarshalPayload(rec)
	if err != nil {
		return pipeline.Result{}, pipeline.Permanent(err)
	}
	return pipeline.Result{Decision: DecisionScored, Payload: payload}, nil
}

// meanQuality averages the recorded quality scores of a run. NaN when no
// item was scored.
func (p *builtin) meanQuality(ctx context.Context, runID string) (float64, error) {
	recs, err := p.primary(ctx, runID, Quality)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return math.NaN(), nil
	}
	var sum float64
	for _, rec := range recs {
		var q QualityRecord
		if err := json.Unmarshal(rec.Payload, &q); err != nil {
			return 0, fmt.Errorf("decode quality %s: %w", rec.ItemID, err)
		}
		sum += q.Score
	}
	return sum / float64(len(recs)), nil
}
