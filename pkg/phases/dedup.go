package phases

import (
	"context"
	"sort"
	"sync"

	"mercator-hq/saturn/pkg/driver"
	"mercator-hq/saturn/pkg/pipeline"
)

// DedupRecord is the payload of a dedup decision.
type DedupRecord struct {
	DuplicateOf string `json:"duplicate_of,omitempty"`
	MatchedOn   string `json:"matched_on,omitempty"`
}

func (p *builtin) dedup() driver.PhaseSpec {
	return driver.PhaseSpec{
		Name:        Dedup,
		Granularity: pipeline.PerItem,
		Inputs: func(ctx context.Context, run *pipeline.Run) ([]pipeline.Item, error) {
			return p.selectInputs(ctx, run.ID, Intake, DecisionAccepted)
		},
		Compute: func(run *pipeline.Run) pipeline.Computation {
			var (
				mu    sync.Mutex
				index *firstSeen
			)
			load := func(ctx context.Context) (*firstSeen, error) {
				mu.Lock()
				defer mu.Unlock()
				if index != nil {
					return index, nil
				}
				records, err := p.intakeRecords(ctx, run.ID)
				if err != nil {
					return nil, err
				}
				index = newFirstSeen(records)
				return index, nil
			}
			return pipeline.ComputeFunc(func(ctx context.Context, item pipeline.Item) (pipeline.Result, error) {
				index, err := load(ctx)
				if err != nil {
					return pipeline.Result{}, err
				}
				return index.decide(item.ID)
			})
		},
	}
}

// firstSeen maps title and DOI keys to the first item, in id order, that
// carries them.
type firstSeen struct {
	records map[string]*IntakeRecord
	title   map[string]string
	doi     map[string]string
}

func newFirstSeen(records map[string]*IntakeRecord) *firstSeen {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	f := &firstSeen{records: records, title: make(map[string]string), doi: make(map[string]string)}
	for _, id := range ids {
		rec := records[id]
		if _, ok := f.title[rec.TitleKey]; !ok && rec.TitleKey != "" {
			f.title[rec.TitleKey] = id
		}
		if _, ok := f.doi[rec.DOIKey]; !ok && rec.DOIKey != "" {
			f.doi[rec.DOIKey] = id
		}
	}
	return f
}

func (f *firstSeen) decide(id string) (pipeline.Result, error) {
	rec, ok := f.records[id]
	if !ok {
		return pipeline.Result{}, pipeline.Permanent(errMissingIntake(id))
	}

	var dr DedupRecord
	if first := f.doi[rec.DOIKey]; rec.DOIKey != "" && first != id {
		dr = DedupRecord{DuplicateOf: first, MatchedOn: "doi"}
	} else if first := f.title[rec.TitleKey]; rec.TitleKey != "" && first != id {
		dr = DedupRecord{DuplicateOf: first, MatchedOn: "title"}
	}

	decision := DecisionUnique
	var payload []byte
	if dr.DuplicateOf != "" {
		decision = DecisionDuplicate
		var err error
		if payload, err = pipeline.MarshalPayload(dr); err != nil {
			return pipeline.Result{}, pipeline.Permanent(err)
		}
	}
	return pipeline.Result{Decision: decision, Payload: payload}, nil
}
