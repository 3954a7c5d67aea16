package phases

import (
	"context"
	"strings"
	"unicode"

	"mercator-hq/saturn/pkg/driver"
	"mercator-hq/saturn/pkg/pipeline"
	"mercator-hq/saturn/pkg/source"
)

// IntakeRecord is the normalised form of a manifest document. Its JSON form
// is a superset of source.Document.
type IntakeRecord struct {
	source.Document
	Fingerprint string `json:"fingerprint"`
	TitleKey    string `json:"title_key"`
	DOIKey      string `json:"doi_key,omitempty"`
}

func (p *builtin) intake() driver.PhaseSpec {
	return driver.PhaseSpec{
		Name:        Intake,
		Granularity: pipeline.PerItem,
		Inputs: func(ctx context.Context, run *pipeline.Run) ([]pipeline.Item, error) {
			m, err := source.Load(p.Manifest)
			if err != nil {
				return nil, err
			}
			return m.Items()
		},
		Compute: func(run *pipeline.Run) pipeline.Computation {
			return pipeline.ComputeFunc(normalise)
		},
	}
}

func normalise(_ context.Context, item pipeline.Item) (pipeline.Result, error) {
	doc, err := source.Decode(item)
	if err != nil {
		return pipeline.Result{}, err
	}
	doc.Title = strings.Join(strings.Fields(doc.Title), " ")
	doc.Abstract = strings.TrimSpace(doc.Abstract)
	doc.DOI = DOIKey(doc.DOI)

	rec := IntakeRecord{
		Document: *doc,
		TitleKey: TitleKey(doc.Title),
		DOIKey:   doc.DOI,
	}
	rec.Fingerprint = pipeline.HashContent([]byte(rec.TitleKey + "\x00" + rec.DOIKey + "\x00" + doc.Abstract))

	payload, err := pipeline.MarshalPayload(rec)
	if err != nil {
		return pipeline.Result{}, pipeline.Permanent(err)
	}
	return pipeline.Result{Decision: DecisionAccepted, Payload: payload}, nil
}

// TitleKey lower-cases a title and keeps only letters and digits separated
// by single spaces.
func TitleKey(title string) string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

// DOIKey strips resolver prefixes from a DOI and lower-cases it.
func DOIKey(doi string) string {
	d := strings.ToLower(strings.TrimSpace(doi))
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		d = strings.TrimPrefix(d, prefix)
	}
	return strings.TrimSpace(d)
}
