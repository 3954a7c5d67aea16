package judge

import (
	"context"
	"fmt"
	"math"
	"strings"

	"mercator-hq/saturn/pkg/consensus"
	"mercator-hq/saturn/pkg/pipeline"
	"mercator-hq/saturn/pkg/source"
)

// Heuristic scores documents by the share of keywords they mention.
type Heuristic struct {
	keywords []string
	fullText map[string]bool
}

// NewHeuristic creates a keyword judge. Reviewers of fullTextPhases read
// the full text.
func NewHeuristic(keywords []string, fullTextPhases ...string) *Heuristic {
	h := &Heuristic{fullText: make(map[string]bool)}
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			h.keywords = append(h.keywords, k)
		}
	}
	for _, p := range fullTextPhases {
		h.fullText[p] = true
	}
	return h
}

// Score returns the unbiased relevance of a text in [0, 1] and the keywords
// it matched. Without keywords every document scores 0.5.
func (h *Heuristic) Score(text string) (float64, []string) {
	if len(h.keywords) == 0 {
		return 0.5, nil
	}
	lower := strings.ToLower(text)
	var matched []string
	for _, k := range h.keywords {
		if strings.Contains(lower, k) {
			matched = append(matched, k)
		}
	}
	return float64(len(matched)) / float64(len(h.keywords)), matched
}

// Judge implements consensus.Judge.
func (h *Heuristic) Judge(ctx context.Context, item pipeline.Item, role consensus.RoleConfig) (consensus.Judgment, error) {
	if err := ctx.Err(); err != nil {
		return consensus.Judgment{}, err
	}
	doc, err := source.Decode(item)
	if err != nil {
		return consensus.Judgment{}, err
	}

	base, matched := h.Score(doc.Text(h.fullText[role.Phase]))
	score := clamp(base + role.Bias)
	decision := decisionFor(score)

	// The arbiter breaks an exact tie with the more confident prior.
	if role.Role == pipeline.RoleArbiter && math.Abs(score-0.5) < 1e-9 && len(role.Priors) > 0 {
		best := role.Priors[0]
		for _, p := range role.Priors[1:] {
			if p.Judgment.Confidence > best.Judgment.Confidence {
				best = p
			}
		}
		decision = best.Judgment.Decision
	}

	rationale := fmt.Sprintf("matched %d/%d keywords", len(matched), len(h.keywords))
	if len(matched) > 0 {
		rationale += ": " + strings.Join(matched, ", ")
	}
	if len(role.Priors) > 0 {
		rationale += fmt.Sprintf(" (arbitrated over %d prior judgments)", len(role.Priors))
	}

	return consensus.Judgment{
		Decision:   decision,
		Rationale:  rationale,
		Confidence: confidenceFor(score),
	}, nil
}
