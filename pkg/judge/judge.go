package judge

import (
	"fmt"
	"strings"

	"mercator-hq/saturn/pkg/config"
	"mercator-hq/saturn/pkg/consensus"
)

// Provider names accepted by New.
const (
	ProviderHeuristic = "heuristic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// FullTextPhases are the phases whose reviewers read the full text rather
// than title and abstract.
var FullTextPhases = []string{"eligibility"}

// New creates the judge selected by cfg. topic seeds the heuristic keywords
// when none are configured.
func New(cfg config.JudgeConfig, topic string) (consensus.Judge, error) {
	switch cfg.Provider {
	case ProviderHeuristic, "":
		keywords := cfg.Keywords
		if len(keywords) == 0 {
			keywords = TopicKeywords(topic)
		}
		return NewHeuristic(keywords, FullTextPhases...), nil
	case ProviderOpenAI, ProviderOllama:
		llm, err := NewLLM(cfg)
		if err != nil {
			return nil, err
		}
		return NewRateLimited(llm, cfg.RequestsPerMinute), nil
	default:
		return nil, fmt.Errorf("unsupported judge provider: %s", cfg.Provider)
	}
}

// TopicKeywords splits a topic into lower-case keywords, dropping words
// shorter than four letters.
func TopicKeywords(topic string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(topic), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-')
	}) {
		if len(w) < 4 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func decisionFor(score float64) string {
	if score >= 0.5 {
		return consensus.DecisionInclude
	}
	return consensus.DecisionExclude
}

// confidenceFor maps a score in [0, 1] to the certainty of its decision:
// 0.5 at the decision boundary, 1 at either extreme.
func confidenceFor(score float64) float64 {
	d := score - 0.5
	if d < 0 {
		d = -d
	}
	return clamp(0.5 + d)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
