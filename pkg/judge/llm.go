package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"mercator-hq/saturn/pkg/config"
	"mercator-hq/saturn/pkg/consensus"
	"mercator-hq/saturn/pkg/pipeline"
	"mercator-hq/saturn/pkg/source"
)

// LLM asks a language model for a JSON verdict.
type LLM struct {
	model     llms.Model
	modelName string
	fullText  map[string]bool
}

// NewLLM creates an LLM judge for the openai or ollama provider.
func NewLLM(cfg config.JudgeConfig) (*LLM, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.ServerURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.ServerURL))
		}
		model, err = ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("OpenAI API key required")
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey), openai.WithModel(cfg.Model)}
		if cfg.ServerURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.ServerURL))
		}
		model, err = openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	return NewLLMWithModel(model, cfg.Model), nil
}

// NewLLMWithModel wraps an existing langchaingo model.
func NewLLMWithModel(model llms.Model, modelName string) *LLM {
	l := &LLM{model: model, modelName: modelName, fullText: make(map[string]bool)}
	for _, p := range FullTextPhases {
		l.fullText[p] = true
	}
	return l
}

// Model returns the model name.
func (l *LLM) Model() string {
	return l.modelName
}

// Judge implements consensus.Judge.
func (l *LLM) Judge(ctx context.Context, item pipeline.Item, role consensus.RoleConfig) (consensus.Judgment, error) {
	doc, err := source.Decode(item)
	if err != nil {
		return consensus.Judgment{}, err
	}

	response, err := llms.GenerateFromSinglePrompt(ctx, l.model, buildPrompt(doc, role, l.fullText[role.Phase]),
		llms.WithTemperature(0))
	if err != nil {
		return consensus.Judgment{}, fmt.Errorf("generate: %w", err)
	}

	j, err := parseVerdict(response)
	if err != nil {
		return consensus.Judgment{}, pipeline.Permanent(err)
	}
	return j, nil
}

func buildPrompt(doc *source.Document, role consensus.RoleConfig, full bool) string {
	var sb strings.Builder
	sb.WriteString("You are a reviewer in a systematic literature review.\n")
	switch {
	case role.Role == pipeline.RoleArbiter:
		sb.WriteString("You are the arbiter. Two reviewers could not settle this document; decide it.\n")
	case role.Bias > 0:
		sb.WriteString("When in doubt, lean toward including the document.\n")
	case role.Bias < 0:
		sb.WriteString("When in doubt, lean toward excluding the document.\n")
	}
	if role.Instructions != "" {
		sb.WriteString(role.Instructions)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Review stage: %s\n\nDocument:\n%s\n", role.Phase, doc.Text(full))

	for _, p := range role.Priors {
		fmt.Fprintf(&sb, "\n%s decided %q with confidence %.2f: %s\n",
			p.Role, p.Judgment.Decision, p.Judgment.Confidence, p.Judgment.Rationale)
	}

	sb.WriteString(`
Answer with a single JSON object and nothing else:
{"decision": "include" or "exclude", "confidence": number between 0 and 1, "rationale": "one sentence"}`)
	return sb.String()
}

// parseVerdict extracts the first JSON object of a model response.
func parseVerdict(response string) (consensus.Judgment, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end < start {
		return consensus.Judgment{}, fmt.Errorf("no JSON object in response %q", truncate(response, 80))
	}

	var j consensus.Judgment
	if err := json.Unmarshal([]byte(response[start:end+1]), &j); err != nil {
		return consensus.Judgment{}, fmt.Errorf("parse verdict: %w", err)
	}
	j.Decision = strings.ToLower(strings.TrimSpace(j.Decision))
	if j.Decision != consensus.DecisionInclude && j.Decision != consensus.DecisionExclude {
		return consensus.Judgment{}, fmt.Errorf("unknown decision %q", j.Decision)
	}
	if err := j.Validate(); err != nil {
		return consensus.Judgment{}, err
	}
	return j, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
