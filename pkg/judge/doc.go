// Package judge provides the reviewers behind the consensus protocol.
//
// Two implementations satisfy consensus.Judge:
//
//   - Heuristic: a deterministic keyword scorer. Each role's bias shifts the
//     score toward inclusion or exclusion, so the two reviewers disagree on
//     borderline documents the way biased human reviewers do.
//   - LLM: prompts a language model through langchaingo (OpenAI or Ollama)
//     and parses a JSON verdict. Unparseable answers are permanent failures;
//     transport failures are retried by the executor.
//
// New selects the implementation from the judge configuration section. LLM
// judges are wrapped in RateLimited when judge.requests_per_minute is set;
// callers wait for capacity rather than failing.
package judge
