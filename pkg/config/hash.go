package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"
)

// runRelevant is the subset of Config that changes what a run computes.
// Paths, telemetry and executor tuning are excluded.
type runRelevant struct {
	Consensus ConsensusConfig `yaml:"consensus"`
	Gates     []GateConfig    `yaml:"gates"`
	Manifest  string          `yaml:"manifest"`
	Provider  string          `yaml:"provider"`
	Model     string          `yaml:"model"`
	Keywords  []string        `yaml:"keywords"`
}

// Hash returns the SHA-256 of the canonical YAML encoding of the run-relevant
// configuration. Secrets such as API keys are never part of the hash.
func Hash(cfg *Config) (string, error) {
	data, err := yaml.Marshal(runRelevant{
		Consensus: cfg.Consensus,
		Gates:     cfg.Gates,
		Manifest:  cfg.Source.Manifest,
		Provider:  cfg.Judge.Provider,
		Model:     cfg.Judge.Model,
		Keywords:  cfg.Judge.Keywords,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode configuration for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
