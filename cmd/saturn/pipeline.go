package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"mercator-hq/saturn/pkg/config"
)

// pipelineFile overrides the run-relevant parts of the configuration for a
// single start. Gates are merged by phase and name, so the example below
// only turns the quality floor into a blocking gate.
//
//	source:
//	  manifest: reviews/sleep.yaml
//	gates:
//	  - {phase: quality, name: min_mean_quality, kind: blocking, threshold: 0.6}
type pipelineFile struct {
	Source    *config.SourceConfig    `yaml:"source"`
	Judge     *config.JudgeConfig     `yaml:"judge"`
	Consensus *config.ConsensusConfig `yaml:"consensus"`
	Gates     []config.GateConfig     `yaml:"gates"`
}

func loadPipelineFile(path string) (*pipelineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file %q: %w", path, err)
	}
	var pf pipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline file %q: %w", path, err)
	}
	return &pf, nil
}

// apply writes the overrides into cfg and validates the result.
func (pf *pipelineFile) apply(cfg *config.Config) error {
	if pf.Source != nil && pf.Source.Manifest != "" {
		cfg.Source.Manifest = pf.Source.Manifest
	}
	if pf.Judge != nil {
		cfg.Judge = *pf.Judge
	}
	if pf.Consensus != nil {
		cfg.Consensus = *pf.Consensus
	}
	cfg.Gates = config.MergeGates(cfg.Gates, pf.Gates)
	config.ApplyDefaults(cfg)
	return config.Validate(cfg)
}
