package gate

import (
	"fmt"

	"mercator-hq/saturn/pkg/config"
)

// Build turns a gate configuration entry into a Gate.
func Build(cfg config.GateConfig) (Gate, error) {
	var p Predicate
	switch cfg.Name {
	case "min_items":
		p = MinItems(cfg.Threshold)
	case "completeness":
		p = Completeness(cfg.Threshold)
	case "min_reliability":
		p = MinMetric(MetricKappa, cfg.Threshold)
	case "max_arbitration_rate":
		p = MaxMetric(MetricArbitrationRate, cfg.Threshold)
	case "min_mean_quality":
		p = MinMetric(MetricMeanQuality, cfg.Threshold)
	case "evidence_coverage", "export_integrity":
		p = MaxMetric(MetricUnresolvedClaims, cfg.Threshold)
	default:
		return Gate{}, fmt.Errorf("unknown gate %q", cfg.Name)
	}
	return Gate{
		Name:      cfg.Name,
		Blocking:  cfg.Kind != config.GateKindWarn,
		Predicate: p,
	}, nil
}

// ForPhase builds the gates configured for phase, in configuration order.
func ForPhase(cfgs []config.GateConfig, phase string) ([]Gate, error) {
	var gates []Gate
	for _, c := range cfgs {
		if c.Phase != phase {
			continue
		}
		g, err := Build(c)
		if err != nil {
			return nil, fmt.Errorf("phase %s: %w", phase, err)
		}
		gates = append(gates, g)
	}
	return gates, nil
}
