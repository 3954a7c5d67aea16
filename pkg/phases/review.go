package phases

import (
	"context"

	"mercator-hq/saturn/pkg/driver"
	"mercator-hq/saturn/pkg/pipeline"
)

// consensus builds a two-reviewer phase over the items of from decided want.
func (p *builtin) consensus(name, from, want string) driver.PhaseSpec {
	return driver.PhaseSpec{
		Name:        name,
		Granularity: pipeline.PerItem,
		Inputs: func(ctx context.Context, run *pipeline.Run) ([]pipeline.Item, error) {
			return p.selectInputs(ctx, run.ID, from, want)
		},
		Compute: func(run *pipeline.Run) pipeline.Computation {
			return p.Protocol.Computation(run.ID, name)
		},
		Observe: p.Protocol.Observe,
	}
}
