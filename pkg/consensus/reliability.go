package consensus

import (
	"context"
	"math"

	"mercator-hq/saturn/pkg/gate"
	"mercator-hq/saturn/pkg/pipeline"
)

// Pair is the (A, B) decision pair of one decided item.
type Pair struct {
	A string
	B string
}

// Reliability is Cohen's kappa between reviewers A and B.
type Reliability struct {
	Kappa    float64
	Observed float64
	Expected float64
	N        int
	// Defined is false when there were no decided items; Kappa is NaN then.
	Defined bool
}

// CohenKappa computes kappa over pairs. When both reviewers used a single
// identical category throughout, expected agreement is 1 and kappa is 1.
func CohenKappa(pairs []Pair) Reliability {
	n := len(pairs)
	if n == 0 {
		return Reliability{Kappa: math.NaN(), Observed: math.NaN(), Expected: math.NaN()}
	}

	countA := make(map[string]int)
	countB := make(map[string]int)
	agree := 0
	for _, p := range pairs {
		countA[p.A]++
		countB[p.B]++
		if p.A == p.B {
			agree++
		}
	}

	total := float64(n)
	po := float64(agree) / total
	pe := 0.0
	for category, ca := range countA {
		pe += (float64(ca) / total) * (float64(countB[category]) / total)
	}

	r := Reliability{Observed: po, Expected: pe, N: n, Defined: true}
	if pe >= 1 {
		r.Kappa = 1
		return r
	}
	r.Kappa = (po - pe) / (1 - pe)
	return r
}

// Summary describes the consensus outcomes of a phase.
type Summary struct {
	Reliability     Reliability
	Decided         int
	Arbitrated      int
	ArbitrationRate float64
}

// Summarize computes reliability and arbitration rate over the items of a
// phase that have a consensus result. Errored items have none and are
// excluded.
func (p *Protocol) Summarize(ctx context.Context, runID, phase string) (*Summary, error) {
	results, err := p.store.ConsensusResults(ctx, runID, phase)
	if err != nil {
		return nil, err
	}
	judgmentsA, err := p.store.ItemRecords(ctx, runID, phase, pipeline.RoleReviewerA)
	if err != nil {
		return nil, err
	}
	judgmentsB, err := p.store.ItemRecords(ctx, runID, phase, pipeline.RoleReviewerB)
	if err != nil {
		return nil, err
	}
	decisionA := make(map[string]string, len(judgmentsA))
	for _, rec := range judgmentsA {
		decisionA[rec.ItemID] = rec.Decision
	}
	decisionB := make(map[string]string, len(judgmentsB))
	for _, rec := range judgmentsB {
		decisionB[rec.ItemID] = rec.Decision
	}

	s := &Summary{ArbitrationRate: math.NaN()}
	pairs := make([]Pair, 0, len(results))
	for _, res := range results {
		pairs = append(pairs, Pair{A: decisionA[res.ItemID], B: decisionB[res.ItemID]})
		if res.Arbitrated {
			s.Arbitrated++
		}
	}
	s.Decided = len(results)
	s.Reliability = CohenKappa(pairs)
	if s.Decided > 0 {
		s.ArbitrationRate = float64(s.Arbitrated) / float64(s.Decided)
	}
	return s, nil
}

// Observe publishes the phase summary into a gate snapshot.
func (p *Protocol) Observe(ctx context.Context, snap *gate.Snapshot) error {
	s, err := p.Summarize(ctx, snap.RunID, snap.Phase)
	if err != nil {
		return err
	}
	snap.SetMetric(gate.MetricKappa, s.Reliability.Kappa)
	snap.SetMetric(gate.MetricArbitrationRate, s.ArbitrationRate)
	p.metrics.SetReliability(snap.Phase, s.Reliability.Kappa, s.Reliability.Defined)
	p.logger.InfoContext(ctx, "consensus summary",
		"decided", s.Decided, "arbitrated", s.Arbitrated,
		"kappa", s.Reliability.Kappa, "kappa_defined", s.Reliability.Defined)
	return nil
}
