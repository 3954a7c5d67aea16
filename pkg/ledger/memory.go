package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mercator-hq/saturn/pkg/pipeline"
)

// MemoryLedger implements Ledger in memory. Intended for tests and dry runs.
type MemoryLedger struct {
	mu        sync.RWMutex
	claims    map[string]*Claim
	claimSeq  []string
	citations map[string]*Citation
	evidence  map[string]*Evidence
	evSeq     []string
	closed    bool
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		claims:    make(map[string]*Claim),
		citations: make(map[string]*Citation),
		evidence:  make(map[string]*Evidence),
	}
}

func (l *MemoryLedger) checkOpen(op string) error {
	if l.closed {
		return pipeline.NewStoreError("ledger.memory", op, fmt.Errorf("ledger is closed"))
	}
	return nil
}

// RegisterClaim implements Ledger.
func (l *MemoryLedger) RegisterClaim(ctx context.Context, claim *Claim) (string, error) {
	if err := prepareClaim(claim, time.Now().UTC()); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkOpen("register_claim"); err != nil {
		return "", err
	}
	if _, ok := l.claims[claim.ID]; !ok {
		c := *claim
		l.claims[c.ID] = &c
		l.claimSeq = append(l.claimSeq, c.ID)
	}
	return claim.ID, nil
}

// RegisterCitation implements Ledger.
func (l *MemoryLedger) RegisterCitation(ctx context.Context, citation *Citation) (string, error) {
	if err := prepareCitation(citation, time.Now().UTC()); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkOpen("register_citation"); err != nil {
		return "", err
	}
	if _, ok := l.citations[citation.ID]; !ok {
		c := *citation
		l.citations[c.ID] = &c
	}
	return citation.ID, nil
}

// LinkEvidence implements Ledger.
func (l *MemoryLedger) LinkEvidence(ctx context.Context, evidence *Evidence) (string, error) {
	if err := prepareEvidence(evidence, time.Now().UTC()); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkOpen("link_evidence"); err != nil {
		return "", err
	}
	if c, ok := l.claims[evidence.ClaimID]; !ok || c.RunID != evidence.RunID {
		return "", fmt.Errorf("%w: %s", ErrClaimNotFound, evidence.ClaimID)
	}
	if c, ok := l.citations[evidence.CitationID]; !ok || c.RunID != evidence.RunID {
		return "", fmt.Errorf("%w: %s", ErrCitationNotFound, evidence.CitationID)
	}
	if _, ok := l.evidence[evidence.ID]; !ok {
		e := *evidence
		l.evidence[e.ID] = &e
		l.evSeq = append(l.evSeq, e.ID)
	}
	return evidence.ID, nil
}

// UnresolvedClaims implements Ledger.
func (l *MemoryLedger) UnresolvedClaims(ctx context.Context, runID string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	resolved := make(map[string]bool)
	for _, e := range l.evidence {
		if e.RunID == runID && l.citations[e.CitationID].Resolved {
			resolved[e.ClaimID] = true
		}
	}
	var ids []string
	for id, c := range l.claims {
		if c.RunID == runID && !resolved[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Claims implements Ledger.
func (l *MemoryLedger) Claims(ctx context.Context, runID string) ([]*Claim, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Claim
	for _, id := range l.claimSeq {
		if c := l.claims[id]; c.RunID == runID {
			cc := *c
			out = append(out, &cc)
		}
	}
	return out, nil
}

// Citations implements Ledger.
func (l *MemoryLedger) Citations(ctx context.Context, runID string) ([]*Citation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Citation
	for _, c := range l.citations {
		if c.RunID == runID {
			cc := *c
			out = append(out, &cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Evidence implements Ledger.
func (l *MemoryLedger) Evidence(ctx context.Context, runID string) ([]*Evidence, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Evidence
	for _, id := range l.evSeq {
		if e := l.evidence[id]; e.RunID == runID {
			ec := *e
			out = append(out, &ec)
		}
	}
	return out, nil
}

// Close marks the ledger closed. Subsequent writes fail.
func (l *MemoryLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
