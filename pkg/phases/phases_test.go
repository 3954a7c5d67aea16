package phases

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mercator-hq/saturn/pkg/checkpoint"
	"mercator-hq/saturn/pkg/config"
	"mercator-hq/saturn/pkg/consensus"
	"mercator-hq/saturn/pkg/driver"
	"mercator-hq/saturn/pkg/executor"
	"mercator-hq/saturn/pkg/gate"
	"mercator-hq/saturn/pkg/judge"
	"mercator-hq/saturn/pkg/ledger"
	"mercator-hq/saturn/pkg/pipeline"
)

const testTopic = "sleep deprivation memory"

const testManifest = `documents:
  - id: d1
    title: Sleep deprivation impairs memory
    abstract: One night without sleep reduced recall in adults.
    full_text: Participants were kept awake and tested on word lists.
    doi: https://doi.org/10.1000/A1
    year: 2020
    findings:
      - Sleep loss reduces recall.
  - id: d2
    title: "Sleep Deprivation  impairs memory!"
    abstract: A conference version of the same study.
  - id: d3
    title: Dietary fibre and gut health
    abstract: Fibre intake changed the gut flora.
    year: 2018
  - id: d4
    title: Memory consolidation under sleep deprivation
    abstract: Sleep deprivation disrupts memory consolidation. Effects were small.
    year: 2019
`

type harness struct {
	store  *checkpoint.MemoryStore
	ledger *ledger.MemoryLedger
	driver *driver.Driver
	output string
	logs   bytes.Buffer

	mu    sync.Mutex
	gates []config.GateConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	manifest := filepath.Join(dir, "documents.yaml")
	if err := os.WriteFile(manifest, []byte(testManifest), 0o644); err != nil {
		t.Fatal(err)
	}

	h := &harness{
		store:  checkpoint.NewMemoryStore(),
		ledger: ledger.NewMemoryLedger(),
		output: filepath.Join(dir, "out"),
		gates:  config.DefaultGates(),
	}
	protocol := consensus.NewProtocol(h.store, judge.NewHeuristic(judge.TopicKeywords(testTopic), judge.FullTextPhases...), consensus.Config{
		Band:      consensus.Band{Low: 0.4, High: 0.6},
		ReviewerA: consensus.RoleConfig{Bias: 0.15},
		ReviewerB: consensus.RoleConfig{Bias: -0.15},
	})
	registry, err := NewRegistry(Deps{
		Store:     h.store,
		Ledger:    h.ledger,
		Protocol:  protocol,
		Manifest:  manifest,
		OutputDir: h.output,
		Logger:    slog.New(slog.NewJSONHandler(&h.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	exec := executor.New(h.store, executor.Config{
		Workers:        2,
		BatchSize:      2,
		ItemTimeout:    time.Second,
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	})
	h.driver = driver.New(h.store, registry, exec, gate.NewEvaluator(h.store), driver.WithGates(func() []config.GateConfig {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.gates
	}))
	return h
}

func (h *harness) setThreshold(phase, name string, threshold float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	gates := append([]config.GateConfig(nil), h.gates...)
	for i := range gates {
		if gates[i].Phase == phase && gates[i].Name == name {
			gates[i].Threshold = threshold
		}
	}
	h.gates = gates
}

// resolveClaims cites a published version for every unresolved claim of a
// run, the remediation an operator performs after the export gate fails.
func (h *harness) resolveClaims(t *testing.T, runID string) {
	t.Helper()
	ctx := context.Background()
	unresolved, err := h.ledger.UnresolvedClaims(ctx, runID)
	if err != nil {
		t.Fatal(err)
	}
	for i, claimID := range unresolved {
		citationID, err := h.ledger.RegisterCitation(ctx, &ledger.Citation{
			RunID: runID,
			Key:   fmt.Sprintf("published-%d", i),
			Title: "Memory consolidation under sleep deprivation",
			DOI:   fmt.Sprintf("10.1000/pub.%d", i),
			Year:  2020,
		})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := h.ledger.LinkEvidence(ctx, &ledger.Evidence{RunID: runID, ClaimID: claimID, CitationID: citationID}); err != nil {
			t.Fatal(err)
		}
	}
}

func decisions(t *testing.T, store checkpoint.Store, runID, phase string) map[string]string {
	t.Helper()
	recs, err := store.ItemRecords(context.Background(), runID, phase, pipeline.RolePrimary)
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]string, len(recs))
	for _, rec := range recs {
		out[rec.ItemID] = rec.Decision
	}
	return out
}

func TestBuiltin_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	run, err := h.driver.Start(ctx, testTopic, "")
	var gateErr *pipeline.GateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("Start() error = %v, want GateError", err)
	}
	if gateErr.Phase != Packaging {
		t.Fatalf("gate error phase = %s, want packaging", gateErr.Phase)
	}
	if run.Status != pipeline.RunPaused || run.PauseReason != pipeline.PauseGate {
		t.Fatalf("run = %s/%s, want paused/gate", run.Status, run.PauseReason)
	}

	if diff := cmp.Diff(map[string]string{"d1": DecisionUnique, "d2": DecisionDuplicate, "d3": DecisionUnique, "d4": DecisionUnique},
		decisions(t, h.store, run.ID, Dedup)); diff != "" {
		t.Errorf("dedup decisions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]string{"d1": consensus.DecisionInclude, "d3": consensus.DecisionExclude, "d4": consensus.DecisionInclude},
		decisions(t, h.store, run.ID, Screening)); diff != "" {
		t.Errorf("screening decisions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]string{"d1": DecisionScored, "d4": DecisionScored},
		decisions(t, h.store, run.ID, Quality)); diff != "" {
		t.Errorf("quality decisions mismatch (-want +got):\n%s", diff)
	}

	unresolved, err := h.ledger.UnresolvedClaims(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{ledger.ClaimID(run.ID, "Sleep deprivation disrupts memory consolidation.")}, unresolved); diff != "" {
		t.Errorf("unresolved claims mismatch (-want +got):\n%s", diff)
	}

	// A blocked export leaves only the staging directory.
	if _, err := os.Stat(BundleDir(h.output, run.ID)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("bundle exists after failed export gate: %v", err)
	}
	report, err := os.ReadFile(filepath.Join(StagingDir(h.output, run.ID), ReportFile))
	if err != nil {
		t.Fatalf("staged report: %v", err)
	}
	for _, want := range []string{"# " + testTopic, "Sleep loss reduces recall. [d1]", "https://doi.org/10.1000/a1", "_(unresolved)_"} {
		if !strings.Contains(string(report), want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}

	// Resuming without remediation fails the same gate again.
	if _, err := h.driver.Resume(ctx, run.ID, driver.ResumeOptions{}); !errors.As(err, &gateErr) || gateErr.Phase != Packaging {
		t.Fatalf("Resume() without remediation error = %v, want packaging GateError", err)
	}

	h.resolveClaims(t, run.ID)
	run, err = h.driver.Resume(ctx, run.ID, driver.ResumeOptions{})
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if run.Status != pipeline.RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}

	bundle := BundleDir(h.output, run.ID)
	if _, err := os.Stat(StagingDir(h.output, run.ID)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("staging directory left after commit: %v", err)
	}
	ledgerJSON, err := os.ReadFile(filepath.Join(bundle, LedgerFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(ledgerJSON), "10.1000/pub.0") {
		t.Errorf("exported ledger lacks the resolving citation:\n%s", ledgerJSON)
	}
	data, err := os.ReadFile(filepath.Join(bundle, ManifestFileName))
	if err != nil {
		t.Fatal(err)
	}
	var manifest BundleManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatal(err)
	}
	if len(manifest.Files) != 3 {
		t.Fatalf("manifest files = %+v", manifest.Files)
	}
	for _, f := range manifest.Files {
		content, err := os.ReadFile(filepath.Join(bundle, f.Name))
		if err != nil {
			t.Fatalf("bundle file %s: %v", f.Name, err)
		}
		if got := pipeline.HashContent(content); got != f.SHA256 {
			t.Errorf("%s hash = %s, manifest says %s", f.Name, got, f.SHA256)
		}
	}
}

// TestBuiltin_LogMessages tests that phase log messages follow the
// lower-case convention of the other components.
func TestBuiltin_LogMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	run, err := h.driver.Start(ctx, testTopic, "")
	if err == nil {
		t.Fatal("Start() should stop at the export gate")
	}
	h.resolveClaims(t, run.ID)
	if _, err := h.driver.Resume(ctx, run.ID, driver.ResumeOptions{}); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}

	seen := make(map[string]bool)
	for _, line := range strings.Split(strings.TrimSpace(h.logs.String()), "\n") {
		var entry struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line %q: %v", line, err)
		}
		seen[entry.Msg] = true
		if entry.Msg == "" || strings.ToLower(entry.Msg[:1]) != entry.Msg[:1] {
			t.Errorf("log message %q is not lower case", entry.Msg)
		}
	}
	for _, want := range []string{"synthesis complete", "bundle staged", "bundle committed"} {
		if !seen[want] {
			t.Errorf("missing log message %q in %v", want, seen)
		}
	}
}

func TestBuiltin_ResumeSkipsScreenedItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Stop after screening by making its completeness gate unreachable.
	h.setThreshold(Screening, "completeness", 2)
	run, err := h.driver.Start(ctx, testTopic, "")
	var gateErr *pipeline.GateError
	if !errors.As(err, &gateErr) || gateErr.Phase != Screening {
		t.Fatalf("Start() error = %v, want screening GateError", err)
	}
	before, err := h.store.ConsensusResults(ctx, run.ID, Screening)
	if err != nil {
		t.Fatal(err)
	}

	h.setThreshold(Screening, "completeness", 1)
	if _, err := h.driver.Resume(ctx, run.ID, driver.ResumeOptions{}); !errors.As(err, &gateErr) || gateErr.Phase != Packaging {
		t.Fatalf("Resume() error = %v, want packaging GateError", err)
	}
	h.resolveClaims(t, run.ID)
	if run, err = h.driver.Resume(ctx, run.ID, driver.ResumeOptions{}); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if run.Status != pipeline.RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	after, err := h.store.ConsensusResults(ctx, run.ID, Screening)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("screening results changed on resume (-before +after):\n%s", diff)
	}
}

func TestKeys(t *testing.T) {
	tests := []struct {
		in, title, doi string
	}{
		{"  Sleep, Deprivation & Memory!  ", "sleep deprivation memory", "sleep, deprivation & memory!"},
		{"https://doi.org/10.1000/ABC", "https doi org 10 1000 abc", "10.1000/abc"},
		{"doi:10.5/x", "doi 10 5 x", "10.5/x"},
	}
	for _, tt := range tests {
		if got := TitleKey(tt.in); got != tt.title {
			t.Errorf("TitleKey(%q) = %q, want %q", tt.in, got, tt.title)
		}
		if got := DOIKey(tt.in); got != tt.doi {
			t.Errorf("DOIKey(%q) = %q, want %q", tt.in, got, tt.doi)
		}
	}
}

func TestFirstSeen(t *testing.T) {
	f := newFirstSeen(map[string]*IntakeRecord{
		"a": {TitleKey: "one", DOIKey: "10.1/x"},
		"b": {TitleKey: "two", DOIKey: "10.1/x"},
		"c": {TitleKey: "one"},
		"d": {TitleKey: "three"},
	})

	tests := []struct {
		id       string
		decision string
		matched  string
	}{
		{"a", DecisionUnique, ""},
		{"b", DecisionDuplicate, "doi"},
		{"c", DecisionDuplicate, "title"},
		{"d", DecisionUnique, ""},
	}
	for _, tt := range tests {
		res, err := f.decide(tt.id)
		if err != nil {
			t.Fatalf("decide(%s) error = %v", tt.id, err)
		}
		if res.Decision != tt.decision {
			t.Errorf("decide(%s) = %s, want %s", tt.id, res.Decision, tt.decision)
		}
		if tt.matched != "" {
			var dr DedupRecord
			if err := json.Unmarshal(res.Payload, &dr); err != nil {
				t.Fatal(err)
			}
			if dr.MatchedOn != tt.matched || dr.DuplicateOf != "a" {
				t.Errorf("decide(%s) payload = %+v", tt.id, dr)
			}
		}
	}

	if _, err := f.decide("zz"); !errors.Is(err, pipeline.ErrPermanent) {
		t.Errorf("unknown item error = %v, want permanent", err)
	}
}
