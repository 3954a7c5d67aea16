package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mercator-hq/saturn/pkg/checkpoint"
	"mercator-hq/saturn/pkg/driver"
	"mercator-hq/saturn/pkg/pipeline"
)

type fakeResumer struct {
	mu      sync.Mutex
	runs    []*pipeline.Run
	filter  checkpoint.RunFilter
	errs    map[string]error
	resumed []string
	listErr error
}

func (f *fakeResumer) Runs(ctx context.Context, filter checkpoint.RunFilter) ([]*pipeline.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = filter
	return f.runs, f.listErr
}

func (f *fakeResumer) Resume(ctx context.Context, runID string, opts driver.ResumeOptions) (*pipeline.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, runID)
	if err := f.errs[runID]; err != nil {
		return &pipeline.Run{ID: runID, Status: pipeline.RunPaused}, err
	}
	return &pipeline.Run{ID: runID, Status: pipeline.RunCompleted}, nil
}

func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name        string
		schedule    string
		wantRunning bool
		wantError   bool
	}{
		{"every five minutes", "*/5 * * * *", true, false},
		{"empty schedule", "", false, false},
		{"invalid schedule", "whenever", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakeResumer{}, tt.schedule)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := s.Start(ctx)
			if (err != nil) != tt.wantError {
				t.Errorf("Start() error = %v, wantError %v", err, tt.wantError)
			}
			if s.IsRunning() != tt.wantRunning {
				t.Errorf("IsRunning() = %v, want %v", s.IsRunning(), tt.wantRunning)
			}
			if tt.wantRunning && s.NextRun() == nil {
				t.Error("NextRun() returned nil for running scheduler")
			}
			s.Stop()
			if s.IsRunning() {
				t.Error("scheduler still running after Stop()")
			}
		})
	}
}

func TestScheduler_Sweep(t *testing.T) {
	r := &fakeResumer{
		runs: []*pipeline.Run{{ID: "r1"}, {ID: "r2"}, {ID: "r3"}, {ID: "r4"}},
		errs: map[string]error{
			"r2": pipeline.ErrRunActive,
			"r3": &pipeline.GateError{RunID: "r3", Phase: "screening"},
			"r4": errors.New("store unavailable"),
		},
	}
	s := New(r, "")

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 2 {
		t.Errorf("resumed = %d, want 2", n)
	}
	if diff := cmp.Diff([]string{"r1", "r2", "r3", "r4"}, r.resumed); diff != "" {
		t.Errorf("resume calls mismatch (-want +got):\n%s", diff)
	}
	want := checkpoint.RunFilter{Status: pipeline.RunPaused, PauseReason: pipeline.PauseInterrupted}
	if r.filter != want {
		t.Errorf("filter = %+v, want %+v", r.filter, want)
	}
}

func TestScheduler_SweepListError(t *testing.T) {
	r := &fakeResumer{listErr: errors.New("boom")}
	if _, err := New(r, "").Sweep(context.Background()); err == nil {
		t.Fatal("Sweep() error = nil, want list error")
	}
	if len(r.resumed) != 0 {
		t.Errorf("resumed %v after list error", r.resumed)
	}
}

func TestScheduler_SweepCancelled(t *testing.T) {
	r := &fakeResumer{runs: []*pipeline.Run{{ID: "r1"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(r, "").Sweep(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Sweep() error = %v, want context.Canceled", err)
	}
}
