package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// TestNew tests default timeouts.
func TestNew(t *testing.T) {
	if got := New(0).checkTimeout; got != 5*time.Second {
		t.Errorf("default timeout = %v, want 5s", got)
	}
	if got := New(time.Second).checkTimeout; got != time.Second {
		t.Errorf("timeout = %v, want 1s", got)
	}
}

// TestCheckReadiness tests aggregation of component checks.
func TestCheckReadiness(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]CheckFunc
		want   string
	}{
		{name: "no checks", checks: nil, want: StatusReady},
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"checkpoint": func(context.Context) error { return nil },
				"ledger":     func(context.Context) error { return nil },
			},
			want: StatusReady,
		},
		{
			name: "one failing",
			checks: map[string]CheckFunc{
				"checkpoint": func(context.Context) error { return nil },
				"ledger":     func(context.Context) error { return errors.New("database is locked") },
			},
			want: StatusDegraded,
		},
		{
			name: "timeout",
			checks: map[string]CheckFunc{
				"scheduler": func(ctx context.Context) error {
					<-ctx.Done()
					time.Sleep(10 * time.Millisecond)
					return nil
				},
			},
			want: StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(20 * time.Millisecond)
			for name, check := range tt.checks {
				checker.RegisterCheck(name, check)
			}
			status := checker.CheckReadiness(context.Background())
			if status.Status != tt.want {
				t.Errorf("status = %q, want %q (checks %+v)", status.Status, tt.want, status.Checks)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("results = %d, want %d", len(status.Checks), len(tt.checks))
			}
		})
	}
}

// TestListChecks tests that check names are sorted.
func TestListChecks(t *testing.T) {
	checker := New(0)
	checker.RegisterCheck("scheduler", func(context.Context) error { return nil })
	checker.RegisterCheck("checkpoint", func(context.Context) error { return nil })
	checker.RegisterCheck("ledger", func(context.Context) error { return nil })

	if diff := cmp.Diff([]string{"checkpoint", "ledger", "scheduler"}, checker.ListChecks()); diff != "" {
		t.Errorf("ListChecks() mismatch (-want +got):\n%s", diff)
	}
}

// TestHandlers tests the HTTP endpoints.
func TestHandlers(t *testing.T) {
	checker := New(time.Second)
	checker.RegisterCheck("checkpoint", func(context.Context) error { return errors.New("closed") })

	mux := http.NewServeMux()
	Register(mux, checker, "1.2.3", "abc", "2026-01-01")

	tests := []struct {
		method string
		path   string
		code   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusServiceUnavailable},
		{http.MethodGet, "/version", http.StatusOK},
		{http.MethodHead, "/health", http.StatusOK},
		{http.MethodPost, "/health", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.code {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.code)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if info.Version != "1.2.3" || info.GoVersion == "" {
		t.Errorf("unexpected version info %+v", info)
	}
}
