package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/saturn/pkg/checkpoint"
	"mercator-hq/saturn/pkg/driver"
	"mercator-hq/saturn/pkg/pipeline"
)

// Resumer lists and resumes runs. *driver.Driver implements it.
type Resumer interface {
	Runs(ctx context.Context, filter checkpoint.RunFilter) ([]*pipeline.Run, error)
	Resume(ctx context.Context, runID string, opts driver.ResumeOptions) (*pipeline.Run, error)
}

// Scheduler periodically resumes interrupted runs.
type Scheduler struct {
	resumer  Resumer
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// New creates a scheduler that sweeps on schedule, a standard five-field
// cron expression.
func New(resumer Resumer, schedule string) *Scheduler {
	logger := slog.Default().With("component", "scheduler")
	return &Scheduler{
		resumer:  resumer,
		schedule: schedule,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger}))),
		logger:   logger,
	}
}

// Start schedules the sweep. An empty schedule disables the scheduler. The
// scheduler stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("resume schedule not configured, skipping scheduler")
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("scheduled resume failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule resume: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("resume scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Sweep resumes every interrupted run once and returns how many were
// resumed. A run that fails to resume does not stop the sweep.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	runs, err := s.resumer.Runs(ctx, checkpoint.RunFilter{
		Status:      pipeline.RunPaused,
		PauseReason: pipeline.PauseInterrupted,
	})
	if err != nil {
		return 0, err
	}
	if len(runs) == 0 {
		s.logger.Debug("no interrupted runs")
		return 0, nil
	}

	resumed := 0
	for _, run := range runs {
		if ctx.Err() != nil {
			return resumed, ctx.Err()
		}
		log := s.logger.With("run_id", run.ID)
		final, err := s.resumer.Resume(ctx, run.ID, driver.ResumeOptions{})
		var gateErr *pipeline.GateError
		switch {
		case errors.Is(err, pipeline.ErrRunActive):
			log.Debug("run already executing, skipped")
			continue
		case errors.As(err, &gateErr):
			log.Info("resumed run paused at gate", "phase", gateErr.Phase)
		case err != nil:
			log.Error("resume failed", "error", err)
			continue
		default:
			log.Info("run resumed", "status", final.Status)
		}
		resumed++
	}
	return resumed, nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("resume scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled sweep, or nil when none is scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
