package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/saturn/pkg/checkpoint"
	"mercator-hq/saturn/pkg/cli"
	"mercator-hq/saturn/pkg/config"
	"mercator-hq/saturn/pkg/driver"
	"mercator-hq/saturn/pkg/pipeline"
	"mercator-hq/saturn/pkg/scheduler"
	"mercator-hq/saturn/pkg/telemetry/health"
)

const shutdownTimeout = 10 * time.Second

var serveFlags struct {
	listenAddress string
	noWatch       bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve metrics and resume interrupted runs",
	Long: `Expose Prometheus metrics and health endpoints, and, when the scheduler is
enabled, periodically resume runs that were interrupted.

Runs paused by a gate or by an operator are never resumed automatically.
The configuration file is watched and reloaded; gate thresholds from the new
configuration apply to the next gate evaluation.

Examples:
  saturn serve
  saturn serve --listen 0.0.0.0:9464`,
	Args: cobra.NoArgs,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override metrics listen address")
	serveCmd.Flags().BoolVar(&serveFlags.noWatch, "no-watch", false, "do not reload the config file on change")
}

// topicResumer resumes each run with reviewers tuned to its own topic.
type topicResumer struct {
	app *app
}

func (r topicResumer) Runs(ctx context.Context, filter checkpoint.RunFilter) ([]*pipeline.Run, error) {
	return r.app.store.ListRuns(ctx, filter)
}

func (r topicResumer) Resume(ctx context.Context, runID string, opts driver.ResumeOptions) (*pipeline.Run, error) {
	d, err := r.app.driverFor(ctx, runID)
	if err != nil {
		return nil, err
	}
	return d.Resume(ctx, runID, opts)
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	listen := a.cfg.Telemetry.Metrics.ListenAddress
	if serveFlags.listenAddress != "" {
		listen = serveFlags.listenAddress
	}

	checker := health.New(5 * time.Second)
	checker.RegisterCheck("checkpoint_store", func(ctx context.Context) error {
		_, err := a.store.ListRuns(ctx, checkpoint.RunFilter{Limit: 1})
		return err
	})

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Telemetry.Metrics.Path, a.metrics.Handler())
	health.Register(mux, checker, Version, GitCommit, BuildDate)
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("starting metrics server", "address", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	if a.cfg.Scheduler.Enabled {
		sched := scheduler.New(topicResumer{app: a}, a.cfg.Scheduler.Schedule)
		if err := sched.Start(ctx); err != nil {
			return cli.NewConfigError("scheduler.schedule", err.Error())
		}
		defer sched.Stop()
		if next := sched.NextRun(); next != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Auto-resume scheduled (%s), next sweep %s\n", a.cfg.Scheduler.Schedule, next.Format(time.RFC3339))
		}
	}

	if path := configPath(); path != "" && !serveFlags.noWatch {
		watcher, err := config.NewWatcher(path, config.DefaultDebounceInterval)
		if err != nil {
			return err
		}
		go func() {
			if err := watcher.Watch(ctx); err != nil {
				slog.Error("config watcher stopped", "error", err)
			}
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Metrics endpoint: http://%s%s\n", listen, a.cfg.Telemetry.Metrics.Path)
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Health endpoint: http://%s/health\n", listen)
	fmt.Fprintln(cmd.OutOrStdout(), "\nPress Ctrl+C to stop")

	select {
	case err := <-errChan:
		return cli.NewCommandError("serve", err)
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down gracefully...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return cli.NewCommandError("serve", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Server stopped")
	return nil
}
