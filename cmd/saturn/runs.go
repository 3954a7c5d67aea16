package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/saturn/pkg/checkpoint"
	"mercator-hq/saturn/pkg/cli"
	"mercator-hq/saturn/pkg/config"
	"mercator-hq/saturn/pkg/driver"
	"mercator-hq/saturn/pkg/pipeline"
)

var startFlags struct {
	topic      string
	pipeline   string
	manifest   string
	noProgress bool
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new review run",
	Long: `Start a new review run for a topic and execute it until it completes,
pauses at a gate, or is interrupted.

If earlier runs exist for the same topic, the new run records the latest one
as superseded.

Examples:
  # Start with the configured manifest
  saturn start --topic "sleep deprivation and memory"

  # Override manifest and gates for this run
  saturn start --topic "sleep deprivation and memory" --pipeline pipeline.yaml`,
	Args: cobra.NoArgs,
	RunE: startRun,
}

var resumeFlags struct {
	force      bool
	noProgress bool
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a paused or interrupted run",
	Long: `Resume a run from its first phase without a checkpoint. Items that were
already processed are not recomputed.

A failed run is refused unless --force is given after manual intervention.`,
	Args: cobra.ExactArgs(1),
	RunE: resumeRun,
}

var pauseCmd = &cobra.Command{
	Use:   "pause <run-id>",
	Short: "Pause a running run",
	Long: `Mark a running run as paused. The process executing it stops at the next
batch boundary.`,
	Args: cobra.ExactArgs(1),
	RunE: pauseRun,
}

var statusFlags struct {
	format string
}

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show run progress and gate results",
	Args:  cobra.ExactArgs(1),
	RunE:  showStatus,
}

var runsFlags struct {
	status string
	limit  int
	format string
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  listRuns,
}

func init() {
	rootCmd.AddCommand(startCmd, resumeCmd, pauseCmd, statusCmd, runsCmd)

	startCmd.Flags().StringVarP(&startFlags.topic, "topic", "t", "", "review topic (required)")
	startCmd.Flags().StringVarP(&startFlags.pipeline, "pipeline", "p", "", "pipeline file overriding source, judge, consensus and gates")
	startCmd.Flags().StringVarP(&startFlags.manifest, "manifest", "m", "", "override the document manifest")
	startCmd.Flags().BoolVar(&startFlags.noProgress, "no-progress", false, "do not render progress bars")
	_ = startCmd.MarkFlagRequired("topic")

	resumeCmd.Flags().BoolVar(&resumeFlags.force, "force", false, "resume a failed run")
	resumeCmd.Flags().BoolVar(&resumeFlags.noProgress, "no-progress", false, "do not render progress bars")

	statusCmd.Flags().StringVarP(&statusFlags.format, "format", "f", "text", "output format (text, json)")

	runsCmd.Flags().StringVar(&runsFlags.status, "status", "", "filter by status (running, paused, completed, failed)")
	runsCmd.Flags().IntVarP(&runsFlags.limit, "limit", "n", 20, "maximum number of runs")
	runsCmd.Flags().StringVarP(&runsFlags.format, "format", "f", "text", "output format (text, json, csv)")
}

func progressOption(cmd *cobra.Command, disabled bool) (driver.Option, func()) {
	if disabled {
		return func(*driver.Driver) {}, func() {}
	}
	progress := cli.NewProgressReporter(cmd.ErrOrStderr())
	return driver.WithProgress(progress.Update), progress.Finish
}

func startRun(cmd *cobra.Command, args []string) error {
	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if startFlags.pipeline != "" {
		pf, err := loadPipelineFile(startFlags.pipeline)
		if err != nil {
			return cli.NewConfigError("pipeline", err.Error())
		}
		if err := pf.apply(a.cfg); err != nil {
			return cli.NewConfigError("pipeline", err.Error())
		}
	}
	if startFlags.manifest != "" {
		a.cfg.Source.Manifest = startFlags.manifest
	}
	hash, err := config.Hash(a.cfg)
	if err != nil {
		return err
	}

	progress, finish := progressOption(cmd, startFlags.noProgress)
	d, err := a.newDriver(startFlags.topic, progress)
	if err != nil {
		return err
	}
	run, err := d.Start(ctx, startFlags.topic, hash)
	finish()
	return reportRun(cmd.OutOrStdout(), "start", run, err)
}

func resumeRun(cmd *cobra.Command, args []string) error {
	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	progress, finish := progressOption(cmd, resumeFlags.noProgress)
	d, err := a.driverFor(ctx, args[0], progress)
	if err != nil {
		return cli.NewCommandError("resume", err)
	}
	run, err := d.Resume(ctx, args[0], driver.ResumeOptions{Force: resumeFlags.force})
	finish()
	return reportRun(cmd.OutOrStdout(), "resume", run, err)
}

func pauseRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	d, err := a.driverFor(ctx, args[0])
	if err != nil {
		return cli.NewCommandError("pause", err)
	}
	if err := d.Pause(ctx, args[0]); err != nil {
		return cli.NewCommandError("pause", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Run %s paused\n", args[0])
	return nil
}

// reportRun prints where a run stopped and turns the outcome into the
// command error.
func reportRun(w io.Writer, command string, run *pipeline.Run, err error) error {
	if run == nil {
		return cli.NewCommandError(command, err)
	}
	fmt.Fprintf(w, "Run:    %s\n", run.ID)
	fmt.Fprintf(w, "Topic:  %s\n", run.Topic)
	if run.Supersedes != "" {
		fmt.Fprintf(w, "Supersedes: %s\n", run.Supersedes)
	}
	fmt.Fprintf(w, "Status: %s", run.Status)
	if run.PauseReason != pipeline.PauseNone {
		fmt.Fprintf(w, " (%s)", run.PauseReason)
	}
	fmt.Fprintln(w)
	if run.Detail != "" {
		fmt.Fprintf(w, "Detail: %s\n", run.Detail)
	}
	if err != nil {
		return cli.NewCommandError(command, err)
	}
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(statusFlags.format)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	d, err := a.driverFor(ctx, args[0])
	if err != nil {
		return cli.NewCommandError("status", err)
	}
	st, err := d.Status(ctx, args[0])
	if err != nil {
		return cli.NewCommandError("status", err)
	}
	if format != cli.FormatText {
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), st)
	}
	return printStatus(cmd.OutOrStdout(), st)
}

func printStatus(w io.Writer, st *driver.RunStatus) error {
	if err := reportRun(w, "status", st.Run, nil); err != nil {
		return err
	}
	current := st.Phase
	if current == "" {
		current = "-"
	}
	fmt.Fprintf(w, "Phase:  %s\n\n", current)

	phaseTable := &cli.Table{Columns: []string{"phase", "granularity", "completed", "items", "completed at"}}
	for _, p := range st.Phases {
		at := ""
		if p.CompletedAt != nil {
			at = p.CompletedAt.Format(time.RFC3339)
		}
		items := ""
		if p.Granularity == pipeline.PerItem.String() {
			items = strconv.Itoa(p.ItemsProcessed)
		}
		phaseTable.Data = append(phaseTable.Data, []string{p.Name, p.Granularity, strconv.FormatBool(p.Completed), items, at})
	}
	fmt.Fprintln(w, cli.RenderTable(phaseTable))

	if len(st.Gates) == 0 {
		return nil
	}
	gateTable := &cli.Table{Columns: []string{"phase", "gate", "status", "blocking", "threshold", "observed", "evaluated at"}}
	for _, g := range st.Gates {
		gateTable.Data = append(gateTable.Data, []string{
			g.Phase, g.Gate, string(g.Status), strconv.FormatBool(g.Blocking),
			strconv.FormatFloat(g.Threshold, 'g', -1, 64),
			strconv.FormatFloat(g.Observed, 'g', 4, 64),
			g.EvaluatedAt.Format(time.RFC3339),
		})
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, cli.RenderTable(gateTable))
	return nil
}

// runList renders runs as a table or CSV.
type runList []*pipeline.Run

func (l runList) Header() []string {
	return []string{"id", "status", "reason", "topic", "supersedes", "updated"}
}

func (l runList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		rows = append(rows, []string{r.ID, string(r.Status), string(r.PauseReason), r.Topic, r.Supersedes, r.UpdatedAt.Format(time.RFC3339)})
	}
	return rows
}

func listRuns(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(runsFlags.format)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	runs, err := a.store.ListRuns(cmd.Context(), checkpoint.RunFilter{
		Status: pipeline.RunStatus(runsFlags.status),
		Limit:  runsFlags.limit,
	})
	if err != nil {
		return cli.NewCommandError("runs", err)
	}
	if format == cli.FormatText && len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs found")
		return nil
	}
	if format == cli.FormatJSON {
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), runs)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), runList(runs))
}
