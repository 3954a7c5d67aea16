/*
Package cli provides command-line interface utilities for Saturn.

The cli package includes output formatters, progress reporters, exit codes
and signal handling used by the saturn command.

Output Formatting:

Command results are rendered as text tables, JSON or CSV. Values that
implement Tabular render as tables and CSV rows:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, status); err != nil {
		return err
	}

Progress Reporting:

Item-granular phases report progress through the driver:

	progress := cli.NewProgressReporter(os.Stderr)
	d := driver.New(store, registry, exec, evaluator, driver.WithProgress(progress.Update))
	defer progress.Finish()

Signal Handling:

The first SIGINT or SIGTERM cancels the returned context, which pauses the
running run at the next batch boundary:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()
*/
package cli
