package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/saturn/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "saturn",
	Short: "Saturn - resumable literature review pipelines",
	Long: `Saturn runs a fixed sequence of review phases (intake, dedup, screening,
eligibility, extraction, quality, synthesis, composition, packaging) over a
document manifest.

Progress is checkpointed after every item, quality gates pause a run when a
blocking threshold is missed, and the evidence ledger blocks export of claims
without a resolved citation.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code matching the error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "saturn.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
