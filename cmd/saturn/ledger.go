package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/saturn/pkg/cli"
	"mercator-hq/saturn/pkg/ledger"
	"mercator-hq/saturn/pkg/ledger/export"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the evidence ledger",
	Long:  `Inspect and export the claims, citations and evidence links of a run.`,
}

var unresolvedFlags struct {
	format string
}

var unresolvedCmd = &cobra.Command{
	Use:   "unresolved <run-id>",
	Short: "List claims without resolved evidence",
	Long: `List the claims of a run that have no evidence link to a resolved
citation. Packaging is blocked while this list is not empty.`,
	Args: cobra.ExactArgs(1),
	RunE: listUnresolved,
}

var exportFlags struct {
	format string
	output string
	pretty bool
}

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export the ledger of a run",
	Long: `Export the claims, citations and evidence links of a run as JSON or CSV.

Examples:
  # Pretty JSON to stdout
  saturn ledger export 5f0c... --pretty

  # CSV to a file
  saturn ledger export 5f0c... --format csv --output claims.csv`,
	Args: cobra.ExactArgs(1),
	RunE: exportLedger,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(unresolvedCmd, exportCmd)

	unresolvedCmd.Flags().StringVarP(&unresolvedFlags.format, "format", "f", "text", "output format (text, json, csv)")

	exportCmd.Flags().StringVarP(&exportFlags.format, "format", "f", "json", "export format (json, csv)")
	exportCmd.Flags().StringVarP(&exportFlags.output, "output", "o", "", "output file (default stdout)")
	exportCmd.Flags().BoolVar(&exportFlags.pretty, "pretty", false, "indent JSON output")
}

// claimList renders claims as a table or CSV.
type claimList []*ledger.Claim

func (l claimList) Header() []string { return []string{"id", "source", "text"} }

func (l claimList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, c := range l {
		rows = append(rows, []string{c.ID, c.Source, c.Text})
	}
	return rows
}

func listUnresolved(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(unresolvedFlags.format)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	claims, err := unresolvedClaims(ctx, a.ledger, args[0])
	if err != nil {
		return cli.NewCommandError("ledger unresolved", err)
	}
	if format == cli.FormatText && len(claims) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Every claim has resolved evidence")
		return nil
	}
	if format == cli.FormatJSON {
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), claims)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), claimList(claims))
}

// unresolvedClaims returns the full claims behind the unresolved ids.
func unresolvedClaims(ctx context.Context, l ledger.Ledger, runID string) ([]*ledger.Claim, error) {
	ids, err := l.UnresolvedClaims(ctx, runID)
	if err != nil {
		return nil, err
	}
	claims, err := l.Claims(ctx, runID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*ledger.Claim, len(claims))
	for _, c := range claims {
		byID[c.ID] = c
	}
	out := make([]*ledger.Claim, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func exportLedger(cmd *cobra.Command, args []string) error {
	exporter, err := export.New(exportFlags.format, exportFlags.pretty)
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}
	ctx := cmd.Context()
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	bundle, err := export.Load(ctx, a.ledger, args[0])
	if err != nil {
		return cli.NewCommandError("ledger export", err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if exportFlags.output != "" {
		f, err := os.Create(exportFlags.output)
		if err != nil {
			return cli.NewCommandError("ledger export", err)
		}
		defer f.Close()
		w = f
	}
	if err := exporter.Export(ctx, bundle, w); err != nil {
		return cli.NewCommandError("ledger export", err)
	}
	if exportFlags.output != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported %d claims to %s\n", len(bundle.Claims), exportFlags.output)
	}
	return nil
}
