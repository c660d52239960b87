package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/cmd/internal/display"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/report"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/scanners/idor"
)

// errVulnerable is returned with --fail-on-vulnerable so CI jobs fail.
var errVulnerable = errors.New("authorization violations detected")

const topFindings = 10

type outputOptions struct {
	Path             string
	Format           string
	IncludeExchanges bool
	FailOnVulnerable bool
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("out", "", "report file (default stdout)")
	cmd.Flags().String("format", "json", "report format (json, csv)")
	cmd.Flags().Bool("include-safe", false, "list safe verdicts in the report")
	cmd.Flags().Bool("include-exchanges", false, "embed full requests and responses in JSON reports")
	cmd.Flags().Bool("fail-on-vulnerable", false, "exit non-zero when any violation is found")
}

func outputOptionsFrom(cmd *cobra.Command) outputOptions {
	var o outputOptions
	o.Path, _ = cmd.Flags().GetString("out")
	o.Format, _ = cmd.Flags().GetString("format")
	o.IncludeExchanges, _ = cmd.Flags().GetBool("include-exchanges")
	o.FailOnVulnerable, _ = cmd.Flags().GetBool("fail-on-vulnerable")
	if cmd.Flags().Changed("include-safe") {
		cfg.Fuzzer.IncludeSafe, _ = cmd.Flags().GetBool("include-safe")
	}
	return o
}

// humanWriter keeps the colored summary off stdout when the report goes there.
func humanWriter(cmd *cobra.Command, o outputOptions) io.Writer {
	if o.Path == "" || o.Path == "-" {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

// recordBatch feeds verdicts and skips to the logger and telemetry.
func recordBatch(ctx context.Context, batch *idor.BatchResult) {
	runLog := log.WithRunID(batch.Summary.RunID)
	for i := range batch.Results {
		res := &batch.Results[i]
		runLog.LogVerdict(ctx, res)
		tel.RecordVerdict(res.TestCase, res.Verdict)
	}
	for _, s := range batch.Skipped {
		tel.RecordSkip(s.Reason)
	}
}

// emitReport writes the machine-readable report and the human summary.
func emitReport(cmd *cobra.Command, batch *idor.BatchResult, mode string, o outputOptions) error {
	format, err := report.ParseFormat(o.Format)
	if err != nil {
		return err
	}

	r := report.Build(batch, report.Options{
		Mode:             mode,
		IncludeSafe:      cfg.Fuzzer.IncludeSafe,
		IncludeExchanges: o.IncludeExchanges,
	})

	if o.Path == "" || o.Path == "-" {
		if err := report.Write(cmd.OutOrStdout(), r, format); err != nil {
			return err
		}
	} else if err := report.Save(o.Path, r, format); err != nil {
		return err
	}

	w := humanWriter(cmd, o)
	display.PrintSummary(w, batch.Summary)
	display.PrintTopFindings(w, batch.Results, topFindings)
	display.PrintSkipped(w, batch.Skipped, topFindings)
	if o.Path != "" && o.Path != "-" {
		color.New(color.FgGreen).Fprintf(w, "\n✓ Report saved: %s\n", o.Path)
	}

	if o.FailOnVulnerable && batch.Summary.Vulnerable > 0 {
		return fmt.Errorf("%w: %d", errVulnerable, batch.Summary.Vulnerable)
	}
	return nil
}
