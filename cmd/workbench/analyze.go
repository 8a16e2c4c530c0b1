package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/workbench"
)

var flagLanguages string

var analyzeCmd = &cobra.Command{
	Use:   "analyze [path]",
	Short: "Analyze a file or directory and print diagnostics",
	Long:  "Parses the target with tree-sitter, runs each language's strategy and prints the resulting diagnostics. Exits with status 1 when any error is reported.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&flagLanguages, "languages", "", "comma-separated language filter (e.g. go,python)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	start := time.Now()
	out, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	target, isDir, err := resolveTarget(args)
	if err != nil {
		return outputError(out, stderr, "analyze", err)
	}
	var extra []workbench.Option
	if langs := splitList(flagLanguages); len(langs) > 0 {
		extra = append(extra, workbench.WithLanguages(langs...))
	}
	wb, err := openWorkbench(cmd, target, isDir, extra...)
	if err != nil {
		return outputError(out, stderr, "analyze", fmt.Errorf("creating workbench: %w", err))
	}
	defer wb.Close()

	var report *workbench.Report
	if isDir {
		report, err = wb.AnalyzeDirectory(cmd.Context(), target)
	} else {
		report, err = wb.AnalyzeFiles(cmd.Context(), []string{target})
	}
	if report == nil {
		return outputError(out, stderr, "analyze", err)
	}
	if err != nil {
		// Per-file failures do not stop the run; report them and go on.
		fmt.Fprintf(stderr, "Warning: %s\n", err)
	}

	if err := outputResult(out, CLIResult{Command: "analyze", Results: toCLIReport(report, wb.Root())}); err != nil {
		return err
	}
	if flagVerbose {
		fmt.Fprintf(stderr, "Analyzed %s in %s\n", target, time.Since(start).Round(time.Millisecond))
	}
	if report.HasErrors() {
		return errDiagnostics
	}
	return nil
}
