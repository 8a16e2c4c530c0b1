package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/workbench"
)

var flagDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Analyze a directory and reanalyze files as they change",
	Long:  "Runs a full analysis of the project, then watches it and prints the diagnostics of every changed file until interrupted.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&flagDebounce, "debounce", 150*time.Millisecond, "quiet period before a batch of changes is analyzed")
}

func runWatch(cmd *cobra.Command, args []string) error {
	out, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	target, isDir, err := resolveTarget(args)
	if err != nil {
		return outputError(out, stderr, "watch", err)
	}
	if !isDir {
		return outputError(out, stderr, "watch", fmt.Errorf("not a directory: %s", target))
	}
	wb, err := openWorkbench(cmd, target, isDir)
	if err != nil {
		return outputError(out, stderr, "watch", fmt.Errorf("creating workbench: %w", err))
	}
	defer wb.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	show := func(report *workbench.Report, err error) {
		if err != nil {
			fmt.Fprintf(stderr, "Warning: %s\n", err)
		}
		if report == nil || (len(report.Files) == 0 && len(report.Removed) == 0) {
			return
		}
		if err := outputResult(out, CLIResult{Command: "watch", Results: toCLIReport(report, wb.Root())}); err != nil {
			fmt.Fprintf(stderr, "Error: %s\n", err)
		}
	}

	show(wb.AnalyzeDirectory(ctx, target))
	return wb.Watch(ctx, workbench.WatchOptions{Debounce: flagDebounce}, show)
}
