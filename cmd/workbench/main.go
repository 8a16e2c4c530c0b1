package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jward/workbench"
	"github.com/jward/workbench/internal/config"
	"github.com/jward/workbench/internal/project"
)

var (
	flagConfig   string
	flagFormat   string
	flagStrategy string
	flagVerbose  bool
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// errDiagnostics makes the process exit non-zero when analysis reported
// errors. The diagnostics themselves are already printed.
var errDiagnostics = errors.New("analysis reported errors")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled && !errors.Is(err, errDiagnostics) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "workbench",
	Short:         "Incremental scope-aware analysis of source projects",
	Long:          "Workbench parses source files with tree-sitter, runs Risor strategy scripts over them and reports unresolved names and other diagnostics.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(cmd)
		return validateFormat(flagFormat)
	},
	// No Run; prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to workbench.toml (default: discovered from the target)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format: text|json")
	rootCmd.PersistentFlags().StringVar(&flagStrategy, "strategy", "", "strategy script overriding every language's")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging on stderr")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(contextsCmd)
}

// setupLogging installs the process logger: a text handler on stderr at
// warn level, or debug with --verbose.
func setupLogging(cmd *cobra.Command) {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
}

// resolveTarget returns the absolute path of the target and whether it is
// a directory.
func resolveTarget(args []string) (string, bool, error) {
	target := "."
	if len(args) > 0 {
		target = args[0]
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", false, fmt.Errorf("resolving path %q: %w", target, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", false, fmt.Errorf("path not found: %s", abs)
	}
	return abs, info.IsDir(), nil
}

// findProjectRoot returns the directory holding the manifest enclosing
// target, or target's directory when there is none.
func findProjectRoot(target string, isDir bool) (string, error) {
	root, err := project.FindRoot(target)
	if errors.Is(err, project.ErrNoProject) {
		if isDir {
			return target, nil
		}
		return filepath.Dir(target), nil
	}
	return root, err
}

// openWorkbench builds a Workbench for the project enclosing target.
func openWorkbench(cmd *cobra.Command, target string, isDir bool, extra ...workbench.Option) (*workbench.Workbench, error) {
	opts := []workbench.Option{workbench.WithLogger(slog.Default())}
	root := ""
	if flagConfig != "" {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		root = cfg.Root
		opts = append(opts, workbench.WithConfig(cfg))
	} else {
		var err error
		if root, err = findProjectRoot(target, isDir); err != nil {
			return nil, err
		}
	}
	if flagStrategy != "" {
		opts = append(opts, workbench.WithStrategy(flagStrategy))
	}
	opts = append(opts, extra...)
	return workbench.New(cmd.Context(), root, opts...)
}

// splitList parses a comma-separated flag value.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
