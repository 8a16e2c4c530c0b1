package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var contextsCmd = &cobra.Command{
	Use:   "contexts [path]",
	Short: "List the analysis contexts persisted for a project",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runContexts,
}

func runContexts(cmd *cobra.Command, args []string) error {
	out, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	target, isDir, err := resolveTarget(args)
	if err != nil {
		return outputError(out, stderr, "contexts", err)
	}
	wb, err := openWorkbench(cmd, target, isDir)
	if err != nil {
		return outputError(out, stderr, "contexts", fmt.Errorf("creating workbench: %w", err))
	}
	defer wb.Close()

	infos, err := wb.Stored(cmd.Context())
	if err != nil {
		return outputError(out, stderr, "contexts", err)
	}
	ctxs := make([]CLIContext, 0, len(infos))
	for _, info := range infos {
		ctxs = append(ctxs, CLIContext{
			Root:     info.ID.Root,
			Language: info.ID.Language,
			Instance: info.InstanceID,
			Units:    info.Units,
			Errors:   info.Errors,
			SavedAt:  info.SavedAt.UTC().Format(time.RFC3339),
			Hash:     info.Hash,
		})
	}
	return outputResult(out, CLIResult{Command: "contexts", Results: ctxs})
}
