package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notesync/notesync/internal/remote"
	"github.com/notesync/notesync/internal/sync"
)

// Transfer command flags, bound per command in the constructors below.
type transferFlags struct {
	force  bool
	dryRun bool
}

func newPullCmd() *cobra.Command {
	var flags transferFlags

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Apply remote changes to the local directory",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTransfer(cmd, sync.DirectionPull, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.force, "force", false, "overwrite local files that differ from remote")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "plan only, make no changes")

	return cmd
}

func newPushCmd() *cobra.Command {
	var flags transferFlags

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Apply local changes to the remote tree",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTransfer(cmd, sync.DirectionPush, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.force, "force", false, "overwrite remote documents that differ from local")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "plan only, make no changes")

	return cmd
}

func newSyncCmd() *cobra.Command {
	var flags transferFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile both directions in one run",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTransfer(cmd, sync.DirectionBoth, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "plan only, make no changes")

	return cmd
}

func runTransfer(cmd *cobra.Command, dir sync.Direction, flags transferFlags) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := cmd.Context()

	var report *sync.Report

	switch dir {
	case sync.DirectionPull:
		report, err = ws.Engine.Pull(ctx, flags.force, flags.dryRun)
	case sync.DirectionPush:
		report, err = ws.Engine.Push(ctx, flags.force, flags.dryRun)
	default:
		report, err = ws.Engine.Sync(ctx, flags.dryRun)
	}

	if err != nil {
		return err
	}

	printReport(report)

	return reportError(report)
}

// reportError maps a completed run's per-entry outcome to the error driving
// the exit code. Skipped entries are error records too, so any failure is
// non-zero: remote and auth failures exit 3, everything else exits 1.
func reportError(r *sync.Report) error {
	if r.Failed > 0 {
		for _, err := range r.Errors {
			var apiErr *remote.Error

			if errors.As(err, &apiErr) || errors.Is(err, remote.ErrAuth) {
				return fmt.Errorf("%d action(s) failed: %w", r.Failed, err)
			}
		}

		return fmt.Errorf("%d action(s) failed", r.Failed)
	}

	if r.HasConflicts() {
		return errConflictsPending
	}

	return nil
}
