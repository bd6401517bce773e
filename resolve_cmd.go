package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notesync/notesync/internal/sync"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <path> <keep-local|keep-remote|keep-both>",
		Short: "Resolve a conflicted entry",
		Long: `Resolve a conflict detected by a previous run.

keep-local   pushes the local file over the remote document
keep-remote  overwrites the local file with remote content
keep-both    renames the local file to a timestamped conflict copy and
             writes the remote content at the original path`,
		Args: exactArgs(2),
		RunE: runResolve,
	}
}

func runResolve(cmd *cobra.Command, args []string) error {
	resolution := sync.Resolution(args[1])

	switch resolution {
	case sync.ResolutionKeepLocal, sync.ResolutionKeepRemote, sync.ResolutionKeepBoth:
	default:
		return fmt.Errorf("%w: unknown resolution %q (want keep-local, keep-remote, or keep-both)",
			errUsage, args[1])
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.Engine.Resolve(cmd.Context(), args[0], resolution); err != nil {
		return err
	}

	statusf("Resolved %s (%s)\n", args[0], resolution)

	return nil
}
