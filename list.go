package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/notesync/notesync/internal/config"
	"github.com/notesync/notesync/internal/sync"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workspaces registered on this machine",
		Args:  exactArgs(0),
		RunE:  runList,
	}
}

// listedWorkspace is the JSON shape of one registered workspace.
type listedWorkspace struct {
	Path          string `json:"path"`
	RemoteRootURL string `json:"remote_root_url"`
	LastSyncAt    string `json:"last_sync_at,omitempty"`
}

func runList(cmd *cobra.Command, _ []string) error {
	globalPath, err := config.DefaultGlobalPath()
	if err != nil {
		return err
	}

	return listWorkspaces(cmd.Context(), globalPath, flagJSON, os.Stdout)
}

// listWorkspaces prints the global workspace registry. The last sync time is
// read from each workspace's own state database; workspaces that moved or
// were deleted list with a blank time rather than failing the command.
func listWorkspaces(ctx context.Context, globalPath string, jsonOut bool, out io.Writer) error {
	global, err := config.LoadGlobal(globalPath)
	if err != nil {
		return err
	}

	listed := make([]listedWorkspace, 0, len(global.Workspaces))
	for _, ref := range global.Workspaces {
		listed = append(listed, listedWorkspace{
			Path:          ref.Path,
			RemoteRootURL: ref.RemoteRootURL,
			LastSyncAt:    lastSyncOf(ctx, ref.Path),
		})
	}

	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		return enc.Encode(listed)
	}

	if len(listed) == 0 {
		statusf("No workspaces registered. Run 'notesync init' to create one.\n")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tREMOTE\tLAST SYNC")

	for _, l := range listed {
		last := l.LastSyncAt
		if last == "" {
			last = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\n", l.Path, l.RemoteRootURL, last)
	}

	return w.Flush()
}

// lastSyncOf reads the last_sync_at marker from a workspace state database.
// The stat guard keeps this read-only command from creating state files in
// never-synced workspaces.
func lastSyncOf(ctx context.Context, root string) string {
	statePath := config.StatePath(root)
	if _, err := os.Stat(statePath); err != nil {
		return ""
	}

	store, err := sync.NewStore(statePath, slog.New(slog.DiscardHandler))
	if err != nil {
		return ""
	}
	defer store.Close()

	last, err := store.GetMeta(ctx, "last_sync_at")
	if err != nil {
		return ""
	}

	return last
}
