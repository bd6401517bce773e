package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/notesync/notesync/internal/config"
	"github.com/notesync/notesync/internal/remote"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <remote-url> [directory]",
		Short: "Initialize a workspace linked to a remote document tree",
		Long: `Create a notesync workspace in the given directory (default: the
current directory) linked to the remote document at the given share URL.

The API token is read from the ` + config.EnvToken + ` environment variable or
the global config file.`,
		Args: rangeArgs(1, 2),
		RunE: runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	slog.SetDefault(logger)

	baseURL, rootID, err := config.ParseRootURL(args[0])
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	root := "."
	if len(args) == 2 {
		root = args[1]
	}

	root, err = filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving workspace directory: %w", err)
	}

	if _, statErr := os.Stat(config.WorkspaceConfigPath(root)); statErr == nil {
		return fmt.Errorf("%s is already a notesync workspace", root)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("creating workspace directory: %w", err)
	}

	token, err := resolveToken()
	if err != nil {
		return err
	}

	// Verify the token and root before writing anything.
	client := remote.NewClient(baseURL, &http.Client{}, remote.StaticTokenSource(token), nil, logger)

	nodes, err := client.FetchTopLevel(cmd.Context(), rootID)
	if err != nil {
		return fmt.Errorf("verifying remote access: %w", err)
	}

	ws := &config.Workspace{
		RemoteBaseURL: baseURL,
		RemoteRootID:  rootID,
		RemoteRootURL: args[0],
	}

	if err := config.SaveWorkspace(root, ws); err != nil {
		return err
	}

	if err := registerWorkspace(root, args[0]); err != nil {
		logger.Warn("updating global workspace registry", slog.String("error", err.Error()))
	}

	statusf("Initialized workspace at %s\n", root)
	statusf("Remote root has %d top-level document(s). Run 'notesync pull' to fetch them.\n", len(nodes))

	return nil
}

// registerWorkspace records the workspace in the global registry so 'list'
// can enumerate workspaces across the machine.
func registerWorkspace(root, remoteURL string) error {
	globalPath, err := config.DefaultGlobalPath()
	if err != nil {
		return err
	}

	global, err := config.LoadGlobal(globalPath)
	if err != nil {
		return err
	}

	global.RegisterWorkspace(config.WorkspaceRef{Path: root, RemoteRootURL: remoteURL})

	return config.SaveGlobal(globalPath, global)
}
