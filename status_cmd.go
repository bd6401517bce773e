package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending changes and open conflicts without syncing",
		Args:  exactArgs(0),
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	status, err := ws.Engine.Status(cmd.Context())
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(status); err != nil {
			return fmt.Errorf("encoding status: %w", err)
		}
	} else {
		printStatus(status)
	}

	// Inspection only: conflicts show in the output, never in the exit code.
	return nil
}
