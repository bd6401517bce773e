package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/notesync/notesync/internal/sync"
)

func newWatchCmd() *cobra.Command {
	var intervalSeconds int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run continuously: sync on local changes and poll the remote",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, intervalSeconds)
		},
	}

	cmd.Flags().IntVar(&intervalSeconds, "interval", 0, "remote poll interval in seconds (default 30)")

	return cmd
}

func runWatch(cmd *cobra.Command, intervalSeconds int) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	pollInterval := ws.Config.PollInterval()
	if intervalSeconds > 0 {
		pollInterval = time.Duration(intervalSeconds) * time.Second
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := sync.NewWatcher(ws.Engine, ws.Root, ws.Config.Debounce(), pollInterval, ws.Logger)

	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	statusf("Watcher stopped.\n")

	return nil
}
