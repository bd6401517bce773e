package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagJSON    bool
	flagVerbose bool
	flagQuiet   bool
)

// errUsage marks command-line mistakes so main can map them to exit code 2.
var errUsage = errors.New("usage")

// newRootCmd builds the fully-assembled root command with all subcommands
// registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notesync",
		Short: "Bidirectional markdown sync for remote document workspaces",
		Long: `notesync mirrors a remote hierarchical document tree into a local
directory of markdown files and keeps the two in sync.

Pages become .md files, pages with children become directories with an
_index.md, databases become directories with a _schema file, and database
entries become .md files with YAML frontmatter.`,
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

// buildLogger creates the process logger: colorized tint output on a
// terminal, plain text otherwise. --verbose and --quiet set the level.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	w := os.Stderr

	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// exactArgs wraps cobra's argument validation so mistakes exit with the
// usage code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%w: %s expects %d argument(s), got %d", errUsage, cmd.Name(), n, len(args))
		}

		return nil
	}
}

// rangeArgs wraps cobra's range validation with the usage sentinel.
func rangeArgs(minArgs, maxArgs int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < minArgs || len(args) > maxArgs {
			return fmt.Errorf("%w: %s expects between %d and %d arguments, got %d",
				errUsage, cmd.Name(), minArgs, maxArgs, len(args))
		}

		return nil
	}
}
