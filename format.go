package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/notesync/notesync/internal/sync"
)

// statusf prints an informational message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// printReport renders a run report, honoring --json.
func printReport(r *sync.Report) {
	if flagJSON {
		out := struct {
			DryRun     bool     `json:"dry_run"`
			Pulled     int      `json:"pulled"`
			Pushed     int      `json:"pushed"`
			Created    int      `json:"created"`
			Deleted    int      `json:"deleted"`
			Conflicted int      `json:"conflicted"`
			Succeeded  int      `json:"succeeded"`
			Failed     int      `json:"failed"`
			Skipped    int      `json:"skipped"`
			DurationMS int64    `json:"duration_ms"`
			Errors     []string `json:"errors,omitempty"`
		}{
			DryRun:     r.DryRun,
			Pulled:     r.Pulled,
			Pushed:     r.Pushed,
			Created:    r.Created,
			Deleted:    r.Deleted,
			Conflicted: r.Conflicted,
			Succeeded:  r.Succeeded,
			Failed:     r.Failed,
			Skipped:    r.Skipped,
			DurationMS: r.Duration.Milliseconds(),
		}

		for _, err := range r.Errors {
			out.Errors = append(out.Errors, err.Error())
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)

		return
	}

	verb := "Applied"
	if r.DryRun {
		verb = "Would apply"
	}

	statusf("%s %d pull(s), %d push(es), %d create(s), %d delete(s) in %s\n",
		verb, r.Pulled, r.Pushed, r.Created, r.Deleted, r.Duration.Round(time.Millisecond))

	if r.Failed > 0 {
		statusf("%d action(s) failed:\n", r.Failed)

		for _, err := range r.Errors {
			fmt.Fprintf(os.Stderr, "  %v\n", err)
		}
	}

	if r.Conflicted > 0 {
		statusf("%d conflict(s) detected. Run 'notesync status' to inspect.\n", r.Conflicted)
	}
}

// printStatus renders a workspace status table.
func printStatus(s *sync.WorkspaceStatus) {
	if s.LastSyncAt != "" {
		statusf("Last sync: %s\n", s.LastSyncAt)
	}

	if len(s.Entries) == 0 && len(s.Conflicts) == 0 {
		statusf("Workspace is clean.\n")
		return
	}

	if len(s.Entries) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tKIND\tPENDING\tREASON")

		for _, e := range s.Entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Path, e.Kind, e.State, e.Reason)
		}

		w.Flush()
	}

	if len(s.Conflicts) > 0 {
		fmt.Fprintf(os.Stdout, "\nOpen conflicts:\n")

		for _, c := range s.Conflicts {
			detected := time.Unix(0, c.DetectedAt).Format(time.RFC3339)
			fmt.Fprintf(os.Stdout, "  %s (%s, detected %s)\n", c.Path, c.Reason, detected)
		}

		statusf("\nResolve with 'notesync resolve <path> <keep-local|keep-remote|keep-both>'.\n")
	}
}
