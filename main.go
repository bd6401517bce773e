package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/notesync/notesync/internal/remote"
	"github.com/notesync/notesync/internal/sync"
)

// Exit codes. Scripts depend on these.
const (
	exitOK        = 0
	exitConflicts = 1
	exitUsage     = 2
	exitRemote    = 3
	exitState     = 4
)

// errConflictsPending signals that a run completed but left unresolved
// conflicts, mapping to exit code 1.
var errConflictsPending = errors.New("unresolved conflicts remain (run 'notesync status', then 'notesync resolve')")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}

	os.Exit(exitOK)
}

// exitCodeFor maps an error to its exit code: usage mistakes, remote/auth
// failures, and state corruption each get a dedicated code; everything else
// (including pending conflicts) exits 1.
func exitCodeFor(err error) int {
	var apiErr *remote.Error

	switch {
	case errors.Is(err, errUsage):
		return exitUsage
	case errors.Is(err, sync.ErrStateCorrupt):
		return exitState
	case errors.As(err, &apiErr), errors.Is(err, remote.ErrAuth):
		return exitRemote
	default:
		return exitConflicts
	}
}
