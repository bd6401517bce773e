package sync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrWorkspaceLocked indicates another engine holds the workspace lock.
var ErrWorkspaceLocked = errors.New("sync: workspace is locked by another notesync process")

// lockDirPerm matches the metadata directory permissions.
const lockDirPerm = 0o755

// WorkspaceLock is the cooperative per-workspace file lock. Exactly one
// engine may run in a workspace at a time; a second acquisition attempt
// fails immediately with ErrWorkspaceLocked.
type WorkspaceLock struct {
	fl *flock.Flock
}

// AcquireLock takes the workspace lock non-blocking.
func AcquireLock(lockPath string) (*WorkspaceLock, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), lockDirPerm); err != nil {
		return nil, fmt.Errorf("sync: creating lock directory: %w", err)
	}

	fl := flock.New(lockPath)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("sync: acquiring workspace lock %s: %w", lockPath, err)
	}

	if !locked {
		return nil, ErrWorkspaceLocked
	}

	return &WorkspaceLock{fl: fl}, nil
}

// Release drops the workspace lock.
func (l *WorkspaceLock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("sync: releasing workspace lock: %w", err)
	}

	return nil
}
