package sync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// conflictedHarness sets up a workspace with one entry in conflict: local
// says "local edit", remote says "remote edit".
func conflictedHarness(t *testing.T) *testHarness {
	t.Helper()

	h := newHarness(t)
	h.remote.addPage("p1", "root", "Notes", "base\n")

	_, err := h.engine.Pull(context.Background(), false, false)
	require.NoError(t, err)

	h.write(t, "Notes.md", "local edit\n")
	h.remote.editPage("p1", "remote edit\n")

	report, err := h.engine.Sync(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, report.Conflicted)

	return h
}

func TestResolveKeepLocal(t *testing.T) {
	h := conflictedHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.Resolve(ctx, "Notes.md", ResolutionKeepLocal))

	assert.Equal(t, "local edit\n", h.read(t, "Notes.md"))
	assert.Equal(t, []string{"p1"}, h.remote.updatedIDs)

	e := h.entry(t, "Notes.md")
	assert.Equal(t, StatusClean, e.Status)
	assert.Equal(t, HashBytes([]byte("local edit\n")), e.RemoteHash)

	open, err := h.store.ListOpenConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	// The next sync sees a clean workspace.
	report, err := h.engine.Sync(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, report.Conflicted)
}

func TestResolveKeepRemote(t *testing.T) {
	h := conflictedHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.Resolve(ctx, "Notes.md", ResolutionKeepRemote))

	assert.Equal(t, "remote edit\n", h.read(t, "Notes.md"))
	assert.Empty(t, h.remote.updatedIDs)

	e := h.entry(t, "Notes.md")
	assert.Equal(t, StatusClean, e.Status)

	open, err := h.store.ListOpenConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestResolveKeepBoth(t *testing.T) {
	h := conflictedHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.Resolve(ctx, "Notes.md", ResolutionKeepBoth))

	// Original path now holds remote content.
	assert.Equal(t, "remote edit\n", h.read(t, "Notes.md"))

	// The local edit survives under a timestamped conflict copy.
	matches, err := filepath.Glob(filepath.Join(h.root, "Notes.conflict.*.md"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	copied, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "local edit\n", string(copied))
	assert.True(t, strings.HasPrefix(filepath.Base(matches[0]), "Notes.conflict."))

	e := h.entry(t, "Notes.md")
	assert.Equal(t, StatusClean, e.Status)
}

func TestResolveDeletedRemoteKeepLocalRecreates(t *testing.T) {
	h := newHarness(t)
	h.remote.addPage("p1", "root", "Notes", "base\n")

	ctx := context.Background()

	_, err := h.engine.Pull(ctx, false, false)
	require.NoError(t, err)

	h.write(t, "Notes.md", "modified\n")
	h.remote.removePage("p1")

	_, err = h.engine.Sync(ctx, false)
	require.NoError(t, err)
	require.Equal(t, StatusDeletedRemote, h.entry(t, "Notes.md").Status)

	require.NoError(t, h.engine.Resolve(ctx, "Notes.md", ResolutionKeepLocal))

	e := h.entry(t, "Notes.md")
	assert.Equal(t, StatusClean, e.Status)
	assert.NotEqual(t, "p1", e.RemoteID)
	assert.Equal(t, []string{"Notes"}, h.remote.createdTitles)
}

func TestResolveDeletedLocalKeepLocalDeletesRemote(t *testing.T) {
	h := newHarness(t)
	h.remote.addPage("p1", "root", "Notes", "base\n")

	ctx := context.Background()

	_, err := h.engine.Pull(ctx, false, false)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(h.root, "Notes.md")))
	h.remote.editPage("p1", "remote edit\n")

	_, err = h.engine.Sync(ctx, false)
	require.NoError(t, err)
	require.Equal(t, StatusDeletedLocal, h.entry(t, "Notes.md").Status)

	// Keep-local honors the local deletion: the remote document goes away.
	require.NoError(t, h.engine.Resolve(ctx, "Notes.md", ResolutionKeepLocal))

	assert.Equal(t, []string{"p1"}, h.remote.deletedIDs)
	assert.Nil(t, h.entry(t, "Notes.md"))
	assert.False(t, h.exists("Notes.md"))
}

func TestResolveDeletedRemoteKeepRemoteDeletesLocal(t *testing.T) {
	h := newHarness(t)
	h.remote.addPage("p1", "root", "Notes", "base\n")

	ctx := context.Background()

	_, err := h.engine.Pull(ctx, false, false)
	require.NoError(t, err)

	h.write(t, "Notes.md", "modified\n")
	h.remote.removePage("p1")

	_, err = h.engine.Sync(ctx, false)
	require.NoError(t, err)

	require.NoError(t, h.engine.Resolve(ctx, "Notes.md", ResolutionKeepRemote))

	assert.False(t, h.exists("Notes.md"))
	assert.Nil(t, h.entry(t, "Notes.md"))
}

func TestResolveValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.engine.Resolve(ctx, "Nope.md", ResolutionKeepLocal)
	assert.ErrorIs(t, err, ErrNotTracked)

	h.remote.addPage("p1", "root", "Notes", "base\n")
	_, err = h.engine.Pull(ctx, false, false)
	require.NoError(t, err)

	err = h.engine.Resolve(ctx, "Notes.md", ResolutionKeepLocal)
	assert.ErrorIs(t, err, ErrNotConflicted)
}
