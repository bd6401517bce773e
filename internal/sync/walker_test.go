package sync

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesync/notesync/internal/remote"
)

func writeWorkspaceFile(t *testing.T, root, rel, content string) {
	t.Helper()

	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestLocalSnapshot(t *testing.T) {
	root := t.TempDir()

	writeWorkspaceFile(t, root, "Notes.md", "# Notes\n")
	writeWorkspaceFile(t, root, "Projects/_index.md", "# Projects\n")
	writeWorkspaceFile(t, root, "Projects/Plan.md", "plan\n")
	writeWorkspaceFile(t, root, "Tasks/_schema", "columns:\n  - name: status\n")
	writeWorkspaceFile(t, root, "Tasks/Fix bug.md", "---\nstatus: open\n---\n\nfix it\n")
	writeWorkspaceFile(t, root, ".notesync/config", "ignored")
	writeWorkspaceFile(t, root, "Projects/notes.txt", "not markdown")

	w := NewWalker(nil, slog.New(slog.DiscardHandler))

	snap, err := w.LocalSnapshotOf(root)
	require.NoError(t, err)

	require.Len(t, snap, 5)

	assert.Equal(t, KindLeaf, snap["Notes.md"].Kind)
	assert.Equal(t, KindContainer, snap["Projects"].Kind)
	assert.Equal(t, KindLeaf, snap["Projects/Plan.md"].Kind)
	assert.Equal(t, KindDatabase, snap["Tasks"].Kind)
	assert.Equal(t, KindDatabaseEntry, snap["Tasks/Fix bug.md"].Kind)

	// Container bytes come from the index file; metadata and non-md excluded.
	assert.Equal(t, "# Projects\n", string(snap["Projects"].Bytes))
	assert.NotContains(t, snap, ".notesync")
	assert.NotContains(t, snap, "Projects/notes.txt")
}

func TestLocalSnapshotContainerWithoutIndex(t *testing.T) {
	root := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "Empty"), 0o755))
	writeWorkspaceFile(t, root, "Empty/Child.md", "child\n")

	w := NewWalker(nil, slog.New(slog.DiscardHandler))

	snap, err := w.LocalSnapshotOf(root)
	require.NoError(t, err)

	require.Contains(t, snap, "Empty")
	assert.Equal(t, KindContainer, snap["Empty"].Kind)
	assert.Equal(t, HashBytes(nil), snap["Empty"].Hash)
}

func TestRemoteSnapshot(t *testing.T) {
	fake := newFakeRemote("root")
	fake.addPage("p1", "root", "Notes", "# Notes\n")
	fake.addPage("p2", "root", "Projects", "# Projects index\n")
	fake.addPage("p3", "p2", "Plan", "plan body\n")

	w := NewWalker(fake, slog.New(slog.DiscardHandler))

	snap, err := w.RemoteSnapshotOf(context.Background(), "root", nil)
	require.NoError(t, err)

	require.Len(t, snap, 3)

	// A page with children occupies a directory locally.
	assert.Equal(t, KindLeaf, snap["Notes.md"].Kind)
	assert.Equal(t, KindContainer, snap["Projects"].Kind)
	assert.Equal(t, KindLeaf, snap["Projects/Plan.md"].Kind)

	assert.Equal(t, HashBytes([]byte("# Notes\n")), snap["Notes.md"].Hash)
	assert.NotNil(t, snap["Notes.md"].Canonical)
}

func TestRemoteSnapshotKeepsStatePaths(t *testing.T) {
	fake := newFakeRemote("root")
	fake.addPage("p1", "root", "Renamed Title", "body\n")

	// The entry was synced under a different local name; identity follows
	// remote_id, so the state path wins over the title-derived path.
	state := []*Entry{{
		Path: "Original.md", RemoteID: "p1", Kind: KindLeaf,
		LocalHash: "x", RemoteHash: "y", RemoteMtime: 0, Status: StatusClean,
	}}

	w := NewWalker(fake, slog.New(slog.DiscardHandler))

	snap, err := w.RemoteSnapshotOf(context.Background(), "root", state)
	require.NoError(t, err)

	require.Contains(t, snap, "Original.md")
	assert.NotContains(t, snap, "Renamed Title.md")
}

func TestRemoteSnapshotLazyContent(t *testing.T) {
	fake := newFakeRemote("root")
	fake.addPage("p1", "root", "Notes", "body\n")

	mtime := ToUnixNano(fake.nodes["p1"].UpdatedAt)

	state := []*Entry{{
		Path: "Notes.md", RemoteID: "p1", Kind: KindLeaf,
		LocalHash: "lh", RemoteHash: "stored-hash", RemoteMtime: mtime, Status: StatusClean,
	}}

	w := NewWalker(fake, slog.New(slog.DiscardHandler))

	snap, err := w.RemoteSnapshotOf(context.Background(), "root", state)
	require.NoError(t, err)

	doc := snap["Notes.md"]
	require.NotNil(t, doc)

	// Unchanged mtime: no content fetch, hash carried from state.
	assert.Equal(t, "stored-hash", doc.Hash)
	assert.Nil(t, doc.Canonical)

	// Bumped mtime: content is fetched and hashed.
	fake.editPage("p1", "new body\n")

	snap, err = w.RemoteSnapshotOf(context.Background(), "root", state)
	require.NoError(t, err)

	doc = snap["Notes.md"]
	assert.Equal(t, HashBytes([]byte("new body\n")), doc.Hash)
	assert.NotNil(t, doc.Canonical)
}

func TestRenderRemote(t *testing.T) {
	t.Run("page", func(t *testing.T) {
		b, err := RenderRemote(KindLeaf, &remote.Content{Markdown: "text\r\n"})
		require.NoError(t, err)
		assert.Equal(t, "text\n", string(b))
	})

	t.Run("database schema", func(t *testing.T) {
		b, err := RenderRemote(KindDatabase, &remote.Content{Schema: "columns: []\n"})
		require.NoError(t, err)
		assert.Equal(t, "columns: []\n", string(b))
	})

	t.Run("database entry with frontmatter", func(t *testing.T) {
		b, err := RenderRemote(KindDatabaseEntry, &remote.Content{
			Markdown:   "body\n",
			Properties: map[string]any{"status": "open"},
		})
		require.NoError(t, err)

		assert.Contains(t, string(b), "---\nstatus: open\n---")
		assert.Contains(t, string(b), "body")
	})
}
