package sync

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func local(path string, kind Kind, hash string) *LocalFile {
	return &LocalFile{Path: path, Kind: kind, Hash: hash, Bytes: []byte(hash + "\n")}
}

func remoteDoc(path string, kind Kind, hash string, mtime int64) *RemoteDoc {
	return &RemoteDoc{Path: path, Kind: kind, Hash: hash, Mtime: mtime}
}

func stateEntry(path string, kind Kind, localHash, remoteHash string, mtime int64) *Entry {
	return &Entry{
		Path: path, RemoteID: "r-" + path, Kind: kind,
		LocalHash: localHash, RemoteHash: remoteHash, RemoteMtime: mtime,
		Status: StatusClean,
	}
}

// TestReconcileDecisionMatrix exercises every row of the three-way decision
// table for a tracked leaf entry.
func TestReconcileDecisionMatrix(t *testing.T) {
	const p = "Notes.md"

	tests := []struct {
		name   string
		local  *LocalFile
		remote *RemoteDoc
		entry  *Entry
		want   ActionType
	}{
		{
			name:   "unchanged both sides",
			local:  local(p, KindLeaf, "h1"),
			remote: remoteDoc(p, KindLeaf, "h1", 100),
			entry:  stateEntry(p, KindLeaf, "h1", "h1", 100),
			want:   ActionNone,
		},
		{
			name:   "local modified only",
			local:  local(p, KindLeaf, "h2"),
			remote: remoteDoc(p, KindLeaf, "h1", 100),
			entry:  stateEntry(p, KindLeaf, "h1", "h1", 100),
			want:   ActionPush,
		},
		{
			name:   "remote modified only",
			local:  local(p, KindLeaf, "h1"),
			remote: remoteDoc(p, KindLeaf, "h3", 200),
			entry:  stateEntry(p, KindLeaf, "h1", "h1", 100),
			want:   ActionWriteLocal,
		},
		{
			name:   "modified on both sides",
			local:  local(p, KindLeaf, "h2"),
			remote: remoteDoc(p, KindLeaf, "h3", 200),
			entry:  stateEntry(p, KindLeaf, "h1", "h1", 100),
			want:   ActionMarkConflict,
		},
		{
			name:   "mtime bump with identical content is not a change",
			local:  local(p, KindLeaf, "h1"),
			remote: remoteDoc(p, KindLeaf, "h1", 200),
			entry:  stateEntry(p, KindLeaf, "h1", "h1", 100),
			want:   ActionNone,
		},
		{
			name:   "mtime bump with identical content while local modified",
			local:  local(p, KindLeaf, "h2"),
			remote: remoteDoc(p, KindLeaf, "h1", 200),
			entry:  stateEntry(p, KindLeaf, "h1", "h1", 100),
			want:   ActionPush,
		},
		{
			name:   "new remote document",
			remote: remoteDoc(p, KindLeaf, "h1", 100),
			want:   ActionCreateLocal,
		},
		{
			name:  "new local file",
			local: local(p, KindLeaf, "h1"),
			want:  ActionCreateRemote,
		},
		{
			name:   "both present untracked adopts",
			local:  local(p, KindLeaf, "h1"),
			remote: remoteDoc(p, KindLeaf, "h1", 100),
			want:   ActionAdopt,
		},
		{
			name:   "both present untracked with kind mismatch conflicts",
			local:  local(p, KindLeaf, "h1"),
			remote: remoteDoc(p, KindDatabase, "h1", 100),
			want:   ActionMarkConflict,
		},
		{
			name:   "deleted locally remote unchanged",
			remote: remoteDoc(p, KindLeaf, "h1", 100),
			entry:  stateEntry(p, KindLeaf, "h1", "h1", 100),
			want:   ActionDeleteRemote,
		},
		{
			name:   "deleted locally remote changed",
			remote: remoteDoc(p, KindLeaf, "h3", 200),
			entry:  stateEntry(p, KindLeaf, "h1", "h1", 100),
			want:   ActionMarkDeletedLocal,
		},
		{
			name:  "deleted remotely local unchanged",
			local: local(p, KindLeaf, "h1"),
			entry: stateEntry(p, KindLeaf, "h1", "h1", 100),
			want:  ActionDeleteLocal,
		},
		{
			name:  "deleted remotely local changed",
			local: local(p, KindLeaf, "h2"),
			entry: stateEntry(p, KindLeaf, "h1", "h1", 100),
			want:  ActionMarkDeletedRemote,
		},
		{
			name:  "gone on both sides",
			entry: stateEntry(p, KindLeaf, "h1", "h1", 100),
			want:  ActionDeleteState,
		},
		{
			name:   "kind change on tracked entry conflicts",
			local:  local(p, KindLeaf, "h1"),
			remote: remoteDoc(p, KindContainer, "h1", 100),
			entry:  stateEntry(p, KindLeaf, "h1", "h1", 100),
			want:   ActionMarkConflict,
		},
	}

	r := NewReconciler(slog.New(slog.DiscardHandler))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			localSnap := LocalSnapshot{}
			if tt.local != nil {
				localSnap[p] = tt.local
			}

			remoteSnap := RemoteSnapshot{}
			if tt.remote != nil {
				remoteSnap[p] = tt.remote
			}

			var state []*Entry
			if tt.entry != nil {
				state = append(state, tt.entry)
			}

			plan := r.Reconcile(localSnap, remoteSnap, state, ForceNone)

			if tt.want == ActionNone {
				assert.Empty(t, plan.Actions)
				return
			}

			require.Len(t, plan.Actions, 1)
			assert.Equal(t, tt.want, plan.Actions[0].Type, "reason: %s", plan.Actions[0].Reason)
		})
	}
}

func TestReconcileConflictIsSticky(t *testing.T) {
	const p = "Notes.md"

	entry := stateEntry(p, KindLeaf, "h1", "h1", 100)
	entry.Status = StatusConflict

	r := NewReconciler(slog.New(slog.DiscardHandler))

	// Even with remote changed further and local changed further, a pending
	// conflict yields no action.
	plan := r.Reconcile(
		LocalSnapshot{p: local(p, KindLeaf, "h5")},
		RemoteSnapshot{p: remoteDoc(p, KindLeaf, "h6", 300)},
		[]*Entry{entry},
		ForceNone,
	)

	assert.Empty(t, plan.Actions)
}

func TestReconcileConversionErrorIsSticky(t *testing.T) {
	const p = "db/Entry.md"

	entry := stateEntry(p, KindDatabaseEntry, "h1", "h1", 100)
	entry.ConvError = "unterminated frontmatter"
	entry.ConvErrorHash = "h2"

	r := NewReconciler(slog.New(slog.DiscardHandler))

	// File unchanged since the failure: skipped.
	plan := r.Reconcile(
		LocalSnapshot{p: local(p, KindDatabaseEntry, "h2")},
		RemoteSnapshot{p: remoteDoc(p, KindDatabaseEntry, "h1", 100)},
		[]*Entry{entry},
		ForceNone,
	)
	assert.Empty(t, plan.Actions)

	// File edited since the failure: retried.
	plan = r.Reconcile(
		LocalSnapshot{p: local(p, KindDatabaseEntry, "h3")},
		RemoteSnapshot{p: remoteDoc(p, KindDatabaseEntry, "h1", 100)},
		[]*Entry{entry},
		ForceNone,
	)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, ActionPush, plan.Actions[0].Type)
}

func TestReconcileForceModes(t *testing.T) {
	const p = "Notes.md"

	r := NewReconciler(slog.New(slog.DiscardHandler))

	// Both sides modified: force-pull mirrors remote, force-push mirrors local.
	localSnap := LocalSnapshot{p: local(p, KindLeaf, "h2")}
	remoteSnap := RemoteSnapshot{p: remoteDoc(p, KindLeaf, "h3", 200)}
	state := []*Entry{stateEntry(p, KindLeaf, "h1", "h1", 100)}

	plan := r.Reconcile(localSnap, remoteSnap, state, ForcePull)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, ActionWriteLocal, plan.Actions[0].Type)

	plan = r.Reconcile(localSnap, remoteSnap, state, ForcePush)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, ActionPush, plan.Actions[0].Type)

	// Identical content: force has nothing to do.
	plan = r.Reconcile(
		LocalSnapshot{p: local(p, KindLeaf, "h1")},
		RemoteSnapshot{p: remoteDoc(p, KindLeaf, "h1", 100)},
		state, ForcePull,
	)
	assert.Empty(t, plan.Actions)
}

func TestReconcileForceNeverClearsConflict(t *testing.T) {
	const p = "Notes.md"

	entry := stateEntry(p, KindLeaf, "h1", "h1", 100)
	entry.Status = StatusConflict

	r := NewReconciler(slog.New(slog.DiscardHandler))

	for _, force := range []ForceMode{ForcePull, ForcePush} {
		plan := r.Reconcile(
			LocalSnapshot{p: local(p, KindLeaf, "h2")},
			RemoteSnapshot{p: remoteDoc(p, KindLeaf, "h3", 300)},
			[]*Entry{entry},
			force,
		)

		assert.Empty(t, plan.Actions)
	}
}

func TestReconcileSortsActionsByPath(t *testing.T) {
	r := NewReconciler(slog.New(slog.DiscardHandler))

	plan := r.Reconcile(
		LocalSnapshot{
			"b.md": local("b.md", KindLeaf, "h1"),
			"a.md": local("a.md", KindLeaf, "h1"),
		},
		RemoteSnapshot{},
		nil,
		ForceNone,
	)

	require.Len(t, plan.Actions, 2)
	assert.Equal(t, "a.md", plan.Actions[0].Path)
	assert.Equal(t, "b.md", plan.Actions[1].Path)
}
