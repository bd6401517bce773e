// Package sync implements the notesync engine: the state database, the
// local/remote tree walkers, the pure reconciler, the executor, and the
// watcher daemon. One Engine per workspace; a cooperative file lock prevents
// concurrent engines.
package sync

import (
	"context"
	"time"

	"github.com/notesync/notesync/internal/markdown"
	"github.com/notesync/notesync/internal/remote"
)

// Kind classifies an entry's document shape.
type Kind string

// Entry kinds as stored in the database kind column.
const (
	KindLeaf          Kind = "leaf"
	KindContainer     Kind = "container"
	KindDatabase      Kind = "database"
	KindDatabaseEntry Kind = "database-entry"
)

// IsDir reports whether entries of this kind occupy a directory locally.
func (k Kind) IsDir() bool {
	return k == KindContainer || k == KindDatabase
}

// Status is an entry's sync state.
type Status string

// Entry statuses as stored in the database status column. Conflict is sticky:
// only Resolve moves an entry out of it.
const (
	StatusClean          Status = "clean"
	StatusLocalModified  Status = "local-modified"
	StatusRemoteModified Status = "remote-modified"
	StatusConflict       Status = "conflict"
	StatusDeletedLocal   Status = "deleted-local"
	StatusDeletedRemote  Status = "deleted-remote"
	StatusNewLocal       Status = "new-local"
	StatusNewRemote      Status = "new-remote"
)

// Entry is one synchronized document: identity (path locally, remote_id
// remotely) plus the hashes and mtime observed at the last successful sync.
type Entry struct {
	Path           string // relative to workspace root; primary key
	RemoteID       string // opaque remote identifier; unique
	RemoteURL      string // display URL
	ParentRemoteID string // empty for top-level entries
	Kind           Kind

	LocalHash   string // fingerprint of local bytes at last sync; empty if never synced
	RemoteHash  string // fingerprint of canonical rendered remote content at last sync
	RemoteMtime int64  // remote authoritative mtime at last sync, Unix nanoseconds

	Status Status

	// Sticky conversion-error tracking (error taxonomy class 3). The entry is
	// skipped while the local file hash still equals ConvErrorHash.
	ConvError     string
	ConvErrorHash string

	CreatedAt int64 // row creation, Unix nanoseconds
	UpdatedAt int64 // row last update, Unix nanoseconds
}

// LocalFile is one entry in a local snapshot.
type LocalFile struct {
	Path    string // entry path (directories for containers/databases)
	Kind    Kind
	Hash    string // hash of canonical content bytes
	Bytes   []byte // canonical content bytes (index file for containers)
	AbsPath string // absolute path of the content file on disk
}

// RemoteDoc is one entry in a remote snapshot. Content is nil for nodes whose
// mtime did not exceed the state's recorded mtime (lazy fetch); Hash then
// carries the state's recorded hash.
type RemoteDoc struct {
	Path      string // resolved entry path (state path when known, else tree position)
	Node      remote.Node
	Kind      Kind
	Mtime     int64  // node mtime, Unix nanoseconds
	Hash      string // hash of canonical rendered content; empty only when lazy AND unsynced
	Canonical []byte // canonical rendered bytes; nil when content was not fetched
	Content   *remote.Content
}

// LocalSnapshot and RemoteSnapshot are keyed by entry path.
type (
	LocalSnapshot  map[string]*LocalFile
	RemoteSnapshot map[string]*RemoteDoc
)

// ActionType is the kind of reconciliation action to perform.
type ActionType int

// Action types produced by the reconciler.
const (
	ActionNone        ActionType = iota
	ActionAdopt                  // both sides exist, no state: create state, write local if hashes differ
	ActionWriteLocal             // pull: overwrite local with remote content
	ActionCreateLocal            // new-remote: write local file, create state
	ActionPush                   // push: apply local changes to remote
	ActionCreateRemote
	ActionDeleteLocal
	ActionDeleteRemote
	ActionDeleteState
	ActionMarkConflict
	ActionMarkDeletedLocal
	ActionMarkDeletedRemote
)

// String returns the action type's display name for status output and logs.
func (t ActionType) String() string {
	switch t {
	case ActionNone:
		return "clean"
	case ActionAdopt:
		return "adopt"
	case ActionWriteLocal:
		return "pull"
	case ActionCreateLocal:
		return "pull (new)"
	case ActionPush:
		return "push"
	case ActionCreateRemote:
		return "push (new)"
	case ActionDeleteLocal:
		return "delete local"
	case ActionDeleteRemote:
		return "delete remote"
	case ActionDeleteState:
		return "forget"
	case ActionMarkConflict:
		return "conflict"
	case ActionMarkDeletedLocal:
		return "deleted locally (remote changed)"
	case ActionMarkDeletedRemote:
		return "deleted remotely (local changed)"
	default:
		return "unknown"
	}
}

// Action is one planned operation for one entry.
type Action struct {
	Type   ActionType
	Path   string
	Entry  *Entry     // nil when no state row exists
	Local  *LocalFile // nil when absent locally
	Remote *RemoteDoc // nil when absent remotely
	Reason string     // human-readable classification note
}

// Plan is the reconciler's output: one action per entry path needing work.
type Plan struct {
	Actions []Action
}

// Direction selects which half of the reconciliation a run applies.
type Direction int

// Run directions.
const (
	DirectionBoth Direction = iota
	DirectionPull
	DirectionPush
)

// pullDirection reports whether an action type belongs to a pull run.
func pullDirection(t ActionType) bool {
	switch t {
	case ActionAdopt, ActionWriteLocal, ActionCreateLocal, ActionDeleteLocal,
		ActionMarkConflict, ActionMarkDeletedRemote, ActionDeleteState:
		return true
	default:
		return false
	}
}

// pushDirection reports whether an action type belongs to a push run.
func pushDirection(t ActionType) bool {
	switch t {
	case ActionPush, ActionCreateRemote, ActionDeleteRemote,
		ActionMarkConflict, ActionMarkDeletedLocal, ActionDeleteState:
		return true
	default:
		return false
	}
}

// Resolution is a manual conflict resolution choice.
type Resolution string

// Resolutions accepted by Engine.Resolve.
const (
	ResolutionKeepLocal  Resolution = "keep-local"
	ResolutionKeepRemote Resolution = "keep-remote"
	ResolutionKeepBoth   Resolution = "keep-both"
)

// ConflictRecord is one row in the conflict ledger. The sticky entry status
// is authoritative; the ledger preserves what was seen at detection time.
type ConflictRecord struct {
	ID          string
	Path        string
	RemoteID    string
	DetectedAt  int64 // Unix nanoseconds
	LocalHash   string
	RemoteHash  string
	RemoteMtime int64
	Reason      string
	Resolution  string // empty while unresolved
	ResolvedAt  int64  // zero while unresolved
}

// Report summarizes one engine run.
type Report struct {
	Direction Direction
	DryRun    bool
	Duration  time.Duration

	// Plan counts.
	Pulled     int
	Pushed     int
	Created    int
	Deleted    int
	Conflicted int

	// Execution results.
	Succeeded int
	Failed    int
	Skipped   int
	Errors    []error
}

// HasConflicts reports whether the run left unresolved conflicts, which maps
// to exit code 1 in the CLI.
func (r *Report) HasConflicts() bool {
	return r.Conflicted > 0
}

// RemoteAPI is the surface of the remote client the engine consumes. Defined
// at the consumer per "accept interfaces, return structs"; satisfied by
// *remote.Client, mocked in tests.
type RemoteAPI interface {
	FetchTree(ctx context.Context, rootID string) ([]remote.Node, error)
	FetchTopLevel(ctx context.Context, rootID string) ([]remote.Node, error)
	FetchContent(ctx context.Context, id string) (*remote.Content, error)
	Create(ctx context.Context, req *remote.CreateRequest) (*remote.Created, error)
	Update(ctx context.Context, id string, ops []markdown.Op) (time.Time, error)
	UpdateProperties(ctx context.Context, id string, props map[string]any) (time.Time, error)
	Delete(ctx context.Context, id string) error
	FindChildren(ctx context.Context, parentID, title string) ([]remote.Node, error)
}

// NowNano returns the current time as Unix nanoseconds. All internal
// timestamps are int64 Unix nanoseconds; conversion happens at boundaries.
func NowNano() int64 {
	return time.Now().UnixNano()
}

// ToUnixNano converts a time.Time to Unix nanoseconds, zero time to 0.
func ToUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}
