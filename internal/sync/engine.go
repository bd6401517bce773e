package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/notesync/notesync/internal/markdown"
	"github.com/notesync/notesync/internal/remote"
)

// Meta keys recorded after successful runs.
const (
	metaLastSyncAt = "last_sync_at"
)

// ErrNotTracked is returned by Resolve for paths without a state row.
var ErrNotTracked = errors.New("sync: path is not tracked")

// ErrNotConflicted is returned by Resolve for entries not in a resolvable
// status.
var ErrNotConflicted = errors.New("sync: entry has no pending conflict")

// Engine runs reconciliation for one workspace. It is not safe for concurrent
// use; the workspace lock serializes engines across processes, and callers
// serialize runs within one.
type Engine struct {
	root   string
	rootID string

	store  *Store
	client RemoteAPI

	walker     *Walker
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewEngine wires an Engine from its parts. root is the workspace directory;
// rootID the remote root document ID.
func NewEngine(root, rootID string, store *Store, client RemoteAPI, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		root:       root,
		rootID:     rootID,
		store:      store,
		client:     client,
		walker:     NewWalker(client, logger),
		reconciler: NewReconciler(logger),
		logger:     logger,
	}
}

// Pull applies remote-to-local actions. With force, local files that differ
// from remote are overwritten regardless of modification state; pre-existing
// conflicts stay put.
func (e *Engine) Pull(ctx context.Context, force, dryRun bool) (*Report, error) {
	mode := ForceNone
	if force {
		mode = ForcePull
	}

	return e.run(ctx, DirectionPull, mode, dryRun)
}

// Push applies local-to-remote actions, the mirror of Pull.
func (e *Engine) Push(ctx context.Context, force, dryRun bool) (*Report, error) {
	mode := ForceNone
	if force {
		mode = ForcePush
	}

	return e.run(ctx, DirectionPush, mode, dryRun)
}

// Sync runs both directions from a single snapshot pair. Conflicts detected
// during classification are marked once and excluded from both directions.
func (e *Engine) Sync(ctx context.Context, dryRun bool) (*Report, error) {
	return e.run(ctx, DirectionBoth, ForceNone, dryRun)
}

// run snapshots both sides, reconciles, and executes the direction's slice of
// the plan.
func (e *Engine) run(ctx context.Context, dir Direction, force ForceMode, dryRun bool) (*Report, error) {
	start := time.Now()

	plan, err := e.plan(ctx, force)
	if err != nil {
		return nil, err
	}

	actions := filterDirection(plan.Actions, dir)

	report := &Report{Direction: dir, DryRun: dryRun}

	if dryRun {
		for _, a := range actions {
			countPlanned(a.Type, report)
		}

		report.Duration = time.Since(start)

		return report, nil
	}

	executor := NewExecutor(e.root, e.rootID, e.store, e.client, e.logger)
	executor.Execute(ctx, actions, report)

	if err := e.store.SetMeta(ctx, metaLastSyncAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		e.logger.Warn("recording last sync time", slog.String("error", err.Error()))
	}

	if err := e.store.Checkpoint(); err != nil {
		e.logger.Warn("state checkpoint", slog.String("error", err.Error()))
	}

	report.Duration = time.Since(start)

	e.logger.Info("run complete",
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("conflicts", report.Conflicted),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

// plan produces the full (unfiltered) reconciliation plan.
func (e *Engine) plan(ctx context.Context, force ForceMode) (*Plan, error) {
	state, err := e.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	local, err := e.walker.LocalSnapshotOf(e.root)
	if err != nil {
		return nil, err
	}

	remoteSnap, err := e.walker.RemoteSnapshotOf(ctx, e.rootID, state)
	if err != nil {
		return nil, err
	}

	return e.reconciler.Reconcile(local, remoteSnap, state, force), nil
}

// StatusEntry is one row of a status report.
type StatusEntry struct {
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// WorkspaceStatus is the result of a status inspection: pending work plus the
// open conflict ledger. No mutations are performed.
type WorkspaceStatus struct {
	Entries    []StatusEntry     `json:"entries"`
	Conflicts  []*ConflictRecord `json:"conflicts,omitempty"`
	LastSyncAt string            `json:"last_sync_at,omitempty"`
}

// HasConflicts reports whether any open conflicts exist.
func (s *WorkspaceStatus) HasConflicts() bool {
	return len(s.Conflicts) > 0
}

// Status reconciles without executing and reports the pending plan alongside
// open conflicts.
func (e *Engine) Status(ctx context.Context) (*WorkspaceStatus, error) {
	plan, err := e.plan(ctx, ForceNone)
	if err != nil {
		return nil, err
	}

	status := &WorkspaceStatus{}

	for _, a := range plan.Actions {
		kind := ""

		switch {
		case a.Local != nil:
			kind = string(a.Local.Kind)
		case a.Remote != nil:
			kind = string(a.Remote.Kind)
		case a.Entry != nil:
			kind = string(a.Entry.Kind)
		}

		status.Entries = append(status.Entries, StatusEntry{
			Path:   a.Path,
			Kind:   kind,
			State:  a.Type.String(),
			Reason: a.Reason,
		})
	}

	conflicts, err := e.store.ListOpenConflicts(ctx)
	if err != nil {
		return nil, err
	}

	status.Conflicts = conflicts

	if last, err := e.store.GetMeta(ctx, metaLastSyncAt); err == nil {
		status.LastSyncAt = last
	}

	return status, nil
}

// Resolve applies a manual resolution to a conflicted entry and closes its
// ledger row. Accepted statuses are conflict and the two deletion races.
func (e *Engine) Resolve(ctx context.Context, relPath string, resolution Resolution) error {
	entry, err := e.store.GetByPath(ctx, relPath)
	if err != nil {
		return err
	}

	if entry == nil {
		return fmt.Errorf("%w: %s", ErrNotTracked, relPath)
	}

	switch entry.Status {
	case StatusConflict, StatusDeletedLocal, StatusDeletedRemote:
	default:
		return fmt.Errorf("%w: %s is %s", ErrNotConflicted, relPath, entry.Status)
	}

	switch resolution {
	case ResolutionKeepLocal:
		err = e.resolveKeepLocal(ctx, entry)
	case ResolutionKeepRemote:
		err = e.resolveKeepRemote(ctx, entry)
	case ResolutionKeepBoth:
		err = e.resolveKeepBoth(ctx, entry)
	default:
		return fmt.Errorf("sync: unknown resolution %q", resolution)
	}

	if err != nil {
		return err
	}

	if rec, recErr := e.store.OpenConflictByPath(ctx, relPath); recErr == nil && rec != nil {
		if closeErr := e.store.ResolveConflict(ctx, rec.ID, resolution); closeErr != nil {
			e.logger.Warn("closing conflict ledger row", slog.String("error", closeErr.Error()))
		}
	}

	e.logger.Info("conflict resolved",
		slog.String("path", relPath), slog.String("resolution", string(resolution)))

	return nil
}

// resolveKeepLocal pushes the local file over the remote document. When the
// remote side was deleted, the document is recreated; when the local side was
// deleted, the deletion wins and the remote document is removed.
func (e *Engine) resolveKeepLocal(ctx context.Context, entry *Entry) error {
	x := NewExecutor(e.root, e.rootID, e.store, e.client, e.logger)

	if entry.Status == StatusDeletedLocal {
		return x.execDeleteRemote(ctx, Action{Type: ActionDeleteRemote, Path: entry.Path, Entry: entry})
	}

	l, err := e.readLocal(entry)
	if err != nil {
		return err
	}

	if entry.Status == StatusDeletedRemote {
		return x.execCreateRemote(ctx, Action{Type: ActionCreateRemote, Path: entry.Path, Local: l})
	}

	content, err := e.client.FetchContent(ctx, entry.RemoteID)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return x.execCreateRemote(ctx, Action{Type: ActionCreateRemote, Path: entry.Path, Local: l})
		}

		return err
	}

	doc, err := e.docFromContent(entry, content)
	if err != nil {
		return err
	}

	return x.execPush(ctx, Action{Type: ActionPush, Path: entry.Path, Entry: entry, Local: l, Remote: doc})
}

// resolveKeepRemote overwrites the local file with remote content. When the
// remote side was deleted, the local file is removed instead.
func (e *Engine) resolveKeepRemote(ctx context.Context, entry *Entry) error {
	x := NewExecutor(e.root, e.rootID, e.store, e.client, e.logger)

	content, err := e.client.FetchContent(ctx, entry.RemoteID)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) || entry.Status == StatusDeletedRemote {
			return x.execDeleteLocal(ctx, Action{Type: ActionDeleteLocal, Path: entry.Path, Entry: entry})
		}

		return err
	}

	doc, err := e.docFromContent(entry, content)
	if err != nil {
		return err
	}

	return x.execWriteLocal(ctx, Action{Type: ActionWriteLocal, Path: entry.Path, Entry: entry, Remote: doc})
}

// resolveKeepBoth renames the local file to a timestamped conflict copy, then
// writes the remote content at the original path. Directory kinds cannot be
// duplicated this way and fall back to keep-remote with the index preserved
// under a conflict name.
func (e *Engine) resolveKeepBoth(ctx context.Context, entry *Entry) error {
	content, err := e.client.FetchContent(ctx, entry.RemoteID)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			// Nothing remote to keep; the local copy already wins.
			entry.Status = StatusClean
			return e.store.Upsert(ctx, entry)
		}

		return err
	}

	doc, err := e.docFromContent(entry, content)
	if err != nil {
		return err
	}

	if err := e.renameToConflictCopy(entry); err != nil {
		return err
	}

	x := NewExecutor(e.root, e.rootID, e.store, e.client, e.logger)

	return x.execWriteLocal(ctx, Action{Type: ActionWriteLocal, Path: entry.Path, Entry: entry, Remote: doc})
}

// renameToConflictCopy moves the entry's content file aside as
// <stem>.conflict.<unix-ts>.md next to the original.
func (e *Engine) renameToConflictCopy(entry *Entry) error {
	abs := filepath.Join(e.root, filepath.FromSlash(entry.Path))

	src := abs
	if entry.Kind.IsDir() {
		name := IndexFileName
		if entry.Kind == KindDatabase {
			name = SchemaFileName
		}

		src = filepath.Join(abs, name)
	}

	stem := strings.TrimSuffix(filepath.Base(src), ".md")
	dst := filepath.Join(filepath.Dir(src), fmt.Sprintf("%s.conflict.%d.md", stem, time.Now().Unix()))

	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("sync: preserving local copy of %s: %w", entry.Path, err)
	}

	e.logger.Info("local copy preserved", slog.String("path", entry.Path), slog.String("copy", filepath.Base(dst)))

	return nil
}

// readLocal loads and canonicalizes the entry's current local content file.
func (e *Engine) readLocal(entry *Entry) (*LocalFile, error) {
	abs := filepath.Join(e.root, filepath.FromSlash(entry.Path))

	contentFile := abs
	if entry.Kind.IsDir() {
		name := IndexFileName
		if entry.Kind == KindDatabase {
			name = SchemaFileName
		}

		contentFile = filepath.Join(abs, name)
	}

	b, err := os.ReadFile(contentFile)
	if err != nil {
		return nil, fmt.Errorf("sync: reading local file for %s: %w", entry.Path, err)
	}

	return &LocalFile{
		Path:    entry.Path,
		Kind:    entry.Kind,
		Hash:    HashBytes(b),
		Bytes:   markdown.Canonicalize(b),
		AbsPath: contentFile,
	}, nil
}

// docFromContent builds a RemoteDoc for an entry from freshly fetched content.
func (e *Engine) docFromContent(entry *Entry, content *remote.Content) (*RemoteDoc, error) {
	canonical, err := RenderRemote(entry.Kind, content)
	if err != nil {
		return nil, err
	}

	return &RemoteDoc{
		Path: entry.Path,
		Node: remote.Node{
			ID:       entry.RemoteID,
			ParentID: entry.ParentRemoteID,
			Title:    markdown.TitleFromPath(entry.Path),
			URL:      entry.RemoteURL,
			Kind:     remoteWireKind(entry.Kind),
		},
		Kind:      entry.Kind,
		Mtime:     ToUnixNano(content.UpdatedAt),
		Hash:      HashBytes(canonical),
		Canonical: canonical,
		Content:   content,
	}, nil
}

// remoteWireKind maps a local entry kind back to the wire kind.
func remoteWireKind(k Kind) remote.Kind {
	switch k {
	case KindDatabase:
		return remote.KindDatabase
	case KindDatabaseEntry:
		return remote.KindDatabaseEntry
	default:
		return remote.KindPage
	}
}

// filterDirection keeps the actions belonging to the run direction.
func filterDirection(actions []Action, dir Direction) []Action {
	if dir == DirectionBoth {
		return actions
	}

	keep := pullDirection
	if dir == DirectionPush {
		keep = pushDirection
	}

	out := make([]Action, 0, len(actions))

	for _, a := range actions {
		if keep(a.Type) {
			out = append(out, a)
		}
	}

	return out
}

// countPlanned tallies a dry-run action into plan counts.
func countPlanned(t ActionType, report *Report) {
	switch t {
	case ActionWriteLocal, ActionCreateLocal, ActionAdopt:
		report.Pulled++
	case ActionPush:
		report.Pushed++
	case ActionCreateRemote:
		report.Created++
	case ActionDeleteLocal, ActionDeleteRemote, ActionDeleteState:
		report.Deleted++
	case ActionMarkConflict:
		report.Conflicted++
	}
}
