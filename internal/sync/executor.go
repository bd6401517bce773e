package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/notesync/notesync/internal/markdown"
	"github.com/notesync/notesync/internal/remote"
)

// ErrAmbiguousAdoption indicates the orphan-create probe found more than one
// remote document matching title+parent, so the engine cannot safely adopt.
var ErrAmbiguousAdoption = errors.New("sync: ambiguous adoption: multiple remote documents match title and parent")

// pushConcurrency bounds parallel remote update calls within one run. The
// client limiter still caps the workspace-wide in-flight count.
const pushConcurrency = 3

// File permissions for synced content.
const (
	entryFilePerm = 0o644
	entryDirPerm  = 0o755
)

// Executor applies reconciler actions: the side effect first, then the state
// commit. A crash between the two leaves a side effect the next reconcile
// rediscovers by hash (or, for creates, by the adoption probe).
type Executor struct {
	root   string
	rootID string
	store  *Store
	client RemoteAPI
	logger *slog.Logger

	// createdIDs maps paths created during this run to their remote IDs so
	// children can resolve parents created moments earlier.
	createdIDs map[string]string
}

// NewExecutor creates an Executor for one workspace.
func NewExecutor(root, rootID string, store *Store, client RemoteAPI, logger *slog.Logger) *Executor {
	return &Executor{
		root:       root,
		rootID:     rootID,
		store:      store,
		client:     client,
		logger:     logger,
		createdIDs: make(map[string]string),
	}
}

// Execute applies a plan in dependency-safe order: status marks first (no
// side effects), then creations parents-before-children, then updates, then
// deletions deepest-first. Per-entry failures never abort the run. The run is
// cancellable between entries, never within one.
func (x *Executor) Execute(ctx context.Context, actions []Action, report *Report) {
	marks, creates, updates, deletes := partitionActions(actions)

	sort.Slice(creates, func(i, j int) bool {
		return pathDepth(creates[i].Path) < pathDepth(creates[j].Path)
	})

	sort.Slice(deletes, func(i, j int) bool {
		return pathDepth(deletes[i].Path) > pathDepth(deletes[j].Path)
	})

	for _, a := range marks {
		x.runOne(ctx, a, report)
	}

	for _, a := range creates {
		x.runOne(ctx, a, report)
	}

	x.runUpdates(ctx, updates, report)

	for _, a := range deletes {
		x.runOne(ctx, a, report)
	}
}

// runUpdates executes local writes serially and remote pushes concurrently.
func (x *Executor) runUpdates(ctx context.Context, updates []Action, report *Report) {
	var pushes []Action

	for _, a := range updates {
		if a.Type == ActionPush {
			pushes = append(pushes, a)
			continue
		}

		x.runOne(ctx, a, report)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pushConcurrency)

	results := make([]error, len(pushes))

	for i, a := range pushes {
		g.Go(func() error {
			results[i] = x.execute(gctx, a)
			return nil
		})
	}

	_ = g.Wait()

	for i, a := range pushes {
		x.record(a, results[i], report)
	}
}

// runOne executes a single action and records its outcome.
func (x *Executor) runOne(ctx context.Context, a Action, report *Report) {
	if ctx.Err() != nil {
		report.Skipped++
		return
	}

	x.record(a, x.execute(ctx, a), report)
}

// record tallies an action outcome into the run report.
func (x *Executor) record(a Action, err error, report *Report) {
	if err != nil {
		report.Failed++
		report.Errors = append(report.Errors, fmt.Errorf("%s: %s: %w", a.Type, a.Path, err))
		x.logger.Error("action failed",
			slog.String("action", a.Type.String()),
			slog.String("path", a.Path),
			slog.String("error", err.Error()),
		)

		return
	}

	report.Succeeded++

	switch a.Type {
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

// execute dispatches one action.
func (x *Executor) execute(ctx context.Context, a Action) error {
	switch a.Type {
	case ActionAdopt:
		return x.execAdopt(ctx, a)
	case ActionWriteLocal, ActionCreateLocal:
		return x.execWriteLocal(ctx, a)
	case ActionPush:
		return x.execPush(ctx, a)
	case ActionCreateRemote:
		return x.execCreateRemote(ctx, a)
	case ActionDeleteLocal:
		return x.execDeleteLocal(ctx, a)
	case ActionDeleteRemote:
		return x.execDeleteRemote(ctx, a)
	case ActionDeleteState:
		return x.store.DeleteByPath(ctx, a.Path)
	case ActionMarkConflict:
		return x.execMarkConflict(ctx, a)
	case ActionMarkDeletedLocal:
		return x.execMarkStatus(ctx, a, StatusDeletedLocal)
	case ActionMarkDeletedRemote:
		return x.execMarkStatus(ctx, a, StatusDeletedRemote)
	default:
		return fmt.Errorf("sync: unknown action type %d", a.Type)
	}
}

// ensureContent fetches and renders a lazily-skipped document's content.
func (x *Executor) ensureContent(ctx context.Context, doc *RemoteDoc) error {
	if doc.Canonical != nil {
		return nil
	}

	content, err := x.client.FetchContent(ctx, doc.Node.ID)
	if err != nil {
		return err
	}

	canonical, err := RenderRemote(doc.Kind, content)
	if err != nil {
		return err
	}

	doc.Content = content
	doc.Canonical = canonical
	doc.Hash = HashBytes(canonical)

	return nil
}

// execAdopt creates a state row for an entry present on both sides. When
// content differs, the remote side is canonical on first contact and the
// local file is overwritten before the row is committed.
func (x *Executor) execAdopt(ctx context.Context, a Action) error {
	doc := a.Remote

	localHash := a.Local.Hash

	if localHash != doc.Hash {
		if err := x.ensureContent(ctx, doc); err != nil {
			return err
		}

		if err := x.writeEntryFile(a.Path, doc.Kind, doc.Canonical); err != nil {
			return err
		}

		localHash = doc.Hash
	}

	return x.store.Upsert(ctx, &Entry{
		Path:           a.Path,
		RemoteID:       doc.Node.ID,
		RemoteURL:      doc.Node.URL,
		ParentRemoteID: doc.Node.ParentID,
		Kind:           doc.Kind,
		LocalHash:      localHash,
		RemoteHash:     doc.Hash,
		RemoteMtime:    doc.Mtime,
		Status:         StatusClean,
	})
}

// execWriteLocal applies remote content to the local file, then commits the
// entry as clean. Serves both pull overwrites and new-remote creations.
func (x *Executor) execWriteLocal(ctx context.Context, a Action) error {
	doc := a.Remote

	if err := x.ensureContent(ctx, doc); err != nil {
		return err
	}

	if err := x.writeEntryFile(a.Path, doc.Kind, doc.Canonical); err != nil {
		return err
	}

	entry := a.Entry
	if entry == nil {
		entry = &Entry{Path: a.Path}
	}

	entry.RemoteID = doc.Node.ID
	entry.RemoteURL = doc.Node.URL
	entry.ParentRemoteID = doc.Node.ParentID
	entry.Kind = doc.Kind
	entry.LocalHash = doc.Hash
	entry.RemoteHash = doc.Hash
	entry.RemoteMtime = doc.Mtime
	entry.Status = StatusClean
	entry.ConvError = ""
	entry.ConvErrorHash = ""

	return x.store.Upsert(ctx, entry)
}

// execPush applies local changes to the tracked remote document with a
// minimal block diff, then commits the new hashes and mtime.
func (x *Executor) execPush(ctx context.Context, a Action) error {
	doc := a.Remote
	entry := a.Entry

	if err := x.ensureContent(ctx, doc); err != nil {
		return err
	}

	mtime, err := x.pushContent(ctx, entry.RemoteID, a.Local, doc)
	if err != nil {
		var convErr *conversionError
		if errors.As(err, &convErr) {
			return x.recordConversionError(ctx, entry, a.Local.Hash, convErr)
		}

		return err
	}

	entry.LocalHash = a.Local.Hash
	entry.RemoteHash = a.Local.Hash
	entry.RemoteMtime = ToUnixNano(mtime)
	entry.Status = StatusClean
	entry.ConvError = ""
	entry.ConvErrorHash = ""

	return x.store.Upsert(ctx, entry)
}

// conversionError wraps content conversion failures (error taxonomy class 3)
// so the executor can mark them sticky instead of failing the run.
type conversionError struct{ err error }

func (e *conversionError) Error() string { return e.err.Error() }
func (e *conversionError) Unwrap() error { return e.err }

// pushContent sends the local bytes to the remote document. Database entries
// split into properties + body; databases push the schema document; pages
// push markdown. Returns the new authoritative remote mtime.
func (x *Executor) pushContent(ctx context.Context, remoteID string, l *LocalFile, doc *RemoteDoc) (mtime time.Time, err error) {
	switch l.Kind {
	case KindDatabaseEntry:
		props, body, splitErr := markdown.SplitFrontmatter(l.Bytes)
		if splitErr != nil {
			return mtime, &conversionError{err: splitErr}
		}

		oldBody := ""
		if doc.Content != nil {
			oldBody = doc.Content.Markdown
		}

		t, updateErr := x.client.Update(ctx, remoteID, markdown.Diff([]byte(oldBody), []byte(body)))
		if updateErr != nil {
			return mtime, updateErr
		}

		if len(props) > 0 {
			if t2, propErr := x.client.UpdateProperties(ctx, remoteID, props); propErr != nil {
				return mtime, propErr
			} else if t2.After(t) {
				t = t2
			}
		}

		return t, nil
	default:
		old := []byte(nil)
		if doc.Canonical != nil {
			old = doc.Canonical
		}

		return x.client.Update(ctx, remoteID, markdown.Diff(old, l.Bytes))
	}
}

// recordConversionError marks the entry with a sticky conversion error; the
// entry is skipped until the local file's hash changes.
func (x *Executor) recordConversionError(ctx context.Context, entry *Entry, localHash string, convErr *conversionError) error {
	entry.ConvError = convErr.Error()
	entry.ConvErrorHash = localHash

	if err := x.store.Upsert(ctx, entry); err != nil {
		return err
	}

	return fmt.Errorf("sync: content conversion failed (will retry when file changes): %w", convErr)
}

// execCreateRemote creates a remote document for a new local file. Before
// creating it probes for an orphan from a previously crashed create: an exact
// title match under the exact parent is adopted instead of duplicated.
func (x *Executor) execCreateRemote(ctx context.Context, a Action) error {
	parentID, err := x.resolveParentID(ctx, a.Path)
	if err != nil {
		return err
	}

	title := markdown.TitleFromPath(a.Path)

	matches, err := x.client.FindChildren(ctx, parentID, title)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return err
	}

	switch {
	case len(matches) > 1:
		return ErrAmbiguousAdoption
	case len(matches) == 1:
		return x.adoptOrphan(ctx, a, parentID, matches[0])
	}

	req, err := x.buildCreateRequest(ctx, a, parentID, title)
	if err != nil {
		var convErr *conversionError
		if errors.As(err, &convErr) {
			// No remote document exists yet; a placeholder identity keeps the
			// sticky conversion error in state until the file changes.
			entry := &Entry{Path: a.Path, RemoteID: "pending:" + a.Path, Kind: a.Local.Kind, Status: StatusNewLocal}
			return x.recordConversionError(ctx, entry, a.Local.Hash, convErr)
		}

		return err
	}

	created, err := x.client.Create(ctx, req)
	if err != nil {
		return err
	}

	x.createdIDs[a.Path] = created.ID

	// The remote ID is recorded in the same transaction as the hashes: a
	// crash before this commit leaves an orphan the probe above recovers.
	return x.store.Transact(ctx, func(tx *Tx) error {
		return tx.Upsert(ctx, &Entry{
			Path:           a.Path,
			RemoteID:       created.ID,
			RemoteURL:      created.URL,
			ParentRemoteID: parentID,
			Kind:           a.Local.Kind,
			LocalHash:      a.Local.Hash,
			RemoteHash:     a.Local.Hash,
			RemoteMtime:    ToUnixNano(created.UpdatedAt),
			Status:         StatusClean,
		})
	})
}

// adoptOrphan records the probed remote document as this entry's identity,
// pushing local content over it when the two sides differ.
func (x *Executor) adoptOrphan(ctx context.Context, a Action, parentID string, node remote.Node) error {
	x.logger.Info("adopting orphan remote document",
		slog.String("path", a.Path), slog.String("remote_id", node.ID))

	content, err := x.client.FetchContent(ctx, node.ID)
	if err != nil {
		return err
	}

	canonical, err := RenderRemote(a.Local.Kind, content)
	if err != nil {
		return err
	}

	remoteHash := HashBytes(canonical)
	mtime := ToUnixNano(content.UpdatedAt)

	if remoteHash != a.Local.Hash {
		doc := &RemoteDoc{Node: node, Kind: a.Local.Kind, Content: content, Canonical: canonical, Hash: remoteHash}

		t, pushErr := x.pushContent(ctx, node.ID, a.Local, doc)
		if pushErr != nil {
			return pushErr
		}

		remoteHash = a.Local.Hash
		mtime = ToUnixNano(t)
	}

	x.createdIDs[a.Path] = node.ID

	return x.store.Transact(ctx, func(tx *Tx) error {
		return tx.Upsert(ctx, &Entry{
			Path:           a.Path,
			RemoteID:       node.ID,
			RemoteURL:      node.URL,
			ParentRemoteID: parentID,
			Kind:           a.Local.Kind,
			LocalHash:      a.Local.Hash,
			RemoteHash:     remoteHash,
			RemoteMtime:    mtime,
			Status:         StatusClean,
		})
	})
}

// buildCreateRequest maps a local file to a remote create payload.
func (x *Executor) buildCreateRequest(_ context.Context, a Action, parentID, title string) (*remote.CreateRequest, error) {
	req := &remote.CreateRequest{ParentID: parentID, Title: title}

	switch a.Local.Kind {
	case KindDatabase:
		req.Kind = remote.KindDatabase
		req.Schema = string(a.Local.Bytes)
	case KindDatabaseEntry:
		props, body, err := markdown.SplitFrontmatter(a.Local.Bytes)
		if err != nil {
			return nil, &conversionError{err: err}
		}

		req.Kind = remote.KindDatabaseEntry
		req.Properties = props
		req.Markdown = body
	default:
		req.Kind = remote.KindPage
		req.Markdown = string(a.Local.Bytes)
	}

	return req, nil
}

// resolveParentID finds the remote parent for a path: the workspace root for
// top-level entries, a tracked parent entry, or a parent created this run.
func (x *Executor) resolveParentID(ctx context.Context, p string) (string, error) {
	dir := path.Dir(p)
	if dir == "." {
		return x.rootID, nil
	}

	if id, ok := x.createdIDs[dir]; ok {
		return id, nil
	}

	parent, err := x.store.GetByPath(ctx, dir)
	if err != nil {
		return "", err
	}

	if parent == nil {
		return "", fmt.Errorf("sync: parent %q has no remote document (creation may have failed)", dir)
	}

	return parent.RemoteID, nil
}

// execDeleteLocal removes the local file (and its directory for container
// kinds), then drops the state row: both sides agree the document is gone.
func (x *Executor) execDeleteLocal(ctx context.Context, a Action) error {
	abs := filepath.Join(x.root, filepath.FromSlash(a.Path))

	if a.Entry.Kind.IsDir() {
		contentName := IndexFileName
		if a.Entry.Kind == KindDatabase {
			contentName = SchemaFileName
		}

		if err := os.Remove(filepath.Join(abs, contentName)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("sync: removing %s: %w", a.Path, err)
		}

		// Children are deleted first (deepest-first ordering); a non-empty
		// directory here holds untracked files and is left alone.
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) && !isDirNotEmpty(err) {
			return fmt.Errorf("sync: removing directory %s: %w", a.Path, err)
		}
	} else {
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("sync: removing %s: %w", a.Path, err)
		}
	}

	return x.store.DeleteByPath(ctx, a.Path)
}

// execDeleteRemote archives the remote document, then drops the state row.
// An already-archived document counts as success.
func (x *Executor) execDeleteRemote(ctx context.Context, a Action) error {
	if err := x.client.Delete(ctx, a.Entry.RemoteID); err != nil && !errors.Is(err, remote.ErrNotFound) {
		return err
	}

	return x.store.DeleteByPath(ctx, a.Path)
}

// execMarkConflict sets the sticky conflict status and appends a ledger row
// in one transaction. File bytes and remote content are left untouched.
func (x *Executor) execMarkConflict(ctx context.Context, a Action) error {
	entry := a.Entry

	if entry == nil {
		// Kind conflict on an untracked pair: a row is needed for stickiness.
		entry = &Entry{
			Path:           a.Path,
			RemoteID:       a.Remote.Node.ID,
			RemoteURL:      a.Remote.Node.URL,
			ParentRemoteID: a.Remote.Node.ParentID,
			Kind:           a.Remote.Kind,
		}
	}

	entry.Status = StatusConflict

	rec := &ConflictRecord{
		ID:         uuid.NewString(),
		Path:       a.Path,
		RemoteID:   entry.RemoteID,
		DetectedAt: NowNano(),
		Reason:     a.Reason,
	}

	if a.Local != nil {
		rec.LocalHash = a.Local.Hash
	}

	if a.Remote != nil {
		rec.RemoteHash = a.Remote.Hash
		rec.RemoteMtime = a.Remote.Mtime
	}

	return x.store.Transact(ctx, func(tx *Tx) error {
		if err := tx.Upsert(ctx, entry); err != nil {
			return err
		}

		return tx.RecordConflict(ctx, rec)
	})
}

// execMarkStatus sets a deletion-race status on the entry. No side effects:
// deletion safety means the surviving side's content is never touched.
func (x *Executor) execMarkStatus(ctx context.Context, a Action, status Status) error {
	a.Entry.Status = status
	return x.store.Upsert(ctx, a.Entry)
}

// writeEntryFile writes canonical content bytes to an entry's content file,
// creating directories as needed. Containers get their index file, databases
// their schema file.
func (x *Executor) writeEntryFile(relPath string, kind Kind, canonical []byte) error {
	abs := filepath.Join(x.root, filepath.FromSlash(relPath))

	target := abs

	if kind.IsDir() {
		if err := os.MkdirAll(abs, entryDirPerm); err != nil {
			return fmt.Errorf("sync: creating directory %s: %w", relPath, err)
		}

		contentName := IndexFileName
		if kind == KindDatabase {
			contentName = SchemaFileName
		}

		target = filepath.Join(abs, contentName)
	} else {
		if err := os.MkdirAll(filepath.Dir(abs), entryDirPerm); err != nil {
			return fmt.Errorf("sync: creating parent directory for %s: %w", relPath, err)
		}
	}

	if err := os.WriteFile(target, canonical, entryFilePerm); err != nil {
		return fmt.Errorf("sync: writing %s: %w", relPath, err)
	}

	return nil
}

// partitionActions splits a plan into execution phases.
func partitionActions(actions []Action) (marks, creates, updates, deletes []Action) {
	for _, a := range actions {
		switch a.Type {
		case ActionMarkConflict, ActionMarkDeletedLocal, ActionMarkDeletedRemote, ActionDeleteState:
			marks = append(marks, a)
		case ActionCreateLocal, ActionCreateRemote:
			creates = append(creates, a)
		case ActionWriteLocal, ActionPush, ActionAdopt:
			updates = append(updates, a)
		case ActionDeleteLocal, ActionDeleteRemote:
			deletes = append(deletes, a)
		}
	}

	return marks, creates, updates, deletes
}

// pathDepth counts path separators for depth ordering.
func pathDepth(p string) int {
	return strings.Count(p, "/")
}

// isDirNotEmpty reports whether err is the "directory not empty" errno.
// Windows surfaces ERROR_DIR_NOT_EMPTY through the same errors.Is mapping.
func isDirNotEmpty(err error) bool {
	return errors.Is(err, syscall.ENOTEMPTY)
}
