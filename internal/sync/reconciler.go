package sync

import (
	"log/slog"
	"sort"
)

// ForceMode overrides one side of change detection. Force resolves
// local-modified or remote-modified in favor of the named direction but never
// clears a pre-existing conflict.
type ForceMode int

// Force modes.
const (
	ForceNone ForceMode = iota
	ForcePull           // overwrite local where sides differ
	ForcePush           // overwrite remote where sides differ
)

// Reconciler is the pure decision function: given the local snapshot, the
// remote snapshot, and the state rows, it produces one action per entry path.
// It performs no I/O and mutates nothing.
type Reconciler struct {
	logger *slog.Logger
}

// NewReconciler creates a Reconciler that logs classification decisions at
// debug level.
func NewReconciler(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{logger: logger}
}

// Reconcile joins the three inputs over the union of their paths and
// classifies each row. Actions come back sorted by path; execution ordering
// (parents before children, deletions deepest first) is the executor's job.
func (r *Reconciler) Reconcile(local LocalSnapshot, remoteSnap RemoteSnapshot, state []*Entry, force ForceMode) *Plan {
	byPath := make(map[string]*Entry, len(state))
	for _, e := range state {
		byPath[e.Path] = e
	}

	paths := make(map[string]bool, len(local)+len(remoteSnap)+len(state))
	for p := range local {
		paths[p] = true
	}

	for p := range remoteSnap {
		paths[p] = true
	}

	for p := range byPath {
		paths[p] = true
	}

	ordered := make([]string, 0, len(paths))
	for p := range paths {
		ordered = append(ordered, p)
	}

	sort.Strings(ordered)

	plan := &Plan{}

	for _, p := range ordered {
		action := r.classify(p, local[p], remoteSnap[p], byPath[p], force)

		r.logger.Debug("classified entry",
			slog.String("path", p),
			slog.String("action", action.Type.String()),
			slog.String("reason", action.Reason),
		)

		if action.Type != ActionNone {
			plan.Actions = append(plan.Actions, action)
		}
	}

	return plan
}

// classify maps one (local, remote, state) row to an action.
func (r *Reconciler) classify(path string, l *LocalFile, doc *RemoteDoc, e *Entry, force ForceMode) Action {
	a := Action{Path: path, Entry: e, Local: l, Remote: doc}

	// A pre-existing conflict is sticky: it overrides every row except the
	// explicit resolution path, which does not go through the reconciler.
	if e != nil && e.Status == StatusConflict {
		a.Reason = "conflict pending resolution"
		return a
	}

	// Sticky conversion error: skip while the file is unchanged.
	if e != nil && e.ConvErrorHash != "" && l != nil && l.Hash == e.ConvErrorHash {
		a.Reason = "conversion error (edit the file to retry)"
		return a
	}

	switch {
	case l != nil && doc != nil && e == nil:
		return r.classifyAdoption(a, l, doc)
	case l != nil && doc != nil:
		return r.classifyBothPresent(a, l, doc, e, force)
	case l == nil && doc != nil && e == nil:
		a.Type = ActionCreateLocal
		a.Reason = "new remote document"

		return a
	case l == nil && doc != nil:
		return r.classifyLocalDeletion(a, doc, e)
	case l != nil && doc == nil && e == nil:
		a.Type = ActionCreateRemote
		a.Reason = "new local file"

		return a
	case l != nil && doc == nil:
		return r.classifyRemoteDeletion(a, l, e)
	case e != nil:
		a.Type = ActionDeleteState
		a.Reason = "gone on both sides"

		return a
	default:
		return a
	}
}

// classifyAdoption handles both-present-no-state rows: the entry is adopted
// into state, overwriting local when content differs (remote is canonical on
// first contact). Differing kinds are a conflict, not an adoption.
func (r *Reconciler) classifyAdoption(a Action, l *LocalFile, doc *RemoteDoc) Action {
	if l.Kind != doc.Kind {
		a.Type = ActionMarkConflict
		a.Reason = "kind change: local " + string(l.Kind) + ", remote " + string(doc.Kind)

		return a
	}

	a.Type = ActionAdopt
	a.Reason = "present on both sides, not yet tracked"

	return a
}

// classifyBothPresent implements the tracked both-present rows of the
// decision matrix, including the force overrides.
func (r *Reconciler) classifyBothPresent(a Action, l *LocalFile, doc *RemoteDoc, e *Entry, force ForceMode) Action {
	if doc.Kind != e.Kind {
		a.Type = ActionMarkConflict
		a.Reason = "kind change: tracked " + string(e.Kind) + ", remote " + string(doc.Kind)

		return a
	}

	localChanged := e.LocalHash == "" || l.Hash != e.LocalHash
	remoteChanged := doc.Mtime > e.RemoteMtime

	// An mtime bump with identical content is not a remote change.
	if remoteChanged && doc.Hash != "" && doc.Hash == e.RemoteHash {
		remoteChanged = false
	}

	// Force modes collapse the matrix: mirror whichever side is named
	// wherever the two sides differ.
	if force == ForcePull {
		if doc.Hash != "" && l.Hash != doc.Hash {
			a.Type = ActionWriteLocal
			a.Reason = "forced pull"
		}

		return a
	}

	if force == ForcePush {
		if l.Hash != doc.Hash {
			a.Type = ActionPush
			a.Reason = "forced push"
		}

		return a
	}

	switch {
	case !localChanged && !remoteChanged:
		// Clean.
	case localChanged && !remoteChanged:
		a.Type = ActionPush
		a.Reason = "local modified"
	case !localChanged && remoteChanged:
		a.Type = ActionWriteLocal
		a.Reason = "remote modified"
	default:
		a.Type = ActionMarkConflict
		a.Reason = "modified on both sides"
	}

	return a
}

// classifyLocalDeletion handles tracked rows where the local file is gone:
// a clean local deletion propagates to the remote; a local deletion racing a
// remote modification is surfaced, never silently resolved.
func (r *Reconciler) classifyLocalDeletion(a Action, doc *RemoteDoc, e *Entry) Action {
	remoteChanged := doc.Mtime > e.RemoteMtime
	if remoteChanged && doc.Hash != "" && doc.Hash == e.RemoteHash {
		remoteChanged = false
	}

	if !remoteChanged {
		a.Type = ActionDeleteRemote
		a.Reason = "deleted locally"

		return a
	}

	a.Type = ActionMarkDeletedLocal
	a.Reason = "deleted locally but remote changed"

	return a
}

// classifyRemoteDeletion mirrors classifyLocalDeletion for the remote side:
// deletion safety means a locally-modified file is never removed.
func (r *Reconciler) classifyRemoteDeletion(a Action, l *LocalFile, e *Entry) Action {
	localChanged := e.LocalHash == "" || l.Hash != e.LocalHash

	if !localChanged {
		a.Type = ActionDeleteLocal
		a.Reason = "deleted remotely"

		return a
	}

	a.Type = ActionMarkDeletedRemote
	a.Reason = "deleted remotely but local changed"

	return a
}
