package sync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/notesync/notesync/internal/markdown"
	"github.com/notesync/notesync/internal/remote"
)

// Well-known file names inside container and database directories.
const (
	IndexFileName  = "_index.md"
	SchemaFileName = "_schema"
)

// contentFetchConcurrency bounds parallel FetchContent calls during a remote
// snapshot. The client's limiter enforces the workspace-wide in-flight cap;
// this just keeps the errgroup from queueing thousands of goroutines.
const contentFetchConcurrency = 3

// Walker produces comparable local and remote entry snapshots. It is pure:
// it never mutates state or the filesystem.
type Walker struct {
	client RemoteAPI
	logger *slog.Logger
}

// NewWalker creates a Walker over the given remote client.
func NewWalker(client RemoteAPI, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Walker{client: client, logger: logger}
}

// --- Local snapshot ---

// LocalSnapshotOf walks the workspace directory and yields one LocalFile per
// entry. Container directories are yielded as entries whose bytes come from
// their index file; the metadata directory and hidden paths are excluded.
func (w *Walker) LocalSnapshotOf(root string) (LocalSnapshot, error) {
	snap := make(LocalSnapshot)
	databaseDirs := make(map[string]bool)

	walkFn := func(fsPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("sync: walking %s: %w", fsPath, walkErr)
		}

		if fsPath == root {
			return nil
		}

		rel, err := filepath.Rel(root, fsPath)
		if err != nil {
			return fmt.Errorf("sync: computing relative path for %s: %w", fsPath, err)
		}

		relPath := nfcPath(rel)
		name := d.Name()

		// The metadata directory and hidden paths are never synced.
		if strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		// Symlinks are never synced.
		if d.Type()&fs.ModeSymlink != 0 {
			w.logger.Debug("skipping symlink", slog.String("path", relPath))
			return nil
		}

		if d.IsDir() {
			return w.addLocalDir(snap, databaseDirs, fsPath, relPath)
		}

		return w.addLocalFile(snap, databaseDirs, fsPath, relPath, name)
	}

	if err := filepath.WalkDir(root, walkFn); err != nil {
		return nil, err
	}

	w.logger.Debug("local snapshot complete", slog.Int("entries", len(snap)))

	return snap, nil
}

// addLocalDir classifies a directory as container or database and records
// its entry. WalkDir visits directories before their children, so database
// membership is known by the time entry files are seen.
func (w *Walker) addLocalDir(snap LocalSnapshot, databaseDirs map[string]bool, fsPath, relPath string) error {
	kind := KindContainer
	contentFile := filepath.Join(fsPath, IndexFileName)

	if _, err := os.Stat(filepath.Join(fsPath, SchemaFileName)); err == nil {
		kind = KindDatabase
		contentFile = filepath.Join(fsPath, SchemaFileName)
		databaseDirs[relPath] = true
	}

	var bytes []byte

	if b, err := os.ReadFile(contentFile); err == nil {
		bytes = b
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("sync: reading %s: %w", contentFile, err)
	}

	snap[relPath] = &LocalFile{
		Path:    relPath,
		Kind:    kind,
		Hash:    HashBytes(bytes),
		Bytes:   markdown.Canonicalize(bytes),
		AbsPath: contentFile,
	}

	return nil
}

// addLocalFile records a markdown file entry. Index and schema files belong
// to their directory's entry; other non-markdown files are ignored.
func (w *Walker) addLocalFile(snap LocalSnapshot, databaseDirs map[string]bool, fsPath, relPath, name string) error {
	if name == IndexFileName || name == SchemaFileName {
		return nil
	}

	if !strings.HasSuffix(name, ".md") {
		return nil
	}

	b, err := os.ReadFile(fsPath)
	if err != nil {
		return fmt.Errorf("sync: reading %s: %w", fsPath, err)
	}

	kind := KindLeaf
	if databaseDirs[path.Dir(relPath)] {
		kind = KindDatabaseEntry
	}

	snap[relPath] = &LocalFile{
		Path:    relPath,
		Kind:    kind,
		Hash:    HashBytes(b),
		Bytes:   markdown.Canonicalize(b),
		AbsPath: fsPath,
	}

	return nil
}

// nfcPath normalizes a relative filesystem path to forward slashes and NFC.
func nfcPath(p string) string {
	return string(norm.NFC.Bytes([]byte(filepath.ToSlash(p))))
}

// --- Remote snapshot ---

// RemoteSnapshotOf enumerates the remote subtree under rootID and pairs each
// node with content on demand: content is fetched only for nodes whose mtime
// exceeds the state's recorded remote_mtime (or that have no state row).
// Entries with state keep their state path as identity.
func (w *Walker) RemoteSnapshotOf(ctx context.Context, rootID string, state []*Entry) (RemoteSnapshot, error) {
	nodes, err := w.client.FetchTree(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("sync: fetching remote tree: %w", err)
	}

	byRemoteID := make(map[string]*Entry, len(state))
	for _, e := range state {
		byRemoteID[e.RemoteID] = e
	}

	docs := buildRemoteDocs(nodes, rootID, byRemoteID)

	if err := w.fetchLazyContent(ctx, docs, byRemoteID); err != nil {
		return nil, err
	}

	snap := make(RemoteSnapshot, len(docs))
	for _, doc := range docs {
		snap[doc.Path] = doc
	}

	w.logger.Debug("remote snapshot complete", slog.Int("entries", len(snap)))

	return snap, nil
}

// buildRemoteDocs materializes entry paths for every node. Paths follow the
// resolved parent path (state paths win over tree position) so that children
// stay under their parent's local identity.
func buildRemoteDocs(nodes []remote.Node, rootID string, byRemoteID map[string]*Entry) []*RemoteDoc {
	children := make(map[string][]remote.Node)
	hasChildren := make(map[string]bool)

	for _, n := range nodes {
		children[n.ParentID] = append(children[n.ParentID], n)
		hasChildren[n.ParentID] = true
	}

	// Deterministic ordering within each parent.
	for id := range children {
		sort.Slice(children[id], func(i, j int) bool {
			return children[id][i].Title < children[id][j].Title
		})
	}

	var docs []*RemoteDoc

	var descend func(parentID, parentPath string)

	descend = func(parentID, parentPath string) {
		for _, n := range children[parentID] {
			kind := remoteKind(n, hasChildren[n.ID])

			docPath := ""
			if e := byRemoteID[n.ID]; e != nil {
				docPath = e.Path
			} else {
				docPath = path.Join(parentPath, markdown.FileNameForTitle(n.Title, kind.IsDir()))
			}

			docs = append(docs, &RemoteDoc{
				Path:  docPath,
				Node:  n,
				Kind:  kind,
				Mtime: ToUnixNano(n.UpdatedAt),
			})

			if kind.IsDir() {
				descend(n.ID, docPath)
			}
		}
	}

	descend(rootID, "")

	return docs
}

// remoteKind maps a wire node kind to the local entry kind. A page with
// children occupies a directory locally.
func remoteKind(n remote.Node, nodeHasChildren bool) Kind {
	switch n.Kind {
	case remote.KindDatabase:
		return KindDatabase
	case remote.KindDatabaseEntry:
		return KindDatabaseEntry
	default:
		if nodeHasChildren {
			return KindContainer
		}

		return KindLeaf
	}
}

// fetchLazyContent resolves each doc's content hash: unchanged nodes reuse
// the state's recorded hash; changed or unknown nodes fetch and render.
func (w *Walker) fetchLazyContent(ctx context.Context, docs []*RemoteDoc, byRemoteID map[string]*Entry) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(contentFetchConcurrency)

	for _, doc := range docs {
		entry := byRemoteID[doc.Node.ID]

		// mtime comparison is strictly greater-than: equality counts as
		// "not changed remotely".
		if entry != nil && doc.Mtime <= entry.RemoteMtime {
			doc.Hash = entry.RemoteHash
			continue
		}

		g.Go(func() error {
			content, err := w.client.FetchContent(gctx, doc.Node.ID)
			if err != nil {
				return fmt.Errorf("sync: fetching content of %s: %w", doc.Path, err)
			}

			canonical, err := RenderRemote(doc.Kind, content)
			if err != nil {
				return err
			}

			doc.Content = content
			doc.Canonical = canonical
			doc.Hash = HashBytes(canonical)

			return nil
		})
	}

	return g.Wait()
}

// RenderRemote produces the canonical local byte form of remote content for
// the given entry kind: frontmatter-composed markdown for database entries,
// the schema document for databases, plain canonical markdown otherwise.
func RenderRemote(kind Kind, content *remote.Content) ([]byte, error) {
	switch kind {
	case KindDatabase:
		return markdown.Canonicalize([]byte(content.Schema)), nil
	case KindDatabaseEntry:
		b, err := markdown.ComposeFrontmatter(content.Properties, content.Markdown)
		if err != nil {
			return nil, fmt.Errorf("sync: rendering database entry: %w", err)
		}

		return b, nil
	default:
		return markdown.Canonicalize([]byte(content.Markdown)), nil
	}
}
