package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/notesync/notesync/internal/markdown"
	"github.com/notesync/notesync/internal/remote"
)

// fakeRemote is an in-memory RemoteAPI for engine and walker tests. It keeps
// a node table plus content per node and records mutating calls.
type fakeRemote struct {
	mu stdsync.Mutex

	rootID   string
	nodes    map[string]remote.Node
	contents map[string]*remote.Content
	nextID   int
	clock    time.Time

	createdTitles []string
	updatedIDs    []string
	deletedIDs    []string
	probeCalls    int

	failWith error
}

func newFakeRemote(rootID string) *fakeRemote {
	return &fakeRemote{
		rootID:   rootID,
		nodes:    make(map[string]remote.Node),
		contents: make(map[string]*remote.Content),
		clock:    time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick advances the fake's clock and returns the new time.
func (f *fakeRemote) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

// addPage seeds a page node with markdown content.
func (f *fakeRemote) addPage(id, parentID, title, md string) {
	t := f.tick()
	f.nodes[id] = remote.Node{
		ID: id, ParentID: parentID, Kind: remote.KindPage,
		Title: title, URL: "https://docs.example.com/" + id, UpdatedAt: t,
	}
	f.contents[id] = &remote.Content{Markdown: md, UpdatedAt: t}
}

// addDatabase seeds a database node with its schema document.
func (f *fakeRemote) addDatabase(id, parentID, title, schema string) {
	t := f.tick()
	f.nodes[id] = remote.Node{
		ID: id, ParentID: parentID, Kind: remote.KindDatabase,
		Title: title, URL: "https://docs.example.com/" + id, UpdatedAt: t,
	}
	f.contents[id] = &remote.Content{Schema: schema, UpdatedAt: t}
}

// addDatabaseEntry seeds a database entry with properties and body.
func (f *fakeRemote) addDatabaseEntry(id, parentID, title, md string, props map[string]any) {
	t := f.tick()
	f.nodes[id] = remote.Node{
		ID: id, ParentID: parentID, Kind: remote.KindDatabaseEntry,
		Title: title, URL: "https://docs.example.com/" + id, UpdatedAt: t,
	}
	f.contents[id] = &remote.Content{Markdown: md, Properties: props, UpdatedAt: t}
}

// editPage replaces a page's markdown and bumps its mtime.
func (f *fakeRemote) editPage(id, md string) {
	t := f.tick()

	n := f.nodes[id]
	n.UpdatedAt = t
	f.nodes[id] = n

	f.contents[id] = &remote.Content{Markdown: md, UpdatedAt: t}
}

// touchPage bumps a page's mtime without changing content.
func (f *fakeRemote) touchPage(id string) {
	t := f.tick()

	n := f.nodes[id]
	n.UpdatedAt = t
	f.nodes[id] = n

	c := *f.contents[id]
	c.UpdatedAt = t
	f.contents[id] = &c
}

// removePage deletes a node out from under the engine (a remote-side delete).
func (f *fakeRemote) removePage(id string) {
	delete(f.nodes, id)
	delete(f.contents, id)
}

func (f *fakeRemote) FetchTree(_ context.Context, rootID string) ([]remote.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != nil {
		return nil, f.failWith
	}

	// BFS from rootID so unrelated subtrees stay out of the listing.
	var out []remote.Node

	frontier := []string{rootID}
	for len(frontier) > 0 {
		parent := frontier[0]
		frontier = frontier[1:]

		for _, n := range f.nodes {
			if n.ParentID == parent {
				out = append(out, n)
				frontier = append(frontier, n.ID)
			}
		}
	}

	return out, nil
}

func (f *fakeRemote) FetchTopLevel(_ context.Context, rootID string) ([]remote.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != nil {
		return nil, f.failWith
	}

	var out []remote.Node

	for _, n := range f.nodes {
		if n.ParentID == rootID {
			out = append(out, n)
		}
	}

	return out, nil
}

func (f *fakeRemote) FetchContent(_ context.Context, id string) (*remote.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != nil {
		return nil, f.failWith
	}

	c, ok := f.contents[id]
	if !ok {
		return nil, &remote.Error{StatusCode: 404, Err: remote.ErrNotFound}
	}

	out := *c

	return &out, nil
}

func (f *fakeRemote) Create(_ context.Context, req *remote.CreateRequest) (*remote.Created, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != nil {
		return nil, f.failWith
	}

	f.nextID++
	id := fmt.Sprintf("created-%d", f.nextID)
	t := f.tick()

	f.nodes[id] = remote.Node{
		ID: id, ParentID: req.ParentID, Kind: req.Kind,
		Title: req.Title, URL: "https://docs.example.com/" + id, UpdatedAt: t,
	}
	f.contents[id] = &remote.Content{
		Markdown: req.Markdown, Properties: req.Properties, Schema: req.Schema, UpdatedAt: t,
	}

	f.createdTitles = append(f.createdTitles, req.Title)

	return &remote.Created{ID: id, URL: f.nodes[id].URL, UpdatedAt: t}, nil
}

func (f *fakeRemote) Update(_ context.Context, id string, _ []markdown.Op) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != nil {
		return time.Time{}, f.failWith
	}

	if _, ok := f.nodes[id]; !ok {
		return time.Time{}, &remote.Error{StatusCode: 404, Err: remote.ErrNotFound}
	}

	t := f.tick()

	n := f.nodes[id]
	n.UpdatedAt = t
	f.nodes[id] = n

	c := *f.contents[id]
	c.UpdatedAt = t
	f.contents[id] = &c

	f.updatedIDs = append(f.updatedIDs, id)

	return t, nil
}

func (f *fakeRemote) UpdateProperties(_ context.Context, id string, props map[string]any) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != nil {
		return time.Time{}, f.failWith
	}

	t := f.tick()

	c := *f.contents[id]
	c.Properties = props
	c.UpdatedAt = t
	f.contents[id] = &c

	n := f.nodes[id]
	n.UpdatedAt = t
	f.nodes[id] = n

	return t, nil
}

func (f *fakeRemote) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != nil {
		return f.failWith
	}

	if _, ok := f.nodes[id]; !ok {
		return &remote.Error{StatusCode: 404, Err: remote.ErrNotFound}
	}

	delete(f.nodes, id)
	delete(f.contents, id)

	f.deletedIDs = append(f.deletedIDs, id)

	return nil
}

func (f *fakeRemote) FindChildren(_ context.Context, parentID, title string) ([]remote.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.probeCalls++

	if f.failWith != nil {
		return nil, f.failWith
	}

	var out []remote.Node

	for _, n := range f.nodes {
		if n.ParentID == parentID && n.Title == title {
			out = append(out, n)
		}
	}

	return out, nil
}
