package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/notesync/notesync/internal/markdown"
)

// FetchTree traverses the remote subtree under rootID, following pagination
// cursors until exhausted. The root node itself is not included.
func (c *Client) FetchTree(ctx context.Context, rootID string) ([]Node, error) {
	var nodes []Node

	cursor := ""

	for {
		path := fmt.Sprintf("/v1/nodes/%s/tree", url.PathEscape(rootID))
		if cursor != "" {
			path += "?cursor=" + url.QueryEscape(cursor)
		}

		var page treePage
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, fmt.Errorf("fetching tree under %s: %w", rootID, err)
		}

		nodes = append(nodes, page.Nodes...)

		if page.NextCursor == "" {
			return nodes, nil
		}

		cursor = page.NextCursor
	}
}

// FetchTopLevel lists only the direct children of rootID. The watcher's
// remote poller uses this to compare top-level mtimes cheaply.
func (c *Client) FetchTopLevel(ctx context.Context, rootID string) ([]Node, error) {
	path := fmt.Sprintf("/v1/nodes/%s/tree?depth=1", url.PathEscape(rootID))

	var page treePage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, fmt.Errorf("fetching top level of %s: %w", rootID, err)
	}

	return page.Nodes, nil
}

// FetchContent retrieves one document's rendered markdown and structured
// fields.
func (c *Client) FetchContent(ctx context.Context, id string) (*Content, error) {
	path := fmt.Sprintf("/v1/nodes/%s/content", url.PathEscape(id))

	var content Content
	if err := c.do(ctx, http.MethodGet, path, nil, &content); err != nil {
		return nil, fmt.Errorf("fetching content of %s: %w", id, err)
	}

	return &content, nil
}

// Create makes a new remote document under req.ParentID. Create is NOT
// idempotent: the caller must record the returned ID before any retry path
// can run, and must probe with FindChildren before re-creating after a crash.
func (c *Client) Create(ctx context.Context, req *CreateRequest) (*Created, error) {
	var created Created
	if err := c.do(ctx, http.MethodPost, "/v1/nodes", req, &created); err != nil {
		return nil, fmt.Errorf("creating %q under %s: %w", req.Title, req.ParentID, err)
	}

	return &created, nil
}

// Update applies a block diff to an existing document and returns the new
// authoritative mtime. Re-applying the same diff yields the same remote
// state, so Update is idempotent by content.
func (c *Client) Update(ctx context.Context, id string, ops []markdown.Op) (time.Time, error) {
	path := fmt.Sprintf("/v1/nodes/%s", url.PathEscape(id))

	body := struct {
		Ops []markdown.Op `json:"ops"`
	}{Ops: ops}

	var resp updateResponse
	if err := c.do(ctx, http.MethodPatch, path, body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("updating %s: %w", id, err)
	}

	return resp.UpdatedAt, nil
}

// UpdateProperties replaces a database entry's property values and returns
// the new authoritative mtime.
func (c *Client) UpdateProperties(ctx context.Context, id string, props map[string]any) (time.Time, error) {
	path := fmt.Sprintf("/v1/nodes/%s", url.PathEscape(id))

	body := struct {
		Properties map[string]any `json:"properties"`
	}{Properties: props}

	var resp updateResponse
	if err := c.do(ctx, http.MethodPatch, path, body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("updating properties of %s: %w", id, err)
	}

	return resp.UpdatedAt, nil
}

// Delete archives a remote document.
func (c *Client) Delete(ctx context.Context, id string) error {
	path := fmt.Sprintf("/v1/nodes/%s", url.PathEscape(id))

	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}

	return nil
}

// FindChildren returns the children of parentID whose title matches exactly.
// The engine's orphan-create recovery probes here before re-creating.
func (c *Client) FindChildren(ctx context.Context, parentID, title string) ([]Node, error) {
	path := fmt.Sprintf("/v1/nodes/%s/children?title=%s",
		url.PathEscape(parentID), url.QueryEscape(title))

	var page treePage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, fmt.Errorf("finding children of %s titled %q: %w", parentID, title, err)
	}

	return page.Nodes, nil
}
