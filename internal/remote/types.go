// Package remote implements the typed, rate-limited client for the remote
// document service. All outbound calls in a workspace flow through one shared
// limiter: bounded concurrency, minimum spacing between request starts, and
// exponential backoff with jitter on throttling or transport failure.
package remote

import (
	"time"
)

// Kind identifies a remote node's document type as reported by the service.
type Kind string

// Node kinds on the wire.
const (
	KindPage          Kind = "page"
	KindDatabase      Kind = "database"
	KindDatabaseEntry Kind = "database_entry"
)

// Node is one entry in a remote subtree listing. Content is fetched
// separately and lazily.
type Node struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Content is one document's rendered markdown plus its structured fields.
// Properties is non-nil only for database entries; Schema only for databases.
type Content struct {
	Markdown   string         `json:"markdown"`
	Properties map[string]any `json:"properties,omitempty"`
	Schema     string         `json:"schema,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// CreateRequest describes a new remote document.
type CreateRequest struct {
	ParentID   string         `json:"parent_id"`
	Kind       Kind           `json:"kind"`
	Title      string         `json:"title"`
	Markdown   string         `json:"markdown"`
	Properties map[string]any `json:"properties,omitempty"`
	Schema     string         `json:"schema,omitempty"`
}

// Created is the service's response to a successful create.
type Created struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	UpdatedAt time.Time `json:"updated_at"`
}

// treePage is one page of a subtree listing.
type treePage struct {
	Nodes      []Node `json:"nodes"`
	NextCursor string `json:"next_cursor"`
}

// updateResponse carries the new authoritative mtime after a PATCH.
type updateResponse struct {
	UpdatedAt time.Time `json:"updated_at"`
}
