package remote

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesync/notesync/internal/markdown"
)

// newTestClient builds a client against srv with instant limiter spacing and
// a sleepFunc that records backoff delays instead of waiting.
func newTestClient(t *testing.T, srv *httptest.Server, slept *[]time.Duration) *Client {
	t.Helper()

	c := NewClient(srv.URL, srv.Client(), StaticTokenSource("test-token"),
		NewLimiter(3, time.Nanosecond), slog.New(slog.DiscardHandler))

	c.sleepFunc = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}

	return c
}

func TestClientRetriesThrottleThenSucceeds(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		_ = json.NewEncoder(w).Encode(Content{Markdown: "hello"})
	}))
	defer srv.Close()

	var slept []time.Duration
	c := newTestClient(t, srv, &slept)

	content, err := c.FetchContent(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", content.Markdown)

	require.EqualValues(t, 3, calls.Load())
	require.Len(t, slept, 2)

	// Exponential backoff with 25% jitter: 1s then 2s nominal.
	assert.InDelta(t, float64(time.Second), float64(slept[0]), float64(time.Second)*0.25)
	assert.InDelta(t, float64(2*time.Second), float64(slept[1]), float64(2*time.Second)*0.25)
}

func TestClientHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		_ = json.NewEncoder(w).Encode(Content{})
	}))
	defer srv.Close()

	var slept []time.Duration
	c := newTestClient(t, srv, &slept)

	_, err := c.FetchContent(context.Background(), "doc-1")
	require.NoError(t, err)

	require.Len(t, slept, 1)
	assert.Equal(t, 7*time.Second, slept[0])
}

func TestClientDoesNotRetryAuthErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var slept []time.Duration
	c := newTestClient(t, srv, &slept)

	_, err := c.FetchContent(context.Background(), "doc-1")
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrAuth)
	assert.True(t, IsPermanent(err))
	assert.EqualValues(t, 1, calls.Load())
	assert.Empty(t, slept)
}

func TestClientExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var slept []time.Duration
	c := newTestClient(t, srv, &slept)

	_, err := c.FetchContent(context.Background(), "doc-1")
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrServer)
	// Initial attempt plus maxRetries.
	assert.EqualValues(t, maxRetries+1, calls.Load())
	assert.Len(t, slept, maxRetries)
}

func TestClientSurfacesRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Request-Id", "req-abc")
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	var slept []time.Duration
	c := newTestClient(t, srv, &slept)

	_, err := c.FetchContent(context.Background(), "doc-1")
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "req-abc", apiErr.RequestID)
	assert.Contains(t, err.Error(), "req-abc")
}

func TestFetchTreeFollowsPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := treePage{Nodes: []Node{{ID: "n1"}}, NextCursor: "c2"}
		if r.URL.Query().Get("cursor") == "c2" {
			page = treePage{Nodes: []Node{{ID: "n2"}, {ID: "n3"}}}
		}

		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	var slept []time.Duration
	c := newTestClient(t, srv, &slept)

	nodes, err := c.FetchTree(context.Background(), "root")
	require.NoError(t, err)

	require.Len(t, nodes, 3)
	assert.Equal(t, "n1", nodes[0].ID)
	assert.Equal(t, "n3", nodes[2].ID)
}

func TestUpdateSendsOpsAndReturnsMtime(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)

		var body struct {
			Ops []markdown.Op `json:"ops"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body.Ops)

		_ = json.NewEncoder(w).Encode(updateResponse{UpdatedAt: now})
	}))
	defer srv.Close()

	var slept []time.Duration
	c := newTestClient(t, srv, &slept)

	ops := markdown.Diff([]byte("a\n"), []byte("b\n"))

	mtime, err := c.Update(context.Background(), "doc-1", ops)
	require.NoError(t, err)
	assert.True(t, mtime.Equal(now))
}

func TestClientContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var slept []time.Duration
	c := newTestClient(t, srv, &slept)

	ctx, cancel := context.WithCancel(context.Background())

	c.sleepFunc = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.FetchContent(ctx, "doc-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
