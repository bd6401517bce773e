package remote

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for API failure classes. Callers classify with errors.Is.
var (
	// ErrThrottled indicates the service asked us to slow down (HTTP 429).
	// Retried with backoff; surfaces only after the retry budget is spent.
	ErrThrottled = errors.New("remote: throttled")

	// ErrAuth indicates invalid or missing credentials (HTTP 401/403).
	ErrAuth = errors.New("remote: authentication failed")

	// ErrNotFound indicates the node does not exist or is archived (HTTP 404).
	ErrNotFound = errors.New("remote: not found")

	// ErrBadRequest indicates a malformed request (other 4xx). Never retried.
	ErrBadRequest = errors.New("remote: bad request")

	// ErrServer indicates a transient service failure (5xx). Retried.
	ErrServer = errors.New("remote: server error")
)

// Error is a classified API failure. It wraps one of the sentinel errors so
// callers can branch with errors.Is while keeping status and request id for
// diagnostics.
type Error struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error

	// retryAfter carries a parsed Retry-After header on throttle responses.
	retryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("remote: HTTP %d (request %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("remote: HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap exposes the sentinel for errors.Is.
func (e *Error) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to its sentinel error.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrThrottled
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= http.StatusInternalServerError:
		return ErrServer
	default:
		return ErrBadRequest
	}
}

// isRetryable reports whether a status code should be retried with backoff.
// Throttling and server errors are transient; all other 4xx fail immediately.
func isRetryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// IsPermanent reports whether err is a permanent remote failure, one that
// skipping the entry (rather than retrying) is the correct response to.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadRequest)
}
