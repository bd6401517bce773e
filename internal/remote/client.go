package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// Retry and backoff constants.
const (
	maxRetries        = 5
	baseBackoff       = 1 * time.Second
	maxBackoff        = 64 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
	perAttemptTimeout = 30 * time.Second
	userAgent         = "notesync/0.1"
)

// Client is an HTTP client for the remote document service. It handles
// request construction, bearer authentication, the shared workspace limiter,
// retry with exponential backoff, and error classification.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      oauth2.TokenSource
	limiter    *Limiter
	logger     *slog.Logger

	// sleepFunc waits between retries. Tests override it to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a document service client. A nil limiter gets the
// workspace defaults; a nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client, token oauth2.TokenSource, limiter *Limiter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if limiter == nil {
		limiter = NewLimiter(0, 0)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		limiter:    limiter,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// StaticTokenSource wraps a fixed integration token for bearer auth.
func StaticTokenSource(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
}

// do executes a JSON request with limiter admission, retry, and backoff.
// body is marshaled when non-nil; the response body is decoded into out when
// out is non-nil. State is never mutated by this layer, so retries re-send
// the same payload.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte

	if body != nil {
		var err error

		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encoding %s %s body: %w", method, path, err)
		}
	}

	var attempt int
	for {
		respBody, err := c.doOnce(ctx, method, path, payload)
		if err == nil {
			if out == nil || len(respBody) == 0 {
				return nil
			}

			if decErr := json.Unmarshal(respBody, out); decErr != nil {
				return fmt.Errorf("remote: decoding %s %s response: %w", method, path, decErr)
			}

			return nil
		}

		// Context cancellation is not retryable.
		if ctx.Err() != nil {
			return fmt.Errorf("remote: request canceled: %w", ctx.Err())
		}

		backoff, retry := c.shouldRetry(err, attempt)
		if !retry {
			return err
		}

		c.logger.Warn("retrying remote call",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
			return fmt.Errorf("remote: request canceled: %w", sleepErr)
		}

		attempt++
	}
}

// shouldRetry decides whether a failed attempt is retried and with what delay.
func (c *Client) shouldRetry(err error, attempt int) (time.Duration, bool) {
	if attempt >= maxRetries {
		return 0, false
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		if !isRetryable(apiErr.StatusCode) {
			return 0, false
		}

		// Honor Retry-After on throttle responses.
		if apiErr.retryAfter > 0 {
			return apiErr.retryAfter, true
		}

		return c.calcBackoff(attempt), true
	}

	// Transport failures follow the same backoff schedule.
	return c.calcBackoff(attempt), true
}

// doOnce executes a single limiter-admitted attempt with the per-attempt
// timeout and returns the raw response body on 2xx.
func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	release, err := c.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("remote: creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("remote: obtaining token: %w", err)
	}

	tok.SetAuthHeader(req)
	req.Header.Set("User-Agent", userAgent)

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		if readErr != nil {
			return nil, fmt.Errorf("remote: reading %s %s response: %w", method, path, readErr)
		}

		c.logger.Debug("remote call succeeded",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		return respBody, nil
	}

	if readErr != nil {
		respBody = []byte("(failed to read response body)")
	}

	apiErr := &Error{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("Request-Id"),
		Message:    string(respBody),
		Err:        classifyStatus(resp.StatusCode),
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				apiErr.retryAfter = time.Duration(seconds) * time.Second
			}
		}
	}

	return nil, apiErr
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for d or until the context is canceled. Default sleepFunc.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
