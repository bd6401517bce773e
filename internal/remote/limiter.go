package remote

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter defaults. One Limiter is shared by all calls in a workspace.
const (
	DefaultMaxInFlight = 3
	DefaultMinSpacing  = 340 * time.Millisecond
)

// Limiter combines bounded concurrency with minimum spacing between request
// starts. Acquire blocks until both a concurrency slot is free and the
// spacing interval has elapsed since the previous start.
type Limiter struct {
	sem     *semaphore.Weighted
	spacing *rate.Limiter
}

// NewLimiter creates a Limiter with the given concurrency bound and minimum
// interval between request starts. Zero values select the defaults.
func NewLimiter(maxInFlight int64, minSpacing time.Duration) *Limiter {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}

	if minSpacing <= 0 {
		minSpacing = DefaultMinSpacing
	}

	return &Limiter{
		sem:     semaphore.NewWeighted(maxInFlight),
		spacing: rate.NewLimiter(rate.Every(minSpacing), 1),
	}
}

// Acquire blocks until a request may start, returning a release function for
// the concurrency slot. The spacing wait happens while holding the slot so
// that request starts, not request admissions, are spaced.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("remote: acquiring request slot: %w", err)
	}

	if err := l.spacing.Wait(ctx); err != nil {
		l.sem.Release(1)
		return nil, fmt.Errorf("remote: waiting for request spacing: %w", err)
	}

	return func() { l.sem.Release(1) }, nil
}
