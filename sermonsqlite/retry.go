// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"context"
	"time"
)

// RetryPolicy bounds retries of network calls. Push upserts, push deletes and
// queue processing share one policy.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first; queued ops are dropped after this many failures
	BackoffMin  time.Duration // delay before the second attempt
	BackoffMax  time.Duration // cap for exponential growth
}

// DefaultRetryPolicy returns 3 attempts with 500ms..10s exponential backoff
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BackoffMin:  500 * time.Millisecond,
		BackoffMax:  10 * time.Second,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the delay after the given failed attempt (1-based)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BackoffMin <= 0 || attempt < 1 {
		return 0
	}
	d := p.BackoffMin
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.BackoffMax > 0 && d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if p.BackoffMax > 0 && d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}

// Exhausted reports whether an operation that failed retryCount times must be dropped
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount >= p.attempts()
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
// Returns the number of attempts made together with the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	var err error
	for attempt := 1; attempt <= p.attempts(); attempt++ {
		if err = fn(ctx); err == nil {
			return attempt, nil
		}
		if !IsRetryable(err) || attempt == p.attempts() {
			return attempt, err
		}
		if serr := sleepWithContext(ctx, p.Backoff(attempt)); serr != nil {
			return attempt, err
		}
	}
	return p.attempts(), err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
