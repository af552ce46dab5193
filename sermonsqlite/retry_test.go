package sermonsqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()
	require.Equal(t, 500*time.Millisecond, p.Backoff(1))
	require.Equal(t, time.Second, p.Backoff(2))
	require.Equal(t, 2*time.Second, p.Backoff(3))
	require.Equal(t, 10*time.Second, p.Backoff(10), "capped at BackoffMax")

	require.False(t, p.Exhausted(2))
	require.True(t, p.Exhausted(3))
}

func TestRetryPolicy_Do(t *testing.T) {
	ctx := context.Background()
	p := testRetry()

	calls := 0
	attempts, err := p.Do(ctx, func(context.Context) error {
		calls++
		if calls < 3 {
			return &TransportError{Class: ClassServer, Status: 503}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)

	calls = 0
	attempts, err = p.Do(ctx, func(context.Context) error {
		calls++
		return &TransportError{Class: ClassClient, Status: 400}
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts, "client errors are not retried")

	attempts, err = p.Do(ctx, func(context.Context) error {
		return &TransportError{Class: ClassNetwork, Err: errors.New("connection refused")}
	})
	require.True(t, IsUnreachable(err))
	require.Equal(t, 3, attempts)
}

func TestRetryPolicy_DoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 5, BackoffMin: time.Hour}

	calls := 0
	attempts, err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return &TransportError{Class: ClassTimeout}
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, calls)
}
