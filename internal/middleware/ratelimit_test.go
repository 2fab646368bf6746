package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
)

func TestRateLimiterDelayWithinBounds(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{
		DelayMin: 100 * time.Millisecond,
		DelayMax: 300 * time.Millisecond,
	})

	for range 100 {
		d := l.sampleDelay()
		require.GreaterOrEqual(t, d, 100*time.Millisecond)
		require.Less(t, d, 300*time.Millisecond)
	}
}

func TestRateLimiterZeroDelayDisabled(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{})
	require.Zero(t, l.sampleDelay())
}

func TestRateLimiterBlocksOnDelay(t *testing.T) {
	var slept time.Duration
	l := NewRateLimiter(RateLimitConfig{DelayMin: time.Second, DelayMax: 2 * time.Second})
	l.sleep = func(d time.Duration) { slept = d }

	_, err := l.OnRequest(context.Background(), crawler.NewRequest("https://example.com/"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, slept, time.Second)
}

func TestAcquireLimitsPerHostConcurrency(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{PerHostMax: 1})
	ctx := context.Background()

	release, err := l.Acquire(ctx, "example.com")
	require.NoError(t, err)

	// Second slot for the same host must block until the first releases.
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(blocked, "example.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Other hosts are unaffected.
	otherRelease, err := l.Acquire(ctx, "other.com")
	require.NoError(t, err)
	otherRelease()

	release()
	release2, err := l.Acquire(ctx, "example.com")
	require.NoError(t, err)
	release2()
}

func TestAcquireRespectsCanceledContext(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{PerHostMax: 1})
	release, err := l.Acquire(context.Background(), "example.com")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, "example.com")
	require.ErrorIs(t, err, context.Canceled)
}
