package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func TestLimiterEnforcesMinimumGap(t *testing.T) {
	t.Parallel()

	l := New(Config{MinDelay: 100 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/a"))
	require.Less(t, time.Since(start), 50*time.Millisecond, "first request should not wait")

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	// Hosts are paced independently.
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://other.test/a"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterAddsJitterAfterFirstRequest(t *testing.T) {
	t.Parallel()

	sleeps := &recordedSleeps{}
	l := New(Config{MinDelay: time.Nanosecond, MaxDelay: 700 * time.Millisecond})
	l.sleep = sleeps.sleep
	l.jitter = func(limit time.Duration) time.Duration { return limit / 2 }
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://blog.test/1"))
	require.Empty(t, sleeps.delays)

	require.NoError(t, l.Wait(ctx, "https://blog.test/2"))
	require.Equal(t, []time.Duration{(700*time.Millisecond - time.Nanosecond) / 2}, sleeps.delays)
}

func TestLimiterWithoutDelayNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Wait(ctx, "https://blog.test/x"))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{MinDelay: time.Hour})
	require.NoError(t, l.Wait(context.Background(), "https://blog.test/1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://blog.test/2"))
}

func TestRandomJitterBounds(t *testing.T) {
	t.Parallel()

	require.Zero(t, randomJitter(0))
	for i := 0; i < 100; i++ {
		d := randomJitter(time.Second)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.Less(t, d, time.Second)
	}
}
