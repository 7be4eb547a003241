package querycache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/blogpulse/internal/clock/clocktest"
)

type payload struct {
	Ticker string         `json:"ticker"`
	Counts map[string]int `json:"counts"`
}

type countingLoader struct {
	calls atomic.Int32
	value payload
	err   error
}

func (l *countingLoader) load(context.Context) (payload, error) {
	l.calls.Add(1)
	if l.err != nil {
		return payload{}, l.err
	}
	return l.value, nil
}

type brokenBackend struct{}

func (brokenBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, ErrBackend
}

func (brokenBackend) Set(context.Context, string, []byte, time.Duration) error { return ErrBackend }
func (brokenBackend) Delete(context.Context, ...string) error { return ErrBackend }
func (brokenBackend) DeletePrefix(context.Context, string) (int, error) { return 0, ErrBackend }
func (brokenBackend) Clear(context.Context) error { return ErrBackend }
func (brokenBackend) Len(context.Context) (int, error) { return 0, ErrBackend }

func newTestCache(t *testing.T) (*Cache, *clocktest.Manual) {
	t.Helper()
	clk := clocktest.NewManual(time.Date(2025, 8, 7, 12, 0, 0, 0, time.UTC))
	return New(Config{Backend: NewMemoryBackend(time.Minute), Clock: clk}), clk
}

func TestFetchHitSkipsLoader(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	loader := &countingLoader{value: payload{Ticker: "TSLA", Counts: map[string]int{"positive": 2}}}
	ctx := context.Background()

	first, err := Fetch(ctx, c, "ticker:TSLA:chart:1M", time.Hour, loader.load)
	require.NoError(t, err)
	second, err := Fetch(ctx, c, "ticker:TSLA:chart:1M", time.Hour, loader.load)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int32(1), loader.calls.Load())

	stats := c.Stats(ctx)
	require.Equal(t, "memory", stats.Backend)
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
	require.Equal(t, uint64(1), stats.Loads)
	require.Equal(t, 1, stats.Entries)
	require.InDelta(t, 0.5, stats.HitRatio, 1e-9)
}

func TestFetchExpiresOnInjectedClock(t *testing.T) {
	t.Parallel()

	c, clk := newTestCache(t)
	loader := &countingLoader{value: payload{Ticker: "AAPL"}}
	ctx := context.Background()

	_, err := Fetch(ctx, c, "k", 5*time.Minute, loader.load)
	require.NoError(t, err)

	clk.Advance(4*time.Minute + 59*time.Second)
	_, err = Fetch(ctx, c, "k", 5*time.Minute, loader.load)
	require.NoError(t, err)
	require.Equal(t, int32(1), loader.calls.Load())

	clk.Advance(time.Second)
	_, err = Fetch(ctx, c, "k", 5*time.Minute, loader.load)
	require.NoError(t, err)
	require.Equal(t, int32(2), loader.calls.Load())
}

func TestLoaderErrorsAreNotCached(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	boom := errors.New("store unavailable")
	loader := &countingLoader{err: boom}
	ctx := context.Background()

	_, err := Fetch(ctx, c, "k", time.Hour, loader.load)
	require.Same(t, boom, err)

	loader.err = nil
	loader.value = payload{Ticker: "NVDA"}
	got, err := Fetch(ctx, c, "k", time.Hour, loader.load)
	require.NoError(t, err)
	require.Equal(t, "NVDA", got.Ticker)
	require.Equal(t, int32(2), loader.calls.Load())
}

func TestInvalidateForcesReload(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	loader := &countingLoader{value: payload{Ticker: "TSLA"}}
	ctx := context.Background()

	_, err := Fetch(ctx, c, "ticker:TSLA:chart:1M", time.Hour, loader.load)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "ticker:TSLA:chart:1M"))
	_, err = Fetch(ctx, c, "ticker:TSLA:chart:1M", time.Hour, loader.load)
	require.NoError(t, err)
	require.Equal(t, int32(2), loader.calls.Load())
}

func TestInvalidatePrefixOnlyTouchesTicker(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	tsla := &countingLoader{value: payload{Ticker: "TSLA"}}
	aapl := &countingLoader{value: payload{Ticker: "AAPL"}}
	ctx := context.Background()

	for _, period := range []string{"1M", "3M"} {
		_, err := Fetch(ctx, c, TickerKey("TSLA", "chart", period), time.Hour, tsla.load)
		require.NoError(t, err)
	}
	_, err := Fetch(ctx, c, TickerKey("AAPL", "chart", "1M"), time.Hour, aapl.load)
	require.NoError(t, err)

	removed, err := c.InvalidatePrefix(ctx, TickerPrefix("tsla"))
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	_, err = Fetch(ctx, c, TickerKey("AAPL", "chart", "1M"), time.Hour, aapl.load)
	require.NoError(t, err)
	require.Equal(t, int32(1), aapl.calls.Load())

	_, err = Fetch(ctx, c, TickerKey("TSLA", "chart", "1M"), time.Hour, tsla.load)
	require.NoError(t, err)
	require.Equal(t, int32(3), tsla.calls.Load())
}

func TestClearEmptiesBackend(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	loader := &countingLoader{value: payload{Ticker: "TSLA"}}
	ctx := context.Background()

	_, err := Fetch(ctx, c, "a", time.Hour, loader.load)
	require.NoError(t, err)
	_, err = Fetch(ctx, c, "b", time.Hour, loader.load)
	require.NoError(t, err)
	require.Equal(t, 2, c.Stats(ctx).Entries)

	require.NoError(t, c.Clear(ctx))
	require.Equal(t, 0, c.Stats(ctx).Entries)
}

func TestBackendFailureDegradesToPassThrough(t *testing.T) {
	t.Parallel()

	c := New(Config{Backend: brokenBackend{}})
	loader := &countingLoader{value: payload{Ticker: "TSLA"}}
	ctx := context.Background()

	for range 2 {
		got, err := Fetch(ctx, c, "k", time.Hour, loader.load)
		require.NoError(t, err)
		require.Equal(t, "TSLA", got.Ticker)
	}
	require.Equal(t, int32(2), loader.calls.Load())

	stats := c.Stats(ctx)
	require.Equal(t, -1, stats.Entries)
	require.GreaterOrEqual(t, stats.BackendErrors, uint64(4))
	require.ErrorIs(t, c.Clear(ctx), ErrBackend)
}

func TestZeroTTLIsNotStored(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	loader := &countingLoader{value: payload{Ticker: "TSLA"}}
	ctx := context.Background()

	for range 2 {
		_, err := Fetch(ctx, c, "k", 0, loader.load)
		require.NoError(t, err)
	}
	require.Equal(t, int32(2), loader.calls.Load())
}

func TestCorruptEntryIsTreatedAsMiss(t *testing.T) {
	t.Parallel()

	backend := NewMemoryBackend(time.Minute)
	c := New(Config{Backend: backend})
	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "k", []byte("not json"), time.Hour))

	loader := &countingLoader{value: payload{Ticker: "TSLA"}}
	got, err := Fetch(ctx, c, "k", time.Hour, loader.load)
	require.NoError(t, err)
	require.Equal(t, "TSLA", got.Ticker)
	require.Equal(t, int32(1), loader.calls.Load())
}

func TestTickerKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ticker:TSLA:", TickerPrefix(" tsla "))
	require.Equal(t, "ticker:TSLA:chart:1M", TickerKey("tsla", "chart", "1M"))
	require.Equal(t, "ticker:AAPL:posts", TickerKey("AAPL", "posts"))
}

func TestInvalidationDuringLoadIsNotCached(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	ctx := context.Background()
	key := TickerKey("X", "chart", "1M")
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan []byte, 1)
	go func() {
		raw, err := c.Query(ctx, key, time.Hour, func(context.Context) ([]byte, error) {
			close(started)
			<-release
			return []byte(`"old"`), nil
		})
		if err != nil {
			raw = nil
		}
		done <- raw
	}()

	<-started
	_, err := c.InvalidatePrefix(ctx, TickerPrefix("X"))
	require.NoError(t, err)
	close(release)
	require.Equal(t, `"old"`, string(<-done))

	raw, err := c.Query(ctx, key, time.Hour, func(context.Context) ([]byte, error) {
		return []byte(`"new"`), nil
	})
	require.NoError(t, err)
	require.Equal(t, `"new"`, string(raw))
}

func TestCanceledCallerDoesNotFailSharedLoad(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var loads atomic.Int32
	load := func(ctx context.Context) ([]byte, error) {
		if loads.Add(1) == 1 {
			close(started)
		}
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []byte(`"shared"`), nil
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Query(firstCtx, "k", time.Hour, load)
		firstErr <- err
	}()
	<-started

	second := make(chan []byte, 1)
	go func() {
		raw, err := c.Query(context.Background(), "k", time.Hour, load)
		if err != nil {
			raw = nil
		}
		second <- raw
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)
	require.Equal(t, `"shared"`, string(<-second))
}
