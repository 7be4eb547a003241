package querycache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/blogpulse/internal/metrics"
)

// Clock supplies the current time used for freshness checks.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// Config wires a Cache.
type Config struct {
	Backend Backend
	Clock   Clock
	Logger  *zap.Logger
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Backend       string  `json:"backend"`
	Entries       int     `json:"entries"`
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Loads         uint64  `json:"loads"`
	BackendErrors uint64  `json:"backend_errors"`
	HitRatio      float64 `json:"hit_ratio"`
}

// Cache is a read-through cache with per-call TTLs. Concurrent misses on the
// same key share a single load. A load that overlaps any invalidation is
// returned to its callers but not stored.
type Cache struct {
	backend Backend
	clock   Clock
	logger  *zap.Logger
	group   singleflight.Group

	// gen advances on every invalidation; mu orders stores against it.
	mu  sync.RWMutex
	gen atomic.Uint64

	hits          atomic.Uint64
	misses        atomic.Uint64
	loads         atomic.Uint64
	backendErrors atomic.Uint64
}

type envelope struct {
	ExpiresAt time.Time       `json:"expires_at"`
	Value     json.RawMessage `json:"value"`
}

// New builds a Cache. A nil backend defaults to an in-process MemoryBackend.
func New(cfg Config) *Cache {
	if cfg.Backend == nil {
		cfg.Backend = NewMemoryBackend(0)
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Cache{
		backend: cfg.Backend,
		clock:   cfg.Clock,
		logger:  cfg.Logger.Named("querycache"),
	}
}

// Fetch returns the cached value for key, or runs load and caches its result
// for ttl. Load errors are returned untouched and never cached. Both paths
// decode from the same encoded form, so a hit is identical to the miss that
// populated it.
func Fetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var out T
	raw, err := c.Query(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		return encoded, nil
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

// Query is the untyped form of Fetch operating on encoded payloads.
func (c *Cache) Query(ctx context.Context, key string, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, error) {
	if raw, ok := c.lookup(ctx, key); ok {
		c.hits.Add(1)
		metrics.ObserveCacheLookup(true)
		return raw, nil
	}
	c.misses.Add(1)
	metrics.ObserveCacheLookup(false)

	gen := c.gen.Load()
	// Callers arriving after an invalidation start their own load.
	ch := c.group.DoChan(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		c.loads.Add(1)
		loadCtx := context.WithoutCancel(ctx)
		payload, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.storeIfCurrent(loadCtx, key, ttl, payload, gen)
		return payload, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("query %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (c *Cache) storeIfCurrent(ctx context.Context, key string, ttl time.Duration, payload []byte, gen uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.gen.Load() != gen {
		c.logger.Debug("skipping store of load that overlapped an invalidation", zap.String("key", key))
		return
	}
	c.store(ctx, key, ttl, payload)
}

// bump advances the generation while holding off in-flight stores, then runs
// the deletion.
func (c *Cache) bump(del func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen.Add(1)
	return del()
}

func (c *Cache) lookup(ctx context.Context, key string) ([]byte, bool) {
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.backendFailed("get", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		c.drop(ctx, key)
		return nil, false
	}
	if !c.clock.Now().Before(env.ExpiresAt) {
		c.drop(ctx, key)
		return nil, false
	}
	return env.Value, true
}

func (c *Cache) store(ctx context.Context, key string, ttl time.Duration, payload []byte) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(envelope{ExpiresAt: c.clock.Now().Add(ttl), Value: payload})
	if err != nil {
		c.logger.Warn("encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
		c.backendFailed("set", key, err)
	}
}

func (c *Cache) drop(ctx context.Context, key string) {
	if err := c.backend.Delete(ctx, key); err != nil {
		c.backendFailed("delete", key, err)
	}
}

func (c *Cache) backendFailed(op, key string, err error) {
	c.backendErrors.Add(1)
	metrics.ObserveCacheBackendError()
	c.logger.Warn("cache backend error; passing through",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
}

// Invalidate removes the given keys.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if err := c.bump(func() error { return c.backend.Delete(ctx, keys...) }); err != nil {
		c.backendFailed("delete", strings.Join(keys, ","), err)
		return err
	}
	return nil
}

// InvalidatePrefix removes every entry whose key starts with prefix.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	err := c.bump(func() error {
		var err error
		n, err = c.backend.DeletePrefix(ctx, prefix)
		return err
	})
	if err != nil {
		c.backendFailed("delete_prefix", prefix, err)
		return n, err
	}
	c.logger.Debug("invalidated cache prefix", zap.String("prefix", prefix), zap.Int("removed", n))
	return n, nil
}

// Clear drops every entry.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.bump(func() error { return c.backend.Clear(ctx) }); err != nil {
		c.backendFailed("clear", "*", err)
		return err
	}
	return nil
}

// Stats reports counters and current occupancy. Occupancy is -1 when the
// backend cannot be reached.
func (c *Cache) Stats(ctx context.Context) Stats {
	s := Stats{
		Backend:       backendName(c.backend),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Loads:         c.loads.Load(),
		BackendErrors: c.backendErrors.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRatio = float64(s.Hits) / float64(total)
	}
	n, err := c.backend.Len(ctx)
	if err != nil {
		c.backendFailed("len", "*", err)
		n = -1
	}
	s.Entries = n
	return s
}

func backendName(b Backend) string {
	switch b.(type) {
	case *MemoryBackend:
		return "memory"
	case *RedisBackend:
		return "redis"
	default:
		return fmt.Sprintf("%T", b)
	}
}
