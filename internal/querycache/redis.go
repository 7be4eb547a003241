package querycache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes every key the Redis backend writes.
const DefaultNamespace = "blogpulse:cache:"

const scanBatch = 200

var _ Backend = (*RedisBackend)(nil)

// RedisOptions configures NewRedisBackend.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
	// DialTimeout bounds connection setup; zero keeps the client default.
	DialTimeout time.Duration
}

// RedisBackend stores entries in Redis under a namespace so several
// processes share one cache.
type RedisBackend struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisBackend builds a client from opts. It does not dial.
func NewRedisBackend(opts RedisOptions) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	return NewRedisBackendWithClient(client, opts.Namespace)
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client redis.UniversalClient, namespace string) *RedisBackend {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &RedisBackend{client: client, namespace: namespace}
}

// Ping checks connectivity.
func (r *RedisBackend) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrBackend, err)
	}
	return nil
}

// Close releases the client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

// Get implements Backend.
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, r.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %w", ErrBackend, key, err)
	}
	return raw, true, nil
}

// Set implements Backend.
func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.namespace+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrBackend, key, err)
	}
	return nil
}

// Delete implements Backend.
func (r *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = r.namespace + key
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: del: %w", ErrBackend, err)
	}
	return nil
}

// DeletePrefix implements Backend using SCAN so large keyspaces are not
// blocked by KEYS.
func (r *RedisBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	removed := 0
	err := r.scan(ctx, prefix, func(keys []string) error {
		n, err := r.client.Del(ctx, keys...).Result()
		if err != nil {
			return err
		}
		removed += int(n)
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("%w: delete prefix %q: %w", ErrBackend, prefix, err)
	}
	return removed, nil
}

// Clear implements Backend; only keys in the namespace are removed.
func (r *RedisBackend) Clear(ctx context.Context) error {
	_, err := r.DeletePrefix(ctx, "")
	return err
}

// Len implements Backend.
func (r *RedisBackend) Len(ctx context.Context) (int, error) {
	total := 0
	err := r.scan(ctx, "", func(keys []string) error {
		total += len(keys)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count: %w", ErrBackend, err)
	}
	return total, nil
}

func (r *RedisBackend) scan(ctx context.Context, prefix string, fn func([]string) error) error {
	var cursor uint64
	match := r.namespace + prefix + "*"
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
