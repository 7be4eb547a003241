package querycache

import (
	"context"
	"errors"
	"time"
)

// ErrBackend wraps failures reported by a Backend.
var ErrBackend = errors.New("cache backend failure")

// Backend stores opaque encoded entries. ttl is a storage hint used for
// eviction; freshness is decided by the Cache.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePrefix removes every key starting with prefix and reports how many
	// were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}
