package querycache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const defaultCleanupInterval = 10 * time.Minute

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps entries in a process-local go-cache.
type MemoryBackend struct {
	items *gocache.Cache
}

// NewMemoryBackend builds an in-process backend. cleanup controls how often
// expired items are purged.
func NewMemoryBackend(cleanup time.Duration) *MemoryBackend {
	if cleanup <= 0 {
		cleanup = defaultCleanupInterval
	}
	return &MemoryBackend{items: gocache.New(gocache.NoExpiration, cleanup)}
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	raw, ok := v.([]byte)
	return raw, ok, nil
}

// Set implements Backend.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.items.Set(key, value, ttl)
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.items.Delete(key)
	}
	return nil
}

// DeletePrefix implements Backend.
func (m *MemoryBackend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	removed := 0
	for key := range m.items.Items() {
		if strings.HasPrefix(key, prefix) {
			m.items.Delete(key)
			removed++
		}
	}
	return removed, nil
}

// Clear implements Backend.
func (m *MemoryBackend) Clear(context.Context) error {
	m.items.Flush()
	return nil
}

// Len implements Backend.
func (m *MemoryBackend) Len(context.Context) (int, error) {
	return m.items.ItemCount(), nil
}
