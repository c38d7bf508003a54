package warden

import (
	"context"
	"sync"
)

// Cache is the interface backing per-identity ability memoization. The
// default implementation keeps entries in process memory for the process
// lifetime; implement this interface to plug in another backend or an
// eviction policy.
type Cache interface {
	// Get retrieves a cached value. The second return value reports
	// whether the key was present.
	Get(ctx context.Context, key string) (any, bool)

	// Set stores a value under the key, replacing any previous value.
	Set(ctx context.Context, key string, value any)

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string)

	// Clear removes all values from the cache.
	Clear(ctx context.Context)
}

// MemoryCache is a concurrency-safe in-memory Cache. Entries are never
// evicted; staleness is bounded by process lifetime unless Clear or
// Delete is called.
type MemoryCache struct {
	entries sync.Map
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

// Get retrieves a cached value.
func (c *MemoryCache) Get(_ context.Context, key string) (any, bool) {
	return c.entries.Load(key)
}

// Set stores a value under the key.
func (c *MemoryCache) Set(_ context.Context, key string, value any) {
	c.entries.Store(key, value)
}

// Delete removes a value from the cache.
func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.entries.Delete(key)
}

// Clear removes all values from the cache.
func (c *MemoryCache) Clear(_ context.Context) {
	c.entries.Range(func(key, _ any) bool {
		c.entries.Delete(key)
		return true
	})
}

var _ Cache = (*MemoryCache)(nil)
