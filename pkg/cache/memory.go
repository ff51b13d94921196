package cache

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMemorySize = 10000

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process LRU. The LRU's own TTL bounds every entry;
// shorter per-entry TTLs are enforced on read.
type MemoryCache struct {
	cache *lru.LRU[string, memoryEntry]
	now   func() time.Time
}

// NewMemoryCache creates an LRU holding at most size entries, none older than maxTTL
func NewMemoryCache(size int, maxTTL time.Duration) *MemoryCache {
	if size <= 0 {
		size = defaultMemorySize
	}
	return &MemoryCache{
		cache: lru.NewLRU[string, memoryEntry](size, nil, maxTTL),
		now:   time.Now,
	}
}

// Get returns the cached value, or nil on a miss
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	entry, ok := c.cache.Get(key)
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		c.cache.Remove(key)
		return nil, nil
	}
	return entry.value, nil
}

// Set stores a copy of value
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.cache.Add(key, entry)
	return nil
}

// DeleteByPrefix removes every key starting with prefix
func (c *MemoryCache) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	deleted := 0
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, prefix) && c.cache.Remove(key) {
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of live entries
func (c *MemoryCache) Len() int {
	return c.cache.Len()
}

// Ping always succeeds
func (c *MemoryCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry
func (c *MemoryCache) Close() error {
	c.cache.Purge()
	return nil
}
