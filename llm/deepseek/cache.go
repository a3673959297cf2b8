package deepseek

import (
	"sync"
	"time"

	"github.com/samber/lo"
)

// CacheEntry is a memoized response and the instant it was stored.
type CacheEntry struct {
	Response  Response
	Timestamp time.Time
}

// Cache is a bounded response cache. Entries older than the TTL are treated
// as absent on read but are only removed by capacity pressure.
type Cache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a cache holding at most maxSize entries for ttl each.
func NewCache(maxSize int, ttl time.Duration, now func() time.Time) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultCacheMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[string]CacheEntry, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     now,
	}
}

// Get returns the cached response for key if it exists and is younger than the TTL.
func (c *Cache) Get(key string) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Response{}, false
	}
	if c.now().Sub(entry.Timestamp) >= c.ttl {
		return Response{}, false
	}
	return entry.Response, true
}

// Put stores resp under key. When the cache is full, exactly one entry, the
// one with the oldest timestamp, is evicted first.
func (c *Cache) Put(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = CacheEntry{Response: resp, Timestamp: c.now()}
}

// Len returns the number of stored entries, stale ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]CacheEntry, c.maxSize)
}

func (c *Cache) evictOldestLocked() {
	if len(c.entries) == 0 {
		return
	}
	oldest := lo.MinBy(lo.Keys(c.entries), func(a, b string) bool {
		return c.entries[a].Timestamp.Before(c.entries[b].Timestamp)
	})
	delete(c.entries, oldest)
}
