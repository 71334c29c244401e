package cache

import (
	"sync"
	"time"
)

// TTLCache is an in-memory cache with per-entry expiration, LRU
// eviction at capacity, and a background sweeper for expired entries.
// Expiry is also enforced on read, so a value past its TTL is never
// returned even if the sweeper has not run yet.
type TTLCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	maxEntries int
	stats      cacheStats
	now        func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

type cacheEntry struct {
	value    interface{}
	expires  time.Time
	accessed time.Time
	hits     int64
}

type cacheStats struct {
	hits        int64
	misses      int64
	evictions   int64
	cleanupRuns int64
}

// Stats is a point-in-time snapshot of cache behavior.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Entries   int     `json:"entries"`
	HitRatio  float64 `json:"hit_ratio"`
}

const cleanupInterval = 1 * time.Minute

// NewTTLCache creates a cache bounded at maxEntries and starts the
// cleanup goroutine. Callers own the lifecycle and must Stop it.
func NewTTLCache(maxEntries int) *TTLCache {
	c := &TTLCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}

	go c.cleanup()

	return c
}

// Get retrieves a value if present and not expired. Expired entries are
// deleted on the spot and count as misses.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.stats.misses++
		return nil, false
	}

	if c.now().After(entry.expires) {
		delete(c.entries, key)
		c.stats.misses++
		return nil, false
	}

	entry.accessed = c.now()
	entry.hits++
	c.stats.hits++

	return entry.value, true
}

// Set stores a value with its TTL, evicting the least recently used
// entry when the cache is full. A non-positive TTL stores nothing.
func (c *TTLCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}

	now := c.now()
	c.entries[key] = &cacheEntry{
		value:    value,
		expires:  now.Add(ttl),
		accessed: now,
	}
}

// Delete removes a single key.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the current entry count, expired entries included until
// the next sweep touches them.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache performance counters.
func (c *TTLCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.stats.hits + c.stats.misses
	ratio := 0.0
	if total > 0 {
		ratio = float64(c.stats.hits) / float64(total)
	}

	return Stats{
		Hits:      c.stats.hits,
		Misses:    c.stats.misses,
		Evictions: c.stats.evictions,
		Entries:   len(c.entries),
		HitRatio:  ratio,
	}
}

// Clear removes all entries and resets counters.
func (c *TTLCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.stats = cacheStats{}
}

// Stop shuts down the cleanup goroutine. Safe to call more than once.
func (c *TTLCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// evictLRU removes the least recently accessed entry. Caller must hold
// the lock.
func (c *TTLCache) evictLRU() {
	if len(c.entries) == 0 {
		return
	}

	var oldestKey string
	first := true
	var oldestTime time.Time

	for key, entry := range c.entries {
		if first || entry.accessed.Before(oldestTime) {
			oldestTime = entry.accessed
			oldestKey = key
			first = false
		}
	}

	delete(c.entries, oldestKey)
	c.stats.evictions++
}

func (c *TTLCache) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *TTLCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, key)
		}
	}
	c.stats.cleanupRuns++
}
