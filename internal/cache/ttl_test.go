package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the cache's notion of now without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(maxEntries int) (*TTLCache, *fakeClock) {
	c := NewTTLCache(maxEntries)
	clock := newFakeClock()
	c.now = clock.Now
	return c, clock
}

func TestTTLCacheSetGet(t *testing.T) {
	c, _ := newTestCache(10)
	defer c.Stop()

	c.Set("quote:WALCL", 7500.0, time.Minute)

	got, ok := c.Get("quote:WALCL")
	require.True(t, ok)
	assert.Equal(t, 7500.0, got)

	_, ok = c.Get("quote:RRP")
	assert.False(t, ok)
}

func TestTTLCacheExpiryEnforcedOnRead(t *testing.T) {
	c, clock := newTestCache(10)
	defer c.Stop()

	c.Set("k", "v", 30*time.Second)

	clock.Advance(29 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok, "entry within TTL must be served")

	clock.Advance(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry past TTL must never be served")

	// The expired entry was dropped by the read itself.
	assert.Equal(t, 0, c.Len())
}

func TestTTLCacheOverwriteResetsExpiry(t *testing.T) {
	c, clock := newTestCache(10)
	defer c.Stop()

	c.Set("k", 1, 10*time.Second)
	clock.Advance(8 * time.Second)
	c.Set("k", 2, 10*time.Second)
	clock.Advance(8 * time.Second)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestTTLCacheNonPositiveTTLStoresNothing(t *testing.T) {
	c, _ := newTestCache(10)
	defer c.Stop()

	c.Set("k", "v", 0)
	c.Set("k2", "v", -time.Second)

	assert.Equal(t, 0, c.Len())
}

func TestTTLCacheEvictsLRUAtCapacity(t *testing.T) {
	c, clock := newTestCache(3)
	defer c.Stop()

	c.Set("a", 1, time.Hour)
	clock.Advance(time.Second)
	c.Set("b", 2, time.Hour)
	clock.Advance(time.Second)
	c.Set("c", 3, time.Hour)
	clock.Advance(time.Second)

	// Touch "a" so "b" becomes the least recently used.
	_, ok := c.Get("a")
	require.True(t, ok)
	clock.Advance(time.Second)

	c.Set("d", 4, time.Hour)

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok := c.Get(key)
		assert.True(t, ok, "key %s should survive eviction", key)
	}
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestTTLCacheSweepRemovesExpired(t *testing.T) {
	c, clock := newTestCache(10)
	defer c.Stop()

	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)

	clock.Advance(time.Minute)
	c.removeExpired()

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("long")
	assert.True(t, ok)
}

func TestTTLCacheStats(t *testing.T) {
	c, _ := newTestCache(10)
	defer c.Stop()

	c.Set("k", 1, time.Minute)
	c.Get("k")
	c.Get("k")
	c.Get("missing")

	s := c.Stats()
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, 1, s.Entries)
	assert.InDelta(t, 0.667, s.HitRatio, 0.001)
}

func TestTTLCacheClear(t *testing.T) {
	c, _ := newTestCache(10)
	defer c.Stop()

	c.Set("k", 1, time.Minute)
	c.Get("k")
	c.Clear()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Stats().Hits)
}

func TestTTLCacheStopIsIdempotent(t *testing.T) {
	c, _ := newTestCache(10)
	c.Stop()
	c.Stop()
}

func TestTTLCacheConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(128)
	defer c.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", j%32)
				c.Set(key, n, time.Minute)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 32)
}
