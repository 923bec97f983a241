// Package playback mixes remotely fetched clips into the host output and
// owns the bounded decoded-PCM cache behind the player.
package playback

import (
	"log/slog"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/sidechain/engine/internal/eventlog"
	"github.com/sidechain/engine/internal/stream"
	"github.com/sidechain/engine/internal/types"
)

// maxCacheEntries bounds the LRU list length; the real limit is the byte
// budget.
const maxCacheEntries = 256

// Cache is a byte-budgeted LRU of decoded clips keyed by source URL.
// Mutated only by background threads; the audio thread never touches it and
// only ever holds a borrowed pointer to the pinned clip. Clips are immutable
// once cached.
type Cache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, *stream.Clip]
	budget   int64
	bytes    int64
	pinned   string
	poisoned map[string]error
	events   *eventlog.Logger
}

// NewCache creates a cache with the given byte budget.
func NewCache(budget int64, events *eventlog.Logger) *Cache {
	c := &Cache{
		budget:   budget,
		poisoned: make(map[string]error),
		events:   events,
	}
	// Error only fires for a non-positive size.
	c.lru, _ = simplelru.NewLRU(maxCacheEntries, c.onEvict)
	return c
}

// onEvict runs under c.mu from Remove/Add paths.
func (c *Cache) onEvict(url string, clip *stream.Clip) {
	c.bytes -= clip.Bytes()
	slog.Debug("cache entry evicted", "url", url, "bytes", clip.Bytes(), "resident", c.bytes)
	c.events.Log(eventlog.CacheEvicted, "", &eventlog.PlaybackDetails{
		URL:        url,
		Bytes:      clip.Bytes(),
		CacheBytes: c.bytes,
	})
}

// Get returns the cached clip for url, refreshing its recency.
func (c *Cache) Get(url string) (*stream.Clip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(url)
}

// Put inserts a decoded clip and evicts least-recently-used entries until
// the byte budget is satisfied. A clip that alone exceeds the budget is
// admitted anyway and reported through a CapacityError; the caller decides
// whether that is worth a warning.
func (c *Cache) Put(url string, clip *stream.Clip) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(url); ok {
		c.bytes -= old.Bytes()
		c.lru.Remove(url)
	}

	// At the entry-count cap Add evicts the oldest entry itself, bypassing
	// the pin check; bump a pinned oldest to most-recent first.
	if c.lru.Len() >= maxCacheEntries && c.pinned != "" {
		if oldest, _, ok := c.lru.GetOldest(); ok && oldest == c.pinned {
			c.lru.Get(oldest)
		}
	}

	c.lru.Add(url, clip)
	c.bytes += clip.Bytes()
	c.evictLocked()

	if clip.Bytes() > c.budget {
		c.events.Log(eventlog.CacheOverBudget, "", &eventlog.PlaybackDetails{
			URL:        url,
			Bytes:      clip.Bytes(),
			CacheBytes: c.bytes,
		})
		return &types.CapacityError{URL: url, Bytes: clip.Bytes(), Budget: c.budget}
	}
	return nil
}

// evictLocked removes LRU entries until resident bytes fit the budget,
// never evicting the pinned entry. The last remaining entry is kept even
// over budget so an oversize clip can still play.
func (c *Cache) evictLocked() {
	for c.bytes > c.budget && c.lru.Len() > 1 {
		url, _, ok := c.lru.GetOldest()
		if !ok {
			return
		}
		if url == c.pinned {
			// Bump the pinned entry to most-recent and keep going.
			c.lru.Get(url)
			continue
		}
		c.lru.Remove(url)
	}
}

// Pin protects the playing entry from eviction. An empty url unpins.
func (c *Cache) Pin(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned = url
	c.evictLocked()
}

// Evict removes a specific entry.
func (c *Cache) Evict(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(url)
}

// Clear removes all entries and poison marks (logout, low-memory signal).
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.poisoned = make(map[string]error)
	slog.Info("playback cache cleared")
}

// Poison marks a URL whose fetch or decode failed so it is not retried
// automatically.
func (c *Cache) Poison(url string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.poisoned[url] = err
}

// Poisoned returns the recorded failure for url, if any.
func (c *Cache) Poisoned(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poisoned[url]
}

// ClearPoison forgets a failure so the URL can be retried manually.
func (c *Cache) ClearPoison(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.poisoned, url)
}

// Bytes returns the resident decoded size.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Len returns the number of cached clips.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
