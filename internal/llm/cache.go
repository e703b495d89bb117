package llm

import (
	"sync"
	"time"
)

// cacheEntry is one cached classification with its expiry.
type cacheEntry struct {
	expiry         time.Time
	classification ThreadClassification
}

// classificationCache remembers recent classifications so re-syncing an
// unchanged thread does not cost another model call. Keys include the
// thread's last-message time, so a new reply naturally misses.
type classificationCache struct {
	entries map[string]cacheEntry
	stopCh  chan struct{}
	ttl     time.Duration
	mu      sync.RWMutex
}

// newClassificationCache creates a cache with the given TTL.
func newClassificationCache(ttl time.Duration) *classificationCache {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	cache := &classificationCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

// cacheKey builds the lookup key for one thread revision.
func cacheKey(threadID string, lastMessageAt time.Time) string {
	return threadID + "|" + lastMessageAt.UTC().Format(time.RFC3339)
}

// get returns a cached classification if present and unexpired.
func (c *classificationCache) get(key string) (ThreadClassification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.expiry) {
		return ThreadClassification{}, false
	}

	return entry.classification, true
}

// set stores a classification.
func (c *classificationCache) set(key string, tc ThreadClassification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		classification: tc,
		expiry:         time.Now().Add(c.ttl),
	}
}

// cleanup periodically drops expired entries.
func (c *classificationCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.expiry) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// size returns the number of entries in the cache.
func (c *classificationCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// clear removes all entries.
func (c *classificationCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Close stops the cleanup goroutine.
func (c *classificationCache) Close() {
	close(c.stopCh)
}
