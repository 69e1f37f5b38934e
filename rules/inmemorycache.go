package rules

import (
	"sync"
	"time"
)

type cacheEntry struct {
	compiled CompiledPattern
	cachedAt time.Time
}

// InMemoryPatternCache is a simple in-memory implementation of PatternCache
// Thread-safe for concurrent access
type InMemoryPatternCache struct {
	entries map[PatternKey]cacheEntry
	config  CacheConfig
	mu      sync.RWMutex
}

// NewInMemoryPatternCache creates a new in-memory pattern cache
func NewInMemoryPatternCache(config CacheConfig) *InMemoryPatternCache {
	return &InMemoryPatternCache{
		entries: make(map[PatternKey]cacheEntry),
		config:  config,
	}
}

// Get retrieves a cached compilation
// Returns ok=false if the entry is missing or expired
func (c *InMemoryPatternCache) Get(key PatternKey) (CompiledPattern, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return CompiledPattern{}, false
	}

	if c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL {
		return CompiledPattern{}, false
	}

	return entry.compiled, true
}

// Set stores a compilation, evicting the oldest entry when the cache is full
func (c *InMemoryPatternCache) Set(key PatternKey, compiled CompiledPattern) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.config.MaxEntries > 0 && len(c.entries) >= c.config.MaxEntries {
		c.evictOldest()
	}

	c.entries[key] = cacheEntry{compiled: compiled, cachedAt: time.Now()}
}

// evictOldest drops the entry with the earliest cachedAt. Caller holds the write lock.
func (c *InMemoryPatternCache) evictOldest() {
	var (
		oldestKey PatternKey
		oldest    time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.cachedAt.Before(oldest) {
			oldestKey, oldest, found = k, e.cachedAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

// Invalidate clears the cache
func (c *InMemoryPatternCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[PatternKey]cacheEntry)
}

// Len returns the number of entries that have not expired
func (c *InMemoryPatternCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.config.TTL <= 0 {
		return len(c.entries)
	}

	n := 0
	for _, e := range c.entries {
		if time.Since(e.cachedAt) <= c.config.TTL {
			n++
		}
	}
	return n
}
