package rules

import (
	"time"

	"github.com/dlclark/regexp2"
)

// PatternKey identifies a compiled pattern. The global flag is not part of the key:
// it only changes how many matches are replaced, not how the pattern compiles.
type PatternKey struct {
	Source        string
	CaseSensitive bool
}

// CompiledPattern is a cached compilation outcome. Err is kept so an invalid
// pattern is not recompiled on every run while the user is still typing it.
type CompiledPattern struct {
	Regexp *regexp2.Regexp
	Err    error
}

// PatternCache provides an abstraction for caching compiled patterns
// This allows swapping the in-memory map for a bounded or shared implementation
type PatternCache interface {
	// Get retrieves a compiled pattern, ok is false on miss or expiry
	Get(key PatternKey) (CompiledPattern, bool)

	// Set stores a compilation outcome
	Set(key PatternKey, compiled CompiledPattern)

	// Invalidate clears the cache
	Invalidate()

	// Len returns the number of live entries
	Len() int
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration
	TTL time.Duration

	// MaxEntries bounds the cache; the oldest entry is evicted when full.
	// Set to 0 for no bound.
	MaxEntries int
}

// DefaultCacheConfig returns sensible defaults for pattern caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        0,
		MaxEntries: 1024,
	}
}
