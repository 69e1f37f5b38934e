package rules

import (
	"errors"
	"testing"
	"time"
)

// TestInMemoryPatternCache verifies hits, misses and invalidation
func TestInMemoryPatternCache(t *testing.T) {
	cache := NewInMemoryPatternCache(DefaultCacheConfig())

	key := PatternKey{Source: `\d+`}
	if _, ok := cache.Get(key); ok {
		t.Fatal("Get() on empty cache should miss")
	}

	re, err := CompilePattern(key.Source, false, 0)
	if err != nil {
		t.Fatalf("CompilePattern() failed: %v", err)
	}
	cache.Set(key, CompiledPattern{Regexp: re})

	got, ok := cache.Get(key)
	if !ok || got.Regexp != re {
		t.Error("Get() should return the stored pattern")
	}

	if _, ok := cache.Get(PatternKey{Source: `\d+`, CaseSensitive: true}); ok {
		t.Error("case sensitivity must be part of the key")
	}

	cache.Invalidate()
	if cache.Len() != 0 {
		t.Errorf("Len() after Invalidate() = %d, want 0", cache.Len())
	}
}

// TestInMemoryPatternCache_CachesErrors verifies failed compilations are remembered
func TestInMemoryPatternCache_CachesErrors(t *testing.T) {
	cache := NewInMemoryPatternCache(DefaultCacheConfig())
	compileErr := errors.New("boom")

	cache.Set(PatternKey{Source: "("}, CompiledPattern{Err: compileErr})

	got, ok := cache.Get(PatternKey{Source: "("})
	if !ok || !errors.Is(got.Err, compileErr) {
		t.Errorf("Get() = %+v, %v; want cached error", got, ok)
	}
}

// TestInMemoryPatternCache_TTL verifies expired entries miss
func TestInMemoryPatternCache_TTL(t *testing.T) {
	cache := NewInMemoryPatternCache(CacheConfig{TTL: 10 * time.Millisecond})
	key := PatternKey{Source: "a"}

	cache.Set(key, CompiledPattern{})
	if _, ok := cache.Get(key); !ok {
		t.Fatal("Get() should hit before expiry")
	}

	time.Sleep(30 * time.Millisecond)

	if _, ok := cache.Get(key); ok {
		t.Error("Get() should miss after expiry")
	}
	if cache.Len() != 0 {
		t.Errorf("Len() = %d, expired entries should not count", cache.Len())
	}
}

// TestInMemoryPatternCache_MaxEntries verifies the oldest entry is evicted when full
func TestInMemoryPatternCache_MaxEntries(t *testing.T) {
	cache := NewInMemoryPatternCache(CacheConfig{MaxEntries: 2})

	cache.Set(PatternKey{Source: "a"}, CompiledPattern{})
	time.Sleep(time.Millisecond)
	cache.Set(PatternKey{Source: "b"}, CompiledPattern{})
	time.Sleep(time.Millisecond)
	cache.Set(PatternKey{Source: "c"}, CompiledPattern{})

	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}
	if _, ok := cache.Get(PatternKey{Source: "a"}); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := cache.Get(PatternKey{Source: "c"}); !ok {
		t.Error("newest entry should be present")
	}

	// Overwriting an existing key does not evict
	cache.Set(PatternKey{Source: "c"}, CompiledPattern{})
	if _, ok := cache.Get(PatternKey{Source: "b"}); !ok {
		t.Error("overwrite should not evict")
	}
}
