// Package cache provides the bounded result caches that remote-query lookups
// put in front of per-key network round trips.
//
// Two implementations share the Cache interface:
//   - LRU: Least Recently Used eviction based on entry count
//   - Bounded: LRU by count combined with a maximum age since last access
//
// Both are thread-safe with always-on statistics and optional Prometheus
// metrics via functional options.
package cache

import (
	"fmt"
	"time"

	"github.com/c360/lookupkit/errors"
)

// Cache represents a generic cache interface that all cache implementations must satisfy.
// The cache is parameterized by value type V for type safety.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found, zero value and false otherwise.
	// A hit refreshes the entry's recency.
	Get(key string) (V, bool)

	// Set stores a value with the given key. Returns true if a new entry was created, false if updated.
	// Returns an error if the operation fails (e.g., invalid key).
	Set(key string, value V) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed and was deleted.
	Delete(key string) (bool, error)

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the current number of entries in the cache.
	Size() int

	// Keys returns all keys currently in the cache, most recently used first.
	Keys() []string

	// Stats returns cache statistics.
	Stats() *Statistics

	// Close releases any resources held by the cache.
	Close() error
}

// EvictCallback is called when an entry is evicted from the cache.
// It receives the key and value of the evicted entry.
type EvictCallback[V any] func(key string, value V)

// Clock returns the current time. Caches take one so tests can move time
// deterministically.
type Clock func() time.Time

// Lookup returns the cached value for key, or an error wrapping
// errors.ErrNotCached so callers can tell a miss apart from a cached zero
// value and fetch-and-populate.
func Lookup[V any](c Cache[V], key string) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	var zero V
	return zero, fmt.Errorf("cache lookup %q: %w", key, errors.ErrNotCached)
}

// validateKey validates a cache key for basic requirements.
// Returns a classified error if the key is invalid.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
