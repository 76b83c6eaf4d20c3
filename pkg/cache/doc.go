// Package cache memoizes remote per-key query results for lookups backed by
// SQL or other request/response sources, so repeated keys on the hot path do
// not cost one network round trip each.
//
// # Eviction
//
// Bounded keeps entries in a recency list ordered by last access. Set inserts
// or overwrites an entry, then
//
//  1. evicts the oldest-accessed entries while Size() > MaxSize, then
//  2. evicts entries whose last access is older than MaxDuration.
//
// Get refreshes both the entry's timestamp and its recency. A stale entry
// found by Get is evicted and reported as a miss. Time comes from the clock
// passed with WithClock, so tests can control it:
//
//	c, err := cache.NewBounded[string](1000, 5*time.Minute,
//		cache.WithClock[string](clock.Now),
//		cache.WithMetrics[string](registry, "geoip_lookup"),
//	)
//	if err != nil {
//		return err
//	}
//	v, err := cache.Lookup[string](c, key)
//	if errors.Is(err, lkerrors.ErrNotCached) {
//		// fetch and populate
//	}
//
// # Concurrency
//
// All implementations are safe for concurrent use. Eviction callbacks run
// outside the cache lock.
package cache
