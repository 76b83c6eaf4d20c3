package cache

import (
	"time"

	"github.com/c360/lookupkit/metric"
)

// Option configures a cache.
type Option[V any] func(*cacheOptions[V])

// Statistics are always kept; Prometheus export is opt-in.
type cacheOptions[V any] struct {
	registry *metric.MetricsRegistry
	// name labels the exported series, usually the lookup id.
	name    string
	onEvict EvictCallback[V]
	clock   Clock
}

// WithMetrics exports the cache statistics on registry under name. A nil
// registry or an empty name leaves export off.
func WithMetrics[V any](registry *metric.MetricsRegistry, name string) Option[V] {
	return func(o *cacheOptions[V]) {
		if registry != nil && name != "" {
			o.registry, o.name = registry, name
		}
	}
}

// WithEvictionCallback is called for every entry dropped by a size or
// duration bound.
func WithEvictionCallback[V any](fn EvictCallback[V]) Option[V] {
	return func(o *cacheOptions[V]) { o.onEvict = fn }
}

// WithClock replaces time.Now as the source of access timestamps.
func WithClock[V any](clock Clock) Option[V] {
	return func(o *cacheOptions[V]) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	o := &cacheOptions[V]{clock: time.Now}
	for _, opt := range options {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
