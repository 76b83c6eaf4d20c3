package remote

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/metric"
	"github.com/c360/lookupkit/pkg/cache"
)

// Fetcher answers one key. found is false when the remote system has no
// value for key; that answer is cached like any other.
type Fetcher func(ctx context.Context, key string) (value any, found bool, err error)

// result is what the cache keeps per key.
type result struct {
	value any
	found bool
}

// Option configures a Lookup.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	clock    cache.Clock
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics exports the result cache counters under the lookup id.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) { o.registry = registry }
}

// WithClock replaces the clock the result cache ages entries with.
func WithClock(clock cache.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// Lookup is a per-key remote lookup behind a result cache.
type Lookup struct {
	id     string
	fetch  Fetcher
	cache  cache.Cache[result]
	group  singleflight.Group
	logger *slog.Logger
}

// New creates a remote lookup. A disabled cache config makes every Get a
// round trip.
func New(id string, fetch Fetcher, cfg cache.Config, opts ...Option) (*Lookup, error) {
	if id == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: lookup id", errors.ErrMissingConfig), "RemoteLookup", "New", "validate config")
	}
	if fetch == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: fetcher for %s", errors.ErrMissingConfig, id), "RemoteLookup", "New", "validate config")
	}

	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	var cacheOpts []cache.Option[result]
	if o.registry != nil {
		cacheOpts = append(cacheOpts, cache.WithMetrics[result](o.registry, metricPrefix(id)))
	}
	if o.clock != nil {
		cacheOpts = append(cacheOpts, cache.WithClock[result](o.clock))
	}
	c, err := cache.NewFromConfig(cfg, cacheOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "RemoteLookup", "New", "create result cache")
	}

	return &Lookup{
		id:     id,
		fetch:  fetch,
		cache:  c,
		logger: o.logger.With("component", "lookup", "lookup", id),
	}, nil
}

func (l *Lookup) ID() string { return l.id }

// Version is always zero: there is no local data set to version.
func (l *Lookup) Version() uint64 { return 0 }

// Serialize reports ErrNotSupported. Remote lookups are not replicated.
func (l *Lookup) Serialize() ([]byte, error) {
	return nil, errors.WrapInvalid(errors.ErrNotSupported, "RemoteLookup", "Serialize", "serialize "+l.id)
}

// Get returns the value for key. A cached answer, positive or negative, is
// returned without a round trip. Concurrent misses for the same key share
// one fetch. Fetch errors are returned and not cached.
func (l *Lookup) Get(ctx context.Context, key string) (any, bool, error) {
	if r, ok := l.cache.Get(key); ok {
		return r.value, r.found, nil
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		value, found, err := l.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		r := result{value: value, found: found}
		if _, err := l.cache.Set(key, r); err != nil {
			l.logger.Debug("Result not cached", "key", key, "error", err)
		}
		return r, nil
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "RemoteLookup", "Get", "fetch "+key)
	}
	r := v.(result)
	return r.value, r.found, nil
}

// Invalidate drops the cached answer for key.
func (l *Lookup) Invalidate(key string) {
	_, _ = l.cache.Delete(key)
}

// Purge drops every cached answer.
func (l *Lookup) Purge() error {
	return l.cache.Clear()
}

// Stats returns the result cache statistics, or nil when caching is off.
func (l *Lookup) Stats() *cache.Statistics {
	return l.cache.Stats()
}

// Close releases the result cache.
func (l *Lookup) Close() error {
	return l.cache.Close()
}

func metricPrefix(id string) string {
	return "lookup_" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, id)
}
