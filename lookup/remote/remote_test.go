package remote

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/metric"
	"github.com/c360/lookupkit/pkg/cache"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingFetcher struct {
	calls atomic.Int32
	data  map[string]any
	err   error
}

func (f *countingFetcher) fetch(_ context.Context, key string) (any, bool, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, false, f.err
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func cacheConfig(size int, ttl time.Duration) cache.Config {
	return cache.Config{Enabled: true, MaxSize: size, MaxDuration: ttl}
}

func TestNew_Validation(t *testing.T) {
	f := &countingFetcher{}
	_, err := New("", f.fetch, cacheConfig(10, 0))
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	_, err = New("asn", nil, cacheConfig(10, 0))
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	_, err = New("asn", f.fetch, cache.Config{Enabled: true})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestGet_CachesPositiveAndNegativeAnswers(t *testing.T) {
	f := &countingFetcher{data: map[string]any{"192.0.2.1": "DE"}}
	l, err := New("geo", f.fetch, cacheConfig(10, 0), WithLogger(testLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, found, err := l.Get(ctx, "192.0.2.1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "DE", v)
	}
	for i := 0; i < 3; i++ {
		v, found, err := l.Get(ctx, "198.51.100.7")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, v)
	}
	assert.Equal(t, int32(2), f.calls.Load())

	stats := l.Stats()
	require.NotNil(t, stats)
	assert.Equal(t, int64(4), stats.Hits())
	assert.Equal(t, int64(2), stats.Misses())
}

func TestGet_ErrorsAreNotCached(t *testing.T) {
	boom := stderrors.New("connection reset")
	f := &countingFetcher{err: boom, data: map[string]any{"k": 1}}
	l, err := New("geo", f.fetch, cacheConfig(10, 0), WithLogger(testLogger()))
	require.NoError(t, err)

	_, _, err = l.Get(context.Background(), "k")
	assert.ErrorIs(t, err, boom)

	f.err = nil
	v, found, err := l.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, v)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestGet_ExpiresAfterMaxDuration(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	f := &countingFetcher{data: map[string]any{"k": "v"}}
	l, err := New("geo", f.fetch, cacheConfig(0, time.Minute), WithClock(clock), WithLogger(testLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = l.Get(ctx, "k")
	require.NoError(t, err)
	advance(30 * time.Second)
	_, _, err = l.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())

	// The hit above refreshed the entry, so it lives a minute from there.
	advance(45 * time.Second)
	_, _, err = l.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())

	advance(2 * time.Minute)
	_, _, err = l.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestGet_EvictsLeastRecentlyUsed(t *testing.T) {
	f := &countingFetcher{data: map[string]any{"a": 1, "b": 2, "c": 3}}
	l, err := New("geo", f.fetch, cacheConfig(2, 0), WithLogger(testLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "a", "c"} {
		_, _, err := l.Get(ctx, k)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), f.calls.Load())

	// b was least recently used when c arrived.
	_, _, err = l.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int32(3), f.calls.Load())
	_, _, err = l.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int32(4), f.calls.Load())
}

func TestGet_CollapsesConcurrentMisses(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(_ context.Context, key string) (any, bool, error) {
		calls.Add(1)
		<-release
		return key + "!", true, nil
	}
	l, err := New("geo", fetch, cacheConfig(10, 0), WithLogger(testLogger()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]any, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := l.Get(context.Background(), "k")
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(2))
	for _, v := range results {
		assert.Equal(t, "k!", v)
	}
}

func TestInvalidateAndPurge(t *testing.T) {
	f := &countingFetcher{data: map[string]any{"a": 1, "b": 2}}
	l, err := New("geo", f.fetch, cacheConfig(10, 0), WithLogger(testLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	_, _, _ = l.Get(ctx, "a")
	_, _, _ = l.Get(ctx, "b")
	l.Invalidate("a")
	_, _, _ = l.Get(ctx, "a")
	_, _, _ = l.Get(ctx, "b")
	assert.Equal(t, int32(3), f.calls.Load())

	require.NoError(t, l.Purge())
	_, _, _ = l.Get(ctx, "b")
	assert.Equal(t, int32(4), f.calls.Load())
	require.NoError(t, l.Close())
}

func TestDisabledCacheAlwaysFetches(t *testing.T) {
	f := &countingFetcher{data: map[string]any{"a": 1}}
	l, err := New("geo", f.fetch, cache.Config{}, WithLogger(testLogger()))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, found, err := l.Get(context.Background(), "a")
		require.NoError(t, err)
		assert.True(t, found)
	}
	assert.Equal(t, int32(3), f.calls.Load())
	assert.Nil(t, l.Stats())
}

func TestSerializeNotSupported(t *testing.T) {
	f := &countingFetcher{}
	l, err := New("geo", f.fetch, cacheConfig(10, 0),
		WithLogger(testLogger()), WithMetrics(metric.NewMetricsRegistry()))
	require.NoError(t, err)

	assert.Equal(t, "geo", l.ID())
	assert.Zero(t, l.Version())
	_, err = l.Serialize()
	assert.ErrorIs(t, err, errors.ErrNotSupported)
	assert.False(t, errors.IsNoData(err))
}

func TestMetricPrefix(t *testing.T) {
	assert.Equal(t, "lookup_ip2geo", metricPrefix("ip2geo"))
	assert.Equal(t, "lookup_geo_v2_de", metricPrefix("geo-v2.de"))
}
