package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	lkerrors "github.com/c360/lookupkit/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBasicOperations tests basic cache operations.
func testBasicOperations(t *testing.T, cache Cache[string]) {
	// Test Get on empty cache
	if value, exists := cache.Get("key1"); exists {
		t.Errorf("Expected cache miss, got value: %s", value)
	}

	// Test Set and Get
	isNew, err := cache.Set("key1", "value1")
	if err != nil {
		t.Fatalf("Unexpected error setting key: %v", err)
	}
	if !isNew {
		t.Error("Expected new entry creation")
	}

	if value, exists := cache.Get("key1"); !exists || value != "value1" {
		t.Errorf("Expected 'value1', got value: %s, exists: %t", value, exists)
	}

	// Test Update
	isNew, err = cache.Set("key1", "value1_updated")
	if err != nil {
		t.Fatalf("Unexpected error updating key: %v", err)
	}
	if isNew {
		t.Error("Expected existing entry update")
	}

	if value, exists := cache.Get("key1"); !exists || value != "value1_updated" {
		t.Errorf("Expected 'value1_updated', got value: %s, exists: %t", value, exists)
	}

	// Test Delete
	deleted, err := cache.Delete("key1")
	if err != nil {
		t.Fatalf("Unexpected error deleting key: %v", err)
	}
	if !deleted {
		t.Error("Expected successful deletion")
	}

	deleted, err = cache.Delete("key1")
	if err != nil {
		t.Fatalf("Unexpected error deleting non-existent key: %v", err)
	}
	if deleted {
		t.Error("Expected deletion failure for non-existent key")
	}

	if value, exists := cache.Get("key1"); exists {
		t.Errorf("Expected cache miss after deletion, got value: %s", value)
	}
}

// testSizeOperations tests cache size tracking.
func testSizeOperations(t *testing.T, cache Cache[string]) {
	if cache.Size() != 0 {
		t.Errorf("Expected size 0, got %d", cache.Size())
	}

	_, _ = cache.Set("key1", "value1")
	_, _ = cache.Set("key2", "value2")

	if cache.Size() != 2 {
		t.Errorf("Expected size 2, got %d", cache.Size())
	}

	_, _ = cache.Delete("key1")

	if cache.Size() != 1 {
		t.Errorf("Expected size 1, got %d", cache.Size())
	}
}

// testKeysOperation tests cache key listing.
func testKeysOperation(t *testing.T, cache Cache[string]) {
	if len(cache.Keys()) != 0 {
		t.Errorf("Expected no keys, got %v", cache.Keys())
	}

	_, _ = cache.Set("key1", "value1")
	_, _ = cache.Set("key2", "value2")

	keys := cache.Keys()
	if len(keys) != 2 {
		t.Errorf("Expected 2 keys, got %d", len(keys))
	}

	keyMap := make(map[string]bool)
	for _, key := range keys {
		keyMap[key] = true
	}

	if !keyMap["key1"] || !keyMap["key2"] {
		t.Errorf("Expected keys 'key1' and 'key2', got %v", keys)
	}
}

// testClearOperation tests cache clearing.
func testClearOperation(t *testing.T, cache Cache[string]) {
	_, _ = cache.Set("key1", "value1")
	_, _ = cache.Set("key2", "value2")

	_ = cache.Clear()

	if cache.Size() != 0 {
		t.Errorf("Expected size 0 after clear, got %d", cache.Size())
	}

	if value, exists := cache.Get("key1"); exists {
		t.Errorf("Expected cache miss after clear, got value: %s", value)
	}
}

// testSuite runs the shared behaviour checks against a fresh cache per case.
func testSuite(t *testing.T, createCache func() Cache[string]) {
	t.Run("BasicOperations", func(t *testing.T) { testBasicOperations(t, createCache()) })
	t.Run("SizeOperations", func(t *testing.T) { testSizeOperations(t, createCache()) })
	t.Run("KeysOperation", func(t *testing.T) { testKeysOperation(t, createCache()) })
	t.Run("ClearOperation", func(t *testing.T) { testClearOperation(t, createCache()) })
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBoundedCache(t *testing.T) {
	testSuite(t, func() Cache[string] {
		c, err := NewBounded[string](100, time.Hour)
		require.NoError(t, err)
		return c
	})
}

func TestLRUCache(t *testing.T) {
	testSuite(t, func() Cache[string] {
		c, err := NewLRU[string](100)
		require.NoError(t, err)
		return c
	})

	_, err := NewLRU[string](0)
	assert.Error(t, err)
}

func TestBoundedCache_SizeEviction(t *testing.T) {
	const maxSize = 5
	const extra = 3

	c, err := NewBounded[int](maxSize, 0)
	require.NoError(t, err)

	for i := 0; i < maxSize+extra; i++ {
		_, err := c.Set(fmt.Sprintf("key%d", i), i)
		require.NoError(t, err)
	}

	assert.Equal(t, maxSize, c.Size())
	for i := 0; i < extra; i++ {
		_, ok := c.Get(fmt.Sprintf("key%d", i))
		assert.False(t, ok, "key%d should have been evicted", i)
	}
	for i := extra; i < maxSize+extra; i++ {
		v, ok := c.Get(fmt.Sprintf("key%d", i))
		assert.True(t, ok, "key%d should be present", i)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, int64(extra), c.Stats().Evictions())
}

func TestBoundedCache_GetRefreshesRecency(t *testing.T) {
	c, err := NewBounded[string](3, 0)
	require.NoError(t, err)

	_, _ = c.Set("a", "1")
	_, _ = c.Set("b", "2")
	_, _ = c.Set("c", "3")

	// "a" becomes most recent, so "b" is the oldest access.
	_, ok := c.Get("a")
	require.True(t, ok)

	_, _ = c.Set("d", "4")

	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"a", "c", "d"}, c.Keys())
	assert.Equal(t, []string{"d", "a", "c"}, c.Keys()[:3])
}

func TestBoundedCache_DurationEviction(t *testing.T) {
	clock := newFakeClock()
	c, err := NewBounded[string](0, time.Minute, WithClock[string](clock.Now))
	require.NoError(t, err)

	_, _ = c.Set("old", "v")
	clock.Advance(45 * time.Second)
	_, _ = c.Set("young", "v")
	clock.Advance(30 * time.Second)

	// "old" is 75s untouched, "young" is 30s; the set triggers the check.
	_, _ = c.Set("fresh", "v")

	assert.ElementsMatch(t, []string{"young", "fresh"}, c.Keys())
}

func TestBoundedCache_GetRefreshesTimestamp(t *testing.T) {
	clock := newFakeClock()
	c, err := NewBounded[string](0, time.Minute, WithClock[string](clock.Now))
	require.NoError(t, err)

	_, _ = c.Set("k", "v")
	clock.Advance(50 * time.Second)
	_, ok := c.Get("k")
	require.True(t, ok)

	clock.Advance(50 * time.Second)
	assert.Equal(t, 0, c.EvictExpired())

	clock.Advance(11 * time.Second)
	assert.Equal(t, 1, c.EvictExpired())
	assert.Equal(t, 0, c.Size())
}

func TestBoundedCache_StaleGetIsMiss(t *testing.T) {
	clock := newFakeClock()
	c, err := NewBounded[string](10, time.Second, WithClock[string](clock.Now))
	require.NoError(t, err)

	_, _ = c.Set("k", "v")
	clock.Advance(2 * time.Second)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestLookup_NotCached(t *testing.T) {
	c, err := NewBounded[string](10, 0)
	require.NoError(t, err)

	_, err = Lookup[string](c, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, lkerrors.ErrNotCached))

	_, _ = c.Set("present", "")
	v, err := Lookup[string](c, "present")
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestConcurrency(t *testing.T) {
	c, err := NewBounded[string](50, time.Minute)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key_%d_%d", id, i%20)
				_, _ = c.Set(key, "v")
				c.Get(key)
				if i%7 == 0 {
					_, _ = c.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), 50)
}

func TestEvictCallback(t *testing.T) {
	var evicted []string
	c, err := NewBounded[string](2, 0, WithEvictionCallback[string](func(key string, _ string) {
		evicted = append(evicted, key)
	}))
	require.NoError(t, err)

	_, _ = c.Set("a", "1")
	_, _ = c.Set("b", "2")
	_, _ = c.Set("c", "3")

	assert.Equal(t, []string{"a"}, evicted)
}

func TestConfiguration(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		c, err := NewFromConfig[string](DefaultConfig())
		require.NoError(t, err)
		_, ok := c.(*Bounded[string])
		assert.True(t, ok)
	})

	t.Run("disabled", func(t *testing.T) {
		c, err := NewFromConfig[string](Config{Enabled: false})
		require.NoError(t, err)
		_, _ = c.Set("k", "v")
		_, ok := c.Get("k")
		assert.False(t, ok)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := NewFromConfig[string](Config{Enabled: true, MaxSize: -1})
		assert.Error(t, err)
		_, err = NewFromConfig[string](Config{Enabled: true})
		assert.Error(t, err)
	})

	t.Run("json durations", func(t *testing.T) {
		var cfg Config
		require.NoError(t, cfg.UnmarshalJSON([]byte(`{"enabled":true,"max_size":10,"max_duration":"90s"}`)))
		assert.Equal(t, 90*time.Second, cfg.MaxDuration)
		assert.Equal(t, 10, cfg.MaxSize)

		var legacy Config
		require.NoError(t, legacy.UnmarshalJSON([]byte(`{"enabled":true,"expiry_seconds":2.5}`)))
		assert.Equal(t, 2500*time.Millisecond, legacy.MaxDuration)
	})
}
