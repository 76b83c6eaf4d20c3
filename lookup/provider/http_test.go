package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lookupkit/errors"
)

// master serves payload with a fixed ETag and honours If-None-Match.
func master(t *testing.T, payload, etag string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("If-None-Match") == etag {
			assert.Equal(t, etag, r.Header.Get("ETag"))
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestHTTP_ConditionalFetch(t *testing.T) {
	ctx := context.Background()
	srv, requests := master(t, "payload", `"v1"`)

	h, err := NewHTTP(srv.URL, WithLogger(testLogger()))
	require.NoError(t, err)
	assert.Empty(t, h.ETag())

	data, err := h.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, `"v1"`, h.ETag())

	_, err = h.Load(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotModified)
	assert.Equal(t, int32(2), requests.Load())
}

func TestHTTP_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, errors.ErrUnavailable},
		{http.StatusNotImplemented, errors.ErrNotSupported},
		{http.StatusInternalServerError, errors.ErrUnavailable},
		{http.StatusServiceUnavailable, errors.ErrUnavailable},
		{http.StatusForbidden, errors.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			h, err := NewHTTP(srv.URL, WithLogger(testLogger()))
			require.NoError(t, err)
			_, err = h.Load(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, h.ETag())
		})
	}
}

func TestHTTP_NotSupportedIsNotNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
	}))
	defer srv.Close()

	h, err := NewHTTP(srv.URL, WithLogger(testLogger()))
	require.NoError(t, err)
	_, err = h.Load(context.Background())
	assert.False(t, errors.IsNoData(err))
	assert.True(t, errors.IsInvalid(err))
}

func TestHTTP_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	h, err := NewHTTP(srv.URL, WithLogger(testLogger()), WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = h.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnavailable)
	assert.True(t, errors.IsTransient(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHTTP_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	h, err := NewHTTP(url, WithLogger(testLogger()))
	require.NoError(t, err)
	_, err = h.Load(context.Background())
	assert.ErrorIs(t, err, errors.ErrUnavailable)
}

func TestHTTP_SaveNotSupported(t *testing.T) {
	h, err := NewHTTP("http://master/lookup/geo")
	require.NoError(t, err)
	assert.ErrorIs(t, h.Save(context.Background(), []byte("x")), errors.ErrNotSupported)
}

func TestETagFile_RoundTrip(t *testing.T) {
	for _, tc := range []struct {
		etag    string
		payload []byte
	}{
		{`"abc"`, []byte("payload")},
		{"", []byte("payload")},
		{`W/"weak"`, nil},
		{"e", []byte("with\nnewlines\n")},
	} {
		raw := EncodeETagFile(tc.etag, tc.payload)
		etag, payload, err := DecodeETagFile(raw)
		require.NoError(t, err)
		assert.Equal(t, tc.etag, etag)
		assert.Equal(t, len(tc.payload), len(payload))
		assert.Equal(t, string(tc.payload), string(payload))
	}
}

func TestETagFile_Layout(t *testing.T) {
	raw := EncodeETagFile("ab", []byte("xyz"))
	assert.Equal(t, []byte{2, 0, 0, 0, 'a', 'b', '\n', 'x', 'y', 'z'}, raw)
}

func TestETagFile_Malformed(t *testing.T) {
	for name, raw := range map[string][]byte{
		"empty":          {},
		"short header":   {1, 0},
		"length too big": {200, 0, 0, 0, 'a', '\n'},
		"no separator":   {1, 0, 0, 0, 'a', 'x', 'y'},
		"newline inside": {3, 0, 0, 0, 'a', '\n', 'b', '\n'},
	} {
		_, _, err := DecodeETagFile(raw)
		assert.ErrorIs(t, err, errors.ErrCacheCorrupted, name)
	}
}

func TestETagCache_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	srv, _ := master(t, "payload", `"v7"`)

	h, err := NewHTTP(srv.URL, WithLogger(testLogger()))
	require.NoError(t, err)
	cache := NewETagCache(dir, "geo", h, WithLogger(testLogger()))

	data, err := h.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, cache.Save(ctx, data))

	// A fresh provider primes its ETag from the cache file.
	restarted, err := NewHTTP(srv.URL, WithLogger(testLogger()))
	require.NoError(t, err)
	restartedCache := NewETagCache(dir, "geo", restarted, WithLogger(testLogger()))
	assert.Equal(t, `"v7"`, restarted.ETag())

	_, err = restarted.Load(ctx)
	assert.ErrorIs(t, err, errors.ErrNotModified)

	cached, err := restartedCache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), cached)
}

func TestETagCache_CorruptFileDeleted(t *testing.T) {
	dir := t.TempDir()
	path := CachePath(dir, "geo")
	require.NoError(t, os.WriteFile(path, []byte{9, 0, 0, 0, 'x'}, 0o644))

	h, err := NewHTTP("http://master/lookup/geo")
	require.NoError(t, err)
	cache := NewETagCache(dir, "geo", h, WithLogger(testLogger()))

	assert.Empty(t, h.ETag())
	assert.NoFileExists(t, path)

	_, err = cache.Load(context.Background())
	assert.ErrorIs(t, err, errors.ErrNoData)
}
