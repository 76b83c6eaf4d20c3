package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lookupkit/config"
	"github.com/c360/lookupkit/lookup"
	"github.com/c360/lookupkit/lookup/remote"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadTestConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lookupd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	a, err := newApp(ctx, cfg, testLogger(), time.Second)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("app did not stop")
		}
	})
	return a
}

func httpGet(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestApp_MasterAndReplica(t *testing.T) {
	dataDir := t.TempDir()
	source := filepath.Join(dataDir, "countries.json")
	require.NoError(t, os.WriteFile(source, []byte(`{"CZ":"Czechia"}`), 0o600))

	db, err := remote.OpenSQL(context.Background(), "sqlite3", filepath.Join(dataDir, "asn.db"))
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE asn (ip TEXT PRIMARY KEY, org TEXT)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	masterCfg := loadTestConfig(t, fmt.Sprintf(`
cache_dir: %s
server:
  listen: 127.0.0.1:0
lookups:
  - id: countries
    source: %s
    watch: true
  - id: ip2geo
    kind: index
    columns:
      - {name: start, type: uint32}
      - {name: end, type: uint32}
    indexes:
      - {name: ip, kind: tree, start: start, end: end}
  - id: asn
    kind: sql
    sql:
      driver: sqlite3
      dsn: %s
      query: SELECT org FROM asn WHERE ip = ?
    result_cache: {enabled: true, max_size: 100}
`, filepath.Join(dataDir, "master-cache"), source, filepath.Join(dataDir, "asn.db")))

	master := startApp(t, masterCfg)
	require.Eventually(t, func() bool { return master.server.Addr() != "127.0.0.1:0" }, 2*time.Second, 10*time.Millisecond)
	base := "http://" + master.server.Addr()

	require.Eventually(t, func() bool {
		return httpGet(t, base+"/lookup/countries") == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, http.StatusServiceUnavailable, httpGet(t, base+"/lookup/ip2geo"), "no data yet")
	assert.Equal(t, http.StatusNotImplemented, httpGet(t, base+"/lookup/asn"))
	assert.Equal(t, http.StatusNotFound, httpGet(t, base+"/lookup/nope"))
	assert.Equal(t, http.StatusOK, httpGet(t, base+"/metrics"))
	assert.Equal(t, http.StatusOK, httpGet(t, base+"/health"), "ip2geo is degraded, not unhealthy")
	assert.Eventually(t, func() bool {
		s, ok := master.health.Get("countries")
		return ok && s.IsHealthy()
	}, time.Second, 10*time.Millisecond)
	ip2geo, _ := master.health.Get("ip2geo")
	assert.True(t, ip2geo.IsDegraded())

	replicaCfg := loadTestConfig(t, fmt.Sprintf(`
cache_dir: %s
server: {enabled: false}
metrics: {enabled: false}
lookups:
  - id: replica
    master_url: %s
    master_lookup_id: countries
    master_timeout: 1s
    refresh_interval: 100ms
`, filepath.Join(dataDir, "replica-cache"), base))

	replica := startApp(t, replicaCfg)
	l, ok := replica.registry.Get("replica")
	require.True(t, ok)
	dict := l.(*lookup.DictionaryLookup)

	require.Eventually(t, func() bool {
		v, ok := dict.Get("CZ")
		return ok && v == "Czechia"
	}, 3*time.Second, 20*time.Millisecond)

	// The master watches its source; the replica polls.
	require.NoError(t, os.WriteFile(source, []byte(`{"CZ":"Czechia","DE":"Germany"}`), 0o600))
	require.Eventually(t, func() bool {
		_, ok := dict.Get("DE")
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	_, err = os.Stat(filepath.Join(dataDir, "replica-cache"))
	assert.NoError(t, err, "replica keeps a local cache")
}

func TestNewApp_BadSQL(t *testing.T) {
	cfg := loadTestConfig(t, `
lookups:
  - id: asn
    kind: sql
    sql: {driver: nosuchdriver, dsn: x, query: q}
`)
	_, err := newApp(context.Background(), cfg, testLogger(), time.Second)
	assert.Error(t, err)
}
