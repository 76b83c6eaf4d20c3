package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/lookup/index"
	"github.com/c360/lookupkit/lookup/matrix"
)

const yamlConfig = `
cache_dir: /var/lib/lookupkit
server:
  listen: ":9000"
lookups:
  - id: ip2geo
    kind: index
    source: /srv/data/ip2geo.bin
    watch: true
    compression: zstd
    columns:
      - {name: start, type: uint32}
      - {name: end, type: uint32}
      - {name: country, type: bytes, width: 2}
    indexes:
      - {name: ip, kind: tree, start: start, end: end}
      - {name: country, kind: bitmap, column: country}
  - id: replica
    master_url: http://master:8080
    master_lookup_id: countries
    master_timeout: 5s
    refresh_interval: 1m
    use_cache: false
  - id: asn
    kind: sql
    sql:
      driver: sqlite3
      dsn: /srv/data/asn.db
      query: SELECT org FROM asn WHERE ip = ?
    result_cache:
      enabled: true
      max_size: 1000
      max_duration: 5m
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "lookupd.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/lookupkit", cfg.CacheDir)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.True(t, cfg.Server.Enabled, "defaults survive partial overrides")
	assert.Equal(t, DefaultMasterEndpoint, cfg.Server.Endpoint)
	require.Len(t, cfg.Lookups, 3)

	geo := cfg.Lookups[0]
	assert.Equal(t, KindIndex, geo.Kind)
	assert.True(t, geo.Watch)
	assert.Equal(t, "zstd", geo.Compression)
	assert.Equal(t, []matrix.Column{
		{Name: "start", Kind: matrix.Uint32},
		{Name: "end", Kind: matrix.Uint32},
		{Name: "country", Kind: matrix.Bytes, Width: 2},
	}, geo.Columns)
	assert.Equal(t, index.KindTree, geo.Indexes[0].Kind)
	assert.Equal(t, "/var/lib/lookupkit", geo.CacheDir)
	assert.Equal(t, DefaultMasterTimeout, geo.MasterTimeout.Std())
	assert.True(t, geo.CacheEnabled())
	assert.False(t, geo.IsSlave())

	replica, ok := cfg.Lookup("replica")
	require.True(t, ok)
	assert.Equal(t, KindDictionary, replica.Kind)
	assert.True(t, replica.IsSlave())
	assert.Equal(t, 5*time.Second, replica.MasterTimeout.Std())
	assert.Equal(t, time.Minute, replica.RefreshInterval.Std())
	assert.Equal(t, "/lookup/", replica.MasterEndpoint)
	assert.False(t, replica.CacheEnabled())
	assert.Equal(t, "none", replica.Compression)

	asn, ok := cfg.Lookup("asn")
	require.True(t, ok)
	assert.True(t, asn.ResultCache.Enabled)
	assert.Equal(t, 1000, asn.ResultCache.MaxSize)
	assert.Equal(t, 5*time.Minute, asn.ResultCache.MaxDuration)
	assert.Equal(t, "sqlite3", asn.SQL.Driver)
}

func TestLoad_JSONLayers(t *testing.T) {
	base := writeFile(t, "base.json", `{
		"cache_dir": "/tmp/base",
		"server": {"listen": ":7000"},
		"lookups": [{"id": "a"}, {"id": "b"}]
	}`)
	override := writeFile(t, "prod.json", `{
		"server": {"endpoint": "/data/"},
		"lookups": [{"id": "c", "master_url": "http://m", "master_timeout": 2000000000}]
	}`)

	l := NewLoader()
	l.AddLayer(base)
	l.AddLayer(override)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/base", cfg.CacheDir)
	assert.Equal(t, ":7000", cfg.Server.Listen)
	assert.Equal(t, "/data/", cfg.Server.Endpoint)
	require.Len(t, cfg.Lookups, 1, "lists are replaced whole")
	assert.Equal(t, "c", cfg.Lookups[0].ID)
	assert.Equal(t, "/data/", cfg.Lookups[0].MasterEndpoint)
	assert.Equal(t, 2*time.Second, cfg.Lookups[0].MasterTimeout.Std())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOOKUPKIT_CACHE_DIR", "/env/cache")
	t.Setenv("LOOKUPKIT_NATS_URLS", "nats://a:4222,nats://b:4222")
	t.Setenv("LOOKUPKIT_SERVER_LISTEN", ":1234")

	cfg, err := Load(writeFile(t, "c.yml", "lookups:\n  - id: geo\n    source: nats://lookups/geo\n"))
	require.NoError(t, err)
	assert.Equal(t, "/env/cache", cfg.CacheDir)
	assert.Equal(t, "/env/cache", cfg.Lookups[0].CacheDir)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.True(t, cfg.NATS.Enabled())
	assert.Equal(t, ":1234", cfg.Server.Listen)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown extension", "c.toml", "x = 1"},
		{"bad yaml", "c.yaml", "lookups: [:"},
		{"bad json", "c.json", "{"},
		{"bad duration", "c.yaml", "lookups:\n  - id: a\n    master_url: http://m\n    master_timeout: soon\n"},
		{"duplicate id", "c.yaml", "lookups:\n  - id: a\n  - id: a\n"},
		{"missing id", "c.yaml", "lookups:\n  - kind: dictionary\n"},
		{"unknown kind", "c.yaml", "lookups:\n  - id: a\n    kind: graph\n"},
		{"source and master", "c.yaml", "lookups:\n  - id: a\n    source: /x\n    master_url: http://m\n"},
		{"matrix without columns", "c.yaml", "lookups:\n  - id: a\n    kind: matrix\n"},
		{"index without indexes", "c.yaml", "lookups:\n  - id: a\n    kind: index\n    columns: [{name: x, type: int8}]\n"},
		{"bad column", "c.yaml", "lookups:\n  - id: a\n    kind: matrix\n    columns: [{name: x, type: float128}]\n"},
		{"bad index", "c.yaml", "lookups:\n  - id: a\n    kind: index\n    columns: [{name: x, type: int8}]\n    indexes: [{name: i, kind: tree}]\n"},
		{"sql without query", "c.yaml", "lookups:\n  - id: a\n    kind: sql\n    sql: {driver: sqlite3, dsn: x}\n"},
		{"bad compression", "c.yaml", "lookups:\n  - id: a\n    compression: lz4\n"},
		{"nats without urls", "c.yaml", "lookups:\n  - id: a\n    source: nats://b/k\n"},
		{"tls without key", "c.yaml", "server:\n  tls: {enabled: true, cert_file: c.pem}\n"},
		{"bad master tls version", "c.yaml", "master_tls: {min_version: \"1.0\"}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	cfg, err := Load(writeFile(t, "lookupd.yaml", yamlConfig))
	require.NoError(t, err)

	for _, name := range []string{"out.json", "out.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, cfg.SaveToFile(path))
			again, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, again)
		})
	}
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NATS.Password = "hunter2"
	cfg.Lookups = []LookupConfig{{ID: "asn", Kind: KindSQL, SQL: SQLConfig{Driver: "sqlite3", DSN: "secret.db", Query: "q"}}}

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "secret.db")
	assert.Equal(t, "hunter2", cfg.NATS.Password)
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(DefaultConfig())
	got := sc.Get()
	got.CacheDir = "changed"
	assert.Equal(t, DefaultCacheDir, sc.Get().CacheDir, "Get returns a copy")

	bad := DefaultConfig()
	bad.Lookups = []LookupConfig{{ID: "a", Kind: "nope"}}
	assert.ErrorIs(t, sc.Update(bad), errors.ErrInvalidConfig)
	assert.ErrorIs(t, sc.Update(nil), errors.ErrMissingConfig)

	good := DefaultConfig()
	good.CacheDir = "/new"
	require.NoError(t, sc.Update(good))
	assert.Equal(t, "/new", sc.Get().CacheDir)
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Std())
	require.NoError(t, d.UnmarshalJSON([]byte(`1000`)))
	assert.Equal(t, time.Microsecond, d.Std())
	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))

	out, err := Duration(time.Minute).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m0s"`, string(out))
}
