package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/lookup/index"
	"github.com/c360/lookupkit/lookup/matrix"
	"github.com/c360/lookupkit/pkg/cache"
	"github.com/c360/lookupkit/pkg/security"
)

// Lookup kinds.
const (
	KindDictionary = "dictionary"
	KindMatrix     = "matrix"
	KindIndex      = "index"
	KindSQL        = "sql"
)

// Defaults applied to lookups that leave the field out.
const (
	DefaultMasterEndpoint = "/lookup/"
	DefaultMasterTimeout  = 10 * time.Second
	DefaultCacheDir       = "./var/lookups"
	DefaultListen         = ":8080"
)

// Config is the configuration of a lookupd process.
type Config struct {
	Version   string                   `json:"version,omitempty" yaml:"version,omitempty"`
	CacheDir  string                   `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty"`
	NATS      NATSConfig               `json:"nats" yaml:"nats"`
	Server    ServerConfig             `json:"server" yaml:"server"`
	Metrics   MetricsConfig            `json:"metrics" yaml:"metrics"`
	MasterTLS security.ClientTLSConfig `json:"master_tls,omitempty" yaml:"master_tls,omitempty"`
	Lookups   []LookupConfig           `json:"lookups" yaml:"lookups"`
}

// NATSConfig defines the optional NATS connection. With no URLs lookupd runs
// without NATS: nats:// sources are rejected and changes are not published.
type NATSConfig struct {
	URLs          []string `json:"urls,omitempty" yaml:"urls,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Username      string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string   `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string   `json:"token,omitempty" yaml:"token,omitempty"`
	// SubjectPrefix is where lookup changes are published.
	SubjectPrefix string `json:"subject_prefix,omitempty" yaml:"subject_prefix,omitempty"`
}

// Enabled reports whether a NATS connection is configured.
func (n NATSConfig) Enabled() bool { return len(n.URLs) > 0 }

// ServerConfig defines the master endpoint.
type ServerConfig struct {
	Enabled  bool                     `json:"enabled" yaml:"enabled"`
	Listen   string                   `json:"listen,omitempty" yaml:"listen,omitempty"`
	Endpoint string                   `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	TLS      security.ServerTLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// MetricsConfig defines the Prometheus endpoint. An empty Listen serves
// /metrics on the lookup server.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen,omitempty" yaml:"listen,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// LookupConfig defines one lookup.
type LookupConfig struct {
	ID   string `json:"id" yaml:"id"`
	Kind string `json:"kind" yaml:"kind"`

	// Source is the provider URL or path a master loads from.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	MasterURL      string   `json:"master_url,omitempty" yaml:"master_url,omitempty"`
	MasterLookupID string   `json:"master_lookup_id,omitempty" yaml:"master_lookup_id,omitempty"`
	MasterEndpoint string   `json:"master_url_endpoint,omitempty" yaml:"master_url_endpoint,omitempty"`
	MasterTimeout  Duration `json:"master_timeout,omitempty" yaml:"master_timeout,omitempty"`

	// UseCache defaults to true.
	UseCache *bool  `json:"use_cache,omitempty" yaml:"use_cache,omitempty"`
	CacheDir string `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty"`

	RefreshInterval Duration `json:"refresh_interval,omitempty" yaml:"refresh_interval,omitempty"`
	Watch           bool     `json:"watch,omitempty" yaml:"watch,omitempty"`

	Compression string          `json:"compression,omitempty" yaml:"compression,omitempty"`
	Columns     []matrix.Column `json:"columns,omitempty" yaml:"columns,omitempty"`
	Indexes     []index.Spec    `json:"indexes,omitempty" yaml:"indexes,omitempty"`

	ResultCache cache.Config `json:"result_cache" yaml:"result_cache"`
	SQL         SQLConfig    `json:"sql" yaml:"sql"`
}

// SQLConfig defines the query a sql lookup answers keys with.
type SQLConfig struct {
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Query  string `json:"query,omitempty" yaml:"query,omitempty"`
}

// CacheEnabled reports whether a slave keeps the master's ETag and payload
// on disk.
func (l LookupConfig) CacheEnabled() bool {
	return l.UseCache == nil || *l.UseCache
}

// IsSlave reports whether the lookup replicates from a master.
func (l LookupConfig) IsSlave() bool { return l.MasterURL != "" }

// DefaultConfig returns the configuration used before any file is applied.
func DefaultConfig() *Config {
	return &Config{
		Version:  "1.0.0",
		CacheDir: DefaultCacheDir,
		NATS: NATSConfig{
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Server: ServerConfig{
			Enabled:  true,
			Listen:   DefaultListen,
			Endpoint: DefaultMasterEndpoint,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// applyDefaults fills per-lookup fields the file left out.
func (c *Config) applyDefaults() {
	for i := range c.Lookups {
		l := &c.Lookups[i]
		if l.Kind == "" {
			l.Kind = KindDictionary
		}
		if l.MasterEndpoint == "" {
			l.MasterEndpoint = c.Server.Endpoint
		}
		if l.MasterEndpoint == "" {
			l.MasterEndpoint = DefaultMasterEndpoint
		}
		if l.MasterTimeout == 0 {
			l.MasterTimeout = Duration(DefaultMasterTimeout)
		}
		if l.CacheDir == "" {
			l.CacheDir = c.CacheDir
		}
		if l.Compression == "" {
			l.Compression = "none"
		}
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Lookups))
	for i, l := range c.Lookups {
		if l.ID == "" {
			return invalid("lookups[%d].id is required", i)
		}
		if seen[l.ID] {
			return invalid("lookup %q defined twice", l.ID)
		}
		seen[l.ID] = true
		if err := l.Validate(); err != nil {
			return err
		}
		if strings.HasPrefix(l.Source, "nats://") && !c.NATS.Enabled() {
			return invalid("lookup %q: nats source needs nats.urls", l.ID)
		}
	}
	if c.NATS.SubjectPrefix != "" && !isValidNATSSubject(c.NATS.SubjectPrefix) {
		return invalid("nats.subject_prefix %q is not a valid NATS subject", c.NATS.SubjectPrefix)
	}
	if err := c.Server.TLS.Validate(); err != nil {
		return invalid("server.%v", err)
	}
	if err := c.MasterTLS.Validate(); err != nil {
		return invalid("master_%v", err)
	}
	return nil
}

// Validate checks one lookup definition.
func (l LookupConfig) Validate() error {
	if l.MasterURL != "" && l.Source != "" {
		return invalid("lookup %q: source and master_url are exclusive", l.ID)
	}
	if l.MasterTimeout < 0 || l.RefreshInterval < 0 {
		return invalid("lookup %q: durations must not be negative", l.ID)
	}

	switch l.Kind {
	case KindDictionary:
	case KindMatrix, KindIndex:
		if l.MasterURL == "" && len(l.Columns) == 0 {
			return invalid("lookup %q: %s lookups need columns", l.ID, l.Kind)
		}
		if len(l.Columns) > 0 {
			if _, err := matrix.New(l.Columns); err != nil {
				return errors.WrapInvalid(fmt.Errorf("%w: lookup %q: %w", errors.ErrInvalidConfig, l.ID, err),
					"Config", "Validate", "check columns")
			}
		}
		for _, spec := range l.Indexes {
			if _, err := index.New(spec); err != nil {
				return errors.WrapInvalid(fmt.Errorf("%w: lookup %q: %w", errors.ErrInvalidConfig, l.ID, err),
					"Config", "Validate", "check indexes")
			}
		}
		if l.Kind == KindIndex && len(l.Indexes) == 0 {
			return invalid("lookup %q: index lookups need indexes", l.ID)
		}
		if l.Kind == KindMatrix && len(l.Indexes) > 0 {
			return invalid("lookup %q: indexes need kind %q", l.ID, KindIndex)
		}
	case KindSQL:
		if l.SQL.Driver == "" || l.SQL.DSN == "" || l.SQL.Query == "" {
			return invalid("lookup %q: sql lookups need driver, dsn and query", l.ID)
		}
		if l.Source != "" || l.MasterURL != "" {
			return invalid("lookup %q: sql lookups take no source or master_url", l.ID)
		}
		if err := l.ResultCache.Validate(); err != nil {
			return errors.Wrap(err, "Config", "Validate", fmt.Sprintf("lookup %q result_cache", l.ID))
		}
	default:
		return invalid("lookup %q: unknown kind %q", l.ID, l.Kind)
	}

	switch l.Compression {
	case "", "none", "zstd":
	default:
		return invalid("lookup %q: unknown compression %q", l.ID, l.Compression)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
		"Config", "Validate", "validate config")
}

// isValidNATSSubject checks for alphanumerics, dots, dashes and underscores.
func isValidNATSSubject(s string) bool {
	if s == "" || strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// Lookup returns the definition with id.
func (c *Config) Lookup(id string) (LookupConfig, bool) {
	for _, l := range c.Lookups {
		if l.ID == id {
			return l, true
		}
	}
	return LookupConfig{}, false
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := c.Clone()
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	for i := range masked.Lookups {
		if masked.Lookups[i].SQL.DSN != "" {
			masked.Lookups[i].SQL.DSN = "***"
		}
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update replaces the configuration after validating it.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Duration is a time.Duration that reads "30s" style strings or integer
// nanoseconds and writes strings.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON writes d as a duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// MarshalYAML writes d as a duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON accepts a duration string or integer nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var ns int64
	if err := json.Unmarshal(data, &ns); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\" or integer nanoseconds, got %s", data)
	}
	*d = Duration(ns)
	return nil
}
