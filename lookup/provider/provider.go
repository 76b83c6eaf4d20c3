package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/natsclient"
)

// DefaultTimeout bounds a single remote fetch.
const DefaultTimeout = 10 * time.Second

// CacheSuffix is appended to a lookup id to name its local cache file.
const CacheSuffix = ".cache"

// Provider fetches and stores the serialized payload of one lookup.
//
// Load returns the payload or an error from the errors package describing
// why there is none: ErrNoData, ErrNotModified, ErrNotSupported,
// ErrUnavailable or ErrCacheCorrupted. Providers never panic on transport or
// filesystem failures.
type Provider interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	String() string
}

// Watcher is implemented by providers that can signal a change of their
// source. fn is called from the watching goroutine until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, fn func()) error
}

type options struct {
	logger     *slog.Logger
	timeout    time.Duration
	httpClient *http.Client
	nats       *natsclient.Client
	kvOptions  []func(*natsclient.KVOptions)
	dial       dialFunc
}

// Option configures a provider.
type Option func(*options)

// WithLogger sets the logger used for warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTimeout bounds each remote fetch. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithHTTPClient replaces the client used by HTTP providers.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithNATSClient supplies the connection nats:// providers use.
func WithNATSClient(client *natsclient.Client) Option {
	return func(o *options) {
		o.nats = client
	}
}

// WithKVOptions tunes the KV store behind nats:// providers.
func WithKVOptions(opts ...func(*natsclient.KVOptions)) Option {
	return func(o *options) {
		o.kvOptions = append(o.kvOptions, opts...)
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
		dial:    dialZooKeeper,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{}
	}
	return o
}

// New selects a provider by the scheme of rawURL: zk://, nats://, http://,
// https:// and file:// are recognised, anything else is a filesystem path.
func New(rawURL string, opts ...Option) (Provider, error) {
	if rawURL == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: empty provider url", errors.ErrMissingConfig), "provider", "New", "select provider")
	}

	scheme, rest, found := strings.Cut(rawURL, "://")
	if !found {
		return NewFileSystem(rawURL, opts...), nil
	}

	switch strings.ToLower(scheme) {
	case "zk":
		return NewZooKeeper(rawURL, opts...)
	case "nats":
		return NewNATSKV(rawURL, opts...)
	case "http", "https":
		return NewHTTP(rawURL, opts...)
	case "file":
		return NewFileSystem(rest, opts...), nil
	}
	return nil, errors.WrapInvalid(fmt.Errorf("%w: unsupported provider scheme %q", errors.ErrInvalidConfig, scheme),
		"provider", "New", "select provider")
}

// NewLocalCache returns the filesystem provider backing the local cache of
// lookup id under dir.
func NewLocalCache(dir, id string, opts ...Option) *FileSystem {
	return NewFileSystem(CachePath(dir, id), opts...)
}

// CachePath returns <dir>/<id>.cache with path separators in id replaced.
func CachePath(dir, id string) string {
	return filepath.Join(dir, sanitizeID(id)+CacheSuffix)
}

var idReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "\x00", "_")

func sanitizeID(id string) string {
	s := idReplacer.Replace(id)
	if s == "" || s == "." || s == ".." {
		return "_" + s
	}
	return s
}
