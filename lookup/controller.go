package lookup

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/lookup/provider"
	"github.com/c360/lookupkit/metric"
)

// counter is implemented by payloads that can report how many entries they
// hold.
type counter interface {
	Len() int
}

// Controller runs the load protocol of one lookup: fetch from the provider,
// keep the local cache current and fall back to it while nothing has been
// loaded yet.
type Controller struct {
	id        string
	masterURL string
	payload   Payload

	provider     provider.Provider
	cache        provider.Provider
	providerOpts []provider.Option

	notifier Notifier
	metrics  *metric.Metrics
	logger   *slog.Logger

	loadMu  sync.Mutex
	loaded  atomic.Bool
	version atomic.Uint64
}

// NewController wires payload to the provider and local cache described by
// cfg. A configured master URL makes the lookup a slave fetching over HTTP.
func NewController(cfg Config, payload Payload, opts ...Option) (*Controller, error) {
	if cfg.ID == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: lookup id", errors.ErrMissingConfig), "Controller", "NewController", "validate config")
	}
	if payload == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: payload", errors.ErrMissingConfig), "Controller", "NewController", "validate config")
	}

	c := &Controller{
		id:      cfg.ID,
		payload: payload,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "lookup", "lookup", cfg.ID)

	if cfg.MasterURL != "" {
		masterID := cfg.MasterLookupID
		if masterID == "" {
			masterID = cfg.ID
		}
		c.masterURL = BuildMasterURL(cfg.MasterURL, cfg.MasterEndpoint, masterID)
	}

	popts := append([]provider.Option{
		provider.WithLogger(c.logger),
		provider.WithTimeout(cfg.MasterTimeout),
	}, c.providerOpts...)

	if c.provider == nil {
		switch {
		case c.masterURL != "":
			h, err := provider.NewHTTP(c.masterURL, popts...)
			if err != nil {
				return nil, errors.Wrap(err, "Controller", "NewController", "create master provider")
			}
			c.provider = h
			if c.cache == nil && cfg.UseCache {
				c.cache = provider.NewETagCache(cfg.CacheDir, cfg.ID, h, popts...)
			}
		case cfg.Source != "":
			p, err := provider.New(cfg.Source, popts...)
			if err != nil {
				return nil, errors.Wrap(err, "Controller", "NewController", "create source provider")
			}
			c.provider = p
		}
	}
	if c.cache == nil {
		c.cache = provider.NewLocalCache(cfg.CacheDir, cfg.ID, popts...)
	}
	if c.provider == nil {
		c.provider = c.cache
	}
	return c, nil
}

// ID returns the lookup identifier.
func (c *Controller) ID() string { return c.id }

// IsMaster reports whether the lookup has no master URL.
func (c *Controller) IsMaster() bool { return c.masterURL == "" }

// Role returns RoleSlave when a master URL is configured.
func (c *Controller) Role() Role {
	if c.IsMaster() {
		return RoleMaster
	}
	return RoleSlave
}

// MasterURL returns the URL a slave fetches from, empty for masters.
func (c *Controller) MasterURL() string { return c.masterURL }

// IsLoaded reports whether data has been loaded at least once.
func (c *Controller) IsLoaded() bool { return c.loaded.Load() }

// Version increases with every change of the lookup's data.
func (c *Controller) Version() uint64 { return c.version.Load() }

// Provider returns the primary provider.
func (c *Controller) Provider() provider.Provider { return c.provider }

// LocalCache returns the local cache provider.
func (c *Controller) LocalCache() provider.Provider { return c.cache }

// Logger returns the lookup's logger.
func (c *Controller) Logger() *slog.Logger { return c.logger }

// Serialize returns the current replication payload.
func (c *Controller) Serialize() ([]byte, error) {
	return c.payload.Serialize()
}

// Load refreshes the lookup and reports whether its data changed.
//
// Fresh data from the provider is written to the local cache (best effort)
// and applied. ErrNotSupported returns false without touching the cache.
// Any other missing-data outcome returns false once the lookup is loaded;
// before that the local cache is tried. A payload that fails to decode is a
// fatal error and the current data is kept.
func (c *Controller) Load(ctx context.Context) (bool, error) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	start := time.Now()
	data, err := c.provider.Load(ctx)
	if err == nil {
		if c.cache != c.provider {
			if err := c.cache.Save(ctx, data); err != nil {
				c.logger.Warn("Failed to write local cache", "cache", c.cache.String(), "error", err)
			}
		}
		if err := c.apply(data, metric.OutcomeFresh, start); err != nil {
			return false, err
		}
		return true, nil
	}

	if stderrors.Is(err, errors.ErrNotSupported) {
		c.logger.Warn("Provider does not support loading this lookup", "provider", c.provider.String(), "error", err)
		c.metrics.RecordLoad(c.id, metric.OutcomeUnsupported, time.Since(start))
		return false, nil
	}

	outcome := metric.OutcomeUnavailable
	if stderrors.Is(err, errors.ErrNotModified) {
		outcome = metric.OutcomeNotModified
	} else if !errors.IsNoData(err) {
		c.logger.Warn("Provider failed", "provider", c.provider.String(), "error", err)
	}

	if c.loaded.Load() {
		c.metrics.RecordLoad(c.id, outcome, time.Since(start))
		return false, nil
	}
	if c.cache == c.provider {
		c.metrics.RecordLoad(c.id, outcome, time.Since(start))
		return false, nil
	}

	cached, cerr := c.cache.Load(ctx)
	if cerr != nil {
		c.logger.Debug("No usable local cache", "cache", c.cache.String(), "error", cerr)
		c.metrics.RecordLoad(c.id, outcome, time.Since(start))
		return false, nil
	}
	if err := c.apply(cached, metric.OutcomeCache, start); err != nil {
		return false, err
	}
	c.logger.Info("Loaded lookup from local cache", "cache", c.cache.String())
	return true, nil
}

func (c *Controller) apply(data []byte, outcome string, start time.Time) error {
	if err := c.payload.Deserialize(data); err != nil {
		c.metrics.RecordLoad(c.id, metric.OutcomeError, time.Since(start))
		return errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrParsingFailed, err), "Controller", "Load", "deserialize payload")
	}
	c.loaded.Store(true)
	c.metrics.RecordLoad(c.id, outcome, time.Since(start))
	c.changed(outcome)
	return nil
}

// Touch records a local change of the data, as made by a master building its
// lookup in memory.
func (c *Controller) Touch() {
	c.loaded.Store(true)
	c.changed(OriginLocal)
}

func (c *Controller) changed(origin string) {
	version := c.version.Add(1)
	if n, ok := c.payload.(counter); ok {
		c.metrics.RecordRows(c.id, n.Len())
	}
	if c.notifier == nil {
		return
	}
	change := NewChange(c.id, version, origin)
	if err := c.notifier.Notify(context.Background(), change); err != nil {
		c.logger.Warn("Failed to publish change", "version", version, "error", err)
		return
	}
	c.metrics.RecordNotification(c.id)
}

// Save serializes the current data and stores it through the provider and
// the local cache. Read-only providers return ErrNotSupported.
func (c *Controller) Save(ctx context.Context) error {
	start := time.Now()
	data, err := c.payload.Serialize()
	if err != nil {
		return errors.Wrap(err, "Controller", "Save", "serialize payload")
	}
	if err := c.provider.Save(ctx, data); err != nil {
		return errors.Wrap(err, "Controller", "Save", "save to provider")
	}
	if c.cache != c.provider {
		if err := c.cache.Save(ctx, data); err != nil {
			c.logger.Warn("Failed to write local cache", "cache", c.cache.String(), "error", err)
		}
	}
	c.metrics.RecordSave(time.Since(start))
	return nil
}
