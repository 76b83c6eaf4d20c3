package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/lookupkit/config"
	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/health"
	"github.com/c360/lookupkit/lookup"
	"github.com/c360/lookupkit/lookup/provider"
	"github.com/c360/lookupkit/lookup/remote"
	"github.com/c360/lookupkit/lookup/server"
	"github.com/c360/lookupkit/metric"
	"github.com/c360/lookupkit/natsclient"
	"github.com/c360/lookupkit/pkg/tlsutil"

	// Registers the sqlite3 driver for sql lookups.
	_ "github.com/mattn/go-sqlite3"
)

// app is a running lookupd: the lookups of one config plus the servers and
// connections they use.
type app struct {
	cfg             *config.Config
	logger          *slog.Logger
	shutdownTimeout time.Duration

	registry *lookup.Registry
	metrics  *metric.MetricsRegistry
	health   *health.Monitor
	broker   *lookup.Broker
	nats     *natsclient.Client
	notifier *lookup.NATSNotifier
	client   *http.Client

	refreshers    []*lookup.Refresher
	unsubscribe   []func()
	databases     []*sql.DB
	remotes       []*remote.Lookup
	server        *server.Server
	metricsServer *metric.Server
}

// newApp connects to NATS when configured and builds every lookup.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) (*app, error) {
	a := &app{
		cfg:             cfg,
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
		registry:        lookup.NewRegistry(),
		metrics:         metric.NewMetricsRegistry(),
		health:          health.NewMonitor(),
		broker:          lookup.NewBroker(logger),
	}

	if cfg.NATS.Enabled() {
		if err := a.connectNATS(ctx); err != nil {
			return nil, err
		}
	}

	if !cfg.MasterTLS.IsZero() {
		client, err := tlsutil.HTTPClient(cfg.MasterTLS)
		if err != nil {
			a.close(ctx)
			return nil, errors.Wrap(err, "lookupd", "newApp", "configure master TLS")
		}
		a.client = client
	}

	for _, lc := range cfg.Lookups {
		if err := a.addLookup(ctx, lc); err != nil {
			a.close(ctx)
			return nil, errors.Wrap(err, "lookupd", "newApp", fmt.Sprintf("build lookup %q", lc.ID))
		}
	}

	if cfg.Server.Enabled {
		var serveMetrics *metric.MetricsRegistry
		if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
			serveMetrics = a.metrics
		}
		tlsConfig, err := tlsutil.ServerConfig(cfg.Server.TLS)
		if err != nil {
			a.close(ctx)
			return nil, errors.Wrap(err, "lookupd", "newApp", "configure server TLS")
		}
		handler := server.NewHandler(a.registry, cfg.Server.Endpoint, logger)
		a.server = server.NewServer(cfg.Server.Listen, handler, serveMetrics,
			server.WithHealth(a.health), server.WithTLS(tlsConfig))
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Listen != "" || !cfg.Server.Enabled) {
		a.metricsServer = metric.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, a.metrics)
	}
	return a, nil
}

func (a *app) connectNATS(ctx context.Context) error {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(a.logger),
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(a.cfg.NATS.MaxReconnects),
		natsclient.WithMetrics(a.metrics),
	}
	if wait := a.cfg.NATS.ReconnectWait.Std(); wait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(wait))
	}
	if a.cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(a.cfg.NATS.Username, a.cfg.NATS.Password))
	}
	if a.cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(a.cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(strings.Join(a.cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return errors.Wrap(err, "lookupd", "connectNATS", "create client")
	}
	if err := client.Connect(ctx); err != nil {
		return errors.Wrap(err, "lookupd", "connectNATS", "connect")
	}
	a.nats = client
	a.notifier = lookup.NewNATSNotifier(client, a.cfg.NATS.SubjectPrefix, a.logger)

	// Changes published by other processes reach local slaves through the
	// broker.
	unsubscribe, err := a.notifier.Subscribe(ctx, ">", func(change lookup.Change) {
		_ = a.broker.Notify(ctx, change)
	})
	if err != nil {
		return errors.Wrap(err, "lookupd", "connectNATS", "subscribe to changes")
	}
	a.unsubscribe = append(a.unsubscribe, func() { _ = unsubscribe() })
	return nil
}

func (a *app) notifiers() lookup.Notifier {
	ns := lookup.Notifiers{a.broker}
	if a.notifier != nil {
		ns = append(ns, a.notifier)
	}
	return ns
}

// addLookup builds, registers and schedules one lookup.
func (a *app) addLookup(ctx context.Context, lc config.LookupConfig) error {
	logger := a.logger.With("lookup", lc.ID)

	if lc.Kind == config.KindSQL {
		db, err := remote.OpenSQL(ctx, lc.SQL.Driver, lc.SQL.DSN)
		if err != nil {
			return err
		}
		a.databases = append(a.databases, db)
		l, err := remote.New(lc.ID, remote.NewSQLFetcher(db, lc.SQL.Query), lc.ResultCache,
			remote.WithLogger(logger), remote.WithMetrics(a.metrics))
		if err != nil {
			return err
		}
		a.remotes = append(a.remotes, l)
		return a.registry.Register(l)
	}

	cfg := lookup.Config{
		ID:             lc.ID,
		Source:         lc.Source,
		MasterURL:      lc.MasterURL,
		MasterLookupID: lc.MasterLookupID,
		MasterEndpoint: lc.MasterEndpoint,
		MasterTimeout:  lc.MasterTimeout.Std(),
		UseCache:       lc.CacheEnabled(),
		CacheDir:       lc.CacheDir,
	}
	opts := []lookup.Option{
		lookup.WithLogger(logger),
		lookup.WithMetrics(a.metrics),
		lookup.WithNotifier(a.notifiers()),
	}
	if a.nats != nil {
		opts = append(opts, lookup.WithProviderOptions(provider.WithNATSClient(a.nats)))
	}
	if a.client != nil && lc.IsSlave() {
		opts = append(opts, lookup.WithProviderOptions(provider.WithHTTPClient(a.client)))
	}

	compression, err := lookup.ParseCompression(lc.Compression)
	if err != nil {
		return err
	}

	var l lookup.Loader
	switch lc.Kind {
	case config.KindDictionary:
		l, err = lookup.NewDictionary(cfg, opts...)
	case config.KindMatrix:
		l, err = lookup.NewMatrix(cfg, lc.Columns, compression, opts...)
	case config.KindIndex:
		l, err = lookup.NewIndex(cfg, lc.Columns, lc.Indexes, compression, opts...)
	default:
		err = errors.WrapInvalid(fmt.Errorf("%w: unknown kind %q", errors.ErrInvalidConfig, lc.Kind), "lookupd", "addLookup", "select kind")
	}
	if err != nil {
		return err
	}
	if err := a.registry.Register(l); err != nil {
		return err
	}

	ropts := []lookup.RefresherOption{
		lookup.WithRefresherLogger(logger),
		lookup.WithInterval(lc.RefreshInterval.Std()),
		lookup.WithWatch(lc.Watch),
		lookup.WithHealth(a.health),
	}
	if lc.IsSlave() {
		masterID := lc.MasterLookupID
		if masterID == "" {
			masterID = lc.ID
		}
		changes, cancel := a.broker.Subscribe(masterID, 4)
		a.unsubscribe = append(a.unsubscribe, cancel)
		ropts = append(ropts, lookup.WithChanges(changes))
	}
	a.refreshers = append(a.refreshers, lookup.NewRefresher(l, ropts...))
	return nil
}

// run serves and refreshes until ctx is cancelled, then shuts down.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, r := range a.refreshers {
		g.Go(func() error {
			// A lookup that fails fatally keeps its last data; the rest of
			// the process keeps serving.
			if err := r.Run(gctx); err != nil {
				a.logger.Error("Refresher stopped", "error", err)
			}
			return nil
		})
	}

	if a.server != nil {
		g.Go(a.server.Start)
		g.Go(func() error {
			<-gctx.Done()
			return a.stopWithTimeout(a.server.Stop)
		})
	}
	if a.metricsServer != nil {
		g.Go(a.metricsServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			return a.stopWithTimeout(a.metricsServer.Stop)
		})
	}

	a.logger.Info("Lookupd running", "lookups", len(a.registry.IDs()))
	err := g.Wait()
	a.close(context.Background())
	return err
}

func (a *app) stopWithTimeout(stop func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	return stop(ctx)
}

// close releases subscriptions, databases and the NATS connection.
func (a *app) close(ctx context.Context) {
	for _, cancel := range a.unsubscribe {
		cancel()
	}
	a.unsubscribe = nil
	for _, l := range a.remotes {
		_ = l.Close()
	}
	for _, db := range a.databases {
		if err := db.Close(); err != nil {
			a.logger.Warn("Failed to close database", "error", err)
		}
	}
	a.databases = nil
	if a.nats != nil {
		ctx, cancel := context.WithTimeout(ctx, a.shutdownTimeout)
		defer cancel()
		if err := a.nats.Close(ctx); err != nil {
			a.logger.Warn("Failed to close NATS connection", "error", err)
		}
		a.nats = nil
	}
}
