package lookup

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/health"
	"github.com/c360/lookupkit/lookup/provider"
)

// IndexRefresher is implemented by lookups whose indexes follow the matrix.
type IndexRefresher interface {
	RefreshIndexes() (bool, error)
}

// Refresher drives Load for one lookup. Slaves poll on an interval and on
// change notifications; masters reload when their source reports a change.
// Concurrent triggers collapse into one Load.
type Refresher struct {
	lookup   Loader
	interval time.Duration
	watch    bool
	changes  <-chan Change
	limiter  *rate.Limiter
	group    singleflight.Group
	trigger  chan struct{}
	health   *health.Monitor
	logger   *slog.Logger
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithInterval sets the polling period of slaves. Zero disables polling.
func WithInterval(d time.Duration) RefresherOption {
	return func(r *Refresher) {
		r.interval = d
	}
}

// WithWatch makes masters reload when a watchable source changes.
func WithWatch(enabled bool) RefresherOption {
	return func(r *Refresher) {
		r.watch = enabled
	}
}

// WithChanges triggers a refresh for every change received on ch.
func WithChanges(ch <-chan Change) RefresherOption {
	return func(r *Refresher) {
		r.changes = ch
	}
}

// WithRateLimit throttles refreshes triggered by polling, watching and
// notifications.
func WithRateLimit(limit rate.Limit, burst int) RefresherOption {
	return func(r *Refresher) {
		r.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithHealth records every refresh outcome in m.
func WithHealth(m *health.Monitor) RefresherOption {
	return func(r *Refresher) {
		r.health = m
	}
}

// WithRefresherLogger sets the logger.
func WithRefresherLogger(logger *slog.Logger) RefresherOption {
	return func(r *Refresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRefresher creates a refresher for l. By default refreshes are limited
// to one per second with a burst of one.
func NewRefresher(l Loader, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		lookup:  l,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		trigger: make(chan struct{}, 1),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "refresher", "lookup", l.ID())
	if r.health != nil {
		r.health.Pending(l.ID())
	}
	return r
}

// Trigger asks for a refresh without waiting for it.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Refresh loads the lookup and then its indexes. Callers arriving while a
// refresh is running share its result.
func (r *Refresher) Refresh(ctx context.Context) (bool, error) {
	v, err, _ := r.group.Do(r.lookup.ID(), func() (any, error) {
		changed, err := r.lookup.Load(ctx)
		if err != nil {
			return false, err
		}
		if ir, ok := r.lookup.(IndexRefresher); ok {
			if _, err := ir.RefreshIndexes(); err != nil {
				return changed, err
			}
		}
		return changed, nil
	})
	changed, _ := v.(bool)
	return changed, err
}

// Run performs an initial load and then refreshes on every trigger until
// ctx is cancelled. A fatal error on the initial load ends Run; later
// failures are logged.
func (r *Refresher) Run(ctx context.Context) error {
	if err := r.refresh(ctx, "initial"); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if r.watch && r.lookup.IsMaster() {
		if w, ok := r.watcher(); ok {
			g.Go(func() error {
				return w.Watch(ctx, r.Trigger)
			})
		}
	}

	g.Go(func() error {
		var tick <-chan time.Time
		if r.interval > 0 && !r.lookup.IsMaster() {
			ticker := time.NewTicker(r.interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			var reason string
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
				reason = "interval"
			case <-r.trigger:
				reason = "trigger"
			case change, ok := <-r.changes:
				if !ok {
					r.changes = nil
					continue
				}
				if change.Local() && r.lookup.IsMaster() {
					continue
				}
				reason = "change"
			}

			if err := r.limiter.Wait(ctx); err != nil {
				return nil
			}
			// A failed refresh leaves the last good data in place; the next
			// trigger retries.
			_ = r.refresh(ctx, reason)
		}
	})

	return g.Wait()
}

func (r *Refresher) refresh(ctx context.Context, reason string) error {
	changed, err := r.Refresh(ctx)
	if r.health != nil {
		loaded := r.loaded()
		if err != nil {
			r.health.RecordFailure(r.lookup.ID(), err, loaded)
		} else if loaded {
			r.health.RecordSuccess(r.lookup.ID(), r.lookup.Version())
		}
	}
	if err != nil {
		if errors.IsFatal(err) {
			r.logger.Error("Refresh failed", "reason", reason, "error", err)
			return err
		}
		r.logger.Warn("Refresh failed", "reason", reason, "error", err)
		return nil
	}
	if changed {
		r.logger.Info("Lookup refreshed", "reason", reason, "version", r.lookup.Version())
	} else {
		r.logger.Debug("Lookup unchanged", "reason", reason)
	}
	return nil
}

func (r *Refresher) loaded() bool {
	l, ok := r.lookup.(interface{ IsLoaded() bool })
	return !ok || l.IsLoaded()
}

func (r *Refresher) watcher() (provider.Watcher, bool) {
	p, ok := r.lookup.(interface{ Provider() provider.Provider })
	if !ok {
		return nil, false
	}
	w, ok := p.Provider().(provider.Watcher)
	return w, ok
}
