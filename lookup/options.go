package lookup

import (
	"log/slog"

	"github.com/c360/lookupkit/lookup/provider"
	"github.com/c360/lookupkit/metric"
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNotifier publishes a Change after every successful load or local
// mutation.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		c.notifier = n
	}
}

// WithMetrics records load outcomes and row counts.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(c *Controller) {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
	}
}

// WithProviderOptions passes options to the providers the controller builds.
func WithProviderOptions(opts ...provider.Option) Option {
	return func(c *Controller) {
		c.providerOpts = append(c.providerOpts, opts...)
	}
}

// WithProvider overrides the provider chosen from the configuration.
func WithProvider(p provider.Provider) Option {
	return func(c *Controller) {
		c.provider = p
	}
}

// WithLocalCache overrides the local cache chosen from the configuration.
func WithLocalCache(p provider.Provider) Option {
	return func(c *Controller) {
		c.cache = p
	}
}
