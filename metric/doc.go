// Package metric provides the Prometheus registry and HTTP exposition used by
// lookupkit processes.
//
// MetricsRegistry wraps a private prometheus.Registry. It pre-registers the
// shared lookup metrics (Metrics: load outcomes, load and index refresh
// latency, row counts, change notifications, NATS connection health) and the
// Go runtime collectors. Components register their own collectors through
// the MetricsRegistrar interface, keyed by component and metric name so a
// second registration of the same pair fails with an invalid-class error:
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordLoad("geoip", metric.OutcomeFresh, elapsed)
//
//	hits := prometheus.NewCounter(prometheus.CounterOpts{Name: "geoip_hits_total"})
//	if err := registry.RegisterCounter("geoip", "hits", hits); err != nil {
//		return err
//	}
//
// Server exposes the registry on /metrics together with a /health endpoint.
// Processes that already run an HTTP server mount registry.Handler() instead.
package metric
