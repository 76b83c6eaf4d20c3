package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Load outcomes recorded on LoadsTotal.
const (
	OutcomeFresh       = "fresh"
	OutcomeNotModified = "not_modified"
	OutcomeCache       = "cache"
	OutcomeUnavailable = "unavailable"
	OutcomeUnsupported = "unsupported"
	OutcomeError       = "error"
)

// Metrics contains the metrics shared by every lookup in the process.
type Metrics struct {
	LoadsTotal          *prometheus.CounterVec
	LoadDuration        *prometheus.HistogramVec
	IndexRefreshSeconds *prometheus.HistogramVec
	Rows                *prometheus.GaugeVec
	Notifications       *prometheus.CounterVec
	SaveDuration        prometheus.Histogram

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		LoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lookupkit",
				Subsystem: "lookup",
				Name:      "loads_total",
				Help:      "Lookup load attempts by outcome",
			},
			[]string{"lookup", "outcome"},
		),

		LoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lookupkit",
				Subsystem: "lookup",
				Name:      "load_duration_seconds",
				Help:      "Time spent in a lookup load including provider fetch",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"lookup"},
		),

		IndexRefreshSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lookupkit",
				Subsystem: "lookup",
				Name:      "index_refresh_seconds",
				Help:      "Time spent updating the indexes of a lookup",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"lookup"},
		),

		Rows: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "lookupkit",
				Subsystem: "lookup",
				Name:      "rows",
				Help:      "Open rows or keys currently held by a lookup",
			},
			[]string{"lookup"},
		),

		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lookupkit",
				Subsystem: "lookup",
				Name:      "notifications_total",
				Help:      "Change notifications published per lookup",
			},
			[]string{"lookup"},
		),

		SaveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "lookupkit",
				Subsystem: "lookup",
				Name:      "save_duration_seconds",
				Help:      "Time spent serializing and storing a lookup payload",
				Buckets:   prometheus.DefBuckets,
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "lookupkit",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "lookupkit",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// register adds every metric to r under the "lookup" and "nats" components.
func (c *Metrics) register(r MetricsRegistrar) error {
	steps := []func() error{
		func() error { return r.RegisterCounterVec("lookup", "loads_total", c.LoadsTotal) },
		func() error { return r.RegisterHistogramVec("lookup", "load_duration_seconds", c.LoadDuration) },
		func() error { return r.RegisterHistogramVec("lookup", "index_refresh_seconds", c.IndexRefreshSeconds) },
		func() error { return r.RegisterGaugeVec("lookup", "rows", c.Rows) },
		func() error { return r.RegisterCounterVec("lookup", "notifications_total", c.Notifications) },
		func() error { return r.RegisterHistogram("lookup", "save_duration_seconds", c.SaveDuration) },
		func() error { return r.RegisterGauge("nats", "connected", c.NATSConnected) },
		func() error { return r.RegisterCounter("nats", "reconnects_total", c.NATSReconnects) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// RecordLoad records one load attempt and its duration. Nil-safe.
func (c *Metrics) RecordLoad(lookup, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.LoadsTotal.WithLabelValues(lookup, outcome).Inc()
	c.LoadDuration.WithLabelValues(lookup).Observe(duration.Seconds())
}

// RecordIndexRefresh records the duration of an index update pass. Nil-safe.
func (c *Metrics) RecordIndexRefresh(lookup string, duration time.Duration) {
	if c == nil {
		return
	}
	c.IndexRefreshSeconds.WithLabelValues(lookup).Observe(duration.Seconds())
}

// RecordRows sets the row gauge for a lookup. Nil-safe.
func (c *Metrics) RecordRows(lookup string, rows int) {
	if c == nil {
		return
	}
	c.Rows.WithLabelValues(lookup).Set(float64(rows))
}

// RecordNotification counts a published change notification. Nil-safe.
func (c *Metrics) RecordNotification(lookup string) {
	if c == nil {
		return
	}
	c.Notifications.WithLabelValues(lookup).Inc()
}

// RecordSave records the duration of a successful Save. Nil-safe.
func (c *Metrics) RecordSave(duration time.Duration) {
	if c == nil {
		return
	}
	c.SaveDuration.Observe(duration.Seconds())
}

// RecordNATSStatus records NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

// RecordNATSReconnect increments the NATS reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}
