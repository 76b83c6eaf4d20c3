// Package health tracks the refresh health of lookups and serves it as JSON.
//
// Every lookup has one Status in a Monitor. A lookup is healthy once its
// last refresh succeeded, degraded while it has no data yet or while it
// serves stale data after a failed refresh. It is unhealthy when a fatal
// error, such as a payload that cannot be decoded, leaves it without data.
//
//	monitor := health.NewMonitor()
//	monitor.Pending("countries")
//	monitor.RecordSuccess("countries", 3)
//	monitor.RecordFailure("countries", err, true)
//
//	mux.Handle("/health", monitor.Handler("lookupd"))
//
// The handler answers 200 for healthy and degraded systems and 503 when any
// lookup is unhealthy. Error messages are sanitized before they are stored:
// URLs, paths, addresses and credentials never reach the response.
package health
