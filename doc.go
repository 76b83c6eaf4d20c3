// Package lookupkit provides side-loaded reference data for stream
// processing: dictionaries, typed matrices and indexed interval tables that
// are loaded from a source, replicated from master to slave processes and
// queried in memory.
//
// # Architecture
//
// A lookup is a master or a slave. Masters load from their own source:
//
//	/path/to/file.json      filesystem, watched with fsnotify
//	zk://host:2181/node     ZooKeeper znode, watched with a data watch
//	nats://bucket/key       NATS JetStream KV entry, watched with a KV watcher
//
// Slaves fetch the serialized data of a master over HTTP with ETag based
// conditional requests. Every lookup writes what it loaded to a local cache
// file and falls back to it on a cold start, so slaves come up while their
// master is unreachable.
//
// # Packages
//
//	lookup           Controller, variants, Registry, Refresher, change notifiers
//	lookup/matrix    columnar matrix with tombstones and a binary codec
//	lookup/index     bitmap, tree range and slice indexes over a matrix
//	lookup/provider  filesystem, HTTP, ZooKeeper and NATS KV providers
//	lookup/remote    lookups answered by a remote store behind a result cache
//	lookup/server    master HTTP endpoint and server
//	pkg/cache        LRU and TTL result caches
//	pkg/retry        exponential backoff for transient failures
//	pkg/security     TLS settings
//	pkg/tlsutil      TLS configuration for servers and clients
//	config           YAML and JSON configuration of lookupd
//	errors           classified errors (transient, invalid, fatal)
//	health           refresh health of lookups
//	metric           Prometheus registry and metrics server
//	natsclient       NATS connection, KV buckets and test containers
//
// # Command
//
// cmd/lookupd runs the lookups of a configuration file, serves masters over
// HTTP and publishes changes on NATS when configured:
//
//	lookupd -config /etc/lookupd/lookupd.yaml
//
// # Errors
//
// Errors are classified through the errors package. Transient errors (an
// unreachable master, a ZooKeeper session loss) are retried or logged and
// the last good data keeps being served. Fatal errors (a payload that does
// not decode, overlapping intervals) stop the initial load of a lookup.
package lookupkit
