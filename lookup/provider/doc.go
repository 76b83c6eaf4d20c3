// Package provider implements the sources a lookup loads its serialized
// payload from and the local cache it falls back to.
//
// A Provider either returns bytes or an error that says why there are none.
// The error values come from the errors package and drive the controller's
// fallback decisions:
//
//	ErrNoData          nothing stored (missing file, znode or KV key)
//	ErrNotModified     HTTP 304, the caller already holds the current data
//	ErrNotSupported    HTTP 501 or a read-only provider, never retried
//	ErrUnavailable     transport failure, timeout, 404 or other status
//	ErrCacheCorrupted  cache file unreadable or malformed, already deleted
//
// Providers are selected by URL with New:
//
//	/var/lib/lookups/geo.mp            FileSystem
//	file:///var/lib/lookups/geo.mp     FileSystem
//	http://master:8080/lookup/geo      HTTP with conditional GET
//	zk://zk1:2181,zk2:2181/lookups/geo ZooKeeper znode
//	nats://lookups/geo                 NATS JetStream KV key
//
// The HTTP provider pairs with an ETagCache whose file stores the last ETag
// in front of the payload, so a restarted slave can still send a
// conditional request.
package provider
