// Package server serves lookups to slaves.
//
// A master exposes every registered lookup at GET <endpoint><id>. The body is
// the lookup's replication payload and the ETag is a murmur3 digest of it, so
// a slave that sends back the ETag it last saw gets 304 until the data
// changes. Lookups that cannot be replicated answer 501, which slaves treat
// as permanent. A lookup that has not loaded yet answers 503.
package server
