// Package config loads the configuration of a lookupd process.
//
// Files may be JSON or YAML and are merged in layers over DefaultConfig:
// maps merge key by key, lists (such as lookups) are replaced whole.
// Environment variables prefixed LOOKUPKIT_ override connection settings:
//
//	LOOKUPKIT_CACHE_DIR       cache directory
//	LOOKUPKIT_NATS_URLS       comma separated NATS URLs
//	LOOKUPKIT_NATS_USERNAME   NATS user
//	LOOKUPKIT_NATS_PASSWORD   NATS password
//	LOOKUPKIT_NATS_TOKEN      NATS token
//	LOOKUPKIT_SERVER_LISTEN   master endpoint listen address
//	LOOKUPKIT_METRICS_LISTEN  metrics listen address
//
// A minimal YAML file:
//
//	cache_dir: /var/lib/lookupkit
//	lookups:
//	  - id: ip2geo
//	    kind: index
//	    source: /srv/data/ip2geo.bin
//	    watch: true
//	    compression: zstd
//	    columns:
//	      - {name: start, type: uint32}
//	      - {name: end, type: uint32}
//	      - {name: country, type: bytes, width: 2}
//	    indexes:
//	      - {name: ip, kind: tree, start: start, end: end}
//	  - id: ip2geo-replica
//	    kind: index
//	    master_url: http://master:8080
//	    master_lookup_id: ip2geo
//	    master_timeout: 5s
//	    refresh_interval: 1m
//
// Durations are strings such as "30s" or integer nanoseconds. Per-lookup
// master_url_endpoint, master_timeout and cache_dir default to the server
// endpoint, 10s and the top-level cache_dir.
package config
