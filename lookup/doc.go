// Package lookup implements side-loaded reference data for stream pipelines.
//
// A lookup is either a master, which loads from its own source (a file, a
// ZooKeeper znode or a NATS KV key), or a slave, which replicates a master
// over HTTP with conditional requests. Every lookup keeps a local cache file
// and falls back to it while it has not loaded anything yet, so a slave can
// start while its master is down.
//
// The Controller runs that protocol. The data lives in one of three
// variants:
//
//	DictionaryLookup  string keys to JSON values
//	MatrixLookup      named rows in a typed columnar matrix.Matrix
//	IndexLookup       a MatrixLookup with bitmap, tree and slice indexes
//
// A Refresher calls Load on an interval, on change notifications and, for
// masters with a file or KV source, whenever the source changes. The
// Registry makes lookups available to the master HTTP endpoint.
//
// Basic usage:
//
//	geo, err := lookup.NewIndex(lookup.Config{
//		ID:        "geoip",
//		MasterURL: "http://master:8080",
//		UseCache:  true,
//		CacheDir:  "/var/cache/lookups",
//	}, nil, specs, lookup.CompressionZstd, lookup.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	go lookup.NewRefresher(geo, lookup.WithInterval(time.Minute)).Run(ctx)
//
//	matches, err := geo.Lookup("ip", clientIP)
package lookup
