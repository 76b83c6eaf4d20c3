// Package remote provides lookups that answer each key by asking a remote
// system, with a bounded result cache in front of the round trip.
//
// A remote lookup has no replication payload: Serialize reports
// ErrNotSupported, so a master answers 501 for it and slaves keep querying
// the remote system themselves.
//
//	fetch := remote.NewSQLFetcher(db, "SELECT country FROM ip2geo WHERE ip = ?")
//	l, err := remote.New("ip2geo", fetch, cache.Config{Enabled: true, MaxSize: 10000, MaxDuration: time.Minute})
//	country, found, err := l.Get(ctx, "192.0.2.1")
package remote
