// Package natsclient manages the NATS connection shared by lookup providers
// and change notifiers.
//
// Client wraps a *nats.Conn and its JetStream context. Connect retries
// transient dial failures with pkg/retry. Consecutive failures open a circuit
// breaker; while it is open Connect and OpenKV fail fast with ErrCircuitOpen. Logging goes
// through the injected *slog.Logger and connection health is reported on the
// metric registry when WithMetrics is set.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithLogger(logger),
//		natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(context.Background())
//
// OpenKV narrows a JetStream KeyValue bucket to the operations a lookup
// provider needs. Get retries transient failures and maps a missing key to
// ErrKVKeyNotFound:
//
//	kv, err := client.OpenKV(ctx, "lookups", true)
//	entry, err := kv.Get(ctx, "geoip")
//
// TestClient starts a NATS server in a container for tests built with the
// integration tag.
package natsclient
