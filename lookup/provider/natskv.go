package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/natsclient"
	"github.com/c360/lookupkit/pkg/retry"
)

// NATSKV keeps the payload under one key of a JetStream KV bucket:
// nats://bucket/key.
type NATSKV struct {
	raw       string
	bucket    string
	key       string
	client    *natsclient.Client
	kvOptions []func(*natsclient.KVOptions)
	logger    *slog.Logger

	mu    sync.Mutex
	store *natsclient.KVStore
}

// NewNATSKV parses nats://bucket/key. The connection comes from
// WithNATSClient.
func NewNATSKV(rawURL string, opts ...Option) (*NATSKV, error) {
	o := buildOptions(opts)
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "NATSKV", "NewNATSKV", "parse url")
	}
	key := strings.Trim(u.Path, "/")
	if u.Host == "" || key == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s needs a bucket and a key", errors.ErrInvalidConfig, rawURL),
			"NATSKV", "NewNATSKV", "parse url")
	}
	if o.nats == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s needs a NATS client", errors.ErrMissingConfig, rawURL),
			"NATSKV", "NewNATSKV", "check client")
	}
	return &NATSKV{
		raw:       rawURL,
		bucket:    u.Host,
		key:       strings.ReplaceAll(key, "/", "."),
		client:    o.nats,
		kvOptions: o.kvOptions,
		logger:    o.logger.With("component", "provider", "provider", rawURL),
	}, nil
}

func (n *NATSKV) String() string { return n.raw }

// Key returns the KV key holding the payload.
func (n *NATSKV) Key() string { return n.key }

// kv opens the bucket on first use. create makes it when missing.
func (n *NATSKV) kv(ctx context.Context, create bool) (*natsclient.KVStore, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.store != nil {
		return n.store, nil
	}

	store, err := n.client.OpenKV(ctx, n.bucket, create, n.kvOptions...)
	if err != nil {
		return nil, err
	}
	n.store = store
	return n.store, nil
}

// Load reads the key, retrying transient failures briefly. A missing bucket
// or key is ErrNoData.
func (n *NATSKV) Load(ctx context.Context) ([]byte, error) {
	data, err := retry.DoWithResult(ctx, retry.Fetch(), func() ([]byte, error) {
		return n.loadOnce(ctx)
	})
	if err != nil && !errors.IsNoData(err) {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrUnavailable, err), "NATSKV", "Load", "read key")
	}
	return data, err
}

func (n *NATSKV) loadOnce(ctx context.Context) ([]byte, error) {
	store, err := n.kv(ctx, false)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, errors.Wrap(fmt.Errorf("%w: bucket %s", errors.ErrNoData, n.bucket), "NATSKV", "Load", "open bucket")
		}
		n.logger.Warn("Failed to open KV bucket", "error", err)
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrUnavailable, err), "NATSKV", "Load", "open bucket")
	}

	entry, err := store.Get(ctx, n.key)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.Wrap(fmt.Errorf("%w: key %s", errors.ErrNoData, n.key), "NATSKV", "Load", "get key")
		}
		n.logger.Warn("Failed to read KV key", "key", n.key, "error", err)
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrUnavailable, err), "NATSKV", "Load", "get key")
	}
	return entry.Value, nil
}

// Save puts data under the key, creating the bucket if needed.
func (n *NATSKV) Save(ctx context.Context, data []byte) error {
	store, err := n.kv(ctx, true)
	if err != nil {
		return errors.WrapTransient(err, "NATSKV", "Save", "open bucket")
	}
	if _, err := store.Put(ctx, n.key, data); err != nil {
		return errors.Wrap(err, "NATSKV", "Save", "put key")
	}
	return nil
}

// Watch calls fn whenever the key is updated.
func (n *NATSKV) Watch(ctx context.Context, fn func()) error {
	store, err := n.kv(ctx, true)
	if err != nil {
		return errors.WrapTransient(err, "NATSKV", "Watch", "open bucket")
	}
	watcher, err := store.Watch(ctx, n.key)
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-watcher.Updates():
			if !ok {
				return nil
			}
			if entry == nil || entry.Operation() != jetstream.KeyValuePut {
				continue
			}
			fn()
		}
	}
}
