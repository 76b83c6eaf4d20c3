package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/pkg/retry"
)

var (
	ErrKVKeyNotFound = stderrors.New("kv: key not found")
	ErrKVKeyExists   = stderrors.New("kv: key already exists")
)

// KVEntry is a value with the revision it was stored at.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions tunes a KVStore.
type KVOptions struct {
	// Timeout bounds every call except Watch. Zero disables it.
	Timeout time.Duration
	// MaxValueSize rejects larger puts. Zero disables it.
	MaxValueSize int
	// Retry applies to Get only.
	Retry retry.Config
}

// DefaultKVOptions suits lookup payloads of a few megabytes.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		Timeout:      5 * time.Second,
		MaxValueSize: 8 << 20,
		Retry:        retry.Fetch(),
	}
}

// KVStore is one JetStream KV bucket seen through the operations lookup
// providers use. Obtain it from Client.OpenKV.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// Bucket returns the bucket name.
func (kv *KVStore) Bucket() string { return kv.bucket.Bucket() }

// withTimeout runs fn under the store timeout.
func (kv *KVStore) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	if kv.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, kv.options.Timeout)
		defer cancel()
	}
	return fn(ctx)
}

// Get reads key. Transient failures are retried; a missing or deleted key is
// ErrKVKeyNotFound at once.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	return retry.DoWithResult(ctx, kv.options.Retry, func() (*KVEntry, error) {
		var entry jetstream.KeyValueEntry
		err := kv.withTimeout(ctx, func(ctx context.Context) (err error) {
			entry, err = kv.bucket.Get(ctx, key)
			return err
		})
		switch {
		case IsKVNotFoundError(err):
			return nil, ErrKVKeyNotFound
		case err != nil:
			return nil, errors.WrapTransient(err, "KVStore", "Get", "get "+key)
		}
		return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
	})
}

// Put stores value under key whatever its current revision.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if limit := kv.options.MaxValueSize; limit > 0 && len(value) > limit {
		return 0, errors.WrapInvalid(fmt.Errorf("value of %d bytes exceeds the %d byte limit", len(value), limit),
			"KVStore", "Put", "check size")
	}

	var rev uint64
	err := kv.withTimeout(ctx, func(ctx context.Context) (err error) {
		rev, err = kv.bucket.Put(ctx, key, value)
		return err
	})
	if err != nil {
		return 0, errors.WrapTransient(err, "KVStore", "Put", "put "+key)
	}
	kv.logger.Debug("KV put", "key", key, "revision", rev, "bytes", len(value))
	return rev, nil
}

// Create stores value only if key is absent, else ErrKVKeyExists.
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	var rev uint64
	err := kv.withTimeout(ctx, func(ctx context.Context) (err error) {
		rev, err = kv.bucket.Create(ctx, key, value)
		return err
	})
	switch {
	case stderrors.Is(err, jetstream.ErrKeyExists):
		return 0, ErrKVKeyExists
	case err != nil:
		return 0, errors.WrapTransient(err, "KVStore", "Create", "create "+key)
	}
	return rev, nil
}

// Delete removes key.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	err := kv.withTimeout(ctx, func(ctx context.Context) error {
		return kv.bucket.Delete(ctx, key)
	})
	switch {
	case IsKVNotFoundError(err):
		return ErrKVKeyNotFound
	case err != nil:
		return errors.WrapTransient(err, "KVStore", "Delete", "delete "+key)
	}
	return nil
}

// Watch streams updates of keys matching pattern made after the call. It
// lives until ctx is done or the watcher is stopped.
func (kv *KVStore) Watch(ctx context.Context, pattern string) (jetstream.KeyWatcher, error) {
	w, err := kv.bucket.Watch(ctx, pattern, jetstream.UpdatesOnly())
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "Watch", "watch "+pattern)
	}
	return w, nil
}

// IsKVNotFoundError reports whether err means the key does not exist.
// JetStream error code 10037 is "no message found".
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{ErrKVKeyNotFound, jetstream.ErrKeyNotFound, jetstream.ErrKeyDeleted} {
		if stderrors.Is(err, target) {
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}
