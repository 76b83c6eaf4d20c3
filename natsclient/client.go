package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/pkg/retry"
)

// State is the connection state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateCircuitOpen is reported while the breaker rejects work,
	// whatever the underlying connection does.
	StateCircuitOpen
)

var stateNames = [...]string{"disconnected", "connecting", "connected", "reconnecting", "circuit_open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// Client owns the NATS connection of a process. Lookup providers read and
// write KV buckets through it and notifiers publish lookup changes on it.
type Client struct {
	url     string
	cfg     clientConfig
	logger  *slog.Logger
	breaker *breaker
	state   atomic.Int32
	closed  atomic.Bool

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription
}

// NewClient prepares a client for url, a comma-separated server list. It does
// not dial; call Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	return &Client{
		url:     url,
		cfg:     cfg,
		logger:  cfg.logger.With("component", "natsclient", "url", url),
		breaker: newBreaker(cfg.breakerThreshold, time.Second, cfg.breakerMax),
	}, nil
}

// URL returns the server list the client dials.
func (c *Client) URL() string { return c.url }

// Status returns the connection state.
func (c *Client) Status() State {
	if c.breaker.isOpen() {
		return StateCircuitOpen
	}
	return State(c.state.Load())
}

// Connected reports whether the connection is up and the breaker closed.
func (c *Client) Connected() bool { return c.Status() == StateConnected }

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	c.cfg.metrics.RecordNATSStatus(s == StateConnected)
}

func (c *Client) natsOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.cfg.maxReconnects),
		nats.ReconnectWait(c.cfg.reconnectWait),
		nats.PingInterval(c.cfg.pingInterval),
		nats.Timeout(c.cfg.dialTimeout),
		nats.DrainTimeout(c.cfg.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.setState(StateReconnecting)
			if err != nil {
				c.logger.Warn("NATS disconnected", "error", err)
			}
			c.health(false)
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			c.setState(StateConnected)
			c.breaker.succeed()
			c.cfg.metrics.RecordNATSReconnect()
			c.logger.Info("NATS reconnected")
			c.health(true)
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			c.setState(StateDisconnected)
			c.health(false)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				c.logger.Error("NATS subscription error", "subject", sub.Subject, "error", err)
				return
			}
			c.logger.Error("NATS error", "error", err)
		}),
	}
	if c.cfg.name != "" {
		opts = append(opts, nats.Name(c.cfg.name))
	}
	return append(opts, c.cfg.auth...)
}

func (c *Client) health(connected bool) {
	if fn := c.cfg.onHealth; fn != nil {
		go fn(connected)
	}
}

// failed feeds the breaker and logs when it opens.
func (c *Client) failed() {
	if wait := c.breaker.fail(); wait > 0 {
		c.logger.Warn("Circuit breaker opened", "backoff", wait)
	}
}

// Connect dials the servers, retrying transient failures, and opens the
// JetStream context.
func (c *Client) Connect(ctx context.Context) error {
	if c.breaker.isOpen() {
		return ErrCircuitOpen
	}

	c.setState(StateConnecting)
	c.logger.Info("Connecting to NATS")

	opts := c.natsOptions()
	conn, err := retry.DoWithResult(ctx, c.cfg.connectRetry, func() (*nats.Conn, error) {
		conn, err := nats.Connect(c.url, opts...)
		if err == nil {
			return conn, nil
		}
		c.failed()
		if c.breaker.isOpen() {
			return nil, retry.NonRetryable(ErrCircuitOpen)
		}
		return nil, err
	})
	if err != nil {
		c.setState(StateDisconnected)
		if stderrors.Is(err, ErrCircuitOpen) {
			return ErrCircuitOpen
		}
		return errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		c.setState(StateDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "initialize jetstream")
	}

	c.mu.Lock()
	c.conn, c.js = conn, js
	c.mu.Unlock()

	c.breaker.succeed()
	c.setState(StateConnected)
	c.logger.Info("Connected to NATS")
	c.health(true)
	return nil
}

// Close removes the subscriptions and drains the connection, waiting at most
// the drain timeout or until ctx is done. Later calls do nothing.
func (c *Client) Close(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}

	c.mu.Lock()
	conn, subs := c.conn, c.subs
	c.conn, c.js, c.subs = nil, nil, nil
	c.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrBadSubscription) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe "+sub.Subject))
		}
	}

	if conn != nil {
		if err := drain(ctx, conn, c.cfg.drainTimeout); err != nil {
			errs = append(errs, err)
		}
		conn.Close()
	}

	c.setState(StateDisconnected)
	return stderrors.Join(errs...)
}

func drain(ctx context.Context, conn *nats.Conn, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- conn.Drain() }()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "Client", "Close", "drain connection")
		}
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Client", "Close", "drain connection")
	}
}

func (c *Client) connection() (*nats.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil || !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// Publish sends data on subject.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	return conn.Publish(subject, data)
}

// Subscribe calls handler for every message on subject, with a context
// derived from ctx that expires after 30 seconds. The returned function
// unsubscribes.
func (c *Client) Subscribe(ctx context.Context, subject string,
	handler func(context.Context, []byte)) (func() error, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub.Unsubscribe, nil
}

// JetStream returns the JetStream context of the connection.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	if c.breaker.isOpen() {
		return nil, ErrCircuitOpen
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, ErrNotConnected
	}
	return c.js, nil
}

// OpenKV returns a KVStore on bucket. With create set a missing bucket is
// made, keeping one revision per key; otherwise the error wraps
// jetstream.ErrBucketNotFound.
func (c *Client) OpenKV(ctx context.Context, bucket string, create bool, opts ...func(*KVOptions)) (*KVStore, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}

	kv, err := js.KeyValue(ctx, bucket)
	if err != nil && create && stderrors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "lookup payloads",
			History:     1,
		})
		if isBucketExists(err) {
			// Another process created it first.
			kv, err = js.KeyValue(ctx, bucket)
		}
		if err == nil {
			c.logger.Info("Created KV bucket", "bucket", bucket)
		}
	}
	if err != nil {
		if stderrors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, errors.Wrap(err, "Client", "OpenKV", "open bucket "+bucket)
		}
		c.failed()
		return nil, errors.WrapTransient(err, "Client", "OpenKV", fmt.Sprintf("open bucket %s", bucket))
	}

	return &KVStore{
		bucket:  kv,
		options: options,
		logger:  c.logger.With("bucket", bucket),
	}, nil
}

func isBucketExists(err error) bool {
	if err == nil {
		return false
	}
	return stderrors.Is(err, jetstream.ErrBucketExists) ||
		stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) ||
		strings.Contains(err.Error(), "already in use")
}
