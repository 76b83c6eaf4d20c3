package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/c360/lookupkit/errors"
)

// zkConn is the part of *zk.Conn the provider uses.
type zkConn interface {
	Get(path string) ([]byte, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Close()
}

// zkWatchRetry is the pause between watch sessions.
var zkWatchRetry = time.Second

type dialFunc func(servers []string, sessionTimeout time.Duration, logger *slog.Logger) (zkConn, error)

func dialZooKeeper(servers []string, sessionTimeout time.Duration, logger *slog.Logger) (zkConn, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(zkLogger{logger}))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// zkLogger routes the client's chatter to slog at debug level.
type zkLogger struct {
	logger *slog.Logger
}

func (l zkLogger) Printf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// ZooKeeper reads one znode. Each Load opens its own session and closes it
// before returning; Watch holds a session of its own.
type ZooKeeper struct {
	raw     string
	servers []string
	path    string
	timeout time.Duration
	dial    dialFunc
	logger  *slog.Logger
}

// NewZooKeeper parses zk://host1:2181,host2:2181/znode/path.
func NewZooKeeper(rawURL string, opts ...Option) (*ZooKeeper, error) {
	o := buildOptions(opts)
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "ZooKeeper", "NewZooKeeper", "parse url")
	}
	var servers []string
	for _, s := range strings.Split(u.Host, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	if len(servers) == 0 || u.Path == "" || u.Path == "/" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s needs hosts and a znode path", errors.ErrInvalidConfig, rawURL),
			"ZooKeeper", "NewZooKeeper", "parse url")
	}
	return &ZooKeeper{
		raw:     rawURL,
		servers: servers,
		path:    u.Path,
		timeout: o.timeout,
		dial:    o.dial,
		logger:  o.logger.With("component", "provider", "provider", rawURL),
	}, nil
}

func (z *ZooKeeper) String() string { return z.raw }

// Servers returns the ensemble addresses.
func (z *ZooKeeper) Servers() []string { return z.servers }

// Path returns the znode path.
func (z *ZooKeeper) Path() string { return z.path }

// Load fetches the znode data. A missing node is ErrNoData, anything else
// ErrUnavailable. The session is closed on every path.
func (z *ZooKeeper) Load(ctx context.Context) ([]byte, error) {
	conn, err := z.dial(z.servers, z.timeout, z.logger)
	if err != nil {
		z.logger.Warn("Failed to connect to ZooKeeper", "error", err)
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrUnavailable, err), "ZooKeeper", "Load", "connect")
	}
	defer conn.Close()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, _, err := conn.Get(z.path)
		done <- result{data: data, err: err}
	}()

	ctx, cancel := context.WithTimeout(ctx, z.timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		z.logger.Warn("ZooKeeper read timed out", "znode", z.path, "timeout", z.timeout)
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrUnavailable, ctx.Err()), "ZooKeeper", "Load", "get znode")
	case r := <-done:
		if r.err != nil {
			if stderrors.Is(r.err, zk.ErrNoNode) {
				return nil, errors.Wrap(fmt.Errorf("%w: znode %s", errors.ErrNoData, z.path), "ZooKeeper", "Load", "get znode")
			}
			z.logger.Warn("ZooKeeper read failed", "znode", z.path, "error", r.err)
			return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrUnavailable, r.err), "ZooKeeper", "Load", "get znode")
		}
		if len(r.data) == 0 {
			return nil, errors.Wrap(fmt.Errorf("%w: znode %s is empty", errors.ErrNoData, z.path), "ZooKeeper", "Load", "get znode")
		}
		return r.data, nil
	}
}

// Save is not supported.
func (z *ZooKeeper) Save(context.Context, []byte) error {
	return errors.WrapInvalid(errors.ErrNotSupported, "ZooKeeper", "Save", "save payload")
}

// Watch calls fn whenever the znode is created or its data changes. The
// watch is re-armed after every event and a lost session is replaced until
// ctx ends.
func (z *ZooKeeper) Watch(ctx context.Context, fn func()) error {
	for {
		err := z.watchSession(ctx, fn)
		if ctx.Err() != nil {
			return nil
		}
		z.logger.Warn("ZooKeeper watch interrupted", "znode", z.path, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(zkWatchRetry):
		}
	}
}

func (z *ZooKeeper) watchSession(ctx context.Context, fn func()) error {
	conn, err := z.dial(z.servers, z.timeout, z.logger)
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrUnavailable, err), "ZooKeeper", "Watch", "connect")
	}
	defer conn.Close()

	for {
		_, _, events, err := conn.ExistsW(z.path)
		if err != nil {
			return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrUnavailable, err), "ZooKeeper", "Watch", "set watch")
		}

		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return errors.WrapTransient(errors.ErrUnavailable, "ZooKeeper", "Watch", "watch closed")
			}
			switch ev.Type {
			case zk.EventNodeCreated, zk.EventNodeDataChanged:
				fn()
			case zk.EventNotWatching:
				return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrUnavailable, ev.Err), "ZooKeeper", "Watch", "watch dropped")
			}
		}
	}
}
