package provider

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lookupkit/errors"
)

type fakeZK struct {
	data   []byte
	err    error
	block  chan struct{}
	closed int
	path   string

	mu      sync.Mutex
	events  chan zk.Event
	watches int
}

func (f *fakeZK) Get(path string) ([]byte, *zk.Stat, error) {
	f.path = path
	if f.block != nil {
		<-f.block
	}
	return f.data, &zk.Stat{}, f.err
}

func (f *fakeZK) ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.path = path
	f.watches++
	return true, &zk.Stat{}, f.events, nil
}

func (f *fakeZK) watchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watches
}

func (f *fakeZK) Close() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func newTestZooKeeper(t *testing.T, conn *fakeZK, dialErr error) *ZooKeeper {
	t.Helper()
	z, err := NewZooKeeper("zk://zk1:2181,zk2:2181/lookups/geo", WithLogger(testLogger()), WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	z.dial = func(servers []string, timeout time.Duration, _ *slog.Logger) (zkConn, error) {
		assert.Equal(t, []string{"zk1:2181", "zk2:2181"}, servers)
		assert.Equal(t, 50*time.Millisecond, timeout)
		if dialErr != nil {
			return nil, dialErr
		}
		return conn, nil
	}
	return z
}

func TestZooKeeper_Load(t *testing.T) {
	conn := &fakeZK{data: []byte("payload")}
	z := newTestZooKeeper(t, conn, nil)

	data, err := z.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, "/lookups/geo", conn.path)
	assert.Equal(t, 1, conn.closed)
}

func TestZooKeeper_ClosesOnEveryPath(t *testing.T) {
	tests := []struct {
		name string
		conn *fakeZK
		want error
	}{
		{"missing node", &fakeZK{err: zk.ErrNoNode}, errors.ErrNoData},
		{"empty node", &fakeZK{}, errors.ErrNoData},
		{"session expired", &fakeZK{err: zk.ErrSessionExpired}, errors.ErrUnavailable},
		{"timeout", &fakeZK{block: make(chan struct{})}, errors.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			z := newTestZooKeeper(t, tt.conn, nil)
			_, err := z.Load(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, tt.conn.closed)
			if tt.conn.block != nil {
				close(tt.conn.block)
			}
		})
	}
}

func TestZooKeeper_DialFailure(t *testing.T) {
	z := newTestZooKeeper(t, nil, stderrors.New("no servers"))
	_, err := z.Load(context.Background())
	assert.ErrorIs(t, err, errors.ErrUnavailable)
	assert.True(t, errors.IsTransient(err))
}

func TestZooKeeper_SaveNotSupported(t *testing.T) {
	z := newTestZooKeeper(t, &fakeZK{}, nil)
	assert.ErrorIs(t, z.Save(context.Background(), []byte("x")), errors.ErrNotSupported)
}

func TestZooKeeper_Watch(t *testing.T) {
	conn := &fakeZK{events: make(chan zk.Event)}
	z := newTestZooKeeper(t, conn, nil)

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- z.Watch(ctx, func() { calls.Add(1) }) }()

	conn.events <- zk.Event{Type: zk.EventNodeDataChanged, Path: "/lookups/geo"}
	conn.events <- zk.Event{Type: zk.EventNodeChildrenChanged, Path: "/lookups/geo"}
	conn.events <- zk.Event{Type: zk.EventNodeCreated, Path: "/lookups/geo"}
	require.Eventually(t, func() bool { return conn.watchCount() == 4 }, time.Second, 5*time.Millisecond, "watch re-armed after every event")
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "/lookups/geo", conn.path)

	cancel()
	assert.NoError(t, <-done)
	conn.mu.Lock()
	assert.Equal(t, 1, conn.closed)
	conn.mu.Unlock()
}

func TestZooKeeper_WatchReconnects(t *testing.T) {
	old := zkWatchRetry
	zkWatchRetry = time.Millisecond
	t.Cleanup(func() { zkWatchRetry = old })

	conn := &fakeZK{events: make(chan zk.Event)}
	z := newTestZooKeeper(t, conn, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- z.Watch(ctx, func() {}) }()

	conn.events <- zk.Event{Type: zk.EventNotWatching, Err: zk.ErrSessionExpired}
	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.closed == 1 && conn.watches == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
