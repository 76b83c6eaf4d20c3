package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/pkg/retry"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, max time.Duration) (*breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := newBreaker(threshold, time.Second, max)
	b.now = clock.now
	return b, clock
}

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StateDisconnected, client.Status())
	assert.False(t, client.Connected())
}

func TestNewClient_InvalidOption(t *testing.T) {
	_, err := NewClient("nats://localhost:4222", WithTimeout(0))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewClient("nats://localhost:4222", WithCircuitBreaker(0, time.Second))
	assert.Error(t, err)
}

func TestBreaker_OpensAndRecovers(t *testing.T) {
	b, clock := newTestBreaker(3, time.Minute)

	assert.Zero(t, b.fail())
	assert.Zero(t, b.fail())
	assert.False(t, b.isOpen())

	assert.Equal(t, time.Second, b.fail())
	assert.True(t, b.isOpen())
	assert.Zero(t, b.fail(), "failures while open are not counted")

	failures, backoff := b.stats()
	assert.Equal(t, 0, failures)
	assert.Equal(t, 2*time.Second, backoff)

	clock.advance(time.Second)
	assert.False(t, b.isOpen())

	b.fail()
	b.succeed()
	failures, backoff = b.stats()
	assert.Equal(t, 0, failures)
	assert.Equal(t, time.Second, backoff)
}

func TestBreaker_BackoffCapped(t *testing.T) {
	b, clock := newTestBreaker(1, 3*time.Second)

	waits := make([]time.Duration, 0, 4)
	for range 4 {
		wait := b.fail()
		waits = append(waits, wait)
		clock.advance(wait)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, waits)
}

func TestClient_CircuitOpenRejects(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCircuitBreaker(1, time.Minute))
	require.NoError(t, err)

	client.failed()
	assert.Equal(t, StateCircuitOpen, client.Status())

	_, err = client.OpenKV(context.Background(), "lookups", false)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, client.Connect(context.Background()), ErrCircuitOpen)
}

func TestClient_NotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, client.Publish(ctx, "lookup.changed.geoip", []byte("{}")), ErrNotConnected)

	_, err = client.Subscribe(ctx, "lookup.changed.>", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.OpenKV(ctx, "lookups", true)
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.NoError(t, client.Close(ctx))
	assert.NoError(t, client.Close(ctx), "second close is a no-op")
}

func TestClient_ConnectFailure(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(100*time.Millisecond),
		WithConnectRetry(retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	)
	require.NoError(t, err)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StateDisconnected, client.Status())

	failures, _ := client.breaker.stats()
	assert.Equal(t, 2, failures)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "circuit_open", StateCircuitOpen.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.Equal(t, "unknown", State(-1).String())
}
