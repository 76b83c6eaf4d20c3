//go:build integration

package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/natsclient"
)

func TestNATSKV_Integration(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := New("nats://lookups/geo/v1", WithNATSClient(tc.Client), WithLogger(testLogger()))
	require.NoError(t, err)
	kv := p.(*NATSKV)
	assert.Equal(t, "geo.v1", kv.Key())

	_, err = kv.Load(ctx)
	assert.ErrorIs(t, err, errors.ErrNoData)

	changed := make(chan struct{}, 4)
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	require.NoError(t, kv.Save(ctx, []byte("first")))
	go func() { _ = kv.Watch(watchCtx, func() { changed <- struct{}{} }) }()

	data, err := kv.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	require.Eventually(t, func() bool {
		_ = kv.Save(ctx, []byte("second"))
		select {
		case <-changed:
			return true
		default:
			return false
		}
	}, 10*time.Second, 100*time.Millisecond)

	data, err = kv.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}
