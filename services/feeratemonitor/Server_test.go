package feeratemonitor

import (
	"context"
	"testing"
	"time"

	"github.com/nodekeeper/nodekeeper/events"
	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/simnode"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, enabled bool, interval time.Duration) (*Server, *events.Channel) {
	t.Helper()

	ch := events.NewChannel(64)
	s := New(ulogger.TestLogger{}, &settings.Settings{
		FeeRateMonitor: settings.FeeRateMonitorSettings{Enabled: enabled, PollInterval: interval},
	}, ch)

	go func() { _ = s.Spawn(context.Background()) }()

	t.Cleanup(func() {
		s.Terminate()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		require.NoError(t, s.Join(ctx))
	})

	return s, ch
}

func connectedRPC() *rpc.Rpc {
	r := rpc.New(simnode.New(ulogger.TestLogger{}, simnode.Options{Network: settings.Mainnet}), nil)
	r.Ctl.SignalOpen()

	return r
}

func nextFeerate(t *testing.T, ch *events.Channel) events.Feerate {
	t.Helper()

	for {
		select {
		case e := <-ch.Receiver():
			if f, ok := e.(events.Feerate); ok {
				return f
			}
		case <-time.After(time.Second):
			require.FailNow(t, "no feerate event")
		}
	}
}

func TestServer_PublishesEstimates(t *testing.T) {
	s, ch := newTestServer(t, true, 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.AttachRPC(ctx, connectedRPC()))

	f := nextFeerate(t, ch)
	require.NotNil(t, f.Estimate)
	assert.GreaterOrEqual(t, f.Estimate.PriorityBucket.Feerate, 1.0)
	assert.NotNil(t, s.Estimate())

	require.NoError(t, s.DetachRPC(ctx))
	assert.Nil(t, s.Estimate())

	require.Eventually(t, func() bool {
		select {
		case e := <-ch.Receiver():
			f, ok := e.(events.Feerate)
			return ok && f.Estimate == nil
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestServer_EnableFetchesImmediately(t *testing.T) {
	s, ch := newTestServer(t, false, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.AttachRPC(ctx, connectedRPC()))

	s.Fetch()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, uint64(0), s.Fetches())

	s.Enable()
	f := nextFeerate(t, ch)
	require.NotNil(t, f.Estimate)
	assert.Equal(t, uint64(1), s.Fetches())

	s.Fetch()
	require.NotNil(t, nextFeerate(t, ch).Estimate)
	assert.Equal(t, uint64(2), s.Fetches())

	s.Disable()
	assert.Nil(t, nextFeerate(t, ch).Estimate)
	assert.False(t, s.IsEnabled())
	assert.Nil(t, s.Estimate())
}

func TestServer_SkipsWhileDisconnected(t *testing.T) {
	s, _ := newTestServer(t, true, 10*time.Millisecond)

	r := connectedRPC()
	r.Ctl.SignalClose()

	require.NoError(t, s.AttachRPC(context.Background(), r))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(0), s.Fetches())

	r.Ctl.SignalOpen()
	require.Eventually(t, func() bool { return s.Fetches() > 0 }, time.Second, time.Millisecond)
}
