package peermonitor

import (
	"context"
	"testing"
	"time"

	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/simnode"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, enabled bool) *Server {
	t.Helper()

	s := New(ulogger.TestLogger{}, &settings.Settings{
		PeerMonitor: settings.PeerMonitorSettings{Enabled: enabled, PollInterval: 10 * time.Millisecond},
	})

	go func() { _ = s.Spawn(context.Background()) }()

	t.Cleanup(func() {
		s.Terminate()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		require.NoError(t, s.Join(ctx))
	})

	return s
}

func connectedRPC() *rpc.Rpc {
	node := simnode.New(ulogger.TestLogger{}, simnode.Options{
		Network:  settings.Mainnet,
		Settings: settings.SimNodeSettings{PeerCount: 3},
	})

	r := rpc.New(node, nil)
	r.Ctl.SignalOpen()

	return r
}

func TestServer_PollsWhenEnabled(t *testing.T) {
	s := newTestServer(t, true)
	ctx := context.Background()

	require.NoError(t, s.AttachRPC(ctx, connectedRPC()))
	require.Eventually(t, func() bool { return len(s.Peers()) == 3 }, time.Second, time.Millisecond)
	assert.False(t, s.Updated().IsZero())

	require.NoError(t, s.DetachRPC(ctx))
	assert.Empty(t, s.Peers())

	polls := s.Polls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, polls, s.Polls())
	assert.Empty(t, s.Peers())
}

func TestServer_DisableClearsAndEnableResumes(t *testing.T) {
	s := newTestServer(t, false)
	ctx := context.Background()

	require.NoError(t, s.AttachRPC(ctx, connectedRPC()))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, s.Peers())
	assert.Equal(t, uint64(0), s.Polls())

	s.Enable()
	require.Eventually(t, func() bool { return len(s.Peers()) == 3 }, time.Second, time.Millisecond)
	assert.True(t, s.IsEnabled())

	s.Disable()
	require.Eventually(t, func() bool { return !s.IsEnabled() && len(s.Peers()) == 0 }, time.Second, time.Millisecond)

	s.Enable()
	require.Eventually(t, func() bool { return len(s.Peers()) == 3 }, time.Second, time.Millisecond)
}

func TestServer_SkipsWhileDisconnected(t *testing.T) {
	s := newTestServer(t, true)
	ctx := context.Background()

	r := connectedRPC()
	r.Ctl.SignalClose()

	require.NoError(t, s.AttachRPC(ctx, r))
	require.NoError(t, s.ConnectRPC(ctx))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(0), s.Polls())

	r.Ctl.SignalOpen()
	require.Eventually(t, func() bool { return s.Polls() > 0 }, time.Second, time.Millisecond)
	require.NoError(t, s.DisconnectRPC(ctx))
}
