package chainmonitor

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
	"go.uber.org/atomic"
)

type countingRequester struct {
	n atomic.Int32
}

func (c *countingRequester) RequestRepaint() { c.n.Inc() }

func testSettings(enabled bool, window uint64) *settings.Settings {
	return &settings.Settings{
		ChainMonitor: settings.ChainMonitorSettings{
			Enabled:         enabled,
			RetentionWindow: window,
			YScale:          10,
			YDist:           7,
			BalanceVSPC:     true,
			ResetVSPC:       true,
		},
	}
}

func newSimNode() *simnode.Node {
	return simnode.New(ulogger.TestLogger{}, simnode.Options{
		Network: settings.Mainnet,
		Seed:    7,
		Settings: settings.SimNodeSettings{
			ParentsPerBlock: 2,
			PeerCount:       1,
		},
	})
}

func startServer(t *testing.T, s *Server) {
	t.Helper()

	go func() { _ = s.Spawn(context.Background()) }()

	t.Cleanup(func() {
		s.Terminate()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		require.NoError(t, s.Join(ctx))
	})
}

func TestServer_ListensWhenEnabledAndConnected(t *testing.T) {
	ctx := context.Background()
	node := newSimNode()
	req := &countingRequester{}
	s := New(ulogger.TestLogger{}, testSettings(true, 20), req)
	startServer(t, s)

	require.NoError(t, s.AttachRPC(ctx, rpc.New(node, nil)))
	assert.False(t, s.IsListening())

	require.NoError(t, s.ConnectRPC(ctx))
	assert.True(t, s.IsListening())
	assert.Equal(t, 1, node.Listeners())

	for i := 0; i < 30; i++ {
		node.Step()
	}

	require.Eventually(t, func() bool {
		var newest uint64

		s.View(func(c *Chain) { newest, _ = c.NewestScore() })

		return newest == 30
	}, 2*time.Second, 5*time.Millisecond)

	s.View(func(c *Chain) {
		oldest, _ := c.OldestScore()
		assert.Equal(t, uint64(10), oldest)
		assert.NotEmpty(t, c.VSPCSet())
	})

	assert.Positive(t, req.n.Load())
	assert.NotEmpty(t, s.Render())

	require.NoError(t, s.DisconnectRPC(ctx))
	assert.False(t, s.IsListening())
	assert.True(t, s.IsEnabled())
	assert.Equal(t, 0, node.Listeners())

	require.NoError(t, s.ConnectRPC(ctx))
	assert.True(t, s.IsListening())
	assert.Equal(t, 1, node.Listeners())

	require.NoError(t, s.DetachRPC(ctx))
	assert.False(t, s.IsListening())
	assert.Equal(t, 0, node.Listeners())
}

func TestServer_DisableEnableDoesNotLeakListeners(t *testing.T) {
	ctx := context.Background()
	node := newSimNode()
	s := New(ulogger.TestLogger{}, testSettings(false, 20), nil)
	startServer(t, s)

	require.NoError(t, s.AttachRPC(ctx, rpc.New(node, nil)))
	require.NoError(t, s.ConnectRPC(ctx))
	assert.False(t, s.IsListening())

	for i := 0; i < 3; i++ {
		s.Enable()
		require.Eventually(t, s.IsListening, time.Second, time.Millisecond)
		assert.Equal(t, 1, node.Listeners())

		s.Enable()
		s.Disable()
		require.Eventually(t, func() bool { return !s.IsListening() }, time.Second, time.Millisecond)
		assert.Equal(t, 0, node.Listeners())
	}

	s.Enable()
	require.Eventually(t, s.IsListening, time.Second, time.Millisecond)

	node.Step()
	require.Eventually(t, func() bool {
		var blocks int

		s.View(func(c *Chain) { blocks = c.BlockCount() })

		return blocks > 0
	}, time.Second, time.Millisecond)
}

func TestServer_AttachResetsWindow(t *testing.T) {
	ctx := context.Background()
	node := newSimNode()
	s := New(ulogger.TestLogger{}, testSettings(true, 50), nil)
	startServer(t, s)

	require.NoError(t, s.AttachRPC(ctx, rpc.New(node, nil)))
	require.NoError(t, s.ConnectRPC(ctx))

	node.Step()
	require.Eventually(t, func() bool {
		var n int

		s.View(func(c *Chain) { n = c.Len() })

		return n == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, s.DetachRPC(ctx))
	require.NoError(t, s.AttachRPC(ctx, rpc.New(newSimNode(), nil)))

	s.View(func(c *Chain) { assert.Equal(t, 0, c.Len()) })
}

func TestServer_UpdateSettings(t *testing.T) {
	s := New(ulogger.TestLogger{}, testSettings(false, 10), nil)
	startServer(t, s)

	gs := GraphSettings{YScale: 3, YDist: 1}
	s.UpdateSettings(gs)

	require.Eventually(t, func() bool {
		var got GraphSettings

		s.View(func(c *Chain) { got = c.Settings() })

		return got == gs
	}, time.Second, time.Millisecond)
}

func TestServer_ExitUnregistersListener(t *testing.T) {
	ctx := context.Background()
	node := newSimNode()
	s := New(ulogger.TestLogger{}, testSettings(true, 10), nil)

	go func() { _ = s.Spawn(ctx) }()

	require.NoError(t, s.AttachRPC(ctx, rpc.New(node, nil)))
	require.NoError(t, s.ConnectRPC(ctx))
	assert.Equal(t, 1, node.Listeners())

	s.Terminate()

	joinCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	require.NoError(t, s.Join(joinCtx))
	assert.Equal(t, 0, node.Listeners())
	assert.Error(t, s.Spawn(ctx))
}
