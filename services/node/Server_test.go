package node

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/events"
	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/rpc/wrpc"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/simnode"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"github.com/nodekeeper/nodekeeper/util/servicemanager"
	"github.com/nodekeeper/nodekeeper/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exitDaemonEnv = "NODEKEEPER_TEST_DAEMON_EXIT"

// TestMain doubles as the node daemon when the test binary is re-executed by a daemon backend.
func TestMain(m *testing.M) {
	if os.Getenv(DaemonEnv) == "1" {
		runTestDaemon()
		return
	}

	os.Exit(m.Run())
}

func runTestDaemon() {
	now := time.Now()

	fmt.Println(simnode.FormatLogLine(now, "INFO ", "Starting test daemon with "+strings.Join(os.Args[1:], " ")))
	fmt.Println(simnode.FormatLogLine(now, "WARN ", "no peers yet"))
	fmt.Println(simnode.FormatLogLine(now, "INFO ", "IBD finished, node is synced at DAA score 4242"))

	if os.Getenv(exitDaemonEnv) == "1" {
		os.Exit(0)
	}

	time.Sleep(time.Minute)
	os.Exit(0)
}

func newTestSettings() *settings.Settings {
	return &settings.Settings{
		ClientName:         "nodekeeper",
		Version:            "0.1.0",
		Network:            settings.Mainnet,
		ServiceJoinTimeout: 5 * time.Second,
		Node: settings.NodeSettings{
			Kind:                 settings.NodeKindIntegratedInProc,
			RemoteURL:            "127.0.0.1",
			MemoryScale:          1.0,
			ConnectRetryInterval: 50 * time.Millisecond,
			ConnectTimeout:       time.Second,
			LogBufferLines:       100,
			LogBufferMargin:      10,
			LogUpdateInterval:    10 * time.Millisecond,
		},
		SimNode: settings.SimNodeSettings{
			BlockInterval:   10 * time.Millisecond,
			ParentsPerBlock: 1,
			PeerCount:       2,
		},
	}
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, call)
}

func (c *callLog) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.calls...)
}

func (c *callLog) count(call string) int {
	n := 0

	for _, existing := range c.get() {
		if existing == call {
			n++
		}
	}

	return n
}

func (c *callLog) index(call string) int {
	for i, existing := range c.get() {
		if existing == call {
			return i
		}
	}

	return -1
}

// recordingService is a dependent service that records its RPC hooks.
type recordingService struct {
	name      string
	log       *callLog
	attachErr error

	mu  sync.Mutex
	rpc *rpc.Rpc

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

func newRecordingService(name string, log *callLog) *recordingService {
	return &recordingService{
		name: name,
		log:  log,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (r *recordingService) Spawn(ctx context.Context) error {
	defer close(r.done)

	select {
	case <-r.quit:
	case <-ctx.Done():
	}

	return nil
}

func (r *recordingService) Terminate() {
	r.quitOnce.Do(func() { close(r.quit) })
}

func (r *recordingService) Join(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *recordingService) AttachRPC(_ context.Context, handle *rpc.Rpc) error {
	r.log.add(r.name + ":attach")

	if r.attachErr != nil {
		return r.attachErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rpc != nil {
		return errors.NewStateError("%s attached twice", r.name)
	}

	r.rpc = handle

	return nil
}

func (r *recordingService) DetachRPC(context.Context) error {
	r.log.add(r.name + ":detach")

	r.mu.Lock()
	r.rpc = nil
	r.mu.Unlock()

	return nil
}

func (r *recordingService) ConnectRPC(context.Context) error {
	r.log.add(r.name + ":connect")
	return nil
}

func (r *recordingService) DisconnectRPC(context.Context) error {
	r.log.add(r.name + ":disconnect")
	return nil
}

// recordingCore records when the in-process node has fully stopped.
type recordingCore struct {
	Core
	log *callLog
}

func (c *recordingCore) Run(ctx context.Context) error {
	err := c.Core.Run(ctx)

	c.log.add("core-stopped")

	return err
}

type fixture struct {
	t        *testing.T
	settings *settings.Settings
	log      *callLog
	services []*recordingService
	sm       *servicemanager.ServiceManager
	server   *Server
	events   *events.Channel
	wallet   *wallet.Offline
}

var monitorNames = []string{"chain", "metrics", "peers", "feerate"}

func newFixture(t *testing.T, opts ...Option) *fixture {
	tSettings := newTestSettings()
	logger := ulogger.TestLogger{}

	f := &fixture{
		t:        t,
		settings: tSettings,
		log:      &callLog{},
		sm:       servicemanager.NewServiceManager(context.Background(), logger),
		events:   events.NewChannel(4096),
		wallet:   wallet.NewOffline(tSettings.Network),
	}

	for _, name := range monitorNames {
		svc := newRecordingService(name, f.log)
		f.services = append(f.services, svc)
		require.NoError(t, f.sm.AddService(name, svc))
	}

	opts = append([]Option{
		WithWallet(f.wallet),
		WithCoreFactory(func(network settings.Network, config Config) (Core, error) {
			core, err := SimNodeCoreFactory(logger, tSettings)(network, config)
			if err != nil {
				return nil, err
			}

			return &recordingCore{Core: core, log: f.log}, nil
		}),
	}, opts...)

	f.server = New(logger, tSettings, f.sm, f.events, opts...)
	require.NoError(t, f.sm.AddService("node", f.server))

	f.sm.Start()

	t.Cleanup(func() {
		f.sm.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = f.sm.Join(ctx)
	})

	return f
}

func (f *fixture) apply(intent Intent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return f.server.Apply(ctx, intent)
}

func (f *fixture) inProc(network settings.Network) Intent {
	return StartInternalInProc{Config: NewConfig(f.settings), Network: network}
}

func (f *fixture) eachMonitor(call string, want int) bool {
	for _, name := range monitorNames {
		if f.log.count(name+":"+call) != want {
			return false
		}
	}

	return true
}

// waitForEvent drains the event channel until match returns true.
func (f *fixture) waitForEvent(match func(events.Event) bool) events.Event {
	timeout := time.After(5 * time.Second)

	for {
		select {
		case e := <-f.events.Receiver():
			if match(e) {
				return e
			}
		case <-timeout:
			f.t.Fatal("expected event not published")
			return nil
		}
	}
}

func TestServer_StartInProcAttachesAndConnectsOnce(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.apply(f.inProc(settings.Mainnet)))

	assert.Equal(t, StateRunning, f.server.State())
	assert.Equal(t, BackendInProc, f.server.BackendKind())
	assert.NotNil(t, f.server.RPC())
	assert.Empty(t, f.server.RPCURL())
	assert.True(t, f.eachMonitor("attach", 1))

	require.Eventually(t, func() bool { return f.eachMonitor("connect", 1) }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, f.server.IsConnected())

	time.Sleep(50 * time.Millisecond)
	assert.True(t, f.eachMonitor("connect", 1))
	assert.True(t, f.eachMonitor("detach", 0))

	assert.True(t, f.wallet.IsStarted())
	assert.Same(t, f.server.RPC(), f.wallet.RPC())
	assert.Greater(t, f.server.ServicesUptime(), time.Duration(0))

	status, _, err := f.server.Health(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
}

func TestServer_SwitchToRemoteStopsOldBackendFirst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := simnode.New(ulogger.TestLogger{}, simnode.Options{
		Network:  settings.Mainnet,
		Version:  "remote",
		Settings: newTestSettings().SimNode,
	})

	ready := make(chan string, 1)

	go func() {
		_ = remote.Serve(ctx, "127.0.0.1:0", ready)
	}()

	var addr string
	select {
	case addr = <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("remote node did not start")
	}

	var f *fixture

	f = newFixture(t, WithRPCClientFactory(func(url string) (*rpc.Rpc, error) {
		f.log.add("client-created")

		client := wrpc.NewClient(ulogger.TestLogger{}, url, nil)

		return rpc.New(client, client.Ctl()), nil
	}))

	require.NoError(t, f.apply(f.inProc(settings.Mainnet)))
	require.Eventually(t, func() bool { return f.eachMonitor("connect", 1) }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.apply(StartRemoteConnection{RPCConfig: RPCConfig{URL: "ws://" + addr}, Network: settings.Mainnet}))

	stopped := f.log.index("core-stopped")
	created := f.log.index("client-created")

	require.NotEqual(t, -1, stopped)
	require.NotEqual(t, -1, created)
	assert.Less(t, stopped, created)

	assert.Equal(t, BackendRemote, f.server.BackendKind())
	assert.Equal(t, "ws://"+addr, f.server.RPCURL())

	require.Eventually(t, func() bool { return f.eachMonitor("connect", 2) }, 5*time.Second, 10*time.Millisecond)

	for _, name := range monitorNames {
		var hooks []string

		for _, call := range f.log.get() {
			if call == name+":attach" || call == name+":detach" {
				hooks = append(hooks, call)
			}
		}

		assert.Equal(t, []string{name + ":attach", name + ":detach", name + ":attach"}, hooks)
		assert.Equal(t, 1, f.log.count(name+":disconnect"))
	}
}

func TestServer_FailedStartEndsDisabled(t *testing.T) {
	f := newFixture(t)

	err := f.apply(StartExternalAsDaemon{
		Path:    "/nonexistent/nodekeeper-daemon",
		Config:  NewConfig(f.settings),
		Network: settings.Mainnet,
	})
	require.Error(t, err)

	assert.Equal(t, StateDisabled, f.server.State())
	assert.Equal(t, BackendNone, f.server.BackendKind())
	assert.Nil(t, f.server.RPC())
	assert.True(t, f.eachMonitor("attach", 0))

	e := f.waitForEvent(func(e events.Event) bool {
		_, ok := e.(events.Error)
		return ok
	})
	assert.Contains(t, e.(events.Error).Message, "nodekeeper-daemon")
}

func TestServer_FailedAttachRollsBack(t *testing.T) {
	f := newFixture(t)

	f.services[2].attachErr = errors.NewServiceError("peers refused")

	err := f.apply(f.inProc(settings.Mainnet))
	require.Error(t, err)

	assert.Equal(t, StateDisabled, f.server.State())
	assert.Nil(t, f.server.RPC())
	assert.False(t, f.wallet.IsStarted())

	// the core was joined during the rollback
	assert.Equal(t, 1, f.log.count("core-stopped"))

	// the broadcast stopped at the failing service
	assert.Equal(t, 0, f.log.count("feerate:attach"))

	f.services[2].attachErr = nil

	require.NoError(t, f.apply(f.inProc(settings.Mainnet)))
	assert.Equal(t, StateRunning, f.server.State())
}

func TestServer_DisableKeepsNetwork(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.apply(f.inProc(settings.Mainnet)))
	require.Eventually(t, func() bool { return f.server.IsConnected() }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.wallet.Open("default"))
	require.NoError(t, f.apply(Disable{Network: settings.Testnet10}))

	assert.Equal(t, StateDisabled, f.server.State())
	assert.Equal(t, settings.Testnet10, f.server.Network())
	assert.Equal(t, settings.Testnet10, f.wallet.Network())
	assert.False(t, f.wallet.IsStarted())
	assert.False(t, f.wallet.IsOpen())
	assert.False(t, f.server.IsConnected())
	assert.Nil(t, f.server.RPC())
	assert.Zero(t, f.server.ServicesUptime())
	assert.True(t, f.eachMonitor("detach", 1))
	assert.True(t, f.eachMonitor("disconnect", 1))

	e := f.waitForEvent(func(e events.Event) bool {
		_, ok := e.(events.NetworkChange)
		return ok
	})
	assert.Equal(t, events.NetworkChange{Network: settings.Testnet10}, e)
}

func TestServer_StdoutUpdatesLogs(t *testing.T) {
	f := newFixture(t)

	line := simnode.FormatLogLine(time.Now(), "INFO ", "IBD: Processed 120 block bodies (45%)")
	require.NoError(t, f.apply(Stdout{Line: line}))

	lines := f.server.Logs()
	require.Len(t, lines, 1)
	assert.Equal(t, LogInfo, lines[0].Kind)

	status, ok := f.server.SyncStatus()
	require.True(t, ok)
	assert.Equal(t, 45, status.Percent)

	e := f.waitForEvent(func(e events.Event) bool {
		_, ok := e.(events.SyncProgress)
		return ok
	})
	assert.Equal(t, "ibd", e.(events.SyncProgress).Stage)

	f.waitForEvent(func(e events.Event) bool {
		_, ok := e.(events.UpdateLogs)
		return ok
	})
}

func TestServer_DaemonRelaysStdout(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.apply(StartInternalAsDaemon{Config: NewConfig(f.settings), Network: settings.Testnet11}))

	assert.Equal(t, StateRunning, f.server.State())
	assert.Equal(t, BackendDaemon, f.server.BackendKind())
	assert.Equal(t, wrpc.LocalURL(settings.Testnet11), f.server.RPCURL())

	require.Eventually(t, func() bool {
		status, ok := f.server.SyncStatus()
		return ok && status.Synced
	}, 5*time.Second, 10*time.Millisecond)

	lines := f.server.Logs()
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0].Text, "--netsuffix=11")
	assert.Contains(t, lines[0].Text, fmt.Sprintf("--rpclisten-json=127.0.0.1:%d", settings.Testnet11.DefaultJSONRPCPort()))
	assert.Equal(t, LogWarning, lines[1].Kind)

	require.NoError(t, f.apply(Disable{Network: settings.Testnet11}))
	assert.Equal(t, BackendNone, f.server.BackendKind())
	assert.Equal(t, StateDisabled, f.server.State())
}

func TestServer_DaemonUnexpectedExit(t *testing.T) {
	t.Setenv(exitDaemonEnv, "1")

	f := newFixture(t)

	require.NoError(t, f.apply(StartInternalAsDaemon{Config: NewConfig(f.settings), Network: settings.Testnet10}))

	e := f.waitForEvent(func(e events.Event) bool {
		_, ok := e.(events.Error)
		return ok
	})
	assert.Contains(t, e.(events.Error).Message, "exited unexpectedly")
	assert.Contains(t, e.(events.Error).Message, errors.ERR_PROCESS_EXIT.Enum())

	// the deployment stays in place until a new intent replaces it
	assert.Equal(t, StateRunning, f.server.State())
}

func TestServer_ApplyAfterExit(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.apply(f.inProc(settings.Mainnet)))
	require.NoError(t, f.apply(Exit{}))

	assert.Equal(t, StateDisabled, f.server.State())
	assert.Equal(t, 1, f.log.count("core-stopped"))

	err := f.apply(Disable{Network: settings.Mainnet})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrServiceUnavailable))

	status, _, err := f.server.Health(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 503, status)
}

func TestServer_UpdateServicesRejectsInvalidSettings(t *testing.T) {
	f := newFixture(t)

	tSettings := newTestSettings()
	tSettings.Node.Kind = settings.NodeKindExternalAsDaemon

	require.Error(t, f.server.UpdateServices(tSettings))

	f.waitForEvent(func(e events.Event) bool {
		_, ok := e.(events.Error)
		return ok
	})

	tSettings.Node.Kind = settings.NodeKindIntegratedInProc
	require.NoError(t, f.server.UpdateServices(tSettings))

	require.Eventually(t, func() bool { return f.server.State() == StateRunning }, 5*time.Second, 10*time.Millisecond)
}
