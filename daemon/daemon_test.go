package daemon

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/services/node"
	"github.com/nodekeeper/nodekeeper/services/repaint"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"github.com/nodekeeper/nodekeeper/util/servicemanager"
	"github.com/ordishs/gocore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func init() {
	gocore.Config().Set("use_otel_tracing", "false")
	gocore.Config().Set("eventstream_listenAddress", "")
}

type mockService struct {
	name      string
	spawned   chan struct{}
	quit      chan struct{}
	quitOnce  sync.Once
	done      chan struct{}
	spawnOnce sync.Once
}

func newMockService(name string) *mockService {
	return &mockService{
		name:    name,
		spawned: make(chan struct{}),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (m *mockService) Spawn(ctx context.Context) error {
	started := false

	m.spawnOnce.Do(func() { started = true })

	if !started {
		return errors.NewServiceError("[%s] already spawned", m.name)
	}

	defer close(m.done)

	close(m.spawned)

	select {
	case <-m.quit:
	case <-ctx.Done():
	}

	return nil
}

func (m *mockService) Terminate() {
	m.quitOnce.Do(func() { close(m.quit) })
}

func (m *mockService) Join(ctx context.Context) error {
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestNew(t *testing.T) {
	d := New()
	require.NotNil(t, d)
	require.NotNil(t, d.doneCh)
	require.NotNil(t, d.stopCh)
	require.NotNil(t, d.ServiceManager)
}

func TestNew_WithOptions(t *testing.T) {
	t.Run("WithLoggerFactory", func(t *testing.T) {
		var used []string

		d := New(WithLoggerFactory(func(serviceName string) ulogger.Logger {
			used = append(used, serviceName)
			return ulogger.New(serviceName, ulogger.WithWriter(io.Discard))
		}))
		require.NotNil(t, d)

		assert.Contains(t, used, "ServiceManager")
	})

	t.Run("WithContext", func(t *testing.T) {
		customCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		d := New(WithContext(customCtx))
		assert.Equal(t, customCtx, d.Ctx)

		cancel()

		select {
		case <-d.ServiceManager.Ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for the service manager context to be cancelled")
		}
	})

	t.Run("WithNodeOptions", func(t *testing.T) {
		d := New(WithNodeOptions(node.WithRPCClientFactory(nil)), WithWallet(nil))
		assert.Len(t, d.nodeOptions, 2)
	})
}

func TestDaemon_StopWithoutStart(t *testing.T) {
	d := New()

	require.NoError(t, d.Stop(time.Second))

	select {
	case <-d.stopCh:
	default:
		t.Fatal("stop channel should be closed")
	}
}

func TestDaemon_AddExternalService(t *testing.T) {
	d := New()
	require.Empty(t, d.externalServices)

	mockSvc := newMockService("mock")

	d.AddExternalService("Mock", func() (servicemanager.Service, error) {
		return mockSvc, nil
	})

	require.Len(t, d.externalServices, 1)
	assert.Equal(t, "Mock", d.externalServices[0].Name)

	svc, err := d.externalServices[0].InitFunc()
	require.NoError(t, err)
	assert.Same(t, mockSvc, svc)
}

func TestDaemon_Start(t *testing.T) {
	td := NewTestDaemon(t, TestOptions{})

	td.WaitForState(t, node.StateRunning, 5*time.Second)
	td.WaitForConnected(t, 5*time.Second)

	require.NoError(t, WaitForHealthLiveness(td.Ctx, td.Daemon().HealthAddress(), 5*time.Second))

	status, body := td.Get(t, "/health/readiness")
	assert.Equal(t, http.StatusOK, status, body)
	assert.Contains(t, body, `"service": "Node"`)

	status, body = td.Get(t, "/services")
	assert.Equal(t, http.StatusOK, status)

	for _, name := range []string{
		ServiceRepaint, ServiceChainMonitor, ServiceMetricsMonitor, ServicePeerMonitor,
		ServiceFeeRateMonitor, ServiceEventStream, ServiceNode,
	} {
		assert.Contains(t, body, name)
	}

	status, body = td.Get(t, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "nodekeeper_node_state")

	n := td.Node()

	td.Stop(t)

	assert.Equal(t, node.StateDisabled, n.State())
	assert.Nil(t, n.RPC())
}

func TestDaemon_StartsMonitorsAndExternalServices(t *testing.T) {
	appSettings := DefaultTestSettings()
	appSettings.ChainMonitor.Enabled = true
	appSettings.PeerMonitor.Enabled = true
	appSettings.FeeRateMonitor.Enabled = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := New(WithContext(ctx), WithLoggerFactory(func(string) ulogger.Logger { return ulogger.TestLogger{} }))

	mockSvc := newMockService("mock")
	d.AddExternalService("Mock", func() (servicemanager.Service, error) {
		return mockSvc, nil
	})

	readyCh := make(chan struct{})

	go d.Start(ulogger.TestLogger{}, appSettings, readyCh)

	select {
	case <-readyCh:
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not start")
	}

	select {
	case <-mockSvc.spawned:
	case <-time.After(5 * time.Second):
		t.Fatal("external service was not spawned")
	}

	names := d.ServiceManager.ServiceNames()
	assert.Contains(t, names, ServiceChainMonitor)
	assert.Contains(t, names, ServicePeerMonitor)
	assert.Contains(t, names, ServiceFeeRateMonitor)
	assert.Contains(t, names, "Mock")
	assert.Equal(t, ServiceNode, names[len(names)-1])

	assert.True(t, d.Services.ChainMonitor.IsEnabled())
	assert.True(t, d.Services.PeerMonitor.IsEnabled())
	assert.False(t, d.Services.FeeRateMonitor.IsEnabled())

	require.NoError(t, d.Stop())

	select {
	case <-mockSvc.done:
	default:
		t.Fatal("external service was not stopped")
	}
}

func TestDaemon_MonitorsRegisteredWhenDisabled(t *testing.T) {
	td := NewTestDaemon(t, TestOptions{SettingsOverrideFunc: func(s *settings.Settings) {
		s.ChainMonitor.Enabled = false
		s.PeerMonitor.Enabled = false
		s.FeeRateMonitor.Enabled = false
	}})
	defer td.Stop(t)

	services := td.Daemon().Services
	require.NotNil(t, services.ChainMonitor)
	require.NotNil(t, services.PeerMonitor)
	require.NotNil(t, services.FeeRateMonitor)

	assert.False(t, services.ChainMonitor.IsEnabled())
	assert.False(t, services.PeerMonitor.IsEnabled())

	services.ChainMonitor.Enable()
	services.PeerMonitor.Enable()

	require.Eventually(t, func() bool {
		return services.ChainMonitor.IsEnabled() && services.PeerMonitor.IsEnabled()
	}, 5*time.Second, 10*time.Millisecond)

	services.ChainMonitor.Disable()
	services.PeerMonitor.Disable()

	require.Eventually(t, func() bool {
		return !services.ChainMonitor.IsEnabled() && !services.PeerMonitor.IsEnabled()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDaemon_RepainterReceivesRequests(t *testing.T) {
	var repaints atomic.Int32

	td := NewTestDaemon(t, TestOptions{DaemonOptions: []Option{
		WithRepainter(repaint.RepainterFunc(func() { repaints.Add(1) })),
	}})
	defer td.Stop(t)

	td.Daemon().Services.Repaint.RequestRepaint()

	require.Eventually(t, func() bool { return repaints.Load() > 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestDaemon_StartRejectsInvalidNodeSettings(t *testing.T) {
	appSettings := DefaultTestSettings()
	appSettings.Node.Kind = settings.NodeKindExternalAsDaemon
	appSettings.Node.DaemonBinary = ""

	d := New(WithLoggerFactory(func(string) ulogger.Logger { return ulogger.TestLogger{} }))

	finished := make(chan struct{})

	go func() {
		d.Start(ulogger.TestLogger{}, appSettings)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("daemon with invalid settings should stop on its own")
	}

	assert.Empty(t, d.ServiceManager.ServiceNames())
	require.NoError(t, d.Stop(time.Second))
}

func TestFilterNodeArgs(t *testing.T) {
	known, unknown := filterNodeArgs([]string{
		"--testnet",
		"--netsuffix=11",
		"--rpclisten-json=127.0.0.1:1234",
		"--loglevel=debug",
		"positional",
		"--yes",
	})

	assert.Equal(t, []string{"--testnet", "--netsuffix=11", "--rpclisten-json=127.0.0.1:1234", "--yes"}, known)
	assert.Equal(t, []string{"--loglevel=debug", "positional"}, unknown)
}

func TestNodeNetwork(t *testing.T) {
	tests := []struct {
		testnet  bool
		suffix   int
		expected settings.Network
		wantErr  bool
	}{
		{testnet: false, suffix: 0, expected: settings.Mainnet},
		{testnet: false, suffix: 11, expected: settings.Mainnet},
		{testnet: true, suffix: 10, expected: settings.Testnet10},
		{testnet: true, suffix: 11, expected: settings.Testnet11},
		{testnet: true, suffix: 12, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v-%d", tt.testnet, tt.suffix), func(t *testing.T) {
			network, err := nodeNetwork(tt.testnet, tt.suffix)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, network)
		})
	}
}

func TestRunNode_ServesConfigArgs(t *testing.T) {
	port, err := getFreePort()
	require.NoError(t, err)

	appSettings := DefaultTestSettings()
	appSettings.Node.DaemonArgs = []string{fmt.Sprintf("--rpclisten-json=127.0.0.1:%d", port), "--unknown-flag"}

	args := node.NewConfig(appSettings).Args()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, w := io.Pipe()

	runErr := make(chan error, 1)

	go func() {
		runErr <- RunNode(ctx, ulogger.TestLogger{}, appSettings, args, w)
		_ = w.Close()
	}()

	listening := make(chan string, 1)

	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if strings.Contains(scanner.Text(), "wRPC JSON server listening on") {
				select {
				case listening <- scanner.Text():
				default:
				}
			}
		}
	}()

	select {
	case line := <-listening:
		assert.Contains(t, line, fmt.Sprintf("127.0.0.1:%d", port))
		assert.Contains(t, line, "[INFO ]")
	case err := <-runErr:
		t.Fatalf("node exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("node did not start listening")
	}

	cancel()

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("node did not stop")
	}
}

// getFreePort asks the kernel for a free open port that is ready to use.
func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}

	defer func() { _ = l.Close() }()

	return l.Addr().(*net.TCPAddr).Port, nil
}
