package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/services/node"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"github.com/stretchr/testify/require"
)

const testDaemonStartTimeout = 10 * time.Second

// TestDaemon is a started Daemon with its settings, for tests in this and other packages.
type TestDaemon struct {
	Ctx       context.Context
	Logger    ulogger.Logger
	Settings  *settings.Settings
	ctxCancel context.CancelFunc
	d         *Daemon
}

// TestOptions defines the options for creating a test daemon instance.
type TestOptions struct {
	EnableFullLogging    bool
	SettingsOverrideFunc func(*settings.Settings)
	DaemonOptions        []Option
}

// DefaultTestSettings returns settings for an in-process testnet-11 node with the health server on a random port.
func DefaultTestSettings() *settings.Settings {
	appSettings := settings.NewSettings()
	appSettings.Initialized = true
	appSettings.Network = settings.Testnet11
	appSettings.HealthCheckAddress = "127.0.0.1:0"
	appSettings.PrometheusEndpoint = "/metrics"
	appSettings.ServiceJoinTimeout = 5 * time.Second
	appSettings.Node.Kind = settings.NodeKindIntegratedInProc
	appSettings.EventStream.ListenAddress = ""
	appSettings.Tracing.Enabled = false

	return appSettings
}

// NewTestDaemon starts a daemon running an in-process node on a random health port.
func NewTestDaemon(t *testing.T, opts TestOptions) *TestDaemon {
	ctx, cancel := context.WithCancel(context.Background())

	appSettings := DefaultTestSettings()

	if opts.SettingsOverrideFunc != nil {
		opts.SettingsOverrideFunc(appSettings)
	}

	var logger ulogger.Logger = ulogger.TestLogger{}
	if opts.EnableFullLogging {
		logger = ulogger.NewVerboseTestLogger(t)
	}

	daemonOptions := append([]Option{
		WithContext(ctx),
		WithLoggerFactory(func(serviceName string) ulogger.Logger {
			return logger.New(serviceName)
		}),
	}, opts.DaemonOptions...)

	d := New(daemonOptions...)

	readyCh := make(chan struct{})

	go d.Start(logger, appSettings, readyCh)

	select {
	case <-readyCh:
	case <-time.After(testDaemonStartTimeout):
		cancel()
		t.Fatalf("daemon did not start within %s", testDaemonStartTimeout)
	}

	return &TestDaemon{
		Ctx:       ctx,
		Logger:    logger,
		Settings:  appSettings,
		ctxCancel: cancel,
		d:         d,
	}
}

// Daemon returns the daemon under test.
func (td *TestDaemon) Daemon() *Daemon {
	return td.d
}

// Node returns the node lifecycle service.
func (td *TestDaemon) Node() *node.Server {
	return td.d.Services.Node
}

// HealthURL returns the URL of the given path on the health server.
func (td *TestDaemon) HealthURL(path string) string {
	return fmt.Sprintf("http://%s%s", td.d.HealthAddress(), path)
}

// Get performs a GET on the health server and returns the status code and body.
func (td *TestDaemon) Get(t *testing.T, path string) (int, string) {
	req, err := http.NewRequestWithContext(td.Ctx, http.MethodGet, td.HealthURL(path), nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

// WaitForState waits until the node service reaches state.
func (td *TestDaemon) WaitForState(t *testing.T, state string, timeout time.Duration) {
	require.Eventually(t, func() bool {
		return td.Node().State() == state
	}, timeout, 10*time.Millisecond, "node did not reach state %s, current %s", state, td.Node().State())
}

// WaitForConnected waits until the node RPC client is connected.
func (td *TestDaemon) WaitForConnected(t *testing.T, timeout time.Duration) {
	require.Eventually(t, td.Node().IsConnected, timeout, 10*time.Millisecond, "node rpc did not connect")
}

// Stop stops the daemon and cancels its context.
func (td *TestDaemon) Stop(t *testing.T) {
	if err := td.d.Stop(); err != nil {
		t.Errorf("Failed to stop daemon %s: %v", td.Settings.ClientName, err)
	}

	td.ctxCancel()
}

// WaitForHealthLiveness polls the liveness endpoint of addr until it answers or timeout elapses.
func WaitForHealthLiveness(ctx context.Context, addr string, timeout time.Duration) error {
	deadline := time.After(timeout)
	endpoint := fmt.Sprintf("http://%s/health/liveness", addr)

	var err error

	for {
		select {
		case <-deadline:
			return errors.NewServiceUnavailableError("health check failed for %s after %v", addr, timeout, err)
		case <-ctx.Done():
			return errors.NewContextError("waiting for health of %s", addr, ctx.Err())
		default:
		}

		var req *http.Request

		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}

		var resp *http.Response

		resp, err = http.DefaultClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				return nil
			}

			err = errors.NewServiceUnavailableError("status %d", resp.StatusCode)
		}

		time.Sleep(100 * time.Millisecond)
	}
}
