// Package node implements the node lifecycle service. It owns the node backend, the RPC client bound
// to it and the node log buffer, and hands the RPC to every other service through the supervisor.
package node

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/events"
	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/rpc/wrpc"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"github.com/nodekeeper/nodekeeper/util/health"
	"github.com/nodekeeper/nodekeeper/util/servicemanager"
	"github.com/nodekeeper/nodekeeper/util/tracing"
	"github.com/nodekeeper/nodekeeper/wallet"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

const (
	intentQueueSize       = 64
	stdoutQueueSize       = 1024
	defaultStopTimeout    = 30 * time.Second
	defaultLogUpdateEvery = 250 * time.Millisecond
)

type request struct {
	intent Intent
	result chan error
}

type Option func(*Server)

// WithCoreFactory replaces the in-process core, which defaults to the simulated node.
func WithCoreFactory(factory CoreFactory) Option {
	return func(s *Server) {
		s.coreFactory = factory
	}
}

// WithRPCClientFactory replaces the networked client used for daemon and remote nodes.
func WithRPCClientFactory(factory RPCClientFactory) Option {
	return func(s *Server) {
		s.clientFactory = factory
	}
}

func WithWallet(session wallet.Session) Option {
	return func(s *Server) {
		s.wallet = session
	}
}

type Server struct {
	logger      ulogger.Logger
	settings    *settings.Settings
	broadcaster servicemanager.Broadcaster
	wallet      wallet.Session
	events      *events.Channel

	coreFactory   CoreFactory
	clientFactory RPCClientFactory

	fsm     *fsm.FSM
	intents chan request
	stdout  chan string

	mu              sync.RWMutex
	network         settings.Network
	backend         Backend
	servicesStarted time.Time

	rpc       atomic.Pointer[rpc.Rpc]
	connected atomic.Bool

	// owned by the loop
	backendExited <-chan struct{}
	ctlEvents     <-chan rpc.CtlEvent

	logs        *LogBuffer
	logLimiter  *rate.Limiter
	logInterval time.Duration
	logsPending bool

	quit      chan struct{}
	quitOnce  sync.Once
	done      chan struct{}
	spawnOnce sync.Once
}

func New(logger ulogger.Logger, tSettings *settings.Settings, broadcaster servicemanager.Broadcaster, ch *events.Channel, opts ...Option) *Server {
	initPrometheusMetrics()

	if ch == nil {
		ch = events.NewChannel(tSettings.EventChannelSize)
	}

	logInterval := tSettings.Node.LogUpdateInterval
	if logInterval <= 0 {
		logInterval = defaultLogUpdateEvery
	}

	s := &Server{
		logger:      logger,
		settings:    tSettings,
		broadcaster: broadcaster,
		events:      ch,
		intents:     make(chan request, intentQueueSize),
		stdout:      make(chan string, stdoutQueueSize),
		network:     tSettings.Network,
		logs:        NewLogBuffer(tSettings.Node.LogBufferLines, tSettings.Node.LogBufferMargin),
		logLimiter:  rate.NewLimiter(rate.Every(logInterval), 1),
		logInterval: logInterval,
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	s.fsm = NewFiniteStateMachine(func(from, to string) {
		prometheusNodeState.WithLabelValues(from).Set(0)
		prometheusNodeState.WithLabelValues(to).Set(1)

		s.logger.Debugf("[NodeServer] state %s -> %s", from, to)
	})

	prometheusNodeState.WithLabelValues(StateDisabled).Set(1)

	for _, opt := range opts {
		opt(s)
	}

	if s.wallet == nil {
		s.wallet = wallet.NewOffline(tSettings.Network)
	}

	if s.coreFactory == nil {
		s.coreFactory = SimNodeCoreFactory(logger, tSettings)
	}

	if s.clientFactory == nil {
		s.clientFactory = func(url string) (*rpc.Rpc, error) {
			client := wrpc.NewClient(logger, url, nil)
			return rpc.New(client, client.Ctl()), nil
		}
	}

	if tSettings.Initialized {
		intent, err := IntentFromSettings(tSettings)
		if err != nil {
			logger.Errorf("[NodeServer] invalid node settings: %v", err)
			s.events.Send(events.Error{Message: err.Error()})
		} else {
			s.intents <- request{intent: intent}
		}
	}

	return s
}

// Apply queues an intent and waits for the loop to process it.
func (s *Server) Apply(ctx context.Context, intent Intent) error {
	req := request{intent: intent, result: make(chan error, 1)}

	select {
	case s.intents <- req:
	case <-s.done:
		return errors.NewServiceUnavailableError("[NodeServer] service stopped")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-s.done:
		return errors.NewServiceUnavailableError("[NodeServer] service stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateServices queues the intent described by the node settings without waiting for it.
// Failures are published as events.Error.
func (s *Server) UpdateServices(tSettings *settings.Settings) error {
	intent, err := IntentFromSettings(tSettings)
	if err != nil {
		s.events.Send(events.Error{Message: err.Error()})
		return err
	}

	select {
	case s.intents <- request{intent: intent}:
		return nil
	default:
		err = errors.NewServiceUnavailableError("[NodeServer] intent queue is full")
		s.events.Send(events.Error{Message: err.Error()})

		return err
	}
}

func (s *Server) State() string {
	return s.fsm.Current()
}

func (s *Server) BackendKind() BackendKind {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.backend == nil {
		if s.rpc.Load() != nil {
			return BackendRemote
		}

		return BackendNone
	}

	return s.backend.Kind()
}

func (s *Server) Network() settings.Network {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.network
}

// RPC returns the current RPC handle, or nil when no node is configured.
func (s *Server) RPC() *rpc.Rpc {
	return s.rpc.Load()
}

// RPCURL returns the endpoint of the networked client, or an empty string for an in-process node.
func (s *Server) RPCURL() string {
	r := s.rpc.Load()
	if r == nil {
		return ""
	}

	if c, ok := r.API.(rpc.Connector); ok {
		return c.URL()
	}

	return ""
}

func (s *Server) IsConnected() bool {
	return s.connected.Load()
}

// ServicesUptime is the time since the services were last started, zero while stopped.
func (s *Server) ServicesUptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.servicesStarted.IsZero() {
		return 0
	}

	return time.Since(s.servicesStarted)
}

func (s *Server) Logs() []LogLine {
	return s.logs.Lines()
}

func (s *Server) SyncStatus() (events.SyncProgress, bool) {
	return s.logs.SyncStatus()
}

func (s *Server) Events() *events.Channel {
	return s.events
}

func (s *Server) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	select {
	case <-s.done:
		return http.StatusServiceUnavailable, "node service stopped", nil
	default:
	}

	if checkLiveness {
		return http.StatusOK, s.State(), nil
	}

	state := s.State()

	checks := []health.Check{
		{Name: "state", Check: health.CheckFlag(state, state, func() bool {
			return state == StateDisabled || state == StateRunning
		})},
		{Name: "rpc", Check: health.CheckFlag("rpc connected", "rpc not connected", func() bool {
			return state != StateRunning || s.IsConnected()
		})},
	}

	return health.CheckAll(ctx, checkLiveness, checks)
}

func (s *Server) Spawn(ctx context.Context) error {
	started := false

	s.spawnOnce.Do(func() { started = true })

	if !started {
		return errors.NewServiceError("[NodeServer] already spawned")
	}

	defer close(s.done)

	logTicker := time.NewTicker(s.logInterval)
	defer logTicker.Stop()

	walletEvents := s.wallet.Events()

	for {
		select {
		case <-s.quit:
			s.shutdown()
			return nil
		case <-ctx.Done():
			s.shutdown()
			return nil
		default:
		}

		select {
		case <-s.quit:
			s.shutdown()
			return nil
		case <-ctx.Done():
			s.shutdown()
			return nil
		case req := <-s.intents:
			if _, ok := req.intent.(Exit); ok {
				err := s.handleIntent(ctx, req.intent)
				s.reply(req, err)
				s.events.Send(events.Exit{})

				return nil
			}

			s.reply(req, s.handleIntent(ctx, req.intent))
		case event := <-s.ctlEvents:
			s.handleCtlEvent(ctx, event)
		case line := <-s.stdout:
			s.handleStdout(line)
		case event, ok := <-walletEvents:
			if !ok {
				walletEvents = nil
				continue
			}

			s.events.Send(events.Wallet{Event: event})
		case <-s.backendExited:
			s.backendExited = nil

			err := s.backendExitError()

			s.logger.Errorf("[NodeServer] %v", err)
			s.events.Send(events.Error{Message: err.Error()})
		case <-logTicker.C:
			s.flushLogUpdate()
		}
	}
}

func (s *Server) backendExitError() error {
	s.mu.RLock()
	backend := s.backend
	s.mu.RUnlock()

	if d, ok := backend.(*Daemon); ok {
		if exitErr := d.ExitErr(); exitErr != nil {
			return errors.NewProcessExitError("[NodeServer] node process %d exited unexpectedly", d.Pid(), exitErr)
		}

		return errors.NewProcessExitError("[NodeServer] node process %d exited unexpectedly", d.Pid())
	}

	return errors.NewProcessExitError("[NodeServer] node backend exited unexpectedly")
}

func (s *Server) shutdown() {
	timeout := s.settings.ServiceJoinTimeout
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.stopAllServices(ctx); err != nil {
		s.logger.Warnf("[NodeServer] error stopping services on shutdown: %v", err)
	}
}

func (s *Server) Terminate() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *Server) Join(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) reply(req request, err error) {
	if req.result != nil {
		req.result <- err
	}
}

func (s *Server) handleIntent(ctx context.Context, intent Intent) (err error) {
	if line, ok := intent.(Stdout); ok {
		s.handleStdout(line.Line)
		return nil
	}

	name := intent.Name()

	ctx, _, endSpan := tracing.Tracer("node").Start(ctx, "NodeServer:"+name,
		tracing.WithParentStat(stat),
		tracing.WithTag("intent", name),
		tracing.WithCounter(prometheusNodeIntents.WithLabelValues(name)),
		tracing.WithHistogram(prometheusNodeIntentDuration.WithLabelValues(name)),
		tracing.WithLogMessage(s.logger, "[NodeServer] %s", name),
	)

	defer func() {
		endSpan(err)

		if err != nil {
			prometheusNodeIntentErrors.WithLabelValues(name).Inc()
			s.events.Send(events.Error{Message: err.Error()})
		}
	}()

	switch i := intent.(type) {
	case Disable:
		return s.disable(ctx, i.Network)
	case StartInternalInProc:
		return s.start(ctx, i.Network, EventStartInProc, func() (Backend, *rpc.Rpc, error) {
			return s.startInProc(i.Network, i.Config)
		})
	case StartInternalAsDaemon:
		return s.start(ctx, i.Network, EventStartDaemon, func() (Backend, *rpc.Rpc, error) {
			return s.startDaemon(BackendDaemon, "", i.Network, i.Config)
		})
	case StartExternalAsDaemon:
		return s.start(ctx, i.Network, EventStartExternal, func() (Backend, *rpc.Rpc, error) {
			if i.Path == "" {
				return nil, nil, errors.NewConfigurationError("[NodeServer] no daemon binary configured")
			}

			return s.startDaemon(BackendExternal, i.Path, i.Network, i.Config)
		})
	case StartRemoteConnection:
		return s.start(ctx, i.Network, EventConnectRemote, func() (Backend, *rpc.Rpc, error) {
			return s.connectRemote(i.Network, i.RPCConfig)
		})
	case Exit:
		return s.stopAllServices(ctx)
	default:
		return errors.NewInvalidArgumentError("[NodeServer] unknown intent %s", name)
	}
}

func (s *Server) setNetwork(network settings.Network) {
	s.mu.Lock()
	changed := s.network != network
	s.network = network
	s.mu.Unlock()

	if changed {
		s.events.Send(events.NetworkChange{Network: network})
	}
}

func (s *Server) disable(ctx context.Context, network settings.Network) error {
	err := s.stopAllServices(ctx)

	s.setNetwork(network)

	// keep the network id applied so that a wallet can still be opened offline
	if netErr := s.wallet.SetNetworkID(network); netErr != nil {
		err = errors.Join(err, netErr)
	}

	return err
}

func (s *Server) start(ctx context.Context, network settings.Network, event string, build func() (Backend, *rpc.Rpc, error)) error {
	if err := s.stopAllServices(ctx); err != nil {
		return errors.NewServiceError("[NodeServer] unable to stop the previous node", err)
	}

	s.setNetwork(network)

	if err := s.fsm.Event(ctx, event); err != nil {
		return errors.NewStateError("[NodeServer] cannot %s from %s", event, s.State(), err)
	}

	backend, r, err := build()
	if err != nil {
		return s.fail(ctx, backend, err)
	}

	s.mu.Lock()
	s.backend = backend
	s.mu.Unlock()

	switch b := backend.(type) {
	case *InProc:
		s.backendExited = b.Done()
	case *Daemon:
		s.backendExited = b.Exited()
	}

	if err = s.startAllServices(ctx, r, network); err != nil {
		return s.fail(ctx, nil, err)
	}

	if err = s.connectRPCClient(ctx, r); err != nil {
		return s.fail(ctx, nil, err)
	}

	if err = s.fsm.Event(ctx, EventStarted); err != nil {
		return s.fail(ctx, nil, err)
	}

	s.logger.Infof("[NodeServer] %s node running on %s", s.BackendKind(), network)

	return nil
}

// fail rolls a failed start back to DISABLED. backend is the one being built, if it never got
// registered with the service.
func (s *Server) fail(ctx context.Context, backend Backend, cause error) error {
	if backend != nil {
		if err := backend.Stop(ctx); err != nil {
			s.logger.Warnf("[NodeServer] error stopping partially started node: %v", err)
		}
	}

	if err := s.stopAllServices(ctx); err != nil {
		s.logger.Warnf("[NodeServer] error during rollback: %v", err)
	}

	s.transition(ctx, EventFail)

	return cause
}

func (s *Server) transition(ctx context.Context, event string) {
	if !s.fsm.Can(event) {
		return
	}

	if err := s.fsm.Event(ctx, event); err != nil {
		s.logger.Warnf("[NodeServer] state transition %s failed: %v", event, err)
	}
}

func (s *Server) startInProc(network settings.Network, config Config) (Backend, *rpc.Rpc, error) {
	core, err := s.coreFactory(network, config)
	if err != nil {
		return nil, nil, errors.NewServiceError("[NodeServer] unable to create the in-process node", err)
	}

	backend := StartInProc(s.logger, core)

	return backend, rpc.New(core, nil), nil
}

func (s *Server) startDaemon(kind BackendKind, path string, network settings.Network, config Config) (Backend, *rpc.Rpc, error) {
	s.logs.Reset()

	// the client dials the intent network, so the daemon must listen on it too
	config.Network = network

	daemon := NewDaemon(s.logger, kind, path, config.Args(), DaemonOptions{
		TerminateWithSignal: s.settings.Node.TerminateWithSignal,
		GracePeriod:         s.settings.Node.TerminationGracePeriod,
	}, s.stdout)

	if err := daemon.Start(); err != nil {
		return nil, nil, err
	}

	r, err := s.clientFactory(wrpc.LocalURL(network))
	if err != nil {
		return daemon, nil, errors.NewServiceError("[NodeServer] unable to create the rpc client", err)
	}

	return daemon, r, nil
}

func (s *Server) connectRemote(network settings.Network, config RPCConfig) (Backend, *rpc.Rpc, error) {
	address := config.URL
	if address == "" {
		address = "127.0.0.1"
	}

	url, err := wrpc.ParseURL(address, network)
	if err != nil {
		return nil, nil, err
	}

	r, err := s.clientFactory(url)
	if err != nil {
		return nil, nil, errors.NewServiceError("[NodeServer] unable to create the rpc client for %s", url, err)
	}

	return nil, r, nil
}

func (s *Server) startAllServices(ctx context.Context, r *rpc.Rpc, network settings.Network) error {
	s.mu.Lock()
	s.network = network
	s.servicesStarted = time.Now()
	s.mu.Unlock()

	if err := s.wallet.SetNetworkID(network); err != nil {
		return err
	}

	s.rpc.Store(r)
	s.ctlEvents = r.Ctl.Events()

	s.wallet.BindRPC(r)

	if err := s.wallet.Start(ctx); err != nil {
		return errors.NewServiceError("[NodeServer] unable to start the wallet", err)
	}

	return s.broadcaster.AttachRPC(ctx, r)
}

func (s *Server) connectRPCClient(ctx context.Context, r *rpc.Rpc) error {
	if c, ok := r.API.(rpc.Connector); ok {
		return c.Connect(ctx, rpc.ConnectOptions{
			BlockAsyncConnect: false,
			Strategy:          rpc.ConnectStrategyRetry,
			RetryInterval:     s.settings.Node.ConnectRetryInterval,
			ConnectTimeout:    s.settings.Node.ConnectTimeout,
		})
	}

	// a local rpc service never drops its connection, it is opened once
	r.Ctl.SignalOpen()

	return nil
}

// stopAllServices tears the current deployment down: dependents are disconnected and detached first,
// then the transport is closed, the wallet stopped and finally the backend joined.
func (s *Server) stopAllServices(ctx context.Context) error {
	var errs []error

	s.mu.Lock()
	s.servicesStarted = time.Time{}
	s.mu.Unlock()

	if r := s.rpc.Load(); r != nil {
		s.transition(ctx, EventStop)

		if s.connected.Swap(false) {
			if err := s.broadcaster.DisconnectRPC(ctx); err != nil {
				errs = append(errs, err)
			}
		}

		if err := s.broadcaster.DetachRPC(ctx); err != nil {
			errs = append(errs, err)
		}

		if c, ok := r.API.(rpc.Connector); ok {
			if err := c.Disconnect(ctx); err != nil {
				s.logger.Warnf("[NodeServer] error disconnecting from %s: %v", c.URL(), err)
			}
		} else {
			r.Ctl.SignalClose()
		}

		s.rpc.Store(nil)
		s.ctlEvents = nil
	}

	if err := s.wallet.Stop(ctx); err != nil {
		s.logger.Warnf("[NodeServer] error stopping the wallet: %v", err)
	}

	s.wallet.BindRPC(nil)

	if s.wallet.IsOpen() {
		if err := s.wallet.Close(ctx); err != nil {
			s.logger.Warnf("[NodeServer] error closing the wallet: %v", err)
		}
	}

	s.mu.Lock()
	backend := s.backend
	s.backend = nil
	s.mu.Unlock()

	s.backendExited = nil

	if backend != nil {
		if err := backend.Stop(ctx); err != nil {
			s.logger.Warnf("[NodeServer] error stopping %s node: %v", backend.Kind(), err)
		}
	}

	s.transition(ctx, EventStopped)

	return errors.Join(errs...)
}

func (s *Server) handleCtlEvent(ctx context.Context, event rpc.CtlEvent) {
	prometheusNodeCtlEvents.WithLabelValues(event.String()).Inc()

	switch event {
	case rpc.CtlOpen:
		if s.connected.Swap(true) {
			return
		}

		s.logger.Infof("[NodeServer] rpc connected")

		if err := s.broadcaster.ConnectRPC(ctx); err != nil {
			s.logger.Errorf("[NodeServer] connect broadcast failed: %v", err)
			s.events.Send(events.Error{Message: err.Error()})
		}
	case rpc.CtlClose:
		if !s.connected.Swap(false) {
			return
		}

		s.logger.Infof("[NodeServer] rpc disconnected")

		if err := s.broadcaster.DisconnectRPC(ctx); err != nil {
			s.logger.Errorf("[NodeServer] disconnect broadcast failed: %v", err)
		}
	}
}

func (s *Server) handleStdout(raw string) {
	line, progress := s.logs.Push(raw)

	prometheusNodeLogLines.WithLabelValues(line.Kind.String()).Inc()

	if progress != nil {
		s.events.Send(*progress)
	}

	s.logsPending = true
	s.flushLogUpdate()
}

func (s *Server) flushLogUpdate() {
	if !s.logsPending || !s.logLimiter.Allow() {
		return
	}

	s.logsPending = false
	s.events.Send(events.UpdateLogs{})
}
