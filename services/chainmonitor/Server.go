// Package chainmonitor maintains a bounded, DAA-bucketed view of the block DAG and its virtual
// selected parent chain, fed by node notifications.
package chainmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/services/repaint"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"go.uber.org/atomic"
)

const (
	notificationBuffer = 4096
	controlBuffer      = 16
	unregisterTimeout  = 5 * time.Second
)

type controlKind int

const (
	controlEnable controlKind = iota
	controlDisable
	controlSettings
)

type controlEvent struct {
	kind     controlKind
	settings GraphSettings
}

type Server struct {
	logger   ulogger.Logger
	settings *settings.Settings
	repaint  repaint.Requester

	chainMu sync.Mutex
	chain   *Chain

	rpcMu      sync.Mutex
	rpc        *rpc.Rpc
	connected  bool
	listener   rpc.ListenerID
	registered bool

	enabled       atomic.Bool
	notifications chan rpc.Notification
	control       chan controlEvent

	quit      chan struct{}
	quitOnce  sync.Once
	done      chan struct{}
	spawnOnce sync.Once
}

// New creates the chain monitor. requester may be nil.
func New(logger ulogger.Logger, tSettings *settings.Settings, requester repaint.Requester) *Server {
	initPrometheusMetrics()

	s := &Server{
		logger:        logger,
		settings:      tSettings,
		repaint:       requester,
		chain:         NewChain(tSettings.ChainMonitor.RetentionWindow, NewGraphSettings(tSettings.ChainMonitor)),
		notifications: make(chan rpc.Notification, notificationBuffer),
		control:       make(chan controlEvent, controlBuffer),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	s.enabled.Store(tSettings.ChainMonitor.Enabled)

	return s
}

// Enable starts listening for notifications once the rpc is attached and connected.
func (s *Server) Enable() {
	s.send(controlEvent{kind: controlEnable})
}

// Disable stops listening. The window is kept.
func (s *Server) Disable() {
	s.send(controlEvent{kind: controlDisable})
}

// UpdateSettings relayouts every bucket with the new graph settings.
func (s *Server) UpdateSettings(gs GraphSettings) {
	s.send(controlEvent{kind: controlSettings, settings: gs})
}

func (s *Server) send(ev controlEvent) {
	select {
	case s.control <- ev:
	case <-s.quit:
	}
}

func (s *Server) IsEnabled() bool {
	return s.enabled.Load()
}

// IsListening reports whether a notification listener is registered with the node.
func (s *Server) IsListening() bool {
	s.rpcMu.Lock()
	defer s.rpcMu.Unlock()

	return s.registered
}

// View runs fn with exclusive access to the chain window.
func (s *Server) View(fn func(c *Chain)) {
	s.chainMu.Lock()
	defer s.chainMu.Unlock()

	fn(s.chain)
}

// Render advances the DAG animation by one frame.
func (s *Server) Render() []RenderedBlock {
	s.chainMu.Lock()
	defer s.chainMu.Unlock()

	return s.chain.Render()
}

func (s *Server) AttachRPC(_ context.Context, r *rpc.Rpc) error {
	s.rpcMu.Lock()
	s.rpc = r
	s.connected = false
	s.rpcMu.Unlock()

	s.chainMu.Lock()
	s.chain.Reset()
	s.chainMu.Unlock()

	s.drainNotifications()

	return nil
}

func (s *Server) DetachRPC(ctx context.Context) error {
	s.rpcMu.Lock()
	defer s.rpcMu.Unlock()

	if err := s.unregisterLocked(ctx); err != nil {
		s.logger.Warnf("[ChainMonitor] detach: %v", err)
	}

	s.rpc = nil
	s.connected = false

	return nil
}

func (s *Server) ConnectRPC(ctx context.Context) error {
	s.rpcMu.Lock()
	defer s.rpcMu.Unlock()

	s.connected = true

	if !s.enabled.Load() {
		return nil
	}

	return s.registerLocked(ctx)
}

func (s *Server) DisconnectRPC(ctx context.Context) error {
	s.rpcMu.Lock()
	defer s.rpcMu.Unlock()

	s.connected = false

	return s.unregisterLocked(ctx)
}

func (s *Server) registerLocked(ctx context.Context) error {
	if s.registered || s.rpc == nil || !s.connected {
		return nil
	}

	api := s.rpc.API
	id := api.RegisterListener(s.notifications)

	for _, scope := range []rpc.Scope{rpc.ScopeBlockAdded, rpc.ScopeVirtualChainChanged} {
		if err := api.StartNotify(ctx, id, scope); err != nil {
			if unregisterErr := api.UnregisterListener(ctx, id); unregisterErr != nil {
				s.logger.Warnf("[ChainMonitor] unable to release listener %d: %v", id, unregisterErr)
			}

			return errors.NewRPCError("[ChainMonitor] unable to subscribe to %s", scope, err)
		}
	}

	s.listener = id
	s.registered = true

	s.logger.Debugf("[ChainMonitor] listening with listener %d", id)

	return nil
}

func (s *Server) unregisterLocked(ctx context.Context) error {
	if !s.registered {
		return nil
	}

	id := s.listener
	s.registered = false
	s.listener = 0

	if s.rpc == nil {
		return nil
	}

	if err := s.rpc.API.UnregisterListener(ctx, id); err != nil {
		return errors.NewRPCError("[ChainMonitor] unable to unregister listener %d", id, err)
	}

	return nil
}

func (s *Server) drainNotifications() {
	for {
		select {
		case <-s.notifications:
		default:
			return
		}
	}
}

func (s *Server) Spawn(ctx context.Context) error {
	started := false

	s.spawnOnce.Do(func() { started = true })

	if !started {
		return errors.NewServiceError("[ChainMonitor] already spawned")
	}

	defer close(s.done)
	defer s.exit()

	for {
		// termination takes priority over pending notifications
		select {
		case <-s.quit:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		select {
		case <-s.quit:
			return nil
		case <-ctx.Done():
			return nil
		case n := <-s.notifications:
			s.handleNotification(n)
		case ev := <-s.control:
			s.handleControl(ctx, ev)
		}
	}
}

func (s *Server) exit() {
	ctx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
	defer cancel()

	s.rpcMu.Lock()
	defer s.rpcMu.Unlock()

	if err := s.unregisterLocked(ctx); err != nil {
		s.logger.Warnf("[ChainMonitor] exit: %v", err)
	}
}

func (s *Server) handleControl(ctx context.Context, ev controlEvent) {
	switch ev.kind {
	case controlEnable:
		s.enabled.Store(true)

		s.rpcMu.Lock()
		err := s.registerLocked(ctx)
		s.rpcMu.Unlock()

		if err != nil {
			s.logger.Errorf("[ChainMonitor] enable: %v", err)
		}
	case controlDisable:
		s.enabled.Store(false)

		s.rpcMu.Lock()
		err := s.unregisterLocked(ctx)
		s.rpcMu.Unlock()

		if err != nil {
			s.logger.Warnf("[ChainMonitor] disable: %v", err)
		}
	case controlSettings:
		s.chainMu.Lock()
		s.chain.UpdateSettings(ev.settings)
		s.chainMu.Unlock()

		s.requestRepaint()
	}
}

func (s *Server) handleNotification(n rpc.Notification) {
	s.chainMu.Lock()

	switch n := n.(type) {
	case *rpc.BlockAddedNotification:
		if evicted := s.chain.AddBlock(n.Block); evicted > 0 {
			prometheusChainEvictedBuckets.Add(float64(evicted))
		}
	case *rpc.VirtualChainChangedNotification:
		referenced := len(n.RemovedChainBlockHashes) + len(n.AddedChainBlockHashes)
		applied := s.chain.ApplyVirtualChainChanged(n.RemovedChainBlockHashes, n.AddedChainBlockHashes)

		if unknown := referenced - applied; unknown > 0 {
			prometheusChainUnknownVSPCHash.Add(float64(unknown))
		}
	default:
		s.chainMu.Unlock()
		s.logger.Debugf("[ChainMonitor] ignoring %s notification", n.Scope())

		return
	}

	prometheusChainBuckets.Set(float64(s.chain.Len()))
	prometheusChainBlocks.Set(float64(s.chain.BlockCount()))
	s.chainMu.Unlock()

	prometheusChainNotifications.WithLabelValues(n.Scope().String()).Inc()

	s.requestRepaint()
}

func (s *Server) requestRepaint() {
	if s.repaint != nil {
		s.repaint.RequestRepaint()
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
