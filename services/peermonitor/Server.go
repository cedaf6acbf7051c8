// Package peermonitor polls the node for its connected peers while enabled.
package peermonitor

import (
	"context"
	"sync"
	"time"

	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"go.uber.org/atomic"
)

const defaultPollInterval = time.Second

type Server struct {
	logger   ulogger.Logger
	interval time.Duration

	rpcMu sync.Mutex
	rpc   *rpc.Rpc

	mu      sync.RWMutex
	peers   []*rpc.PeerInfo
	updated time.Time

	enabled atomic.Bool
	polls   atomic.Uint64
	control chan bool

	quit      chan struct{}
	quitOnce  sync.Once
	done      chan struct{}
	spawnOnce sync.Once
}

func New(logger ulogger.Logger, tSettings *settings.Settings) *Server {
	interval := tSettings.PeerMonitor.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	s := &Server{
		logger:   logger,
		interval: interval,
		control:  make(chan bool, 8),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	s.enabled.Store(tSettings.PeerMonitor.Enabled)

	return s
}

func (s *Server) Enable() {
	s.send(true)
}

// Disable stops polling and clears the snapshot.
func (s *Server) Disable() {
	s.send(false)
}

func (s *Server) send(enable bool) {
	select {
	case s.control <- enable:
	case <-s.quit:
	}
}

func (s *Server) IsEnabled() bool {
	return s.enabled.Load()
}

// Peers returns the last polled peer list. The slice is replaced, never mutated, on each poll.
func (s *Server) Peers() []*rpc.PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.peers
}

func (s *Server) Updated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.updated
}

// Polls returns the number of successful polls.
func (s *Server) Polls() uint64 {
	return s.polls.Load()
}

func (s *Server) clear() {
	s.mu.Lock()
	s.peers = nil
	s.updated = time.Time{}
	s.mu.Unlock()
}

func (s *Server) AttachRPC(_ context.Context, r *rpc.Rpc) error {
	s.rpcMu.Lock()
	s.rpc = r
	s.rpcMu.Unlock()

	return nil
}

func (s *Server) DetachRPC(context.Context) error {
	s.rpcMu.Lock()
	s.rpc = nil
	s.rpcMu.Unlock()

	s.clear()

	return nil
}

func (s *Server) ConnectRPC(context.Context) error {
	return nil
}

func (s *Server) DisconnectRPC(context.Context) error {
	return nil
}

func (s *Server) poll(ctx context.Context) {
	if !s.enabled.Load() {
		return
	}

	s.rpcMu.Lock()
	r := s.rpc
	s.rpcMu.Unlock()

	if r == nil || !r.Ctl.IsConnected() {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.interval*4)
	defer cancel()

	peers, err := r.API.GetConnectedPeerInfo(ctx)
	if err != nil {
		s.logger.Debugf("[PeerMonitor] poll failed: %v", err)
		return
	}

	// a detach may have happened while the call was in flight
	s.rpcMu.Lock()
	defer s.rpcMu.Unlock()

	if s.rpc != r {
		return
	}

	s.mu.Lock()
	s.peers = peers
	s.updated = time.Now()
	s.mu.Unlock()

	s.polls.Inc()
}

func (s *Server) Spawn(ctx context.Context) error {
	started := false

	s.spawnOnce.Do(func() { started = true })

	if !started {
		return errors.NewServiceError("[PeerMonitor] already spawned")
	}

	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
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
		case enable := <-s.control:
			s.enabled.Store(enable)

			if enable {
				s.poll(ctx)
			} else {
				s.clear()
			}
		case <-ticker.C:
			s.poll(ctx)
		}
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
