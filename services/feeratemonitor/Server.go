// Package feeratemonitor periodically fetches the node fee estimate and publishes it.
package feeratemonitor

import (
	"context"
	"sync"
	"time"

	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/events"
	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"go.uber.org/atomic"
)

const defaultPollInterval = 3 * time.Second

type command int

const (
	cmdEnable command = iota
	cmdDisable
	cmdFetch
)

type Server struct {
	logger   ulogger.Logger
	interval time.Duration
	events   *events.Channel

	rpcMu sync.Mutex
	rpc   *rpc.Rpc

	estimate atomic.Pointer[rpc.FeeEstimate]
	enabled  atomic.Bool
	fetches  atomic.Uint64
	control  chan command

	quit      chan struct{}
	quitOnce  sync.Once
	done      chan struct{}
	spawnOnce sync.Once
}

func New(logger ulogger.Logger, tSettings *settings.Settings, eventsCh *events.Channel) *Server {
	interval := tSettings.FeeRateMonitor.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	s := &Server{
		logger:   logger,
		interval: interval,
		events:   eventsCh,
		control:  make(chan command, 8),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	s.enabled.Store(tSettings.FeeRateMonitor.Enabled)

	return s
}

// Enable resumes polling and fetches immediately.
func (s *Server) Enable() {
	s.send(cmdEnable)
}

// Disable stops polling and publishes an empty estimate.
func (s *Server) Disable() {
	s.send(cmdDisable)
}

// Fetch requests an out of band fetch. It is a no-op while disabled.
func (s *Server) Fetch() {
	s.send(cmdFetch)
}

func (s *Server) send(c command) {
	select {
	case s.control <- c:
	case <-s.quit:
	}
}

func (s *Server) IsEnabled() bool {
	return s.enabled.Load()
}

// Estimate returns the last fetched estimate, or nil.
func (s *Server) Estimate() *rpc.FeeEstimate {
	return s.estimate.Load()
}

func (s *Server) Fetches() uint64 {
	return s.fetches.Load()
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
	s.estimate.Store(nil)
	s.rpcMu.Unlock()

	s.publish(events.Feerate{})

	return nil
}

func (s *Server) ConnectRPC(context.Context) error {
	return nil
}

func (s *Server) DisconnectRPC(context.Context) error {
	return nil
}

func (s *Server) fetch(ctx context.Context) {
	if !s.enabled.Load() {
		return
	}

	s.rpcMu.Lock()
	r := s.rpc
	s.rpcMu.Unlock()

	if r == nil || !r.Ctl.IsConnected() {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	estimate, err := r.API.GetFeeEstimate(ctx)
	if err != nil {
		s.logger.Debugf("[FeeRateMonitor] fetch failed: %v", err)
		return
	}

	s.rpcMu.Lock()
	if s.rpc != r {
		s.rpcMu.Unlock()
		return
	}

	s.estimate.Store(estimate)
	s.rpcMu.Unlock()

	s.fetches.Inc()
	s.publish(events.Feerate{Estimate: estimate})
}

func (s *Server) publish(e events.Event) {
	if s.events != nil {
		s.events.Send(e)
	}
}

func (s *Server) Spawn(ctx context.Context) error {
	started := false

	s.spawnOnce.Do(func() { started = true })

	if !started {
		return errors.NewServiceError("[FeeRateMonitor] already spawned")
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
		case c := <-s.control:
			switch c {
			case cmdEnable:
				s.enabled.Store(true)
				s.fetch(ctx)
			case cmdDisable:
				s.enabled.Store(false)
				s.estimate.Store(nil)
				s.publish(events.Feerate{})
			case cmdFetch:
				s.fetch(ctx)
			}
		case <-ticker.C:
			s.fetch(ctx)
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
