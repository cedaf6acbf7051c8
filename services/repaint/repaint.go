// Package repaint coalesces repaint requests from the monitors into at most one UI repaint per frame.
package repaint

import (
	"context"
	"sync"
	"time"

	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"go.uber.org/atomic"
)

const DefaultTargetFPS = 30

// Repainter is implemented by the UI.
type Repainter interface {
	Repaint()
}

// Requester is the side handed to services that produce visible changes.
type Requester interface {
	RequestRepaint()
}

type RepainterFunc func()

func (f RepainterFunc) Repaint() { f() }

type Service struct {
	logger    ulogger.Logger
	repainter Repainter
	interval  time.Duration

	pending   atomic.Bool
	repaints  atomic.Uint64
	quit      chan struct{}
	quitOnce  sync.Once
	done      chan struct{}
	spawnOnce sync.Once
}

// New creates the service. A nil repainter makes repaint requests no-ops apart from counting.
func New(logger ulogger.Logger, s settings.RepaintSettings, repainter Repainter) *Service {
	fps := s.TargetFPS
	if fps <= 0 {
		fps = DefaultTargetFPS
	}

	return &Service{
		logger:    logger,
		repainter: repainter,
		interval:  time.Second / time.Duration(fps),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *Service) RequestRepaint() {
	s.pending.Store(true)
}

// Repaints returns the number of repaints issued.
func (s *Service) Repaints() uint64 {
	return s.repaints.Load()
}

func (s *Service) Interval() time.Duration {
	return s.interval
}

func (s *Service) Spawn(ctx context.Context) error {
	started := false

	s.spawnOnce.Do(func() { started = true })

	if !started {
		return nil
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
		case <-ticker.C:
			if s.pending.CompareAndSwap(true, false) {
				s.repaints.Inc()

				if s.repainter != nil {
					s.repainter.Repaint()
				}
			}
		}
	}
}

func (s *Service) Terminate() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *Service) Join(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
