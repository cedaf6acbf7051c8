package metricsmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/ulogger"
)

// Sink receives every sample taken by a sampler.
type Sink func(m *rpc.Metrics)

// sampler polls GetMetrics on a fixed interval while the rpc reports connected.
type sampler struct {
	logger   ulogger.Logger
	rpc      *rpc.Rpc
	interval time.Duration
	sink     Sink

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newSampler(logger ulogger.Logger, r *rpc.Rpc, interval time.Duration, sink Sink) *sampler {
	if interval <= 0 {
		interval = time.Second
	}

	return &sampler{
		logger:   logger,
		rpc:      r,
		interval: interval,
		sink:     sink,
	}
}

func (s *sampler) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.NewServiceError("[MetricsMonitor] sampler already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, s.done)

	return nil
}

func (s *sampler) stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.NewServiceError("[MetricsMonitor] sampler did not stop", ctx.Err())
	}
}

func (s *sampler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *sampler) sample(ctx context.Context) {
	if !s.rpc.Ctl.IsConnected() {
		return
	}

	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.interval*4)
	defer cancel()

	m, err := s.rpc.API.GetMetrics(ctx)

	prometheusMetricsSampleDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debugf("[MetricsMonitor] sample failed: %v", err)
		}

		prometheusMetricsSampleErrors.Inc()

		return
	}

	s.sink(m)
}
