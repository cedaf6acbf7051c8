// Package metricsmonitor samples node metrics into bounded per-metric ring buffers and publishes
// them to the application.
package metricsmonitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/kpango/fastime"
	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/events"
	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"github.com/nodekeeper/nodekeeper/util/ringbuffer"
	"go.uber.org/atomic"
)

const samplerStopTimeout = 5 * time.Second

type Server struct {
	logger   ulogger.Logger
	settings settings.MetricsMonitorSettings
	events   *events.Channel

	mu      sync.Mutex
	buffers [metricCount]*ringbuffer.Buffer[Point]
	last    *rpc.Metrics

	rpcMu   sync.Mutex
	rpc     *rpc.Rpc
	sampler *sampler

	sinkRegistered         atomic.Bool
	samplesSinceConnection atomic.Uint64
	systemInfo             atomic.Pointer[rpc.SystemInfo]
	infoCache              *ttlcache.Cache[string, *rpc.SystemInfo]

	quit      chan struct{}
	quitOnce  sync.Once
	done      chan struct{}
	spawnOnce sync.Once
}

func New(logger ulogger.Logger, tSettings *settings.Settings, eventsCh *events.Channel) *Server {
	initPrometheusMetrics()

	ms := tSettings.MetricsMonitor
	if ms.MaxSamples < 2 {
		ms.MaxSamples = 2
	}

	if ms.SampleInterval <= 0 {
		ms.SampleInterval = time.Second
	}

	ttl := ms.SystemInfoTTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	s := &Server{
		logger:   logger,
		settings: ms,
		events:   eventsCh,
		infoCache: ttlcache.New[string, *rpc.SystemInfo](
			ttlcache.WithTTL[string, *rpc.SystemInfo](ttl),
			ttlcache.WithDisableTouchOnHit[string, *rpc.SystemInfo](),
		),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}

	s.resetBuffers()

	return s
}

func (s *Server) resetBuffers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.buffers {
		s.buffers[i] = ringbuffer.New[Point](s.settings.MaxSamples, s.settings.BatchMargin)
	}

	s.last = nil
}

func (s *Server) AttachRPC(_ context.Context, r *rpc.Rpc) error {
	s.rpcMu.Lock()
	defer s.rpcMu.Unlock()

	if s.sampler != nil {
		return errors.NewStateError("[MetricsMonitor] rpc already attached")
	}

	s.sinkRegistered.Store(true)
	s.resetBuffers()

	smp := newSampler(s.logger, r, s.settings.SampleInterval, s.sink)
	if err := smp.start(); err != nil {
		s.sinkRegistered.Store(false)
		return err
	}

	s.sampler = smp
	s.rpc = r

	return nil
}

func (s *Server) DetachRPC(ctx context.Context) error {
	s.rpcMu.Lock()
	defer s.rpcMu.Unlock()

	s.sinkRegistered.Store(false)

	var err error

	if s.sampler != nil {
		err = s.sampler.stop(ctx)
		s.sampler = nil
	}

	s.rpc = nil
	s.infoCache.DeleteAll()

	return err
}

func (s *Server) ConnectRPC(ctx context.Context) error {
	s.samplesSinceConnection.Store(0)

	s.rpcMu.Lock()
	r := s.rpc
	s.rpcMu.Unlock()

	if r == nil {
		return errors.NewRPCNotAttachedError("[MetricsMonitor] connect without an attached rpc")
	}

	info, err := s.fetchSystemInfo(ctx, r)
	if err != nil {
		s.logger.Warnf("[MetricsMonitor] unable to get system info: %v", err)
		return nil
	}

	s.systemInfo.Store(info)
	s.publish(events.NodeInfo{Version: info.Version, GitHash: info.GitHash})

	return nil
}

func (s *Server) DisconnectRPC(context.Context) error {
	s.systemInfo.Store(nil)
	s.publish(events.NodeInfo{})

	return nil
}

func (s *Server) fetchSystemInfo(ctx context.Context, r *rpc.Rpc) (*rpc.SystemInfo, error) {
	key := fmt.Sprintf("%p", r)

	if item := s.infoCache.Get(key); item != nil {
		return item.Value(), nil
	}

	info, err := r.API.GetSystemInfo(ctx)
	if err != nil {
		return nil, err
	}

	if info == nil {
		return nil, errors.NewNetworkInvalidResponseError("[MetricsMonitor] empty system info")
	}

	s.infoCache.Set(key, info, ttlcache.DefaultTTL)

	return info, nil
}

// SystemInfo returns the info of the connected node, or nil.
func (s *Server) SystemInfo() *rpc.SystemInfo {
	return s.systemInfo.Load()
}

func (s *Server) SamplesSinceConnection() uint64 {
	return s.samplesSinceConnection.Load()
}

func (s *Server) sink(m *rpc.Metrics) {
	if !s.sinkRegistered.Load() {
		return
	}

	s.Ingest(m)
}

// Ingest appends one sample to every series. The first sample into an empty series back-fills it
// with evenly spaced copies so charts have a full time axis immediately. Samples whose timestamp
// does not advance are skipped. It reports whether the sample was kept.
func (s *Server) Ingest(m *rpc.Metrics) bool {
	if m == nil {
		return false
	}

	ts := m.ServerTime
	if ts <= 0 {
		ts = fastime.Now().UnixMilli()
	}

	step := s.settings.SampleInterval.Milliseconds()
	if step <= 0 {
		step = 1
	}

	s.mu.Lock()

	if last, ok := s.buffers[0].Last(); ok && ts <= last.Time {
		s.mu.Unlock()
		prometheusMetricsSkipped.Inc()

		return false
	}

	evicted := 0
	values := make(map[string]float64, metricCount)

	for i, buf := range s.buffers {
		metric := Metric(i)
		v := metric.Value(m)

		if buf.Len() == 0 {
			n := int64(buf.Cap() - 1)
			start := ts - n*step

			for j := int64(0); j < n; j++ {
				buf.Push(Point{Time: start + j*step, Value: v})
			}
		}

		evicted += buf.Push(Point{Time: ts, Value: v})
		values[metric.String()] = v
	}

	s.last = m
	s.mu.Unlock()

	prometheusMetricsSamples.Inc()

	if evicted > 0 {
		prometheusMetricsEvicted.Add(float64(evicted))
	}

	s.samplesSinceConnection.Inc()

	s.publish(events.Metrics{Time: time.UnixMilli(ts), Values: values})
	s.publish(events.MempoolSize{Size: m.Consensus.MempoolSize})

	return true
}

// Series returns a copy of one metric's points, oldest first.
func (s *Server) Series(metric Metric) []Point {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buffers[metric].Items()
}

// Tail returns the newest n points of one metric.
func (s *Server) Tail(metric Metric, n int) []Point {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buffers[metric].Tail(n)
}

// Latest returns the last ingested sample, or nil.
func (s *Server) Latest() *rpc.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.last
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
		return errors.NewServiceError("[MetricsMonitor] already spawned")
	}

	defer close(s.done)

	go s.infoCache.Start()
	defer s.infoCache.Stop()

	select {
	case <-s.quit:
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), samplerStopTimeout)
	defer cancel()

	s.rpcMu.Lock()
	defer s.rpcMu.Unlock()

	if s.sampler != nil {
		if err := s.sampler.stop(stopCtx); err != nil {
			s.logger.Warnf("[MetricsMonitor] %v", err)
		}

		s.sampler = nil
	}

	return nil
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
