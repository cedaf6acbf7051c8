// Package eventstream drains the application event channel and fans every event out to in-process
// subscribers and websocket clients.
package eventstream

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/events"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"github.com/nodekeeper/nodekeeper/util/health"
	"github.com/nodekeeper/nodekeeper/util/servicemanager"
	"go.uber.org/atomic"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultBufferSize = 256
	pingInterval      = 20 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Message is the wire form of an event sent to websocket clients.
type Message struct {
	Kind      string       `json:"kind"`
	Timestamp int64        `json:"timestamp"`
	Data      events.Event `json:"data,omitempty"`
}

type subscriber struct {
	id      uuid.UUID
	ch      chan events.Event
	dropped atomic.Uint64
}

type Server struct {
	logger     ulogger.Logger
	settings   settings.EventStreamSettings
	events     *events.Channel
	e          *echo.Echo
	bufferSize int

	mu          sync.RWMutex
	subscribers map[uuid.UUID]*subscriber
	addr        string

	delivered atomic.Uint64
	dropped   atomic.Uint64

	quit      chan struct{}
	quitOnce  sync.Once
	done      chan struct{}
	spawnOnce sync.Once
}

func New(logger ulogger.Logger, tSettings *settings.Settings, eventsCh *events.Channel) *Server {
	initPrometheusMetrics()

	bufferSize := tSettings.EventStream.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		logger:      logger,
		settings:    tSettings.EventStream,
		events:      eventsCh,
		e:           e,
		bufferSize:  bufferSize,
		subscribers: make(map[uuid.UUID]*subscriber),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	e.GET("/events", s.HandleWebSocket)
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	return s
}

// Handler exposes the websocket endpoint, for mounting on another server or in tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Addr returns the address the websocket endpoint is listening on, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.addr
}

// Subscribe registers an in-process subscriber. Events that do not fit in its buffer are dropped.
func (s *Server) Subscribe(size int) (uuid.UUID, <-chan events.Event) {
	if size <= 0 {
		size = s.bufferSize
	}

	sub := &subscriber{id: uuid.New(), ch: make(chan events.Event, size)}

	s.mu.Lock()
	s.subscribers[sub.id] = sub
	s.mu.Unlock()

	prometheusEventStreamSubscribers.Inc()

	return sub.id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Server) Unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	sub, ok := s.subscribers[id]
	delete(s.subscribers, id)
	s.mu.Unlock()

	if ok {
		close(sub.ch)
		prometheusEventStreamSubscribers.Dec()
	}
}

func (s *Server) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.subscribers)
}

func (s *Server) Delivered() uint64 {
	return s.delivered.Load()
}

func (s *Server) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Server) broadcast(e events.Event) {
	prometheusEventStreamEvents.WithLabelValues(e.Kind()).Inc()

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscribers {
		select {
		case sub.ch <- e:
			s.delivered.Inc()
		default:
			sub.dropped.Inc()
			s.dropped.Inc()
			prometheusEventStreamDropped.Inc()
		}
	}
}

// Health reports the stream as unavailable once it stopped draining the event channel. Readiness also
// probes the websocket listener when one is configured.
func (s *Server) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	select {
	case <-s.done:
		return http.StatusServiceUnavailable, "event stream stopped", nil
	default:
	}

	if checkLiveness {
		return http.StatusOK, "OK", nil
	}

	checks := make([]health.Check, 0, 1)

	if addr := s.Addr(); addr != "" {
		checks = append(checks, health.Check{Name: "websocket", Check: health.CheckHTTPServer("http://"+addr, "/health")})
	}

	return health.CheckAll(ctx, checkLiveness, checks)
}

func (s *Server) listen() error {
	if s.settings.ListenAddress == "" {
		return nil
	}

	ln, err := net.Listen("tcp", s.settings.ListenAddress)
	if err != nil {
		return errors.NewServiceError("[EventStream] unable to listen on %s", s.settings.ListenAddress, err)
	}

	s.e.Listener = ln

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	servicemanager.AddListenerInfo("eventstream ws://" + s.addr + "/events")

	go func() {
		s.logger.Infof("[EventStream] listening on %s", s.addr)

		if err := s.e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("[EventStream] server error: %v", err)
		}
	}()

	return nil
}

func (s *Server) Spawn(ctx context.Context) error {
	started := false

	s.spawnOnce.Do(func() { started = true })

	if !started {
		return errors.NewServiceError("[EventStream] already spawned")
	}

	defer close(s.done)

	if err := s.listen(); err != nil {
		return err
	}

	defer s.shutdown()

	var receiver <-chan events.Event
	if s.events != nil {
		receiver = s.events.Receiver()
	}

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
		case e := <-receiver:
			s.broadcast(e)
		}
	}
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.Addr() != "" {
		if err := s.e.Shutdown(ctx); err != nil {
			s.logger.Warnf("[EventStream] shutdown error: %v", err)
		}
	}

	s.mu.Lock()
	subs := s.subscribers
	s.subscribers = make(map[uuid.UUID]*subscriber)
	s.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
		prometheusEventStreamSubscribers.Dec()
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
