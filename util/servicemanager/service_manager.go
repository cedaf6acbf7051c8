package servicemanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"golang.org/x/sync/errgroup"
)

// slowHookThreshold is the duration after which a single RPC hook is reported as slow.
const slowHookThreshold = time.Second

type serviceWrapper struct {
	name     string
	instance Service
}

var (
	listenersMu sync.RWMutex
	listeners   []string
)

// ServiceManager owns an ordered list of services, starts them, broadcasts RPC changes to them
// and coordinates their shutdown.
type ServiceManager struct {
	mu         sync.RWMutex
	services   []serviceWrapper
	running    bool
	startedAt  time.Time
	logger     ulogger.Logger
	Ctx        context.Context
	cancelFunc context.CancelFunc
	g          *errgroup.Group
}

// NewServiceManager creates a service manager. SIGINT and SIGTERM cancel its context,
// which makes Wait shut all services down.
func NewServiceManager(ctx context.Context, logger ulogger.Logger) *ServiceManager {
	initPrometheusMetrics()

	ctx, cancelFunc := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	sm := &ServiceManager{
		services:   make([]serviceWrapper, 0),
		logger:     logger,
		Ctx:        ctx,
		cancelFunc: cancelFunc,
		g:          g,
	}

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

		defer signal.Stop(sigs)

		select {
		case <-sigs:
			sm.logger.Infof("🟠 Received shutdown signal. Stopping services...")
			sm.cancelFunc()
		case <-ctx.Done():
		}
	}()

	return sm
}

// AddListenerInfo records a listen address for the /services endpoint.
func AddListenerInfo(name string) {
	listenersMu.Lock()
	defer listenersMu.Unlock()

	listeners = append(listeners, name)
}

// GetListenerInfos returns a sorted copy of all registered listener names.
func GetListenerInfos() []string {
	listenersMu.RLock()
	defer listenersMu.RUnlock()

	sortedListeners := make([]string, len(listeners))
	copy(sortedListeners, listeners)
	sort.Strings(sortedListeners)

	return sortedListeners
}

// AddService registers a service. Services added before Start are spawned in registration order,
// services added afterwards are spawned immediately.
func (sm *ServiceManager) AddService(name string, service Service) error {
	if name == "" || service == nil {
		return errors.NewInvalidArgumentError("service name and instance are required")
	}

	sw := serviceWrapper{name: name, instance: service}

	sm.mu.Lock()

	for _, existing := range sm.services {
		if existing.name == name {
			sm.mu.Unlock()
			return errors.NewInvalidArgumentError("service %s is already registered", name)
		}
	}

	sm.services = append(sm.services, sw)
	running := sm.running

	sm.mu.Unlock()

	prometheusServices.Inc()

	sm.logger.Infof("⚪️ Registered service %s", name)

	if running {
		sm.spawn(sw)
	}

	return nil
}

// Start spawns every registered service and returns without waiting for them.
func (sm *ServiceManager) Start() {
	sm.mu.Lock()

	if sm.running {
		sm.mu.Unlock()
		return
	}

	sm.running = true
	sm.startedAt = time.Now()
	services := append([]serviceWrapper(nil), sm.services...)

	sm.mu.Unlock()

	for _, sw := range services {
		sm.spawn(sw)
	}
}

func (sm *ServiceManager) spawn(sw serviceWrapper) {
	sm.logger.Infof("🟢 Starting service %s...", sw.name)

	ctx := sm.Ctx

	sm.g.Go(func() error {
		if err := sw.instance.Spawn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			sm.logger.Errorf("Error from service %s: %v", sw.name, err)
			return errors.NewServiceError("[%s] service exited with error", sw.name, err)
		}

		return nil
	})
}

func (sm *ServiceManager) IsRunning() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.running
}

// ServicesUptime returns the time since Start, or zero when not running.
func (sm *ServiceManager) ServicesUptime() time.Duration {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.running {
		return 0
	}

	return time.Since(sm.startedAt)
}

func (sm *ServiceManager) snapshot() []serviceWrapper {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return append([]serviceWrapper(nil), sm.services...)
}

// Services returns the registered services in registration order.
func (sm *ServiceManager) Services() []Service {
	services := sm.snapshot()

	result := make([]Service, 0, len(services))
	for _, sw := range services {
		result = append(result, sw.instance)
	}

	return result
}

func (sm *ServiceManager) ServiceNames() []string {
	services := sm.snapshot()

	names := make([]string, 0, len(services))
	for _, sw := range services {
		names = append(names, sw.name)
	}

	return names
}

// AttachRPC hands r to every RPC service in registration order. The first error aborts the broadcast.
func (sm *ServiceManager) AttachRPC(ctx context.Context, r *rpc.Rpc) error {
	return sm.broadcast("AttachRPC", func(s RPCService) error {
		return s.AttachRPC(ctx, r)
	})
}

func (sm *ServiceManager) DetachRPC(ctx context.Context) error {
	return sm.broadcast("DetachRPC", func(s RPCService) error {
		return s.DetachRPC(ctx)
	})
}

func (sm *ServiceManager) ConnectRPC(ctx context.Context) error {
	return sm.broadcast("ConnectRPC", func(s RPCService) error {
		return s.ConnectRPC(ctx)
	})
}

func (sm *ServiceManager) DisconnectRPC(ctx context.Context) error {
	return sm.broadcast("DisconnectRPC", func(s RPCService) error {
		return s.DisconnectRPC(ctx)
	})
}

func (sm *ServiceManager) broadcast(operation string, fn func(RPCService) error) error {
	start := time.Now()

	defer func() {
		prometheusBroadcastDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	for _, sw := range sm.snapshot() {
		s, ok := sw.instance.(RPCService)
		if !ok {
			continue
		}

		hookStart := time.Now()

		if err := fn(s); err != nil {
			prometheusBroadcastErrors.WithLabelValues(operation, sw.name).Inc()
			return errors.NewServiceError("[%s] %s failed", sw.name, operation, err)
		}

		if elapsed := time.Since(hookStart); elapsed > slowHookThreshold {
			sm.logger.Warnf("[%s] %s took %s", sw.name, operation, elapsed)
		}
	}

	return nil
}

// Shutdown signals every service to terminate. It does not wait, use Join for that.
func (sm *ServiceManager) Shutdown() {
	for _, sw := range sm.snapshot() {
		sm.logger.Infof("🟠 Stopping service %s...", sw.name)
		sw.instance.Terminate()
	}
}

// ForceShutdown cancels the context handed to every Spawn.
func (sm *ServiceManager) ForceShutdown() {
	sm.cancelFunc()
}

// Join waits for every service concurrently, then for all spawned tasks, and clears the running flag.
// It returns the first error reported by a service.
func (sm *ServiceManager) Join(ctx context.Context) error {
	var joins errgroup.Group

	for _, sw := range sm.snapshot() {
		joins.Go(func() error {
			if err := sw.instance.Join(ctx); err != nil {
				sm.logger.Warnf("[%s] Failed to join service: %v", sw.name, err)
				return errors.NewServiceError("[%s] join failed", sw.name, err)
			}

			sm.logger.Infof("[%s] Service stopped gracefully", sw.name)

			return nil
		})
	}

	joinErr := joins.Wait()

	spawnDone := make(chan error, 1)
	go func() {
		spawnDone <- sm.g.Wait()
	}()

	var spawnErr error

	select {
	case spawnErr = <-spawnDone:
	case <-ctx.Done():
		spawnErr = errors.NewContextError("timed out waiting for services to exit", ctx.Err())
	}

	sm.mu.Lock()
	sm.running = false
	sm.mu.Unlock()

	sm.cancelFunc()

	sm.logger.Infof("🛑 All services stopped.")

	if joinErr != nil {
		return joinErr
	}

	return spawnErr
}

// Wait blocks until the manager's context is cancelled, by a signal, ForceShutdown or a failing service,
// then shuts every service down and joins them within joinTimeout.
func (sm *ServiceManager) Wait(joinTimeout time.Duration) error {
	<-sm.Ctx.Done()

	sm.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()

	return sm.Join(ctx)
}

// HealthHandler aggregates health status from all services implementing HealthChecker.
func (sm *ServiceManager) HealthHandler(ctx context.Context, checkLiveness bool) (int, string, error) {
	overallStatus := http.StatusOK
	msgs := make([]string, 0)

	for _, sw := range sm.snapshot() {
		checker, ok := sw.instance.(HealthChecker)
		if !ok {
			continue
		}

		status, details, err := checker.Health(ctx, checkLiveness)
		if err != nil || status != http.StatusOK {
			overallStatus = http.StatusServiceUnavailable
		}

		if details == "" || details[0] != '{' {
			details = fmt.Sprintf(`{"message": %q}`, details)
		}

		msgs = append(msgs, fmt.Sprintf(`{"service": "%s","status": "%d","dependencies": [%s]}`, sw.name, status, details))
	}

	jsonStr := fmt.Sprintf(`{"status": "%d", "services": [%s]}`, overallStatus, strings.Join(msgs, ",\n"))

	var jsonFormatted bytes.Buffer
	if err := json.Indent(&jsonFormatted, []byte(jsonStr), "", "  "); err == nil {
		jsonStr = jsonFormatted.String()
	}

	return overallStatus, jsonStr, nil
}

type servicesResponse struct {
	Running   bool     `json:"running"`
	Uptime    string   `json:"uptime"`
	Services  []string `json:"services"`
	Listeners []string `json:"listeners"`
}

// ServicesHandler serves the registered services and listeners as JSON.
func (sm *ServiceManager) ServicesHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	_ = jsoniter.NewEncoder(w).Encode(servicesResponse{
		Running:   sm.IsRunning(),
		Uptime:    sm.ServicesUptime().Truncate(time.Second).String(),
		Services:  sm.ServiceNames(),
		Listeners: GetListenerInfos(),
	})
}
