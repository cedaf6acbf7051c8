package daemon

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/events"
	"github.com/nodekeeper/nodekeeper/services/node"
	"github.com/nodekeeper/nodekeeper/services/repaint"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"github.com/nodekeeper/nodekeeper/util/servicemanager"
	"github.com/nodekeeper/nodekeeper/util/tracing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
)

const serverShutdownTimeout = 5 * time.Second

type externalService struct {
	Name     string
	InitFunc func() (servicemanager.Service, error)
}

// Daemon assembles the supervisor: it registers the node lifecycle service and its monitors with a
// ServiceManager and serves the health, metrics and services endpoints.
type Daemon struct {
	Ctx           context.Context
	doneCh        chan struct{}
	closeDoneOnce sync.Once

	stopCh        chan struct{} // closed when all services have stopped
	closeStopOnce sync.Once

	serverMu   sync.Mutex
	server     *http.Server
	healthAddr string

	started atomic.Bool

	ServiceManager   *servicemanager.ServiceManager
	Events           *events.Channel
	Services         *Services
	externalServices []*externalService
	loggerFactory    func(serviceName string) ulogger.Logger
	repainter        repaint.Repainter
	nodeOptions      []node.Option
}

func New(opts ...Option) *Daemon {
	d := &Daemon{
		Ctx:              context.Background(),
		doneCh:           make(chan struct{}),
		stopCh:           make(chan struct{}),
		externalServices: make([]*externalService, 0),
		loggerFactory: func(serviceName string) ulogger.Logger {
			return ulogger.New(serviceName)
		},
	}

	for _, opt := range opts {
		opt(d)
	}

	d.ServiceManager = servicemanager.NewServiceManager(d.Ctx, d.loggerFactory("ServiceManager"))

	return d
}

// AddExternalService registers an additional service, created when the daemon starts.
func (d *Daemon) AddExternalService(name string, initFunc func() (servicemanager.Service, error)) {
	d.externalServices = append(d.externalServices, &externalService{
		Name:     name,
		InitFunc: initFunc,
	})
}

// HealthAddress returns the bound address of the health server, empty until it listens.
func (d *Daemon) HealthAddress() string {
	d.serverMu.Lock()
	defer d.serverMu.Unlock()

	return d.healthAddr
}

// Stop requests a shutdown and waits for every service to stop, 10 seconds by default.
func (d *Daemon) Stop(timeout ...time.Duration) error {
	logger := d.loggerFactory("Daemon")

	d.closeDoneOnce.Do(func() { close(d.doneCh) })

	if !d.started.Load() {
		d.closeStopOnce.Do(func() { close(d.stopCh) })
	}

	shutdownTimeout := 10 * time.Second
	if len(timeout) > 0 {
		shutdownTimeout = timeout[0]
	}

	select {
	case <-d.stopCh:
		return nil
	case <-time.After(shutdownTimeout):
		logger.Warnf("Timeout waiting for services to stop after %v", shutdownTimeout)

		for _, name := range d.ServiceManager.ServiceNames() {
			logger.Warnf("  - %s", name)
		}

		return errors.NewProcessingError("timeout waiting for services to stop after %v", shutdownTimeout)
	}
}

// Start registers and starts all services and blocks until they stopped, either through Stop, a signal
// or a failing service. readyCh, if given, is closed once the services and the health server are up.
func (d *Daemon) Start(logger ulogger.Logger, tSettings *settings.Settings, readyCh ...chan struct{}) {
	d.started.Store(true)
	defer d.closeStopOnce.Do(func() { close(d.stopCh) })

	sm := d.ServiceManager

	if err := tracing.InitTracer(tSettings); err != nil {
		logger.Warnf("failed to initialize tracer: %v", err)
	}

	if err := d.startServices(sm.Ctx, tSettings); err != nil {
		logger.Errorf("error starting services: %v", err)
		sm.ForceShutdown()
		d.closeDoneOnce.Do(func() { close(d.doneCh) })
	}

	sm.Start()

	if err := d.startHealthServer(logger, tSettings); err != nil {
		logger.Errorf("error starting health server: %v", err)
		sm.ForceShutdown()
	}

	if len(readyCh) > 0 && readyCh[0] != nil {
		close(readyCh[0])
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- sm.Wait(tSettings.ServiceJoinTimeout)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			logger.Errorf("services failed: %v", err)
		}
	case <-d.doneCh:
		logger.Infof("daemon shutdown requested")

		sm.ForceShutdown()

		logger.Infof("daemon shutdown waiting for services to finish")

		if err := <-waitErr; err != nil {
			logger.Errorf("error during service shutdown: %v", err)
		}
	}

	d.shutdownHealthServer(logger)

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := tracing.ShutdownTracer(ctx); err != nil {
		logger.Warnf("error shutting down tracer: %v", err)
	}

	logger.Infof("daemon shutdown completed")
}

func (d *Daemon) startHealthServer(logger ulogger.Logger, tSettings *settings.Settings) error {
	if tSettings.HealthCheckAddress == "" {
		return nil
	}

	sm := d.ServiceManager

	mux := http.NewServeMux()

	healthFunc := func(liveness bool) func(http.ResponseWriter, *http.Request) {
		return func(w http.ResponseWriter, r *http.Request) {
			status, details, err := sm.HealthHandler(r.Context(), liveness)
			if err != nil {
				logger.Warnf("health check failed: %v", err)
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(details))
		}
	}

	mux.HandleFunc("/health", healthFunc(false))
	mux.HandleFunc("/health/readiness", healthFunc(false))
	mux.HandleFunc("/health/liveness", healthFunc(true))
	mux.HandleFunc("/services", sm.ServicesHandler)

	if tSettings.PrometheusEndpoint != "" {
		mux.Handle(tSettings.PrometheusEndpoint, promhttp.Handler())
	}

	ln, err := net.Listen("tcp", tSettings.HealthCheckAddress)
	if err != nil {
		return errors.NewServiceError("unable to listen on %s", tSettings.HealthCheckAddress, err)
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	d.serverMu.Lock()
	d.server = server
	d.healthAddr = ln.Addr().String()
	d.serverMu.Unlock()

	servicemanager.AddListenerInfo("health http://" + ln.Addr().String() + "/health")

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("health server failed: %v", err)
		}
	}()

	logger.Infof("Health check endpoint listening on http://%s/health", ln.Addr())

	return nil
}

func (d *Daemon) shutdownHealthServer(logger ulogger.Logger) {
	d.serverMu.Lock()
	defer d.serverMu.Unlock()

	if d.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := d.server.Shutdown(ctx); err != nil {
		logger.Warnf("Error shutting down health check server: %v", err)
	}

	d.server = nil
}
