package daemon

import (
	"context"

	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/events"
	"github.com/nodekeeper/nodekeeper/services/chainmonitor"
	"github.com/nodekeeper/nodekeeper/services/eventstream"
	"github.com/nodekeeper/nodekeeper/services/feeratemonitor"
	"github.com/nodekeeper/nodekeeper/services/metricsmonitor"
	"github.com/nodekeeper/nodekeeper/services/node"
	"github.com/nodekeeper/nodekeeper/services/peermonitor"
	"github.com/nodekeeper/nodekeeper/services/repaint"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/util/servicemanager"
)

// Service names as registered with the ServiceManager.
const (
	ServiceRepaint        = "Repaint"
	ServiceChainMonitor   = "ChainMonitor"
	ServiceMetricsMonitor = "MetricsMonitor"
	ServicePeerMonitor    = "PeerMonitor"
	ServiceFeeRateMonitor = "FeeRateMonitor"
	ServiceEventStream    = "EventStream"
	ServiceNode           = "Node"
)

// Services holds the instances started by the daemon. Every monitor is registered; the monitor settings
// only decide whether it starts enabled.
type Services struct {
	Repaint        *repaint.Service
	ChainMonitor   *chainmonitor.Server
	MetricsMonitor *metricsmonitor.Server
	PeerMonitor    *peermonitor.Server
	FeeRateMonitor *feeratemonitor.Server
	EventStream    *eventstream.Server
	Node           *node.Server
}

type serviceStarter struct {
	name      string
	startFunc func() (servicemanager.Service, error)
}

// startServices registers every service with the ServiceManager. The monitors are added before the node
// service so they are already registered when it attaches the first RPC client.
func (d *Daemon) startServices(_ context.Context, appSettings *settings.Settings) error {
	sm := d.ServiceManager

	if err := appSettings.Node.Validate(); err != nil {
		return errors.NewConfigurationError("invalid node settings", err)
	}

	d.Events = events.NewChannel(appSettings.EventChannelSize)
	d.Services = &Services{}

	starters := []serviceStarter{
		{
			name: ServiceRepaint,
			startFunc: func() (servicemanager.Service, error) {
				d.Services.Repaint = repaint.New(d.loggerFactory("rpnt"), appSettings.Repaint, d.repainter)
				return d.Services.Repaint, nil
			},
		},
		{
			name: ServiceChainMonitor,
			startFunc: func() (servicemanager.Service, error) {
				d.Services.ChainMonitor = chainmonitor.New(d.loggerFactory("chnm"), appSettings, d.Services.Repaint)
				return d.Services.ChainMonitor, nil
			},
		},
		{
			name: ServiceMetricsMonitor,
			startFunc: func() (servicemanager.Service, error) {
				d.Services.MetricsMonitor = metricsmonitor.New(d.loggerFactory("mtrm"), appSettings, d.Events)
				return d.Services.MetricsMonitor, nil
			},
		},
		{
			name: ServicePeerMonitor,
			startFunc: func() (servicemanager.Service, error) {
				d.Services.PeerMonitor = peermonitor.New(d.loggerFactory("peer"), appSettings)
				return d.Services.PeerMonitor, nil
			},
		},
		{
			name: ServiceFeeRateMonitor,
			startFunc: func() (servicemanager.Service, error) {
				d.Services.FeeRateMonitor = feeratemonitor.New(d.loggerFactory("feer"), appSettings, d.Events)
				return d.Services.FeeRateMonitor, nil
			},
		},
		{
			name: ServiceEventStream,
			startFunc: func() (servicemanager.Service, error) {
				d.Services.EventStream = eventstream.New(d.loggerFactory("evts"), appSettings, d.Events)
				return d.Services.EventStream, nil
			},
		},
	}

	for _, es := range d.externalServices {
		starters = append(starters, serviceStarter{
			name:      es.Name,
			startFunc: es.InitFunc,
		})
	}

	starters = append(starters, serviceStarter{
		name: ServiceNode,
		startFunc: func() (servicemanager.Service, error) {
			d.Services.Node = node.New(d.loggerFactory("node"), appSettings, sm, d.Events, d.nodeOptions...)
			return d.Services.Node, nil
		},
	})

	for _, starter := range starters {
		service, err := starter.startFunc()
		if err != nil {
			return errors.NewServiceError("failed to create service %s", starter.name, err)
		}

		if err = sm.AddService(starter.name, service); err != nil {
			return err
		}
	}

	return nil
}
