package node

import (
	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/settings"
)

// Intent is a request processed by the node service loop. The set of intents is closed.
type Intent interface {
	Name() string
	isIntent()
}

// RPCConfig selects the endpoint of a remote node. An empty URL means the local default.
type RPCConfig struct {
	URL string
}

type Disable struct {
	Network settings.Network
}

type StartInternalInProc struct {
	Config  Config
	Network settings.Network
}

type StartInternalAsDaemon struct {
	Config  Config
	Network settings.Network
}

type StartExternalAsDaemon struct {
	Path    string
	Config  Config
	Network settings.Network
}

type StartRemoteConnection struct {
	RPCConfig RPCConfig
	Network   settings.Network
}

// Stdout carries one line of node output.
type Stdout struct {
	Line string
}

type Exit struct{}

func (Disable) Name() string               { return "Disable" }
func (StartInternalInProc) Name() string   { return "StartInternalInProc" }
func (StartInternalAsDaemon) Name() string { return "StartInternalAsDaemon" }
func (StartExternalAsDaemon) Name() string { return "StartExternalAsDaemon" }
func (StartRemoteConnection) Name() string { return "StartRemoteConnection" }
func (Stdout) Name() string                { return "Stdout" }
func (Exit) Name() string                  { return "Exit" }

func (Disable) isIntent()               {}
func (StartInternalInProc) isIntent()   {}
func (StartInternalAsDaemon) isIntent() {}
func (StartExternalAsDaemon) isIntent() {}
func (StartRemoteConnection) isIntent() {}
func (Stdout) isIntent()                {}
func (Exit) isIntent()                  {}

// IntentFromSettings translates the node settings into the deployment intent they describe.
func IntentFromSettings(tSettings *settings.Settings) (Intent, error) {
	ns := tSettings.Node

	if err := ns.Validate(); err != nil {
		return nil, err
	}

	network := tSettings.Network
	config := NewConfig(tSettings)

	switch ns.Kind {
	case settings.NodeKindDisable:
		return Disable{Network: network}, nil
	case settings.NodeKindIntegratedInProc:
		return StartInternalInProc{Config: config, Network: network}, nil
	case settings.NodeKindIntegratedAsDaemon:
		return StartInternalAsDaemon{Config: config, Network: network}, nil
	case settings.NodeKindExternalAsDaemon:
		return StartExternalAsDaemon{Path: ns.DaemonBinary, Config: config, Network: network}, nil
	case settings.NodeKindRemote:
		return StartRemoteConnection{RPCConfig: RPCConfig{URL: ns.RemoteURL}, Network: network}, nil
	default:
		return nil, errors.NewConfigurationError("unsupported node kind %v", ns.Kind)
	}
}
