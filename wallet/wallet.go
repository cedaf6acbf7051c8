// Package wallet defines the narrow boundary between the node supervisor and a wallet session.
package wallet

import (
	"context"

	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/settings"
)

type EventKind int

const (
	EventStarted EventKind = iota
	EventStopped
	EventRPCBound
	EventRPCUnbound
	EventNetworkChanged
	EventOpened
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventRPCBound:
		return "rpc-bound"
	case EventRPCUnbound:
		return "rpc-unbound"
	case EventNetworkChanged:
		return "network-changed"
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind    EventKind
	Network settings.Network
	Name    string
}

// Session is the wallet as seen by the node service. Key management, transaction construction
// and signing live behind it and are not part of this module.
type Session interface {
	// BindRPC hands the session the current node RPC. nil unbinds it.
	BindRPC(r *rpc.Rpc)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SetNetworkID(network settings.Network) error
	IsOpen() bool
	Close(ctx context.Context) error
	Events() <-chan Event
}
