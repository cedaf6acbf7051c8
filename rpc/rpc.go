// Package rpc defines the node RPC capability consumed by the supervisor and its monitors.
package rpc

import (
	"context"
	"time"
)

// API is the node RPC surface. Notifications for a listener are delivered on the channel passed to
// RegisterListener once StartNotify has been called for a scope.
type API interface {
	RegisterListener(ch chan<- Notification) ListenerID
	UnregisterListener(ctx context.Context, id ListenerID) error
	StartNotify(ctx context.Context, id ListenerID, scope Scope) error
	StopNotify(ctx context.Context, id ListenerID, scope Scope) error

	GetSystemInfo(ctx context.Context) (*SystemInfo, error)
	GetConnectedPeerInfo(ctx context.Context) ([]*PeerInfo, error)
	GetMetrics(ctx context.Context) (*Metrics, error)
	GetFeeEstimate(ctx context.Context) (*FeeEstimate, error)
}

type ConnectStrategy int

const (
	// ConnectStrategyRetry keeps reconnecting at RetryInterval until Disconnect.
	ConnectStrategyRetry ConnectStrategy = iota
	// ConnectStrategyFallback gives up after the first failed attempt.
	ConnectStrategyFallback
)

type ConnectOptions struct {
	BlockAsyncConnect bool
	Strategy          ConnectStrategy
	RetryInterval     time.Duration
	ConnectTimeout    time.Duration
}

// Connector is implemented by networked clients that own a physical connection.
// Connection state changes are reported through the client's Ctl.
type Connector interface {
	Connect(ctx context.Context, options ConnectOptions) error
	Disconnect(ctx context.Context) error
	URL() string
}

// Rpc pairs an API with the control handle reporting its connection state.
// A Rpc value is never mutated after construction, it is replaced as a whole.
type Rpc struct {
	API API
	Ctl *Ctl
}

func New(api API, ctl *Ctl) *Rpc {
	if ctl == nil {
		ctl = NewCtl()
	}

	return &Rpc{API: api, Ctl: ctl}
}
