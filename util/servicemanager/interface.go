package servicemanager

import (
	"context"

	"github.com/nodekeeper/nodekeeper/rpc"
)

// Service is a unit of background work supervised by the ServiceManager.
// Spawn runs until the service exits. Terminate must not block. Join waits for Spawn to return.
type Service interface {
	Spawn(ctx context.Context) error
	Terminate()
	Join(ctx context.Context) error
}

// RPCService is implemented by services that depend on the node RPC.
type RPCService interface {
	AttachRPC(ctx context.Context, r *rpc.Rpc) error
	DetachRPC(ctx context.Context) error
	ConnectRPC(ctx context.Context) error
	DisconnectRPC(ctx context.Context) error
}

// HealthChecker is implemented by services that report their own health.
type HealthChecker interface {
	Health(ctx context.Context, checkLiveness bool) (int, string, error)
}

// Broadcaster is the view of the ServiceManager handed to services that drive RPC changes.
// It does not give access to service lifecycles.
type Broadcaster interface {
	AttachRPC(ctx context.Context, r *rpc.Rpc) error
	DetachRPC(ctx context.Context) error
	ConnectRPC(ctx context.Context) error
	DisconnectRPC(ctx context.Context) error
	ServiceNames() []string
}
