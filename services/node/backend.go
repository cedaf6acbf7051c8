package node

import (
	"context"
	"sync"

	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/simnode"
	"github.com/nodekeeper/nodekeeper/ulogger"
)

type BackendKind int

const (
	BackendNone BackendKind = iota
	BackendInProc
	BackendDaemon
	BackendExternal
	BackendRemote
)

func (k BackendKind) String() string {
	switch k {
	case BackendInProc:
		return "inproc"
	case BackendDaemon:
		return "daemon"
	case BackendExternal:
		return "external"
	case BackendRemote:
		return "remote"
	default:
		return "none"
	}
}

// Backend is a node owned by the service. A remote node has no Backend.
type Backend interface {
	Kind() BackendKind
	// Stop shuts the node down and waits for it to be gone.
	Stop(ctx context.Context) error
}

// Core is an in-process node: it serves the RPC API directly and runs until its context is done.
type Core interface {
	rpc.API
	Run(ctx context.Context) error
}

type CoreFactory func(network settings.Network, config Config) (Core, error)

// RPCClientFactory creates an unconnected networked client for url.
type RPCClientFactory func(url string) (*rpc.Rpc, error)

// SimNodeCoreFactory runs the simulated node as the in-process core.
func SimNodeCoreFactory(logger ulogger.Logger, tSettings *settings.Settings) CoreFactory {
	return func(network settings.Network, _ Config) (Core, error) {
		return simnode.New(logger, simnode.Options{
			Network:  network,
			Version:  tSettings.Version,
			GitHash:  tSettings.Commit,
			Settings: tSettings.SimNode,
		}), nil
	}
}

// InProc owns the goroutine running an in-process core.
type InProc struct {
	core   Core
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func StartInProc(logger ulogger.Logger, core Core) *InProc {
	ctx, cancel := context.WithCancel(context.Background())

	p := &InProc{
		core:   core,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(p.done)

		if err := core.Run(ctx); err != nil {
			logger.Errorf("[NodeServer] in-process node exited: %v", err)

			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
		}
	}()

	return p
}

func (p *InProc) Kind() BackendKind {
	return BackendInProc
}

func (p *InProc) Core() Core {
	return p.core
}

// Done is closed once the core goroutine returned.
func (p *InProc) Done() <-chan struct{} {
	return p.done
}

func (p *InProc) Stop(ctx context.Context) error {
	p.cancel()

	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()

		return p.err
	case <-ctx.Done():
		return errors.NewContextError("[NodeServer] in-process node did not stop", ctx.Err())
	}
}
