package wallet

import (
	"context"
	"sync"

	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/settings"
	"go.uber.org/atomic"
)

const offlineEventBuffer = 64

// Offline is a session without key material. It tracks the state the node service drives so that
// the rest of the application can observe it.
type Offline struct {
	mu      sync.Mutex
	rpc     *rpc.Rpc
	network settings.Network
	name    string
	started bool

	events  chan Event
	dropped atomic.Uint64
}

func NewOffline(network settings.Network) *Offline {
	return &Offline{
		network: network,
		events:  make(chan Event, offlineEventBuffer),
	}
}

func (o *Offline) BindRPC(r *rpc.Rpc) {
	o.mu.Lock()
	o.rpc = r
	network := o.network
	o.mu.Unlock()

	if r != nil {
		o.emit(Event{Kind: EventRPCBound, Network: network})
	} else {
		o.emit(Event{Kind: EventRPCUnbound, Network: network})
	}
}

// RPC returns the currently bound rpc, or nil.
func (o *Offline) RPC() *rpc.Rpc {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.rpc
}

func (o *Offline) Start(context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}

	o.started = true
	network := o.network
	o.mu.Unlock()

	o.emit(Event{Kind: EventStarted, Network: network})

	return nil
}

func (o *Offline) Stop(context.Context) error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil
	}

	o.started = false
	network := o.network
	o.mu.Unlock()

	o.emit(Event{Kind: EventStopped, Network: network})

	return nil
}

func (o *Offline) IsStarted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.started
}

// SetNetworkID changes the network. It is rejected while the session is started.
func (o *Offline) SetNetworkID(network settings.Network) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return errors.NewStateError("[wallet] network cannot change while the wallet is started")
	}

	changed := o.network != network
	o.network = network
	o.mu.Unlock()

	if changed {
		o.emit(Event{Kind: EventNetworkChanged, Network: network})
	}

	return nil
}

func (o *Offline) Network() settings.Network {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.network
}

// Open marks a named wallet as open.
func (o *Offline) Open(name string) error {
	if name == "" {
		return errors.NewInvalidArgumentError("[wallet] wallet name is required")
	}

	o.mu.Lock()
	o.name = name
	network := o.network
	o.mu.Unlock()

	o.emit(Event{Kind: EventOpened, Network: network, Name: name})

	return nil
}

func (o *Offline) IsOpen() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.name != ""
}

func (o *Offline) Close(context.Context) error {
	o.mu.Lock()
	name := o.name
	o.name = ""
	network := o.network
	o.mu.Unlock()

	if name != "" {
		o.emit(Event{Kind: EventClosed, Network: network, Name: name})
	}

	return nil
}

func (o *Offline) Events() <-chan Event {
	return o.events
}

func (o *Offline) Dropped() uint64 {
	return o.dropped.Load()
}

func (o *Offline) emit(e Event) {
	select {
	case o.events <- e:
	default:
		o.dropped.Inc()
	}
}
