package rpc

import (
	"go.uber.org/atomic"
)

type CtlEvent int

const (
	CtlOpen CtlEvent = iota
	CtlClose
)

func (e CtlEvent) String() string {
	if e == CtlOpen {
		return "open"
	}

	return "close"
}

const ctlBufferSize = 64

// Ctl reports connection state transitions. Only changes are emitted, so repeated SignalOpen calls produce one event.
type Ctl struct {
	events    chan CtlEvent
	connected atomic.Bool
	dropped   atomic.Uint64
}

func NewCtl() *Ctl {
	return &Ctl{
		events: make(chan CtlEvent, ctlBufferSize),
	}
}

func (c *Ctl) SignalOpen() {
	if c.connected.CompareAndSwap(false, true) {
		c.emit(CtlOpen)
	}
}

func (c *Ctl) SignalClose() {
	if c.connected.CompareAndSwap(true, false) {
		c.emit(CtlClose)
	}
}

func (c *Ctl) IsConnected() bool {
	return c.connected.Load()
}

func (c *Ctl) Events() <-chan CtlEvent {
	return c.events
}

// Dropped returns the number of events lost because nobody drained Events.
func (c *Ctl) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *Ctl) emit(e CtlEvent) {
	select {
	case c.events <- e:
	default:
		c.dropped.Inc()
	}
}
