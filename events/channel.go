package events

import (
	"go.uber.org/atomic"
)

const DefaultChannelSize = 1024

// Channel is the outbound application event queue. Publishing never blocks: events that do not fit
// are counted and discarded, so a stalled consumer cannot stall a service loop.
type Channel struct {
	ch      chan Event
	dropped atomic.Uint64
	sent    atomic.Uint64
}

func NewChannel(size int) *Channel {
	if size <= 0 {
		size = DefaultChannelSize
	}

	return &Channel{ch: make(chan Event, size)}
}

// Send reports whether the event was queued.
func (c *Channel) Send(e Event) bool {
	select {
	case c.ch <- e:
		c.sent.Inc()
		return true
	default:
		c.dropped.Inc()
		return false
	}
}

func (c *Channel) Receiver() <-chan Event {
	return c.ch
}

func (c *Channel) Len() int {
	return len(c.ch)
}

func (c *Channel) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *Channel) Sent() uint64 {
	return c.sent.Load()
}
