package daemon

import (
	"context"

	"github.com/nodekeeper/nodekeeper/services/node"
	"github.com/nodekeeper/nodekeeper/services/repaint"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"github.com/nodekeeper/nodekeeper/wallet"
)

// Option is a functional option type for configuring the Daemon.
type Option func(*Daemon)

// WithLoggerFactory provides a custom logger factory for the Daemon and its services.
func WithLoggerFactory(factory func(serviceName string) ulogger.Logger) Option {
	return func(d *Daemon) {
		d.loggerFactory = factory
	}
}

// WithContext allows setting a custom context for the Daemon.
func WithContext(ctx context.Context) Option {
	return func(d *Daemon) {
		d.Ctx = ctx
	}
}

// WithRepainter connects the repaint service to the UI.
func WithRepainter(repainter repaint.Repainter) Option {
	return func(d *Daemon) {
		d.repainter = repainter
	}
}

func WithWallet(session wallet.Session) Option {
	return func(d *Daemon) {
		d.nodeOptions = append(d.nodeOptions, node.WithWallet(session))
	}
}

// WithNodeOptions passes options through to the node lifecycle service.
func WithNodeOptions(opts ...node.Option) Option {
	return func(d *Daemon) {
		d.nodeOptions = append(d.nodeOptions, opts...)
	}
}
