package simnode

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	nkerrors "github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/rpc/wrpc"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Serve runs the node and exposes it over wRPC JSON on listenAddr until ctx is done.
// ready, if not nil, receives the bound address once the listener is open.
func (n *Node) Serve(ctx context.Context, listenAddr string, ready chan<- string) error {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		n.out.log(levelError, "unable to listen on %s: %v", listenAddr, err)
		return nkerrors.NewServiceError("[simnode] unable to listen on %s", listenAddr, err)
	}

	server := wrpc.NewServer(n.logger, n)
	httpServer := &http.Server{
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	n.out.log(levelInfo, "wRPC JSON server listening on %s", ln.Addr())

	if ready != nil {
		ready <- ln.Addr().String()
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return n.Run(gCtx)
	})

	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return nkerrors.NewServiceError("[simnode] wRPC server failed", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()

		server.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
