package daemon

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/simnode"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"github.com/urfave/cli/v2"
)

// nodeFlags are the daemon flags produced by node.Config.Args.
var nodeFlags = []cli.Flag{
	&cli.BoolFlag{Name: "testnet"},
	&cli.IntFlag{Name: "netsuffix"},
	&cli.BoolFlag{Name: "perf-metrics"},
	&cli.IntFlag{Name: "perf-metrics-interval-sec"},
	&cli.BoolFlag{Name: "yes"},
	&cli.BoolFlag{Name: "utxoindex"},
	&cli.Float64Flag{Name: "ram-scale", Value: 1.0},
	&cli.BoolFlag{Name: "disable-upnp"},
	&cli.BoolFlag{Name: "nogrpc"},
	&cli.StringFlag{Name: "rpclisten"},
	&cli.StringFlag{Name: "rpclisten-json"},
	&cli.StringFlag{Name: "uacomment"},
	&cli.StringFlag{Name: "appdir"},
}

// RunNode is the entry point of the node daemon process: it parses the daemon command line and serves a
// simulated node over wRPC JSON until ctx is done. Log lines are written to stdout in the daemon format.
func RunNode(ctx context.Context, logger ulogger.Logger, tSettings *settings.Settings, args []string, stdout io.Writer) error {
	known, unknown := filterNodeArgs(args)
	for _, arg := range unknown {
		logger.Warnf("[node] ignoring unsupported argument %s", arg)
	}

	app := &cli.App{
		Name:        "nodekeeper-node",
		HideHelp:    true,
		HideVersion: true,
		Flags:       nodeFlags,
		Action: func(c *cli.Context) error {
			network, err := nodeNetwork(c.Bool("testnet"), c.Int("netsuffix"))
			if err != nil {
				return err
			}

			listen := c.String("rpclisten-json")
			if listen == "" {
				listen = fmt.Sprintf("127.0.0.1:%d", network.DefaultJSONRPCPort())
			}

			logger.Infof("[node] starting %s node, uacomment %q, appdir %q", network, c.String("uacomment"), c.String("appdir"))

			n := simnode.New(logger, simnode.Options{
				Network:  network,
				Version:  tSettings.Version,
				GitHash:  tSettings.Commit,
				Settings: tSettings.SimNode,
				Stdout:   stdout,
			})

			return n.Serve(c.Context, listen, nil)
		},
	}

	return app.RunContext(ctx, append([]string{app.Name}, known...))
}

func nodeNetwork(testnet bool, suffix int) (settings.Network, error) {
	if !testnet {
		return settings.Mainnet, nil
	}

	switch suffix {
	case 10:
		return settings.Testnet10, nil
	case 11:
		return settings.Testnet11, nil
	default:
		return settings.Mainnet, errors.NewInvalidArgumentError("unsupported testnet suffix %d", suffix)
	}
}

// filterNodeArgs splits args into the flags RunNode understands and everything else.
func filterNodeArgs(args []string) (known []string, unknown []string) {
	names := make(map[string]struct{}, len(nodeFlags))

	for _, f := range nodeFlags {
		for _, name := range f.Names() {
			names[name] = struct{}{}
		}
	}

	for _, arg := range args {
		name, _, _ := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if _, ok := names[name]; ok && strings.HasPrefix(arg, "-") {
			known = append(known, arg)
		} else {
			unknown = append(unknown, arg)
		}
	}

	return known, unknown
}
