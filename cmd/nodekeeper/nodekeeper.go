// Package nodekeeper is the command line entry point of the supervisor. The same binary also runs as the
// node daemon when started by the supervisor with node.DaemonEnv set.
package nodekeeper

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nodekeeper/nodekeeper/daemon"
	"github.com/nodekeeper/nodekeeper/services/node"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"github.com/ordishs/gocore"
	"github.com/urfave/cli/v2"
)

// flagSettings maps command line flags onto gocore setting keys.
var flagSettings = []struct {
	flag cli.Flag
	key  string
}{
	{&cli.StringFlag{Name: "network", Usage: "mainnet, testnet-10 or testnet-11"}, "network"},
	{&cli.StringFlag{Name: "node-kind", Usage: "disable, inproc, daemon, external or remote"}, "node_kind"},
	{&cli.StringFlag{Name: "remote-url", Usage: "wRPC URL of a remote node"}, "node_remoteURL"},
	{&cli.StringFlag{Name: "daemon-binary", Usage: "path of an external node daemon"}, "node_daemonBinary"},
	{&cli.StringFlag{Name: "daemon-args", Usage: "extra arguments passed to the node daemon"}, "node_daemonArgs"},
	{&cli.StringFlag{Name: "health-address", Usage: "listen address of the health and metrics server"}, "health_check_httpListenAddress"},
	{&cli.StringFlag{Name: "events-address", Usage: "listen address of the websocket event stream"}, "eventstream_listenAddress"},
	{&cli.StringFlag{Name: "log-level", Usage: "DEBUG, INFO, WARN or ERROR"}, "logLevel"},
	{&cli.StringFlag{Name: "logger", Usage: "zerolog or gocore"}, "logger"},
	{&cli.BoolFlag{Name: "chain-monitor", Usage: "enable the chain monitor"}, "chainmonitor_enabled"},
	{&cli.BoolFlag{Name: "peer-monitor", Usage: "enable the peer monitor"}, "peermonitor_enabled"},
	{&cli.BoolFlag{Name: "feerate-monitor", Usage: "enable the fee rate monitor"}, "feeratemonitor_enabled"},
}

// Run starts the supervisor, or the node daemon when this process was spawned as one.
func Run(progname, version, commit string) {
	gocore.SetInfo(progname, version, commit)

	if os.Getenv(node.DaemonEnv) == "1" {
		os.Exit(runNode(version, commit))
	}

	flags := make([]cli.Flag, 0, len(flagSettings))
	for _, fs := range flagSettings {
		flags = append(flags, fs.flag)
	}

	app := &cli.App{
		Name:    progname,
		Usage:   "supervises a DAG node and its monitors",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags:   flags,
		Action: func(c *cli.Context) error {
			applyFlags(c)
			setInfo(version, commit)

			tSettings := settings.NewSettings()

			logger := ulogger.New(progname, ulogger.WithLevel(tSettings.LogLevel), ulogger.WithLoggerType(tSettings.LoggerType))

			stats := gocore.Config().Stats()
			logger.Infof("STATS\n%s\nVERSION\n-------\n%s (%s)\n\n", stats, version, commit)

			daemon.New(daemon.WithLoggerFactory(func(serviceName string) ulogger.Logger {
				return ulogger.New(serviceName, ulogger.WithLevel(tSettings.LogLevel), ulogger.WithLoggerType(tSettings.LoggerType))
			})).Start(logger, tSettings)

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func applyFlags(c *cli.Context) {
	for _, fs := range flagSettings {
		name := fs.flag.Names()[0]
		if !c.IsSet(name) {
			continue
		}

		switch fs.flag.(type) {
		case *cli.BoolFlag:
			gocore.Config().Set(fs.key, fmt.Sprintf("%t", c.Bool(name)))
		default:
			gocore.Config().Set(fs.key, c.String(name))
		}
	}
}

func setInfo(version, commit string) {
	if version != "" {
		gocore.Config().Set("version", version)
	}

	if commit != "" {
		gocore.Config().Set("commit", commit)
	}
}

// runNode serves the node daemon until SIGINT or SIGTERM. Daemon log lines go to stdout, the supervisor
// relays them; our own logging goes to stderr.
func runNode(version, commit string) int {
	setInfo(version, commit)

	tSettings := settings.NewSettings()

	logger := ulogger.New("node", ulogger.WithLevel(tSettings.LogLevel), ulogger.WithWriter(os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := daemon.RunNode(ctx, logger, tSettings, os.Args[1:], os.Stdout); err != nil {
		logger.Errorf("node daemon failed: %v", err)
		return 1
	}

	return 0
}
