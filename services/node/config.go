package node

import (
	"fmt"
	"strings"

	"github.com/nodekeeper/nodekeeper/settings"
)

// Config describes how a locally started node is configured. Args renders it as a command line.
type Config struct {
	Network          settings.Network
	EnableUPnP       bool
	EnableGRPC       bool
	GRPCListen       string
	EnableWRPCJSON   bool
	WRPCJSONPublic   bool
	DaemonArgs       []string
	StorageFolder    string
	MemoryScale      float64
	UserAgentComment string
}

func NewConfig(tSettings *settings.Settings) Config {
	ns := tSettings.Node

	uaComment := ns.UserAgentComment
	if uaComment == "" {
		uaComment = fmt.Sprintf("%s:%s", tSettings.ClientName, tSettings.Version)
		if tSettings.Commit != "" {
			uaComment += "-" + tSettings.Commit
		}
	}

	return Config{
		Network:          tSettings.Network,
		EnableUPnP:       ns.EnableUPnP,
		EnableGRPC:       ns.EnableGRPC,
		GRPCListen:       ns.GRPCListen,
		EnableWRPCJSON:   ns.EnableWRPCJSON,
		WRPCJSONPublic:   ns.WRPCJSONPublic,
		DaemonArgs:       append([]string(nil), ns.DaemonArgs...),
		StorageFolder:    ns.StorageFolder,
		MemoryScale:      ns.MemoryScale,
		UserAgentComment: uaComment,
	}
}

// Args returns the daemon command line. Custom arguments are appended last so they override the defaults.
func (c Config) Args() []string {
	args := make([]string, 0, 16+len(c.DaemonArgs))

	if c.Network.IsTestnet() {
		args = append(args, "--testnet", fmt.Sprintf("--netsuffix=%d", c.Network.Suffix()))
	}

	args = append(args,
		"--perf-metrics",
		"--perf-metrics-interval-sec=1",
		"--yes",
		"--utxoindex",
	)

	if c.MemoryScale > 0 && c.MemoryScale != 1.0 {
		args = append(args, fmt.Sprintf("--ram-scale=%1.2f", c.MemoryScale))
	}

	if !c.EnableUPnP {
		args = append(args, "--disable-upnp")
	}

	if c.EnableGRPC {
		listen := c.GRPCListen
		if listen == "" {
			listen = fmt.Sprintf("127.0.0.1:%d", c.Network.DefaultGRPCPort())
		}

		args = append(args, "--rpclisten="+listen)
	} else {
		args = append(args, "--nogrpc")
	}

	// the supervisor always talks to a local daemon over wRPC JSON
	host := "127.0.0.1"
	if c.EnableWRPCJSON && c.WRPCJSONPublic {
		host = "0.0.0.0"
	}

	args = append(args, fmt.Sprintf("--rpclisten-json=%s:%d", host, c.Network.DefaultJSONRPCPort()))

	if c.UserAgentComment != "" {
		args = append(args, "--uacomment="+c.UserAgentComment)
	}

	if c.StorageFolder != "" && !hasArg(c.DaemonArgs, "--appdir") {
		args = append(args, "--appdir="+c.StorageFolder)
	}

	for _, arg := range c.DaemonArgs {
		if arg = strings.TrimSpace(arg); arg != "" {
			args = append(args, arg)
		}
	}

	return args
}

func hasArg(args []string, name string) bool {
	for _, arg := range args {
		if arg == name || strings.HasPrefix(arg, name+"=") {
			return true
		}
	}

	return false
}
