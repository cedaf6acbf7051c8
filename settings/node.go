package settings

import (
	"github.com/nodekeeper/nodekeeper/errors"
)

// Validate checks the fields required by the selected node kind.
func (n *NodeSettings) Validate() error {
	switch n.Kind {
	case NodeKindExternalAsDaemon:
		if n.DaemonBinary == "" {
			return errors.NewConfigurationError("node_daemonBinary is required for an external daemon")
		}
	case NodeKindRemote:
		if n.RemoteURL == "" {
			return errors.NewConfigurationError("node_remoteURL is required for a remote node")
		}
	}

	if n.MemoryScale <= 0 {
		return errors.NewConfigurationError("node_memoryScale must be positive, got %v", n.MemoryScale)
	}

	if n.LogBufferMargin <= 0 || n.LogBufferMargin > n.LogBufferLines {
		return errors.NewConfigurationError("node_logBufferMargin must be in (0, %d]", n.LogBufferLines)
	}

	return nil
}

// Equal reports whether two node settings would produce the same backend.
func (n *NodeSettings) Equal(other *NodeSettings) bool {
	if other == nil {
		return false
	}

	if len(n.DaemonArgs) != len(other.DaemonArgs) {
		return false
	}

	for i := range n.DaemonArgs {
		if n.DaemonArgs[i] != other.DaemonArgs[i] {
			return false
		}
	}

	return n.Kind == other.Kind &&
		n.DaemonBinary == other.DaemonBinary &&
		n.EnableUPnP == other.EnableUPnP &&
		n.EnableGRPC == other.EnableGRPC &&
		n.GRPCListen == other.GRPCListen &&
		n.EnableWRPCJSON == other.EnableWRPCJSON &&
		n.WRPCJSONPublic == other.WRPCJSONPublic &&
		n.RemoteURL == other.RemoteURL &&
		n.StorageFolder == other.StorageFolder &&
		n.MemoryScale == other.MemoryScale &&
		n.UserAgentComment == other.UserAgentComment
}
