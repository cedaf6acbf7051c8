package settings

import (
	"strings"

	"github.com/nodekeeper/nodekeeper/errors"
)

// NodeKind selects how the node backend is deployed.
type NodeKind int

const (
	NodeKindDisable NodeKind = iota
	NodeKindIntegratedInProc
	NodeKindIntegratedAsDaemon
	NodeKindExternalAsDaemon
	NodeKindRemote
)

func (k NodeKind) String() string {
	switch k {
	case NodeKindIntegratedInProc:
		return "inproc"
	case NodeKindIntegratedAsDaemon:
		return "daemon"
	case NodeKindExternalAsDaemon:
		return "external"
	case NodeKindRemote:
		return "remote"
	default:
		return "disable"
	}
}

// IsLocal reports whether the kind runs a node on this machine.
func (k NodeKind) IsLocal() bool {
	return k == NodeKindIntegratedInProc || k == NodeKindIntegratedAsDaemon || k == NodeKindExternalAsDaemon
}

func ParseNodeKind(s string) (NodeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disable", "disabled", "":
		return NodeKindDisable, nil
	case "inproc", "integrated":
		return NodeKindIntegratedInProc, nil
	case "daemon", "integrated-daemon":
		return NodeKindIntegratedAsDaemon, nil
	case "external", "external-daemon":
		return NodeKindExternalAsDaemon, nil
	case "remote":
		return NodeKindRemote, nil
	default:
		return NodeKindDisable, errors.NewConfigurationError("unknown node kind %q", s)
	}
}
