package settings

import (
	"strings"

	"github.com/nodekeeper/nodekeeper/errors"
)

// Network identifies the DAG network a node runs on.
type Network int

const (
	Mainnet Network = iota
	Testnet10
	Testnet11
)

var Networks = []Network{Mainnet, Testnet10, Testnet11}

func (n Network) String() string {
	switch n {
	case Testnet10:
		return "testnet-10"
	case Testnet11:
		return "testnet-11"
	default:
		return "mainnet"
	}
}

// IsTestnet reports whether the node must be started with --testnet.
func (n Network) IsTestnet() bool {
	return n == Testnet10 || n == Testnet11
}

// Suffix returns the testnet suffix, 0 for mainnet.
func (n Network) Suffix() int {
	switch n {
	case Testnet10:
		return 10
	case Testnet11:
		return 11
	default:
		return 0
	}
}

// DefaultJSONRPCPort is the port a local node listens on for wRPC JSON clients.
func (n Network) DefaultJSONRPCPort() int {
	switch n {
	case Testnet10:
		return 18210
	case Testnet11:
		return 18310
	default:
		return 18110
	}
}

// DefaultGRPCPort is the port a local node listens on for gRPC clients.
func (n Network) DefaultGRPCPort() int {
	switch n {
	case Testnet10:
		return 16210
	case Testnet11:
		return 16310
	default:
		return 16110
	}
}

func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "main":
		return Mainnet, nil
	case "testnet-10", "testnet10", "tn10":
		return Testnet10, nil
	case "testnet-11", "testnet11", "tn11":
		return Testnet11, nil
	default:
		return Mainnet, errors.NewConfigurationError("unknown network %q", s)
	}
}

func (n Network) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

func (n *Network) UnmarshalText(b []byte) error {
	parsed, err := ParseNetwork(string(b))
	if err != nil {
		return err
	}

	*n = parsed

	return nil
}
