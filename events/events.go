// Package events defines the typed application events published by the supervisor and monitors.
package events

import (
	"time"

	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/wallet"
)

type Event interface {
	Kind() string
}

// Metrics carries the latest value of every tracked metric.
type Metrics struct {
	Time   time.Time          `json:"time"`
	Values map[string]float64 `json:"values"`
}

type MempoolSize struct {
	Size uint64 `json:"size"`
}

type Feerate struct {
	Estimate *rpc.FeeEstimate `json:"estimate,omitempty"`
}

// NodeInfo describes the connected node. An empty Version means no node info is available.
type NodeInfo struct {
	Version string `json:"version,omitempty"`
	GitHash string `json:"gitHash,omitempty"`
}

func (n NodeInfo) String() string {
	if n.GitHash == "" {
		return n.Version
	}

	return n.Version + "-" + n.GitHash
}

type Wallet struct {
	Event wallet.Event `json:"event"`
}

type NetworkChange struct {
	Network settings.Network `json:"network"`
}

// UpdateLogs signals that the node log buffer changed.
type UpdateLogs struct{}

type SyncProgress struct {
	Stage     string `json:"stage"`
	Synced    bool   `json:"synced"`
	Blocks    uint64 `json:"blocks,omitempty"`
	Headers   uint64 `json:"headers,omitempty"`
	Percent   int    `json:"percent,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type Error struct {
	Message string `json:"message"`
}

type Exit struct{}

func (Metrics) Kind() string       { return "metrics" }
func (MempoolSize) Kind() string   { return "mempool-size" }
func (Feerate) Kind() string       { return "feerate" }
func (NodeInfo) Kind() string      { return "node-info" }
func (Wallet) Kind() string        { return "wallet" }
func (NetworkChange) Kind() string { return "network-change" }
func (UpdateLogs) Kind() string    { return "update-logs" }
func (SyncProgress) Kind() string  { return "sync-progress" }
func (Error) Kind() string         { return "error" }
func (Exit) Kind() string          { return "exit" }
