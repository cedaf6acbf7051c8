package rpc

import (
	"github.com/nodekeeper/nodekeeper/errors"
)

// Scope selects a class of node notifications.
type Scope int

const (
	ScopeBlockAdded Scope = iota
	ScopeVirtualChainChanged
)

func (s Scope) String() string {
	switch s {
	case ScopeBlockAdded:
		return "BlockAdded"
	case ScopeVirtualChainChanged:
		return "VirtualChainChanged"
	default:
		return "Unknown"
	}
}

func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Scope) UnmarshalText(b []byte) error {
	parsed, err := ParseScope(string(b))
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}

func ParseScope(name string) (Scope, error) {
	switch name {
	case "BlockAdded":
		return ScopeBlockAdded, nil
	case "VirtualChainChanged":
		return ScopeVirtualChainChanged, nil
	default:
		return 0, errors.NewInvalidArgumentError("unknown notification scope %q", name)
	}
}

type ListenerID uint64

type BlockHeader struct {
	Hash         Hash   `json:"hash"`
	ParentHashes []Hash `json:"parentHashes"`
	DAAScore     uint64 `json:"daaScore"`
	BlueScore    uint64 `json:"blueScore"`
	Timestamp    int64  `json:"timestamp"`
	Bits         uint32 `json:"bits"`
}

type Block struct {
	Header  BlockHeader `json:"header"`
	TxCount int         `json:"txCount"`
}

type Notification interface {
	Scope() Scope
}

type BlockAddedNotification struct {
	Block *Block `json:"block"`
}

func (BlockAddedNotification) Scope() Scope { return ScopeBlockAdded }

type VirtualChainChangedNotification struct {
	RemovedChainBlockHashes []Hash `json:"removedChainBlockHashes"`
	AddedChainBlockHashes   []Hash `json:"addedChainBlockHashes"`
}

func (VirtualChainChangedNotification) Scope() Scope { return ScopeVirtualChainChanged }

type SystemInfo struct {
	Version          string `json:"version"`
	GitHash          string `json:"gitHash,omitempty"`
	SystemID         string `json:"systemId,omitempty"`
	CPUPhysicalCores uint16 `json:"cpuPhysicalCores"`
	TotalMemory      uint64 `json:"totalMemory"`
	FdLimit          uint32 `json:"fdLimit"`
}

type PeerInfo struct {
	ID                        string `json:"id"`
	Address                   string `json:"address"`
	LastPingDurationMs        uint64 `json:"lastPingDuration"`
	IsOutbound                bool   `json:"isOutbound"`
	TimeOffset                int64  `json:"timeOffset"`
	UserAgent                 string `json:"userAgent"`
	AdvertisedProtocolVersion uint32 `json:"advertisedProtocolVersion"`
	TimeConnected             uint64 `json:"timeConnected"`
	IsIBDPeer                 bool   `json:"isIbdPeer"`
}

type ProcessMetrics struct {
	ResidentSetSize   uint64  `json:"residentSetSize"`
	VirtualMemorySize uint64  `json:"virtualMemorySize"`
	CoreNum           uint32  `json:"coreNum"`
	CPUUsage          float32 `json:"cpuUsage"`
	FdNum             uint32  `json:"fdNum"`
	DiskIOReadBytes   uint64  `json:"diskIoReadBytes"`
	DiskIOWriteBytes  uint64  `json:"diskIoWriteBytes"`
}

type ConnectionMetrics struct {
	BorshLiveConnections uint32 `json:"borshLiveConnections"`
	JSONLiveConnections  uint32 `json:"jsonLiveConnections"`
	ActivePeers          uint32 `json:"activePeers"`
}

type BandwidthMetrics struct {
	BorshBytesTx uint64 `json:"borshBytesTx"`
	BorshBytesRx uint64 `json:"borshBytesRx"`
	JSONBytesTx  uint64 `json:"jsonBytesTx"`
	JSONBytesRx  uint64 `json:"jsonBytesRx"`
	P2PBytesTx   uint64 `json:"p2pBytesTx"`
	P2PBytesRx   uint64 `json:"p2pBytesRx"`
}

type ConsensusMetrics struct {
	BlocksSubmitted     uint64  `json:"blocksSubmitted"`
	HeaderCounts        uint64  `json:"headerCounts"`
	DepCounts           uint64  `json:"depCounts"`
	BodyCounts          uint64  `json:"bodyCounts"`
	TxsCounts           uint64  `json:"txsCounts"`
	ChainBlockCounts    uint64  `json:"chainBlockCounts"`
	MassCounts          uint64  `json:"massCounts"`
	BlockCount          uint64  `json:"blockCount"`
	HeaderCount         uint64  `json:"headerCount"`
	MempoolSize         uint64  `json:"mempoolSize"`
	TipHashesCount      uint32  `json:"tipHashesCount"`
	Difficulty          float64 `json:"difficulty"`
	PastMedianTime      uint64  `json:"pastMedianTime"`
	VirtualParentHashes uint32  `json:"virtualParentHashesCount"`
	VirtualDAAScore     uint64  `json:"virtualDaaScore"`
}

// Metrics is one sample of node metrics. ServerTime is unix milliseconds.
type Metrics struct {
	ServerTime int64             `json:"serverTime"`
	Process    ProcessMetrics    `json:"processMetrics"`
	Connection ConnectionMetrics `json:"connectionMetrics"`
	Bandwidth  BandwidthMetrics  `json:"bandwidthMetrics"`
	Consensus  ConsensusMetrics  `json:"consensusMetrics"`
}

type FeerateBucket struct {
	Feerate          float64 `json:"feerate"`
	EstimatedSeconds float64 `json:"estimatedSeconds"`
}

type FeeEstimate struct {
	PriorityBucket FeerateBucket   `json:"priorityBucket"`
	NormalBuckets  []FeerateBucket `json:"normalBuckets"`
	LowBuckets     []FeerateBucket `json:"lowBuckets"`
}
