// Package simnode is a simulated DAG node. It produces blocks with increasing DAA scores,
// virtual chain changes, peers and metrics, and serves them through rpc.API. It is the core
// used by the in-process and self-hosted daemon deployments.
package simnode

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"go.uber.org/atomic"
)

const (
	ibdSteps         = 20
	statsPeriod      = 10 * time.Second
	maxChainTracked  = 1024
	bitsMainnet      = 0x1d00ffff
	bitsTestnet      = 0x1e7fffff
	peerUserAgentFmt = "/simnode:%s/%s/"
)

type simListener struct {
	ch     chan<- rpc.Notification
	scopes map[rpc.Scope]struct{}
}

// Options configures a simulated node.
type Options struct {
	Network  settings.Network
	Version  string
	GitHash  string
	Settings settings.SimNodeSettings
	// Stdout receives daemon style log lines. nil discards them.
	Stdout io.Writer
	Seed   uint64
}

type Node struct {
	logger  ulogger.Logger
	options Options
	out     *lineWriter
	sysID   string

	mu        sync.Mutex
	rng       *rand.Rand
	listeners map[rpc.ListenerID]*simListener
	nextID    rpc.ListenerID
	started   time.Time

	step       uint64
	daaScore   uint64
	blueScore  uint64
	tips       []rpc.Hash
	chain      []rpc.Hash
	mempool    uint64
	blocks     uint64
	headers    uint64
	txs        uint64
	periodBlks uint64
	periodTxs  uint64
	periodRefs uint64
	lastStats  time.Time

	running atomic.Bool
	dropped atomic.Uint64
}

func New(logger ulogger.Logger, options Options) *Node {
	if options.Settings.ParentsPerBlock < 1 {
		options.Settings.ParentsPerBlock = 1
	}

	if options.Settings.BlockInterval <= 0 {
		options.Settings.BlockInterval = 100 * time.Millisecond
	}

	seed := options.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	now := time.Now()

	return &Node{
		logger:    logger,
		options:   options,
		out:       newLineWriter(options.Stdout),
		sysID:     uuid.NewString(),
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		listeners: make(map[rpc.ListenerID]*simListener),
		started:   now,
		lastStats: now,
	}
}

// Run produces blocks every BlockInterval until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return errors.NewServiceError("[simnode] already running")
	}
	defer n.running.Store(false)

	n.out.log(levelInfo, "Starting simulated node on %s (parents per block %d, block interval %s)",
		n.options.Network, n.options.Settings.ParentsPerBlock, n.options.Settings.BlockInterval)

	ticker := time.NewTicker(n.options.Settings.BlockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.out.log(levelInfo, "Simulated node on %s shut down", n.options.Network)
			return nil
		case <-ticker.C:
			n.Step()
		}
	}
}

func (n *Node) IsRunning() bool {
	return n.running.Load()
}

// Dropped returns the number of notifications discarded because a listener was not draining.
func (n *Node) Dropped() uint64 {
	return n.dropped.Load()
}

// Step advances the DAG by one DAA score: a set of parallel blocks referencing the previous
// tips, followed by a virtual chain change.
func (n *Node) Step() {
	n.mu.Lock()

	n.step++
	n.daaScore++
	n.blueScore++

	width := 1 + n.rng.IntN(n.options.Settings.ParentsPerBlock)
	parents := n.tips
	produced := make([]*rpc.Block, 0, width)
	tips := make([]rpc.Hash, 0, width)

	for i := 0; i < width; i++ {
		txCount := 1 + n.rng.IntN(64)
		block := &rpc.Block{
			Header: rpc.BlockHeader{
				Hash:         n.newHash(),
				ParentHashes: append([]rpc.Hash(nil), parents...),
				DAAScore:     n.daaScore,
				BlueScore:    n.blueScore,
				Timestamp:    time.Now().UnixMilli(),
				Bits:         n.bits(),
			},
			TxCount: txCount,
		}

		produced = append(produced, block)
		tips = append(tips, block.Header.Hash)

		n.blocks++
		n.headers++
		n.txs += uint64(txCount)
		n.periodBlks++
		n.periodTxs += uint64(txCount)
		n.periodRefs += uint64(len(parents))
	}

	n.tips = tips

	vcc := &rpc.VirtualChainChangedNotification{}

	if every := n.options.Settings.ReorgEvery; every > 0 && n.step%uint64(every) == 0 && len(n.chain) > 0 {
		removed := n.chain[len(n.chain)-1]
		n.chain = n.chain[:len(n.chain)-1]
		vcc.RemovedChainBlockHashes = []rpc.Hash{removed}

		n.out.log(levelWarn, "Virtual chain reorg: block %s left the selected chain", removed)
	}

	vcc.AddedChainBlockHashes = []rpc.Hash{produced[0].Header.Hash}
	n.chain = append(n.chain, produced[0].Header.Hash)

	if len(n.chain) > maxChainTracked {
		n.chain = append(n.chain[:0], n.chain[len(n.chain)-maxChainTracked:]...)
	}

	n.mempool = n.walk(n.mempool, 250)

	n.logProgress()

	n.mu.Unlock()

	for _, block := range produced {
		n.publish(&rpc.BlockAddedNotification{Block: block})
	}

	n.publish(vcc)
}

// DAAScore returns the score of the newest blocks.
func (n *Node) DAAScore() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.daaScore
}

func (n *Node) logProgress() {
	switch {
	case n.step < ibdSteps:
		n.out.log(levelInfo, "IBD: Processed %d block bodies (%d%%)", n.blocks, n.step*100/ibdSteps)
	case n.step == ibdSteps:
		n.out.log(levelInfo, "IBD finished, node is synced at DAA score %d", n.daaScore)
	}

	if elapsed := time.Since(n.lastStats); elapsed >= statsPeriod {
		n.out.log(levelInfo, "Processed %d blocks and %d headers in the last %.2fs (%d transactions; %d parent references; %d UTXO-validated blocks)",
			n.periodBlks, n.periodBlks, elapsed.Seconds(), n.periodTxs, n.periodRefs, n.periodBlks)

		n.periodBlks, n.periodTxs, n.periodRefs = 0, 0, 0
		n.lastStats = time.Now()
	}
}

func (n *Node) newHash() rpc.Hash {
	var h rpc.Hash
	for i := 0; i < rpc.HashSize; i += 8 {
		binary.LittleEndian.PutUint64(h[i:], n.rng.Uint64())
	}

	return h
}

func (n *Node) bits() uint32 {
	if n.options.Network.IsTestnet() {
		return bitsTestnet
	}

	return bitsMainnet
}

// walk moves v by up to ±step, never below zero.
func (n *Node) walk(v uint64, step int) uint64 {
	delta := n.rng.IntN(2*step+1) - step
	if delta < 0 && uint64(-delta) > v {
		return 0
	}

	return uint64(int64(v) + int64(delta))
}

func (n *Node) publish(notification rpc.Notification) {
	scope := notification.Scope()

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, l := range n.listeners {
		if _, ok := l.scopes[scope]; !ok {
			continue
		}

		select {
		case l.ch <- notification:
		default:
			n.dropped.Inc()
		}
	}
}

func (n *Node) RegisterListener(ch chan<- rpc.Notification) rpc.ListenerID {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	n.listeners[n.nextID] = &simListener{ch: ch, scopes: make(map[rpc.Scope]struct{})}

	return n.nextID
}

func (n *Node) UnregisterListener(_ context.Context, id rpc.ListenerID) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.listeners[id]; !ok {
		return errors.NewNotFoundError("[simnode] listener %d not registered", id)
	}

	delete(n.listeners, id)

	return nil
}

func (n *Node) StartNotify(_ context.Context, id rpc.ListenerID, scope rpc.Scope) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	l, ok := n.listeners[id]
	if !ok {
		return errors.NewNotFoundError("[simnode] listener %d not registered", id)
	}

	l.scopes[scope] = struct{}{}

	return nil
}

func (n *Node) StopNotify(_ context.Context, id rpc.ListenerID, scope rpc.Scope) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	l, ok := n.listeners[id]
	if !ok {
		return errors.NewNotFoundError("[simnode] listener %d not registered", id)
	}

	delete(l.scopes, scope)

	return nil
}

// Listeners returns the number of registered listeners.
func (n *Node) Listeners() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.listeners)
}

func (n *Node) GetSystemInfo(context.Context) (*rpc.SystemInfo, error) {
	return &rpc.SystemInfo{
		Version:          n.options.Version,
		GitHash:          n.options.GitHash,
		SystemID:         n.sysID,
		CPUPhysicalCores: 4,
		TotalMemory:      8 << 30,
		FdLimit:          4096,
	}, nil
}

func (n *Node) GetConnectedPeerInfo(context.Context) ([]*rpc.PeerInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	uptime := uint64(time.Since(n.started).Milliseconds())
	peers := make([]*rpc.PeerInfo, 0, n.options.Settings.PeerCount)

	for i := 0; i < n.options.Settings.PeerCount; i++ {
		peers = append(peers, &rpc.PeerInfo{
			ID:                        fmt.Sprintf("sim-peer-%02d", i),
			Address:                   fmt.Sprintf("10.0.%d.%d:%d", i/250, i%250+1, n.options.Network.DefaultGRPCPort()),
			LastPingDurationMs:        uint64(20 + n.rng.IntN(180)),
			IsOutbound:                i%3 != 0,
			TimeOffset:                int64(n.rng.IntN(200)) - 100,
			UserAgent:                 fmt.Sprintf(peerUserAgentFmt, n.options.Version, n.options.Network),
			AdvertisedProtocolVersion: 6,
			TimeConnected:             uptime,
			IsIBDPeer:                 i == 0 && n.step < ibdSteps,
		})
	}

	return peers, nil
}

func (n *Node) GetMetrics(context.Context) (*rpc.Metrics, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	uptime := uint64(time.Since(n.started).Seconds()) + 1

	return &rpc.Metrics{
		ServerTime: time.Now().UnixMilli(),
		Process: rpc.ProcessMetrics{
			ResidentSetSize:   256<<20 + n.blocks*512,
			VirtualMemorySize: 1<<30 + n.blocks*1024,
			CoreNum:           4,
			CPUUsage:          float32(5 + n.rng.IntN(20)),
			FdNum:             uint32(64 + n.options.Settings.PeerCount*2 + len(n.listeners)),
			DiskIOReadBytes:   n.blocks * 4096,
			DiskIOWriteBytes:  n.blocks * 8192,
		},
		Connection: rpc.ConnectionMetrics{
			JSONLiveConnections: uint32(len(n.listeners)),
			ActivePeers:         uint32(n.options.Settings.PeerCount),
		},
		Bandwidth: rpc.BandwidthMetrics{
			P2PBytesTx:  n.blocks * 2048,
			P2PBytesRx:  n.blocks * 4096,
			JSONBytesTx: uptime * 512,
			JSONBytesRx: uptime * 64,
		},
		Consensus: rpc.ConsensusMetrics{
			BlocksSubmitted:     0,
			HeaderCounts:        n.headers,
			DepCounts:           n.blocks,
			BodyCounts:          n.blocks,
			TxsCounts:           n.txs,
			ChainBlockCounts:    uint64(len(n.chain)),
			MassCounts:          n.txs * 2036,
			BlockCount:          n.blocks,
			HeaderCount:         n.headers,
			MempoolSize:         n.mempool,
			TipHashesCount:      uint32(len(n.tips)),
			Difficulty:          1.0,
			PastMedianTime:      uint64(time.Now().Add(-time.Second).UnixMilli()),
			VirtualParentHashes: uint32(len(n.tips)),
			VirtualDAAScore:     n.daaScore,
		},
	}, nil
}

func (n *Node) GetFeeEstimate(context.Context) (*rpc.FeeEstimate, error) {
	n.mu.Lock()
	pressure := float64(n.mempool) / 1000
	n.mu.Unlock()

	return &rpc.FeeEstimate{
		PriorityBucket: rpc.FeerateBucket{Feerate: 1 + pressure, EstimatedSeconds: 1},
		NormalBuckets: []rpc.FeerateBucket{
			{Feerate: 1 + pressure/2, EstimatedSeconds: 10},
			{Feerate: 1, EstimatedSeconds: 30},
		},
		LowBuckets: []rpc.FeerateBucket{
			{Feerate: 1, EstimatedSeconds: 60 + pressure*10},
		},
	}, nil
}
