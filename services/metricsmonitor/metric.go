package metricsmonitor

import (
	"github.com/nodekeeper/nodekeeper/rpc"
)

// Metric identifies one tracked time series.
type Metric int

const (
	MetricCPUUsage Metric = iota
	MetricResidentSetSize
	MetricVirtualMemorySize
	MetricFileHandles
	MetricDiskIOReadBytes
	MetricDiskIOWriteBytes
	MetricActivePeers
	MetricJSONConnections
	MetricP2PBytesTx
	MetricP2PBytesRx
	MetricBlockCount
	MetricHeaderCount
	MetricTransactions
	MetricChainBlocks
	MetricMass
	MetricMempoolSize
	MetricTipHashes
	MetricDifficulty
	MetricVirtualDAAScore

	metricCount
)

type metricInfo struct {
	name    string
	extract func(m *rpc.Metrics) float64
}

var metricInfos = [metricCount]metricInfo{
	MetricCPUUsage:          {"cpu_usage", func(m *rpc.Metrics) float64 { return float64(m.Process.CPUUsage) }},
	MetricResidentSetSize:   {"resident_set_size", func(m *rpc.Metrics) float64 { return float64(m.Process.ResidentSetSize) }},
	MetricVirtualMemorySize: {"virtual_memory_size", func(m *rpc.Metrics) float64 { return float64(m.Process.VirtualMemorySize) }},
	MetricFileHandles:       {"file_handles", func(m *rpc.Metrics) float64 { return float64(m.Process.FdNum) }},
	MetricDiskIOReadBytes:   {"disk_io_read_bytes", func(m *rpc.Metrics) float64 { return float64(m.Process.DiskIOReadBytes) }},
	MetricDiskIOWriteBytes:  {"disk_io_write_bytes", func(m *rpc.Metrics) float64 { return float64(m.Process.DiskIOWriteBytes) }},
	MetricActivePeers:       {"active_peers", func(m *rpc.Metrics) float64 { return float64(m.Connection.ActivePeers) }},
	MetricJSONConnections:   {"json_connections", func(m *rpc.Metrics) float64 { return float64(m.Connection.JSONLiveConnections) }},
	MetricP2PBytesTx:        {"p2p_bytes_tx", func(m *rpc.Metrics) float64 { return float64(m.Bandwidth.P2PBytesTx) }},
	MetricP2PBytesRx:        {"p2p_bytes_rx", func(m *rpc.Metrics) float64 { return float64(m.Bandwidth.P2PBytesRx) }},
	MetricBlockCount:        {"block_count", func(m *rpc.Metrics) float64 { return float64(m.Consensus.BlockCount) }},
	MetricHeaderCount:       {"header_count", func(m *rpc.Metrics) float64 { return float64(m.Consensus.HeaderCount) }},
	MetricTransactions:      {"transactions", func(m *rpc.Metrics) float64 { return float64(m.Consensus.TxsCounts) }},
	MetricChainBlocks:       {"chain_blocks", func(m *rpc.Metrics) float64 { return float64(m.Consensus.ChainBlockCounts) }},
	MetricMass:              {"mass", func(m *rpc.Metrics) float64 { return float64(m.Consensus.MassCounts) }},
	MetricMempoolSize:       {"mempool_size", func(m *rpc.Metrics) float64 { return float64(m.Consensus.MempoolSize) }},
	MetricTipHashes:         {"tip_hashes", func(m *rpc.Metrics) float64 { return float64(m.Consensus.TipHashesCount) }},
	MetricDifficulty:        {"difficulty", func(m *rpc.Metrics) float64 { return m.Consensus.Difficulty }},
	MetricVirtualDAAScore:   {"virtual_daa_score", func(m *rpc.Metrics) float64 { return float64(m.Consensus.VirtualDAAScore) }},
}

func (m Metric) String() string {
	if m < 0 || m >= metricCount {
		return "unknown"
	}

	return metricInfos[m].name
}

// Value extracts the metric from a node sample.
func (m Metric) Value(sample *rpc.Metrics) float64 {
	return metricInfos[m].extract(sample)
}

// Metrics lists every tracked metric.
func Metrics() []Metric {
	list := make([]Metric, metricCount)
	for i := range list {
		list[i] = Metric(i)
	}

	return list
}

// Point is one sample. Time is unix milliseconds.
type Point struct {
	Time  int64
	Value float64
}
