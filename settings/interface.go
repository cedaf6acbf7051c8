package settings

import (
	"net/url"
	"time"
)

// NodeSettings describes which backend to run and how to start it.
type NodeSettings struct {
	Kind                   NodeKind
	DaemonBinary           string
	EnableUPnP             bool
	EnableGRPC             bool
	GRPCListen             string
	EnableWRPCJSON         bool
	WRPCJSONPublic         bool
	RemoteURL              string
	DaemonArgs             []string
	StorageFolder          string
	MemoryScale            float64
	UserAgentComment       string
	ConnectRetryInterval   time.Duration
	ConnectTimeout         time.Duration
	TerminateWithSignal    bool
	TerminationGracePeriod time.Duration
	LogBufferLines         int
	LogBufferMargin        int
	LogUpdateInterval      time.Duration
}

// SimNodeSettings configures the simulated node used as the built-in core.
type SimNodeSettings struct {
	BlockInterval   time.Duration
	ParentsPerBlock int
	PeerCount       int
	ReorgEvery      int
}

type ChainMonitorSettings struct {
	Enabled         bool
	RetentionWindow uint64
	YScale          float64
	YDist           float64
	Noise           float64
	CenterVSPC      bool
	BalanceVSPC     bool
	ResetVSPC       bool
}

type MetricsMonitorSettings struct {
	MaxSamples     int
	BatchMargin    int
	SampleInterval time.Duration
	SystemInfoTTL  time.Duration
}

type PeerMonitorSettings struct {
	Enabled      bool
	PollInterval time.Duration
}

type FeeRateMonitorSettings struct {
	Enabled      bool
	PollInterval time.Duration
}

type RepaintSettings struct {
	TargetFPS int
}

type EventStreamSettings struct {
	ListenAddress string
	BufferSize    int
}

type TracingSettings struct {
	Enabled    bool
	SampleRate float64
	Endpoint   *url.URL
}

type Settings struct {
	ClientName         string
	Version            string
	Commit             string
	Network            Network
	DataFolder         string
	LogLevel           string
	LoggerType         string
	Initialized        bool
	HealthCheckAddress string
	PrometheusEndpoint string
	ServiceJoinTimeout time.Duration
	EventChannelSize   int
	Node               NodeSettings
	SimNode            SimNodeSettings
	ChainMonitor       ChainMonitorSettings
	MetricsMonitor     MetricsMonitorSettings
	PeerMonitor        PeerMonitorSettings
	FeeRateMonitor     FeeRateMonitorSettings
	Repaint            RepaintSettings
	EventStream        EventStreamSettings
	Tracing            TracingSettings
}
