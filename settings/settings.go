package settings

import (
	"time"
)

// NewSettings reads the settings from gocore config (settings.conf, settings_local.conf and the environment).
// Invalid enum values fall back to their defaults, Validate reports them.
func NewSettings() *Settings {
	network, _ := ParseNetwork(getString("network", "mainnet"))
	kind, _ := ParseNodeKind(getString("node_kind", "inproc"))

	return &Settings{
		ClientName:         getString("clientName", "nodekeeper"),
		Version:            getString("version", "dev"),
		Commit:             getString("commit", ""),
		Network:            network,
		DataFolder:         getString("dataFolder", "data"),
		LogLevel:           getString("logLevel", "INFO"),
		LoggerType:         getString("logger", "zerolog"),
		Initialized:        getBool("initialized", true),
		HealthCheckAddress: getString("health_check_httpListenAddress", ":8000"),
		PrometheusEndpoint: getString("prometheusEndpoint", "/metrics"),
		ServiceJoinTimeout: getDuration("service_join_timeout", 10*time.Second),
		EventChannelSize:   getInt("event_channel_size", 1024),
		Node: NodeSettings{
			Kind:                   kind,
			DaemonBinary:           getString("node_daemonBinary", ""),
			EnableUPnP:             getBool("node_enableUPnP", true),
			EnableGRPC:             getBool("node_enableGRPC", false),
			GRPCListen:             getString("node_grpcListen", ""),
			EnableWRPCJSON:         getBool("node_enableWRPCJSON", true),
			WRPCJSONPublic:         getBool("node_wrpcJSONPublic", false),
			RemoteURL:              getString("node_remoteURL", ""),
			DaemonArgs:             getFields("node_daemonArgs", ""),
			StorageFolder:          getString("node_storageFolder", ""),
			MemoryScale:            getFloat64("node_memoryScale", 1.0),
			UserAgentComment:       getString("node_userAgentComment", ""),
			ConnectRetryInterval:   getDuration("node_connectRetryInterval", 3*time.Second),
			ConnectTimeout:         getDuration("node_connectTimeout", 5*time.Second),
			TerminateWithSignal:    getBool("node_terminateWithSignal", false),
			TerminationGracePeriod: getDuration("node_terminationGracePeriod", 10*time.Second),
			LogBufferLines:         getInt("node_logBufferLines", 4096),
			LogBufferMargin:        getInt("node_logBufferMargin", 128),
			LogUpdateInterval:      getDuration("node_logUpdateInterval", 250*time.Millisecond),
		},
		SimNode: SimNodeSettings{
			BlockInterval:   getDuration("simnode_blockInterval", 100*time.Millisecond),
			ParentsPerBlock: getInt("simnode_parentsPerBlock", 3),
			PeerCount:       getInt("simnode_peerCount", 8),
			ReorgEvery:      getInt("simnode_reorgEvery", 50),
		},
		ChainMonitor: ChainMonitorSettings{
			Enabled:         getBool("chainmonitor_enabled", false),
			RetentionWindow: uint64(getInt("chainmonitor_retentionWindow", 1024)), //nolint:gosec // G115 non-negative config value
			YScale:          getFloat64("chainmonitor_yScale", 10),
			YDist:           getFloat64("chainmonitor_yDist", 7),
			Noise:           getFloat64("chainmonitor_noise", 0),
			CenterVSPC:      getBool("chainmonitor_centerVSPC", false),
			BalanceVSPC:     getBool("chainmonitor_balanceVSPC", true),
			ResetVSPC:       getBool("chainmonitor_resetVSPC", true),
		},
		MetricsMonitor: MetricsMonitorSettings{
			MaxSamples:     getInt("metricsmonitor_maxSamples", 60*60*24),
			BatchMargin:    getInt("metricsmonitor_batchMargin", 128),
			SampleInterval: getDuration("metricsmonitor_sampleInterval", time.Second),
			SystemInfoTTL:  getDuration("metricsmonitor_systemInfoTTL", time.Minute),
		},
		PeerMonitor: PeerMonitorSettings{
			Enabled:      getBool("peermonitor_enabled", false),
			PollInterval: getDuration("peermonitor_pollInterval", time.Second),
		},
		FeeRateMonitor: FeeRateMonitorSettings{
			Enabled:      getBool("feeratemonitor_enabled", true),
			PollInterval: getDuration("feeratemonitor_pollInterval", 3*time.Second),
		},
		Repaint: RepaintSettings{
			TargetFPS: getInt("repaint_targetFPS", 30),
		},
		EventStream: EventStreamSettings{
			ListenAddress: getString("eventstream_listenAddress", ""),
			BufferSize:    getInt("eventstream_bufferSize", 256),
		},
		Tracing: TracingSettings{
			Enabled:    getBool("use_otel_tracing", false),
			SampleRate: getFloat64("tracing_SampleRate", 0.01),
			Endpoint:   getURL("tracing_collector_url", "http://localhost:4318"),
		},
	}
}

// Validate reports settings that cannot describe a working node backend.
func (s *Settings) Validate() error {
	if _, err := ParseNetwork(getString("network", s.Network.String())); err != nil {
		return err
	}

	if _, err := ParseNodeKind(getString("node_kind", s.Node.Kind.String())); err != nil {
		return err
	}

	return s.Node.Validate()
}
