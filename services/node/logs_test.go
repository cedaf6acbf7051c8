package node

import (
	"testing"
	"time"

	"github.com/nodekeeper/nodekeeper/simnode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logTime = time.Date(2024, 5, 1, 12, 30, 45, 123000000, time.FixedZone("", 2*60*60))

func TestParseLogLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want LogLine
	}{
		{
			name: "info",
			line: simnode.FormatLogLine(logTime, "INFO ", "Starting node"),
			want: LogLine{Kind: LogInfo, Text: "12:30:45.123 Starting node"},
		},
		{
			name: "warning",
			line: simnode.FormatLogLine(logTime, "WARN ", "peer misbehaving"),
			want: LogLine{Kind: LogWarning, Text: "12:30:45.123 peer misbehaving"},
		},
		{
			name: "error",
			line: simnode.FormatLogLine(logTime, "ERROR", "database corrupted"),
			want: LogLine{Kind: LogError, Text: "12:30:45.123 database corrupted"},
		},
		{
			name: "processed",
			line: simnode.FormatLogLine(logTime, "INFO ", "Processed 12 blocks and 12 headers in the last 10.00s"),
			want: LogLine{Kind: LogProcessed, Text: "12:30:45.123 Processed 12 blocks and 12 headers in the last 10.00s"},
		},
		{
			name: "short",
			line: "panic: boom",
			want: LogLine{Kind: LogInfo, Text: "panic: boom"},
		},
		{
			name: "unstructured",
			line: "goroutine 1 [running]: main.main() /src/main.go:12 +0x1d",
			want: LogLine{Kind: LogInfo, Text: "goroutine 1 [running]: main.main() /src/main.go:12 +0x1d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLogLine(tt.line))
		})
	}
}

func TestParseSyncProgress(t *testing.T) {
	progress, ok := ParseSyncProgress(simnode.FormatLogLine(logTime, "INFO ", "IBD: Processed 4500 block bodies (45%)"))
	require.True(t, ok)
	assert.Equal(t, "ibd", progress.Stage)
	assert.Equal(t, uint64(4500), progress.Blocks)
	assert.Equal(t, 45, progress.Percent)
	assert.False(t, progress.Synced)
	assert.Equal(t, "2024-05-01 12:30:45.123+02:00", progress.Timestamp)

	progress, ok = ParseSyncProgress("IBD finished, node is synced at DAA score 98765")
	require.True(t, ok)
	assert.True(t, progress.Synced)
	assert.Equal(t, uint64(98765), progress.Blocks)
	assert.Empty(t, progress.Timestamp)

	progress, ok = ParseSyncProgress("Processed 7 blocks and 9 headers in the last 10.00s (12 transactions)")
	require.True(t, ok)
	assert.Equal(t, "processed", progress.Stage)
	assert.Equal(t, uint64(7), progress.Blocks)
	assert.Equal(t, uint64(9), progress.Headers)

	_, ok = ParseSyncProgress("Starting node")
	assert.False(t, ok)
}

func TestLogBuffer_EvictsAndKeepsSyncedStatus(t *testing.T) {
	b := NewLogBuffer(4, 2)

	for i := 0; i < 5; i++ {
		b.Push(simnode.FormatLogLine(logTime, "INFO ", "line"))
	}

	total, evicted := b.Stats()
	assert.Equal(t, uint64(5), total)
	assert.Equal(t, uint64(2), evicted)
	assert.Len(t, b.Lines(), 3)

	_, ok := b.SyncStatus()
	assert.False(t, ok)

	_, progress := b.Push(simnode.FormatLogLine(logTime, "INFO ", "IBD finished, node is synced at DAA score 10"))
	require.NotNil(t, progress)
	assert.True(t, progress.Synced)

	_, progress = b.Push(simnode.FormatLogLine(logTime, "INFO ", "Processed 2 blocks and 2 headers in the last 10.00s"))
	require.NotNil(t, progress)
	assert.True(t, progress.Synced)

	status, ok := b.SyncStatus()
	require.True(t, ok)
	assert.Equal(t, "processed", status.Stage)
	assert.True(t, status.Synced)

	last := b.Tail(1)
	require.Len(t, last, 1)
	assert.Equal(t, LogProcessed, last[0].Kind)

	revision := b.Revision()

	b.Reset()

	assert.Empty(t, b.Lines())
	assert.Greater(t, b.Revision(), revision)

	_, ok = b.SyncStatus()
	assert.False(t, ok)
}
