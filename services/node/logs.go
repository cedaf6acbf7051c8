package node

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/nodekeeper/nodekeeper/events"
	"github.com/nodekeeper/nodekeeper/util/ringbuffer"
)

type LogKind int

const (
	LogInfo LogKind = iota
	LogWarning
	LogError
	LogProcessed
)

func (k LogKind) String() string {
	switch k {
	case LogWarning:
		return "warning"
	case LogError:
		return "error"
	case LogProcessed:
		return "processed"
	default:
		return "info"
	}
}

type LogLine struct {
	Kind LogKind
	Text string
}

const (
	logLevelColumn = 30
	logTextColumn  = 38
)

// ParseLogLine classifies a daemon stdout line. Lines in the "<timestamp> [LEVEL] text" layout
// are shortened to "<time> text", anything else is kept verbatim as info.
func ParseLogLine(line string) LogLine {
	if len(line) < logTextColumn || line[logLevelColumn] != '[' {
		return LogLine{Kind: LogInfo, Text: line}
	}

	text := line[logTextColumn:]

	var kind LogKind

	switch line[logLevelColumn+1 : logLevelColumn+6] {
	case "WARN ":
		kind = LogWarning
	case "ERROR":
		kind = LogError
	default:
		if strings.HasPrefix(text, "Processed") {
			kind = LogProcessed
		} else {
			kind = LogInfo
		}
	}

	return LogLine{Kind: kind, Text: line[11:23] + " " + text}
}

var (
	reIBDProgress = regexp.MustCompile(`IBD: Processed (\d+) block bodies \((\d+)%\)`)
	reIBDFinished = regexp.MustCompile(`IBD finished, node is synced at DAA score (\d+)`)
	reProcessed   = regexp.MustCompile(`Processed (\d+) blocks and (\d+) headers in the last`)
)

// ParseSyncProgress extracts sync progress from a daemon log line.
func ParseSyncProgress(line string) (events.SyncProgress, bool) {
	var timestamp string
	if len(line) >= logTextColumn && line[logLevelColumn] == '[' {
		timestamp = line[:logLevelColumn-1]
	}

	if m := reIBDProgress.FindStringSubmatch(line); m != nil {
		blocks, _ := strconv.ParseUint(m[1], 10, 64)
		percent, _ := strconv.Atoi(m[2])

		return events.SyncProgress{Stage: "ibd", Blocks: blocks, Percent: percent, Timestamp: timestamp}, true
	}

	if m := reIBDFinished.FindStringSubmatch(line); m != nil {
		score, _ := strconv.ParseUint(m[1], 10, 64)

		return events.SyncProgress{Stage: "synced", Synced: true, Blocks: score, Percent: 100, Timestamp: timestamp}, true
	}

	if m := reProcessed.FindStringSubmatch(line); m != nil {
		blocks, _ := strconv.ParseUint(m[1], 10, 64)
		headers, _ := strconv.ParseUint(m[2], 10, 64)

		return events.SyncProgress{Stage: "processed", Blocks: blocks, Headers: headers, Timestamp: timestamp}, true
	}

	return events.SyncProgress{}, false
}

// LogBuffer keeps the newest node log lines and the last observed sync progress.
type LogBuffer struct {
	mu       sync.RWMutex
	lines    *ringbuffer.Buffer[LogLine]
	sync     events.SyncProgress
	hasSync  bool
	total    uint64
	evicted  uint64
	revision uint64
}

func NewLogBuffer(capacity, margin int) *LogBuffer {
	return &LogBuffer{lines: ringbuffer.New[LogLine](capacity, margin)}
}

// Push stores a raw line. It returns the parsed line and the sync progress it carried, if any.
func (b *LogBuffer) Push(raw string) (LogLine, *events.SyncProgress) {
	line := ParseLogLine(raw)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.evicted += uint64(b.lines.Push(line))
	b.total++
	b.revision++

	progress, ok := ParseSyncProgress(raw)
	if !ok {
		return line, nil
	}

	// once synced, periodic "processed" lines do not reset the status
	if b.hasSync && b.sync.Synced && progress.Stage == "processed" {
		progress.Synced = true
	}

	b.sync = progress
	b.hasSync = true

	return line, &progress
}

func (b *LogBuffer) Lines() []LogLine {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.lines.Items()
}

func (b *LogBuffer) Tail(n int) []LogLine {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.lines.Tail(n)
}

func (b *LogBuffer) SyncStatus() (events.SyncProgress, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.sync, b.hasSync
}

func (b *LogBuffer) Revision() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.revision
}

func (b *LogBuffer) Stats() (total, evicted uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.total, b.evicted
}

// Reset drops all lines and the sync status, used when a new node starts.
func (b *LogBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines.Reset()
	b.sync = events.SyncProgress{}
	b.hasSync = false
	b.revision++
}
