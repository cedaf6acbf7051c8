package simnode

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	levelInfo  = "INFO "
	levelWarn  = "WARN "
	levelError = "ERROR"

	// LogTimeFormat is the timestamp layout of daemon log lines. The level tag starts at column 30.
	LogTimeFormat = "2006-01-02 15:04:05.000-07:00"
)

// FormatLogLine renders one daemon log line: "<timestamp> [LEVEL] text".
func FormatLogLine(t time.Time, level string, text string) string {
	return fmt.Sprintf("%s [%-5s] %s", t.Format(LogTimeFormat), level, text)
}

type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newLineWriter(w io.Writer) *lineWriter {
	if w == nil {
		w = io.Discard
	}

	return &lineWriter{w: w}
}

func (lw *lineWriter) log(level string, format string, args ...interface{}) {
	line := FormatLogLine(time.Now(), level, fmt.Sprintf(format, args...))

	lw.mu.Lock()
	defer lw.mu.Unlock()

	_, _ = io.WriteString(lw.w, line+"\n")
}
