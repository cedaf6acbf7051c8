package ulogger

import (
	"fmt"
	"sync"
	"testing"
)

// VerboseTestLogger writes every line to the test log, prefixed with the service it was created for.
// Loggers derived with New share the test and its lock.
type VerboseTestLogger struct {
	t       *testing.T
	mu      *sync.Mutex
	service string
}

func NewVerboseTestLogger(t *testing.T) *VerboseTestLogger {
	return &VerboseTestLogger{t: t, mu: &sync.Mutex{}}
}

func (l *VerboseTestLogger) LogLevel() int {
	return 0
}

func (l *VerboseTestLogger) SetLogLevel(string) {}

func (l *VerboseTestLogger) New(service string, _ ...Option) Logger {
	return &VerboseTestLogger{t: l.t, mu: l.mu, service: service}
}

func (l *VerboseTestLogger) Duplicate(_ ...Option) Logger {
	return &VerboseTestLogger{t: l.t, mu: l.mu, service: l.service}
}

func (l *VerboseTestLogger) line(level, format string, args []interface{}) string {
	msg := fmt.Sprintf(format, args...)
	if l.service == "" {
		return fmt.Sprintf("[%-5s] %s", level, msg)
	}

	return fmt.Sprintf("[%-5s] %s | %s", level, l.service, msg)
}

func (l *VerboseTestLogger) logf(level, format string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.t.Log(l.line(level, format, args))
}

func (l *VerboseTestLogger) Debugf(format string, args ...interface{}) {
	l.logf("DEBUG", format, args)
}

func (l *VerboseTestLogger) Infof(format string, args ...interface{}) {
	l.logf("INFO", format, args)
}

func (l *VerboseTestLogger) Warnf(format string, args ...interface{}) {
	l.logf("WARN", format, args)
}

func (l *VerboseTestLogger) Errorf(format string, args ...interface{}) {
	l.logf("ERROR", format, args)
}

func (l *VerboseTestLogger) Fatalf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.t.Fatal(l.line("FATAL", format, args))
}
