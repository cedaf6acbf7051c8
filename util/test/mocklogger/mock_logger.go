// Package mocklogger provides a ulogger.Logger that records calls and formatted messages for assertions.
package mocklogger

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/nodekeeper/nodekeeper/ulogger"
)

type MockLogger struct {
	mu       sync.Mutex
	calls    map[string]int
	messages map[string][]string
}

func NewTestLogger() *MockLogger {
	return &MockLogger{
		calls:    make(map[string]int),
		messages: make(map[string][]string),
	}
}

func (l *MockLogger) LogLevel() int {
	return 0
}

func (l *MockLogger) SetLogLevel(_ string) {}

// New returns the same logger so calls made by child loggers are visible to the test.
func (l *MockLogger) New(_ string, _ ...ulogger.Option) ulogger.Logger {
	return l
}

func (l *MockLogger) Duplicate(_ ...ulogger.Option) ulogger.Logger {
	return l
}

func (l *MockLogger) Debugf(format string, args ...interface{}) {
	l.record("Debugf", format, args...)
}

func (l *MockLogger) Infof(format string, args ...interface{}) {
	l.record("Infof", format, args...)
}

func (l *MockLogger) Warnf(format string, args ...interface{}) {
	l.record("Warnf", format, args...)
}

func (l *MockLogger) Errorf(format string, args ...interface{}) {
	l.record("Errorf", format, args...)
}

func (l *MockLogger) Fatalf(format string, args ...interface{}) {
	l.record("Fatalf", format, args...)
}

func (l *MockLogger) record(methodName, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls[methodName]++
	l.messages[methodName] = append(l.messages[methodName], fmt.Sprintf(format, args...))
}

// Calls returns how often methodName was called.
func (l *MockLogger) Calls(methodName string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.calls[methodName]
}

// Messages returns the formatted messages logged through methodName.
func (l *MockLogger) Messages(methodName string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.messages[methodName]...)
}

// Contains reports whether any message logged through methodName contains substr.
func (l *MockLogger) Contains(methodName, substr string) bool {
	for _, msg := range l.Messages(methodName) {
		if strings.Contains(msg, substr) {
			return true
		}
	}

	return false
}

func (l *MockLogger) AssertNumberOfCalls(t *testing.T, methodName string, expectedCalls int) {
	t.Helper()

	if actualCalls := l.Calls(methodName); actualCalls != expectedCalls {
		t.Errorf("Expected %v calls to %s, got %v: %v", expectedCalls, methodName, actualCalls, l.Messages(methodName))
	}
}

func (l *MockLogger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls = make(map[string]int)
	l.messages = make(map[string][]string)
}
