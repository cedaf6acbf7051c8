package errors

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNetworkError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "network timeout", err: NewNetworkTimeoutError("no response"), expected: true},
		{name: "invalid response", err: NewNetworkInvalidResponseError("malformed"), expected: true},
		{name: "wrapped network error", err: NewServiceError("connect", NewNetworkError("dial")), expected: true},
		{name: "net.Error", err: &net.OpError{Op: "dial", Net: "tcp", Err: context.DeadlineExceeded}, expected: true},
		{name: "text only", err: NewServiceError("dial tcp 127.0.0.1:18110: connect: connection refused"), expected: true},
		{name: "configuration", err: NewConfigurationError("bad memory scale"), expected: false},
		{name: "rpc not attached", err: NewRPCNotAttachedError("metrics"), expected: false},
		{name: "context canceled", err: context.Canceled, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsNetworkError(tt.err))
		})
	}
}
