package errors

import (
	"errors"
	"net"
	"strings"
)

// networkHints are fragments of transport errors that reach us only as text, for example a websocket
// close reason relayed by the server.
var networkHints = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"dial tcp",
	"websocket",
	"timeout",
	"eof",
}

// IsNetworkError reports whether err came from the transport rather than from the node. It is the retry
// filter of the wRPC client.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNetworkError) || errors.Is(err, ErrNetworkTimeout) || errors.Is(err, ErrNetworkInvalidResp) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())

	for _, hint := range networkHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}

	return false
}
