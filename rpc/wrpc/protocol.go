// Package wrpc implements the node RPC over a JSON websocket connection.
package wrpc

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/settings"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	MethodGetSystemInfo        = "getSystemInfo"
	MethodGetConnectedPeerInfo = "getConnectedPeerInfo"
	MethodGetMetrics           = "getMetrics"
	MethodGetFeeEstimate       = "getFeeEstimate"
	MethodSubscribe            = "subscribe"
	MethodUnsubscribe          = "unsubscribe"
	MethodPing                 = "ping"

	// MethodNotify is used by the server for unsolicited messages, which carry no id.
	MethodNotify = "notify"
)

// Message is the single envelope used in both directions. Requests carry ID, Method and Params;
// responses carry ID and either Result or Error; notifications carry Method=notify and Params.
type Message struct {
	ID     uint64              `json:"id,omitempty"`
	Method string              `json:"method,omitempty"`
	Params jsoniter.RawMessage `json:"params,omitempty"`
	Result jsoniter.RawMessage `json:"result,omitempty"`
	Error  *MessageError       `json:"error,omitempty"`
}

type MessageError struct {
	Message string `json:"message"`
}

type ScopeParams struct {
	Scope rpc.Scope `json:"scope"`
}

type NotifyParams struct {
	Scope rpc.Scope           `json:"scope"`
	Data  jsoniter.RawMessage `json:"data"`
}

func encodeNotification(n rpc.Notification) ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}

	params, err := json.Marshal(NotifyParams{Scope: n.Scope(), Data: data})
	if err != nil {
		return nil, err
	}

	return json.Marshal(Message{Method: MethodNotify, Params: params})
}

func decodeNotification(raw jsoniter.RawMessage) (rpc.Notification, error) {
	var params NotifyParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errors.NewNetworkInvalidResponseError("malformed notification", err)
	}

	switch params.Scope {
	case rpc.ScopeBlockAdded:
		n := &rpc.BlockAddedNotification{}
		if err := json.Unmarshal(params.Data, n); err != nil {
			return nil, errors.NewNetworkInvalidResponseError("malformed %s notification", params.Scope, err)
		}

		return n, nil
	case rpc.ScopeVirtualChainChanged:
		n := &rpc.VirtualChainChangedNotification{}
		if err := json.Unmarshal(params.Data, n); err != nil {
			return nil, errors.NewNetworkInvalidResponseError("malformed %s notification", params.Scope, err)
		}

		return n, nil
	default:
		return nil, errors.NewNetworkInvalidResponseError("unsupported notification scope %d", params.Scope)
	}
}

// ParseURL normalises a user supplied endpoint into a websocket url. A bare host gets the
// network's default JSON port and the ws scheme.
func ParseURL(address string, network settings.Network) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", errors.NewConfigurationError("empty rpc url")
	}

	if !strings.Contains(address, "://") {
		address = "ws://" + address
	}

	u, err := url.Parse(address)
	if err != nil {
		return "", errors.NewConfigurationError("invalid rpc url %q", address, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.NewConfigurationError("unsupported rpc url scheme %q", u.Scheme)
	}

	if u.Hostname() == "" {
		return "", errors.NewConfigurationError("rpc url %q has no host", address)
	}

	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(network.DefaultJSONRPCPort()))
	}

	return u.String(), nil
}

// LocalURL is the endpoint of a daemon started by this process.
func LocalURL(network settings.Network) string {
	return "ws://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(network.DefaultJSONRPCPort()))
}
