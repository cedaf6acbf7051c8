package errors

import "strconv"

// ERR is the code carried by every *Error. Codes are grouped by the layer that raises them.
type ERR int32

const (
	ERR_UNKNOWN          ERR = 0
	ERR_INVALID_ARGUMENT ERR = 1
	ERR_NOT_FOUND        ERR = 3
	ERR_PROCESSING       ERR = 4
	ERR_CONFIGURATION    ERR = 5
	ERR_CONTEXT          ERR = 6

	ERR_SERVICE_UNAVAILABLE ERR = 50
	ERR_SERVICE_ERROR       ERR = 52

	ERR_STATE_ERROR ERR = 101

	ERR_NETWORK_ERROR            ERR = 110
	ERR_NETWORK_TIMEOUT          ERR = 111
	ERR_NETWORK_INVALID_RESPONSE ERR = 113

	ERR_RPC_NOT_ATTACHED  ERR = 120
	ERR_RPC_NOT_CONNECTED ERR = 121
	ERR_RPC_ERROR         ERR = 122

	ERR_PROCESS_SPAWN ERR = 130
	ERR_PROCESS_EXIT  ERR = 131
)

var ERR_name = map[int32]string{
	0:   "UNKNOWN",
	1:   "INVALID_ARGUMENT",
	3:   "NOT_FOUND",
	4:   "PROCESSING",
	5:   "CONFIGURATION",
	6:   "CONTEXT",
	50:  "SERVICE_UNAVAILABLE",
	52:  "SERVICE_ERROR",
	101: "STATE_ERROR",
	110: "NETWORK_ERROR",
	111: "NETWORK_TIMEOUT",
	113: "NETWORK_INVALID_RESPONSE",
	120: "RPC_NOT_ATTACHED",
	121: "RPC_NOT_CONNECTED",
	122: "RPC_ERROR",
	130: "PROCESS_SPAWN",
	131: "PROCESS_EXIT",
}

func (x ERR) Enum() string {
	if name, ok := ERR_name[int32(x)]; ok {
		return name
	}

	return strconv.Itoa(int(x))
}

func (x ERR) String() string {
	return x.Enum()
}
