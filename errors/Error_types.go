package errors

var (
	ErrInvalidArgument    = New(ERR_INVALID_ARGUMENT, "invalid argument")
	ErrNotFound           = New(ERR_NOT_FOUND, "not found")
	ErrProcessing         = New(ERR_PROCESSING, "error processing")
	ErrConfiguration      = New(ERR_CONFIGURATION, "configuration error")
	ErrContext            = New(ERR_CONTEXT, "context error")
	ErrServiceUnavailable = New(ERR_SERVICE_UNAVAILABLE, "service unavailable")
	ErrServiceError       = New(ERR_SERVICE_ERROR, "service error")
	ErrStateError         = New(ERR_STATE_ERROR, "error in state")
	ErrNetworkError       = New(ERR_NETWORK_ERROR, "network error")
	ErrNetworkTimeout     = New(ERR_NETWORK_TIMEOUT, "network timeout")
	ErrNetworkInvalidResp = New(ERR_NETWORK_INVALID_RESPONSE, "invalid response")
	ErrRPCNotAttached     = New(ERR_RPC_NOT_ATTACHED, "rpc not attached")
	ErrRPCNotConnected    = New(ERR_RPC_NOT_CONNECTED, "rpc not connected")
	ErrRPC                = New(ERR_RPC_ERROR, "rpc error")
	ErrProcessSpawn       = New(ERR_PROCESS_SPAWN, "process spawn error")
	ErrProcessExit        = New(ERR_PROCESS_EXIT, "process exit error")
)

func NewInvalidArgumentError(message string, params ...interface{}) error {
	return New(ERR_INVALID_ARGUMENT, message, params...)
}

func NewNotFoundError(message string, params ...interface{}) error {
	return New(ERR_NOT_FOUND, message, params...)
}

func NewProcessingError(message string, params ...interface{}) error {
	return New(ERR_PROCESSING, message, params...)
}

func NewConfigurationError(message string, params ...interface{}) error {
	return New(ERR_CONFIGURATION, message, params...)
}

func NewContextError(message string, params ...interface{}) error {
	return New(ERR_CONTEXT, message, params...)
}

func NewServiceUnavailableError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_UNAVAILABLE, message, params...)
}

func NewServiceError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_ERROR, message, params...)
}

func NewStateError(message string, params ...interface{}) error {
	return New(ERR_STATE_ERROR, message, params...)
}

func NewNetworkError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_ERROR, message, params...)
}

func NewNetworkTimeoutError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_TIMEOUT, message, params...)
}

func NewNetworkInvalidResponseError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_INVALID_RESPONSE, message, params...)
}

// NewRPCNotAttachedError reports a call that needs an rpc handle made before AttachRPC.
func NewRPCNotAttachedError(message string, params ...interface{}) error {
	return New(ERR_RPC_NOT_ATTACHED, message, params...)
}

func NewRPCNotConnectedError(message string, params ...interface{}) error {
	return New(ERR_RPC_NOT_CONNECTED, message, params...)
}

func NewRPCError(message string, params ...interface{}) error {
	return New(ERR_RPC_ERROR, message, params...)
}

func NewProcessSpawnError(message string, params ...interface{}) error {
	return New(ERR_PROCESS_SPAWN, message, params...)
}

// NewProcessExitError reports a node process that went away without being asked to.
func NewProcessExitError(message string, params ...interface{}) error {
	return New(ERR_PROCESS_EXIT, message, params...)
}
