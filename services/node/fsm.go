package node

import (
	"context"

	"github.com/looplab/fsm"
)

// FSM states of the node service.
const (
	StateDisabled         = "DISABLED"
	StateStartingInProc   = "STARTING_INPROC"
	StateStartingDaemon   = "STARTING_DAEMON"
	StateStartingExternal = "STARTING_EXTERNAL"
	StateConnectingRemote = "CONNECTING_REMOTE"
	StateRunning          = "RUNNING"
	StateStopping         = "STOPPING"
)

// FSM events of the node service.
const (
	EventStartInProc   = "START_INPROC"
	EventStartDaemon   = "START_DAEMON"
	EventStartExternal = "START_EXTERNAL"
	EventConnectRemote = "CONNECT_REMOTE"
	EventStarted       = "STARTED"
	EventFail          = "FAIL"
	EventStop          = "STOP"
	EventStopped       = "STOPPED"
)

var states = []string{
	StateDisabled,
	StateStartingInProc,
	StateStartingDaemon,
	StateStartingExternal,
	StateConnectingRemote,
	StateRunning,
	StateStopping,
}

var startingStates = []string{
	StateStartingInProc,
	StateStartingDaemon,
	StateStartingExternal,
	StateConnectingRemote,
}

// NewFiniteStateMachine creates the node deployment state machine. Every deployment starts from
// DISABLED, goes through one starting state and ends in RUNNING, or back in DISABLED on failure.
// Leaving RUNNING always passes through STOPPING.
func NewFiniteStateMachine(onEnter func(from, to string)) *fsm.FSM {
	callbacks := fsm.Callbacks{}

	if onEnter != nil {
		callbacks["enter_state"] = func(_ context.Context, e *fsm.Event) {
			onEnter(e.Src, e.Dst)
		}
	}

	return fsm.NewFSM(
		StateDisabled,
		fsm.Events{
			{Name: EventStartInProc, Src: []string{StateDisabled}, Dst: StateStartingInProc},
			{Name: EventStartDaemon, Src: []string{StateDisabled}, Dst: StateStartingDaemon},
			{Name: EventStartExternal, Src: []string{StateDisabled}, Dst: StateStartingExternal},
			{Name: EventConnectRemote, Src: []string{StateDisabled}, Dst: StateConnectingRemote},
			{Name: EventStarted, Src: startingStates, Dst: StateRunning},
			{Name: EventFail, Src: append(append([]string(nil), startingStates...), StateStopping), Dst: StateDisabled},
			{Name: EventStop, Src: []string{StateRunning}, Dst: StateStopping},
			{Name: EventStopped, Src: []string{StateStopping}, Dst: StateDisabled},
		},
		callbacks,
	)
}
