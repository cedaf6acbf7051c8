package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiniteStateMachine_StartStop(t *testing.T) {
	ctx := context.Background()

	var entered []string

	f := NewFiniteStateMachine(func(_, to string) {
		entered = append(entered, to)
	})

	assert.Equal(t, StateDisabled, f.Current())

	require.NoError(t, f.Event(ctx, EventStartInProc))
	require.NoError(t, f.Event(ctx, EventStarted))
	require.NoError(t, f.Event(ctx, EventStop))
	require.NoError(t, f.Event(ctx, EventStopped))
	require.NoError(t, f.Event(ctx, EventConnectRemote))

	assert.Equal(t, []string{
		StateStartingInProc,
		StateRunning,
		StateStopping,
		StateDisabled,
		StateConnectingRemote,
	}, entered)
}

func TestFiniteStateMachine_Fail(t *testing.T) {
	ctx := context.Background()

	for _, event := range []string{EventStartInProc, EventStartDaemon, EventStartExternal, EventConnectRemote} {
		t.Run(event, func(t *testing.T) {
			f := NewFiniteStateMachine(nil)

			require.NoError(t, f.Event(ctx, event))
			assert.Contains(t, startingStates, f.Current())

			require.NoError(t, f.Event(ctx, EventFail))
			assert.Equal(t, StateDisabled, f.Current())
		})
	}
}

func TestFiniteStateMachine_InvalidTransitions(t *testing.T) {
	ctx := context.Background()
	f := NewFiniteStateMachine(nil)

	assert.Error(t, f.Event(ctx, EventStarted))
	assert.Error(t, f.Event(ctx, EventStop))
	assert.False(t, f.Can(EventFail))

	require.NoError(t, f.Event(ctx, EventStartDaemon))

	// a second deployment cannot start before the first one is settled
	assert.Error(t, f.Event(ctx, EventStartInProc))
	assert.Equal(t, StateStartingDaemon, f.Current())
}

func TestFiniteStateMachine_KnowsEveryState(t *testing.T) {
	f := NewFiniteStateMachine(nil)

	for _, state := range states {
		f.SetState(state)
		assert.Equal(t, state, f.Current())
	}
}
