package repaint

import (
	"context"
	"testing"
	"time"

	"github.com/nodekeeper/nodekeeper/settings"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestService_CoalescesRequests(t *testing.T) {
	var painted atomic.Int32

	s := New(ulogger.TestLogger{}, settings.RepaintSettings{TargetFPS: 100}, RepainterFunc(func() {
		painted.Inc()
	}))
	assert.Equal(t, 10*time.Millisecond, s.Interval())

	go func() { _ = s.Spawn(context.Background()) }()

	for i := 0; i < 50; i++ {
		s.RequestRepaint()
	}

	require.Eventually(t, func() bool { return painted.Load() == 1 }, time.Second, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), painted.Load())
	assert.Equal(t, uint64(1), s.Repaints())

	s.RequestRepaint()
	require.Eventually(t, func() bool { return painted.Load() == 2 }, time.Second, time.Millisecond)

	s.Terminate()
	s.Terminate()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Join(ctx))
}

func TestService_DefaultsAndNilRepainter(t *testing.T) {
	s := New(ulogger.TestLogger{}, settings.RepaintSettings{}, nil)
	assert.Equal(t, time.Second/DefaultTargetFPS, s.Interval())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- s.Spawn(ctx) }()

	s.RequestRepaint()
	require.Eventually(t, func() bool { return s.Repaints() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
