package retry

import (
	"context"
	"testing"
	"time"

	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/util/test/mocklogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry(t *testing.T) {
	logger := mocklogger.NewTestLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	successFn := func() (string, error) {
		return "success", nil
	}

	staticCallCount := 0
	retryOnceFn := func() (string, error) {
		if staticCallCount == 0 {
			staticCallCount++
			return "", errors.NewProcessingError("error")
		}

		return "success", nil
	}

	alwaysFailFn := func() (string, error) {
		return "", errors.NewProcessingError("persistent error")
	}

	// succeeds on the first try
	result, err := Retry(ctx, logger, successFn, WithRetryCount(3), WithBackoffDurationType(time.Millisecond), WithMessage("Trying again"))
	require.NoError(t, err)
	assert.Equal(t, "success", result)
	logger.AssertNumberOfCalls(t, "Warnf", 0)
	logger.Reset()

	// linear backoff, one failure
	result, err = Retry(ctx, logger, retryOnceFn,
		WithBackoffDurationType(5*time.Millisecond),
		WithBackoffMultiplier(1),
		WithRetryCount(3),
		WithMessage("connect"))
	require.NoError(t, err)
	assert.Equal(t, "success", result)
	logger.AssertNumberOfCalls(t, "Warnf", 1)
	logger.Reset()

	// infinite retry succeeds after one failure
	staticCallCount = 0
	result, err = Retry(ctx, logger, retryOnceFn,
		WithInfiniteRetry(),
		WithBackoffDurationType(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "success", result)

	// infinite retry stops on context deadline
	ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = Retry(ctx, logger, alwaysFailFn,
		WithInfiniteRetry(),
		WithBackoffMultiplier(0),
		WithBackoffDurationType(5*time.Millisecond))
	require.Error(t, err)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestRetry_ExhaustedReturnsLastError(t *testing.T) {
	logger := mocklogger.NewTestLogger()
	calls := 0

	_, err := Retry(context.Background(), logger, func() (int, error) {
		calls++
		return 0, errors.NewNetworkError("attempt %d", calls)
	}, WithRetryCount(3), WithBackoffDurationType(time.Millisecond), WithBackoffMultiplier(0), WithMessage("dial"))

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "attempt 3")
	logger.AssertNumberOfCalls(t, "Warnf", 2)
}

func TestRetry_RetryIf(t *testing.T) {
	calls := 0

	_, err := Retry(context.Background(), mocklogger.NewTestLogger(), func() (int, error) {
		calls++
		return 0, errors.NewConfigurationError("bad url")
	}, WithRetryCount(5), WithBackoffDurationType(time.Millisecond), WithRetryIf(errors.IsNetworkError))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetryIfKeepsRetryingNetworkErrors(t *testing.T) {
	calls := 0

	result, err := Retry(context.Background(), mocklogger.NewTestLogger(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.NewNetworkError("dial", errors.NewServiceError("refused"))
		}

		return calls, nil
	}, WithRetryCount(5), WithBackoffDurationType(time.Millisecond), WithRetryIf(errors.IsNetworkError))

	require.NoError(t, err)
	assert.Equal(t, 3, result)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt    int
		multiplier int
		unit       time.Duration
		expected   time.Duration
	}{
		{0, 1, time.Second, 1 * time.Second},
		{1, 2, time.Second, 3 * time.Second},
		{3, 3, time.Second, 10 * time.Second},
		{2, 5, time.Millisecond, 11 * time.Millisecond},
		{7, 0, time.Second, time.Second},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, backoff(tc.attempt, tc.multiplier, tc.unit))
	}
}

func TestRetry_SleepsBetweenAttempts(t *testing.T) {
	originalSleepFunc := sleepFunc
	defer func() { sleepFunc = originalSleepFunc }()

	var slept []time.Duration

	sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := Retry(context.Background(), mocklogger.NewTestLogger(), func() (int, error) {
		return 0, errors.NewNetworkError("down")
	}, WithRetryCount(4), WithBackoffMultiplier(2), WithBackoffDurationType(time.Second))

	require.Error(t, err)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second, 5 * time.Second}, slept)
}

func TestRetry_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		_, err := Retry(ctx, mocklogger.NewTestLogger(), func() (int, error) {
			return 0, errors.NewNetworkError("down")
		}, WithInfiniteRetry(), WithBackoffDurationType(time.Second))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		t.Fatal("Retry did not stop on cancellation")
	}
}
