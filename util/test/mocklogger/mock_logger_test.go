package mocklogger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMockLogger_Records(t *testing.T) {
	logger := NewTestLogger()

	logger.Infof("starting %s", "node")
	logger.Warnf("slow hook %d", 2)
	logger.Warnf("slow hook %d", 3)

	logger.AssertNumberOfCalls(t, "Infof", 1)
	logger.AssertNumberOfCalls(t, "Warnf", 2)
	logger.AssertNumberOfCalls(t, "Errorf", 0)

	assert.Equal(t, []string{"slow hook 2", "slow hook 3"}, logger.Messages("Warnf"))
	assert.True(t, logger.Contains("Infof", "node"))
	assert.False(t, logger.Contains("Infof", "chain"))
}

func TestMockLogger_ChildSharesRecords(t *testing.T) {
	logger := NewTestLogger()

	logger.New("child").Errorf("boom")
	logger.Duplicate().Debugf("dup")

	assert.Equal(t, 1, logger.Calls("Errorf"))
	assert.Equal(t, 1, logger.Calls("Debugf"))
}

func TestMockLogger_Reset(t *testing.T) {
	logger := NewTestLogger()

	logger.Fatalf("fatal")
	logger.Reset()

	assert.Equal(t, 0, logger.Calls("Fatalf"))
	assert.Empty(t, logger.Messages("Fatalf"))
}

func TestMockLogger_Concurrent(t *testing.T) {
	logger := NewTestLogger()

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			logger.Debugf("tick")
		}()
	}

	wg.Wait()

	logger.AssertNumberOfCalls(t, "Debugf", 50)
}
