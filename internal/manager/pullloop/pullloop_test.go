package pullloop

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runflow/orchestrator/internal/common/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	return log
}

func TestPollClaimsUntilQueueEmpty(t *testing.T) {
	var claims int32
	var dispatched int32
	var mu sync.Mutex
	var dispatchedRuns []string

	claim := func(ctx context.Context, workerID string, leaseSeconds int, modes []string) (any, error) {
		n := atomic.AddInt32(&claims, 1)
		if n > 3 {
			return nil, nil
		}
		return "run-" + strconv.Itoa(int(n)), nil
	}
	dispatch := func(ctx context.Context, run any) {
		atomic.AddInt32(&dispatched, 1)
		mu.Lock()
		dispatchedRuns = append(dispatchedRuns, run.(string))
		mu.Unlock()
	}

	loop := New(Config{WorkerID: "w1", MaxConcurrentRuns: 8}, testLogger(t), claim, dispatch)
	loop.Poll(context.Background(), []string{"immediate"})
	loop.Stop()

	assert.Equal(t, int32(4), claims) // 3 claimed runs + 1 nil-terminated poll
	assert.Equal(t, int32(3), dispatched)
}

func TestPollStopsOnClaimError(t *testing.T) {
	claim := func(ctx context.Context, workerID string, leaseSeconds int, modes []string) (any, error) {
		return nil, assert.AnError
	}
	var dispatched int32
	dispatch := func(ctx context.Context, run any) { atomic.AddInt32(&dispatched, 1) }

	loop := New(Config{WorkerID: "w1"}, testLogger(t), claim, dispatch)
	loop.Poll(context.Background(), []string{"immediate"})
	loop.Stop()

	assert.Equal(t, int32(0), dispatched)
}

func TestPollRespectsConcurrencyLimit(t *testing.T) {
	var claims int32
	claim := func(ctx context.Context, workerID string, leaseSeconds int, modes []string) (any, error) {
		n := atomic.AddInt32(&claims, 1)
		if n > 100 {
			return nil, nil
		}
		return n, nil
	}
	release := make(chan struct{})
	var dispatchStarted int32
	dispatch := func(ctx context.Context, run any) {
		atomic.AddInt32(&dispatchStarted, 1)
		<-release
	}

	loop := New(Config{WorkerID: "w1", MaxConcurrentRuns: 2}, testLogger(t), claim, dispatch)
	loop.Poll(context.Background(), []string{"immediate"})

	// Only 2 dispatches should be in flight at once, since the semaphore has weight 2.
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&dispatchStarted) == 2 }, time.Second, time.Millisecond)
	close(release)
	loop.Stop()
}

func TestTriggerDebouncesConcurrentCalls(t *testing.T) {
	var polls int32
	claim := func(ctx context.Context, workerID string, leaseSeconds int, modes []string) (any, error) {
		atomic.AddInt32(&polls, 1)
		return nil, nil
	}
	loop := New(Config{WorkerID: "w1"}, testLogger(t), claim, func(ctx context.Context, run any) {})

	accepted1, _ := loop.Trigger(context.Background(), []string{"immediate"}, "first")
	accepted2, reason2 := loop.Trigger(context.Background(), []string{"scheduled"}, "second")

	assert.True(t, accepted1)
	assert.False(t, accepted2)
	assert.Equal(t, "debounced", reason2)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&polls) == 1 }, time.Second, time.Millisecond)
	loop.Stop()
}

func TestOpenWindowThenPollWindowExpires(t *testing.T) {
	loop := New(Config{WorkerID: "w1"}, testLogger(t), func(ctx context.Context, workerID string, leaseSeconds int, modes []string) (any, error) {
		return nil, nil
	}, func(ctx context.Context, run any) {})

	loop.OpenWindow(context.Background(), "session-1", []string{"scheduled"}, -1)
	loop.windowMu.Lock()
	loop.windowsUntil["session-1"] = time.Now().Add(-time.Minute)
	loop.windowMu.Unlock()

	loop.PollWindow(context.Background(), "session-1", []string{"scheduled"})

	loop.windowMu.Lock()
	_, stillOpen := loop.windowsUntil["session-1"]
	loop.windowMu.Unlock()
	assert.False(t, stillOpen)
}

func TestMaxConcurrentTasksFromEnvDefaultsTo8(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_TASKS", "")
	assert.Equal(t, int64(8), MaxConcurrentTasksFromEnv())

	t.Setenv("MAX_CONCURRENT_TASKS", "16")
	assert.Equal(t, int64(16), MaxConcurrentTasksFromEnv())

	t.Setenv("MAX_CONCURRENT_TASKS", "not-a-number")
	assert.Equal(t, int64(8), MaxConcurrentTasksFromEnv())
}
