package workers

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(PoolConfig{Name: "test", Workers: 2, QueueSize: 10}, zap.NewNop())
	require.NoError(t, pool.Start())

	var running, peak int32
	results := make(chan TaskResult, 6)
	for i := 0; i < 6; i++ {
		require.NoError(t, pool.Submit(context.Background(), &Task{
			ID:      fmt.Sprintf("t%d", i),
			Payload: i,
			ProcessFunc: func(ctx context.Context, payload interface{}) (interface{}, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return payload.(int) * 10, nil
			},
			ResultChan: results,
		}))
	}

	sum := 0
	for i := 0; i < 6; i++ {
		r := <-results
		require.True(t, r.Success())
		sum += r.Value.(int)
	}
	assert.Equal(t, 150, sum)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))

	require.NoError(t, pool.Shutdown())
	stats := pool.Statistics()
	assert.Equal(t, int64(6), stats.TasksSubmitted)
	assert.Equal(t, int64(6), stats.TasksCompleted)
	assert.Equal(t, int64(0), stats.TasksFailed)
}

func TestPoolRecoversPanics(t *testing.T) {
	pool := NewPool(PoolConfig{Workers: 1}, zap.NewNop())
	require.NoError(t, pool.Start())
	defer pool.Shutdown()

	results := make(chan TaskResult, 1)
	require.NoError(t, pool.Submit(context.Background(), &Task{
		ID: "panic",
		ProcessFunc: func(ctx context.Context, payload interface{}) (interface{}, error) {
			panic("boom")
		},
		ResultChan: results,
	}))

	r := <-results
	require.Error(t, r.Error)
	assert.Contains(t, r.Error.Error(), "task panicked: boom")
}

func TestPoolTaskTimeout(t *testing.T) {
	pool := NewPool(PoolConfig{Workers: 1, TaskTimeout: 20 * time.Millisecond}, zap.NewNop())
	require.NoError(t, pool.Start())
	defer pool.Shutdown()

	results := make(chan TaskResult, 1)
	require.NoError(t, pool.Submit(context.Background(), &Task{
		ID: "slow",
		ProcessFunc: func(ctx context.Context, payload interface{}) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		ResultChan: results,
	}))

	r := <-results
	assert.True(t, errors.Is(r.Error, context.DeadlineExceeded))
}

func TestPoolIgnoresSubmitterCancellation(t *testing.T) {
	pool := NewPool(PoolConfig{Workers: 1}, zap.NewNop())
	require.NoError(t, pool.Start())
	defer pool.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan TaskResult, 1)
	started := make(chan struct{})
	require.NoError(t, pool.Submit(ctx, &Task{
		ID: "in-flight",
		ProcessFunc: func(taskCtx context.Context, payload interface{}) (interface{}, error) {
			close(started)
			time.Sleep(20 * time.Millisecond)
			return "done", taskCtx.Err()
		},
		ResultChan: results,
	}))

	<-started
	cancel()
	r := <-results
	require.NoError(t, r.Error)
	assert.Equal(t, "done", r.Value)
}

func TestPoolRejectsAfterShutdown(t *testing.T) {
	pool := NewPool(PoolConfig{Workers: 1}, zap.NewNop())
	require.NoError(t, pool.Start())
	require.NoError(t, pool.Shutdown())
	require.NoError(t, pool.Shutdown())

	err := pool.Submit(context.Background(), &Task{ID: "late"})
	assert.Error(t, err)
	assert.Error(t, pool.Start())
}
