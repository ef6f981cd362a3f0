package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scenecraft/internal/continuity"
	"scenecraft/internal/models"
	"scenecraft/pkg/stats"
	"scenecraft/pkg/utils"
)

func scenes(extend ...bool) []models.Scene {
	out := make([]models.Scene, len(extend))
	for i, e := range extend {
		out[i] = models.Scene{SceneNumber: i + 1, ExtendPrevious: e}
	}
	return out
}

func graphFor(t *testing.T, s []models.Scene, continuous bool) *continuity.Graph {
	g, err := continuity.BuildGraph(s, continuity.Flags{Continuous: continuous})
	require.NoError(t, err)
	return g
}

func clipFor(n int) Output {
	return Output{
		ClipRef:       fmt.Sprintf("clip-%d", n),
		FirstFrameRef: fmt.Sprintf("first-%d", n),
		LastFrameRef:  fmt.Sprintf("last-%d", n),
	}
}

// recorder collects call order and checks dependencies at call time
type recorder struct {
	mu      sync.Mutex
	order   []int
	done    map[int]bool
	fail    map[int]error
	delay   time.Duration
	running int32
	peak    int32
}

func newRecorder() *recorder {
	return &recorder{done: map[int]bool{}, fail: map[int]error{}}
}

func (r *recorder) run(t *testing.T) RunFunc {
	return func(ctx context.Context, node continuity.Node, deps map[int]Output) (Output, error) {
		n := atomic.AddInt32(&r.running, 1)
		defer atomic.AddInt32(&r.running, -1)
		for {
			p := atomic.LoadInt32(&r.peak)
			if n <= p || atomic.CompareAndSwapInt32(&r.peak, p, n) {
				break
			}
		}

		r.mu.Lock()
		r.order = append(r.order, node.SceneNumber)
		for _, p := range node.Predecessors {
			pred := p + 1
			assert.True(t, r.done[pred], "scene %d started before scene %d finished", node.SceneNumber, pred)
			if node.Requirement == continuity.RequireClip {
				assert.NotEmpty(t, deps[pred].ClipRef)
			}
		}
		err := r.fail[node.SceneNumber]
		r.mu.Unlock()

		if r.delay > 0 {
			time.Sleep(r.delay)
		}
		if err != nil {
			return Output{}, err
		}

		r.mu.Lock()
		r.done[node.SceneNumber] = true
		r.mu.Unlock()
		return clipFor(node.SceneNumber), nil
	}
}

func newController(concurrency int) *Controller {
	return New(Config{Concurrency: concurrency, CallTimeout: time.Second, RetryAttempts: 1}, stats.NewCollector(), zap.NewNop())
}

func statuses(results []Result) []models.SceneStatus {
	out := make([]models.SceneStatus, len(results))
	for i, r := range results {
		out[i] = r.Status
	}
	return out
}

func TestSequentialRunsInOrder(t *testing.T) {
	rec := newRecorder()
	g := graphFor(t, scenes(false, true, false), false)

	var events []Event
	results, err := newController(3).RunScenes(context.Background(), g, Sequential, nil, rec.run(t), func(e Event) {
		events = append(events, e)
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, rec.order)
	assert.Equal(t, []models.SceneStatus{models.SceneCompleted, models.SceneCompleted, models.SceneCompleted}, statuses(results))
	assert.Equal(t, "clip-2", results[1].Output.ClipRef)
	assert.Equal(t, int32(1), rec.peak)
	assert.Len(t, events, 6)
}

func TestSequentialFailureSkipsRest(t *testing.T) {
	rec := newRecorder()
	rec.fail[2] = utils.Errorf(utils.KindProviderTimeout, "test", "timed out")
	g := graphFor(t, scenes(false, false, false, false), false)

	collector := stats.NewCollector()
	c := New(Config{Concurrency: 3, CallTimeout: time.Second, RetryAttempts: 1}, collector, zap.NewNop())
	results, err := c.RunScenes(context.Background(), g, Sequential, nil, rec.run(t), nil)
	require.NoError(t, err)

	// scene 2 times out twice then the run stops
	assert.Equal(t, []int{1, 2, 2}, rec.order)
	assert.Equal(t, []models.SceneStatus{
		models.SceneCompleted, models.SceneFailed, models.SceneSkipped, models.SceneSkipped,
	}, statuses(results))
	assert.Equal(t, 2, results[1].Attempts)
	assert.True(t, utils.Is(results[1].Err, utils.KindProviderTimeout))
	assert.Equal(t, int64(1), collector.Retries())
}

func TestRejectedSceneIsNotRetried(t *testing.T) {
	rec := newRecorder()
	rec.fail[1] = utils.Errorf(utils.KindProviderRejected, "test", "bad prompt")
	g := graphFor(t, scenes(false), false)

	results, err := newController(1).RunScenes(context.Background(), g, Sequential, nil, rec.run(t), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, rec.order)
	assert.Equal(t, 1, results[0].Attempts)
	assert.Equal(t, models.SceneFailed, results[0].Status)
}

func TestParallelSkipsDependentOfFailedScene(t *testing.T) {
	rec := newRecorder()
	rec.fail[1] = utils.Errorf(utils.KindProviderRejected, "test", "rejected")
	g := graphFor(t, scenes(false, true, false), false)

	results, err := newController(3).RunScenes(context.Background(), g, Parallel, nil, rec.run(t), nil)
	require.NoError(t, err)

	assert.Equal(t, models.SceneFailed, results[0].Status)
	assert.Equal(t, models.SceneSkipped, results[1].Status)
	assert.Equal(t, models.SceneCompleted, results[2].Status)
	assert.NotContains(t, rec.order, 2)
}

func TestParallelSkipIsTransitive(t *testing.T) {
	rec := newRecorder()
	rec.fail[1] = errors.New("boom")
	g := graphFor(t, scenes(false, false, false), true)

	results, err := newController(3).RunScenes(context.Background(), g, Parallel, nil, rec.run(t), nil)
	require.NoError(t, err)
	assert.Equal(t, []models.SceneStatus{models.SceneFailed, models.SceneSkipped, models.SceneSkipped}, statuses(results))
}

func TestParallelExtendPreviousWaitsForClip(t *testing.T) {
	rec := newRecorder()
	rec.delay = 10 * time.Millisecond
	g := graphFor(t, scenes(false, true, false, true, false), false)

	results, err := newController(5).RunScenes(context.Background(), g, Parallel, nil, rec.run(t), nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, models.SceneCompleted, r.Status)
	}

	pos := map[int]int{}
	for i, n := range rec.order {
		pos[n] = i
	}
	assert.Less(t, pos[1], pos[2])
	assert.Less(t, pos[3], pos[4])
	assert.Greater(t, rec.peak, int32(1))
}

func TestParallelRespectsLimit(t *testing.T) {
	rec := newRecorder()
	rec.delay = 15 * time.Millisecond
	g := graphFor(t, scenes(false, false, false, false, false, false), false)

	_, err := newController(2).RunScenes(context.Background(), g, Parallel, nil, rec.run(t), nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&rec.peak), int32(2))
	assert.Len(t, rec.order, 6)
}

func TestExistingScenesAreReused(t *testing.T) {
	rec := newRecorder()
	g := graphFor(t, scenes(false, true, false), false)

	existing := map[int]Output{1: clipFor(1)}
	rec.done[1] = true
	results, err := newController(1).RunScenes(context.Background(), g, Sequential, existing, rec.run(t), nil)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3}, rec.order)
	assert.True(t, results[0].Reused)
	assert.Equal(t, models.SceneCompleted, results[2].Status)
}

func TestCancelledRunStopsDispatching(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := graphFor(t, scenes(false, false, false), false)

	var calls int32
	run := func(callCtx context.Context, node continuity.Node, deps map[int]Output) (Output, error) {
		atomic.AddInt32(&calls, 1)
		cancel()
		time.Sleep(10 * time.Millisecond)
		// the in-flight call is not cancelled with the run
		return clipFor(node.SceneNumber), callCtx.Err()
	}

	results, err := newController(1).RunScenes(ctx, g, Sequential, nil, run, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, models.SceneCompleted, results[0].Status)
	assert.Equal(t, models.SceneSkipped, results[1].Status)
	assert.True(t, utils.Is(results[2].Err, utils.KindCancelled))
}

func TestCallTimeoutIsProviderTimeout(t *testing.T) {
	g := graphFor(t, scenes(false), false)
	c := New(Config{Concurrency: 1, CallTimeout: 10 * time.Millisecond, RetryAttempts: 1}, nil, zap.NewNop())

	var calls int32
	run := func(callCtx context.Context, node continuity.Node, deps map[int]Output) (Output, error) {
		atomic.AddInt32(&calls, 1)
		<-callCtx.Done()
		return Output{}, callCtx.Err()
	}

	results, err := c.RunScenes(context.Background(), g, Parallel, nil, run, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, models.SceneFailed, results[0].Status)
	assert.True(t, utils.Is(results[0].Err, utils.KindProviderTimeout))
}

func TestModeFor(t *testing.T) {
	assert.Equal(t, Parallel, ModeFor(true))
	assert.Equal(t, Sequential, ModeFor(false))
}
