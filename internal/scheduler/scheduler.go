package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"scenecraft/internal/continuity"
	"scenecraft/internal/models"
	"scenecraft/internal/workers"
	"scenecraft/pkg/stats"
	"scenecraft/pkg/utils"
)

// Mode selects how scenes are dispatched
type Mode string

const (
	// Sequential runs scenes one at a time in scene order; the first failure
	// skips everything after it
	Sequential Mode = "sequential"
	// Parallel runs every scene whose dependencies are met, up to the
	// concurrency limit
	Parallel Mode = "parallel"
)

// ModeFor returns the mode for a project's parallel flag
func ModeFor(parallel bool) Mode {
	if parallel {
		return Parallel
	}
	return Sequential
}

// Output is what a finished scene produced
type Output struct {
	ClipRef       string
	FirstFrameRef string
	LastFrameRef  string
}

// Result is the final state of one scene in a run
type Result struct {
	SceneNumber int
	Status      models.SceneStatus
	Output      Output
	Err         error
	Attempts    int
	Duration    time.Duration
	// Reused is set for scenes completed by an earlier run
	Reused bool
}

// EventType distinguishes scheduler events
type EventType string

const (
	EventStarted  EventType = "started"
	EventFinished EventType = "finished"
)

// Event reports a scene state change. Events are delivered on the goroutine
// that called RunScenes.
type Event struct {
	Type   EventType
	Result Result
}

// RunFunc generates one scene. deps holds the outputs of the node's
// predecessors keyed by scene number.
type RunFunc func(ctx context.Context, node continuity.Node, deps map[int]Output) (Output, error)

// Config holds the controller limits
type Config struct {
	Concurrency   int
	CallTimeout   time.Duration
	RetryAttempts int
}

// Controller schedules scene generations over a dependency graph
type Controller struct {
	config    Config
	collector *stats.Collector
	logger    *zap.Logger
}

// New creates a controller. collector may be nil.
func New(config Config, collector *stats.Collector, logger *zap.Logger) *Controller {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.RetryAttempts < 0 {
		config.RetryAttempts = 0
	}
	return &Controller{
		config:    config,
		collector: collector,
		logger:    logger.With(zap.String("component", "scheduler")),
	}
}

type nodeState int

const (
	statePending nodeState = iota
	stateRunning
	stateDone
)

// RunScenes executes every node of graph and returns one result per node in
// scene order. Scenes listed in existing are treated as already completed.
// Once ctx is done no further scenes are dispatched; scenes already running
// finish on their own deadline and the rest are skipped.
func (c *Controller) RunScenes(ctx context.Context, graph *continuity.Graph, mode Mode, existing map[int]Output, run RunFunc, onEvent func(Event)) ([]Result, error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	if onEvent == nil {
		onEvent = func(Event) {}
	}

	n := len(graph.Nodes)
	results := make([]Result, n)
	states := make([]nodeState, n)
	if n == 0 {
		return results, nil
	}

	limit := c.config.Concurrency
	if mode == Sequential {
		limit = 1
	}

	pool := workers.NewPool(workers.PoolConfig{
		Name:      "scenes",
		Workers:   limit,
		QueueSize: n,
	}, c.logger)
	if err := pool.Start(); err != nil {
		return nil, err
	}
	defer pool.Shutdown()

	taskResults := make(chan workers.TaskResult, n)

	for i, node := range graph.Nodes {
		results[i].SceneNumber = node.SceneNumber
		if out, ok := existing[node.SceneNumber]; ok && out.ClipRef != "" {
			states[i] = stateDone
			results[i].Status = models.SceneCompleted
			results[i].Output = out
			results[i].Reused = true
			onEvent(Event{Type: EventFinished, Result: results[i]})
		}
	}

	running := 0
	halted := false // sequential mode after a failure
	for {
		if ctx.Err() == nil && !halted {
			for i := range graph.Nodes {
				if running >= limit {
					break
				}
				if states[i] != statePending {
					continue
				}

				ready, blocked := c.checkPredecessors(graph.Nodes[i], results, states)
				if blocked != nil {
					states[i] = stateDone
					results[i].Status = models.SceneSkipped
					results[i].Err = blocked
					c.recordOutcome(results[i])
					onEvent(Event{Type: EventFinished, Result: results[i]})
					continue
				}
				if !ready {
					if mode == Sequential {
						break
					}
					continue
				}

				deps := make(map[int]Output, len(graph.Nodes[i].Predecessors))
				for _, p := range graph.Nodes[i].Predecessors {
					deps[graph.Nodes[p].SceneNumber] = results[p].Output
				}

				if err := c.dispatch(ctx, pool, i, graph.Nodes[i], deps, run, taskResults); err != nil {
					c.logger.Warn("Failed to dispatch scene", zap.Int("scene", graph.Nodes[i].SceneNumber), zap.Error(err))
					break
				}
				states[i] = stateRunning
				running++
				results[i].Status = models.SceneGenerating
				onEvent(Event{Type: EventStarted, Result: results[i]})
			}
		}

		if running == 0 {
			break
		}

		tr := <-taskResults
		running--

		i := tr.Payload.(int)
		out, _ := tr.Value.(attemptOutcome)
		states[i] = stateDone
		results[i].Attempts = out.attempts
		results[i].Duration = tr.Duration
		if tr.Error != nil {
			results[i].Status = models.SceneFailed
			results[i].Err = tr.Error
			if mode == Sequential {
				halted = true
			}
		} else {
			results[i].Status = models.SceneCompleted
			results[i].Output = out.output
		}
		c.recordOutcome(results[i])
		onEvent(Event{Type: EventFinished, Result: results[i]})
	}

	// whatever was never dispatched is skipped
	var reason error
	switch {
	case ctx.Err() != nil:
		reason = utils.E(utils.KindCancelled, "scheduler.RunScenes", ctx.Err())
	default:
		reason = utils.Errorf(utils.KindCancelled, "scheduler.RunScenes", "not attempted after an earlier scene failed")
	}
	for i := range graph.Nodes {
		if states[i] == statePending {
			states[i] = stateDone
			results[i].Status = models.SceneSkipped
			results[i].Err = reason
			c.recordOutcome(results[i])
			onEvent(Event{Type: EventFinished, Result: results[i]})
		}
	}

	return results, nil
}

// checkPredecessors reports whether node may start now. A non-nil error
// means it never can in this run.
func (c *Controller) checkPredecessors(node continuity.Node, results []Result, states []nodeState) (bool, error) {
	for _, p := range node.Predecessors {
		if states[p] != stateDone {
			return false, nil
		}
		pred := results[p]
		if pred.Status != models.SceneCompleted {
			return false, utils.Errorf(utils.KindCancelled, "scheduler.RunScenes",
				"depends on scene %d which %s", pred.SceneNumber, pred.Status)
		}
		if !continuity.Satisfied(node.Requirement, pred.Output.ClipRef, pred.Output.LastFrameRef) {
			return false, utils.Errorf(utils.KindCancelled, "scheduler.RunScenes",
				"scene %d produced no %s", pred.SceneNumber, node.Requirement)
		}
	}
	return true, nil
}

type attemptOutcome struct {
	output   Output
	attempts int
}

func (c *Controller) dispatch(ctx context.Context, pool *workers.Pool, index int, node continuity.Node, deps map[int]Output, run RunFunc, resultChan chan<- workers.TaskResult) error {
	return pool.Submit(ctx, &workers.Task{
		ID:      "scene-" + strconv.Itoa(node.SceneNumber),
		Payload: index,
		ProcessFunc: func(taskCtx context.Context, payload interface{}) (interface{}, error) {
			output, attempts, err := c.runWithRetry(taskCtx, node, deps, run)
			return attemptOutcome{output: output, attempts: attempts}, err
		},
		ResultChan: resultChan,
	})
}

// runWithRetry runs one scene under the per-call deadline, retrying
// retryable failures. taskCtx is independent of the run context.
func (c *Controller) runWithRetry(taskCtx context.Context, node continuity.Node, deps map[int]Output, run RunFunc) (Output, int, error) {
	maxAttempts := 1 + c.config.RetryAttempts
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 && c.collector != nil {
			c.collector.RecordRetry()
		}

		output, err := c.attempt(taskCtx, node, deps, run)
		if err == nil {
			return output, attempt, nil
		}
		lastErr = err

		retryable := utils.IsRetryable(err)
		c.logger.Warn("Scene attempt failed",
			zap.Int("scene", node.SceneNumber),
			zap.Int("attempt", attempt),
			zap.String("kind", string(utils.KindOf(err))),
			zap.Bool("retryable", retryable),
			zap.Error(err))
		if !retryable {
			return Output{}, attempt, err
		}
	}
	return Output{}, maxAttempts, lastErr
}

func (c *Controller) attempt(taskCtx context.Context, node continuity.Node, deps map[int]Output, run RunFunc) (Output, error) {
	callCtx, cancel := taskCtx, context.CancelFunc(func() {})
	if c.config.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(taskCtx, c.config.CallTimeout)
	}
	defer cancel()

	start := time.Now()
	output, err := run(callCtx, node, deps)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && utils.KindOf(err) == utils.KindInternal {
		err = utils.E(utils.KindProviderTimeout, "scheduler.attempt",
			fmt.Errorf("scene %d exceeded %v: %w", node.SceneNumber, c.config.CallTimeout, err))
	}
	if c.collector != nil {
		kind := ""
		if err != nil {
			kind = string(utils.KindOf(err))
		}
		c.collector.RecordCall("scene.generate", time.Since(start), kind)
	}
	return output, err
}

func (c *Controller) recordOutcome(r Result) {
	if c.collector == nil || r.Reused {
		return
	}
	c.collector.RecordSceneOutcome(r.Status == models.SceneCompleted, r.Status == models.SceneSkipped)
}
