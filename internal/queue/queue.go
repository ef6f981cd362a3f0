package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"scenecraft/internal/orchestrator"
	"scenecraft/pkg/config"
	"scenecraft/pkg/utils"
)

// TypePipelineRun is the asynq task type of a full pipeline run
const TypePipelineRun = "pipeline:run"

// PipelinePayload identifies the project to run
type PipelinePayload struct {
	ProjectID string `json:"project_id"`
}

// Runner executes pipeline runs
type Runner interface {
	RunPipeline(ctx context.Context, projectID string) (*orchestrator.RunResult, error)
	IsRunning(projectID string) bool
}

// Dispatcher starts a pipeline run without waiting for it to finish
type Dispatcher interface {
	Dispatch(ctx context.Context, projectID string) error
}

// NewPipelineTask builds the task for one run
func NewPipelineTask(projectID string) (*asynq.Task, error) {
	payload, err := json.Marshal(PipelinePayload{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePipelineRun, payload), nil
}

// RedisOpt converts the redis settings for asynq
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
}

// AsynqDispatcher enqueues runs for worker processes
type AsynqDispatcher struct {
	client  *asynq.Client
	queue   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewAsynqDispatcher creates a dispatcher. timeout bounds how long a worker
// may hold the task and should exceed the pipeline's total timeout.
func NewAsynqDispatcher(client *asynq.Client, queue string, timeout time.Duration, logger *zap.Logger) *AsynqDispatcher {
	return &AsynqDispatcher{
		client:  client,
		queue:   queue,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "dispatcher")),
	}
}

// Dispatch enqueues a run. Runs are never retried by the queue.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, projectID string) error {
	task, err := NewPipelineTask(projectID)
	if err != nil {
		return utils.E(utils.KindInternal, "queue.Dispatch", err)
	}

	opts := []asynq.Option{asynq.Queue(d.queue), asynq.MaxRetry(0)}
	if d.timeout > 0 {
		opts = append(opts, asynq.Timeout(d.timeout))
	}
	info, err := d.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return utils.E(utils.KindTransientNetwork, "queue.Dispatch", err)
	}

	d.logger.Info("Enqueued pipeline run",
		zap.String("project_id", projectID),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue))
	return nil
}

// InProcessDispatcher runs pipelines on goroutines of the API process
type InProcessDispatcher struct {
	base   context.Context
	runner Runner
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewInProcessDispatcher creates a dispatcher whose runs stop at their next
// stage boundary once base is cancelled
func NewInProcessDispatcher(base context.Context, runner Runner, logger *zap.Logger) *InProcessDispatcher {
	return &InProcessDispatcher{
		base:   base,
		runner: runner,
		logger: logger.With(zap.String("component", "dispatcher")),
	}
}

// Dispatch starts the run in the background
func (d *InProcessDispatcher) Dispatch(ctx context.Context, projectID string) error {
	if d.runner.IsRunning(projectID) {
		return utils.Errorf(utils.KindConflict, "queue.Dispatch", "a generation is already running for project %s", projectID)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.runner.RunPipeline(d.base, projectID); err != nil {
			d.logger.Warn("Background pipeline run failed",
				zap.String("project_id", projectID),
				zap.String("kind", string(utils.KindOf(err))),
				zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every dispatched run has returned
func (d *InProcessDispatcher) Wait() {
	d.wg.Wait()
}

// Handler consumes pipeline tasks in worker processes
type Handler struct {
	runner Runner
	logger *zap.Logger
}

// NewHandler creates a task handler
func NewHandler(runner Runner, logger *zap.Logger) *Handler {
	return &Handler{runner: runner, logger: logger.With(zap.String("component", "queue_handler"))}
}

// Register adds the handler to mux
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypePipelineRun, h.ProcessTask)
}

// ProcessTask runs one pipeline. Failures are recorded on the project, so
// the task is never retried.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload PipelinePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid pipeline payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ProjectID == "" {
		return fmt.Errorf("pipeline payload has no project id: %w", asynq.SkipRetry)
	}

	h.logger.Info("Processing pipeline run", zap.String("project_id", payload.ProjectID))
	result, err := h.runner.RunPipeline(ctx, payload.ProjectID)
	if err != nil {
		return fmt.Errorf("pipeline run %s failed: %v: %w", payload.ProjectID, err, asynq.SkipRetry)
	}

	h.logger.Info("Pipeline run finished",
		zap.String("project_id", payload.ProjectID),
		zap.String("final_video", result.FinalVideoRef),
		zap.Duration("duration", result.Duration))
	return nil
}

// NewServer creates the asynq worker server for the configured queue
func NewServer(redisCfg config.RedisConfig, queueCfg config.QueueConfig, logger *zap.Logger) *asynq.Server {
	return asynq.NewServer(RedisOpt(redisCfg), asynq.Config{
		Concurrency: queueCfg.Concurrency,
		Queues:      map[string]int{queueCfg.Name: 1},
		Logger:      logger.Sugar(),
	})
}
