package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PoolConfig configures worker pool behavior
type PoolConfig struct {
	Name            string
	Workers         int           // concurrent tasks
	QueueSize       int           // pending task capacity
	TaskTimeout     time.Duration // per-task deadline; zero means none
	ShutdownTimeout time.Duration // graceful shutdown wait
}

// Task represents a unit of work to be processed
type Task struct {
	ID          string
	Payload     interface{}
	ProcessFunc func(ctx context.Context, payload interface{}) (interface{}, error)
	// ResultChan receives the result; it must be buffered or drained
	ResultChan chan<- TaskResult
}

// TaskResult represents the result of task execution
type TaskResult struct {
	TaskID    string
	Payload   interface{}
	Value     interface{}
	Error     error
	Duration  time.Duration
	StartTime time.Time
	EndTime   time.Time
}

// Success reports whether the task returned without error
func (r TaskResult) Success() bool {
	return r.Error == nil
}

// Pool runs tasks on a fixed number of goroutines. Its context is
// independent of any caller so in-flight tasks are not cancelled when the
// submitter gives up; they end on their own deadline or on Shutdown.
type Pool struct {
	config PoolConfig
	logger *zap.Logger

	queue  chan *Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tasksSubmitted int64
	tasksCompleted int64
	tasksFailed    int64
	activeWorkers  int64
	queued         int64

	shutdown      int32
	shutdownMutex sync.RWMutex
	startOnce     sync.Once
}

// NewPool creates a new worker pool with the given configuration
func NewPool(config PoolConfig, logger *zap.Logger) *Pool {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Workers
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config: config,
		logger: logger.With(zap.String("pool", config.Name)),
		queue:  make(chan *Task, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the workers
func (p *Pool) Start() error {
	p.shutdownMutex.Lock()
	defer p.shutdownMutex.Unlock()

	if atomic.LoadInt32(&p.shutdown) == 1 {
		return fmt.Errorf("worker pool is shutting down")
	}

	p.startOnce.Do(func() {
		p.logger.Debug("Starting worker pool", zap.Int("workers", p.config.Workers))
		for i := 0; i < p.config.Workers; i++ {
			p.wg.Add(1)
			go p.runWorker(p.logger.With(zap.Int("worker", i)))
		}
	})
	return nil
}

func (p *Pool) runWorker(logger *zap.Logger) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return

		case task, ok := <-p.queue:
			if !ok {
				return
			}
			atomic.AddInt64(&p.queued, -1)
			atomic.AddInt64(&p.activeWorkers, 1)

			result := p.processTask(logger, task)

			atomic.AddInt64(&p.tasksCompleted, 1)
			if !result.Success() {
				atomic.AddInt64(&p.tasksFailed, 1)
			}
			atomic.AddInt64(&p.activeWorkers, -1)

			if task.ResultChan != nil {
				select {
				case task.ResultChan <- result:
				case <-p.ctx.Done():
					return
				}
			}
		}
	}
}

// processTask executes a single task with timeout and panic handling
func (p *Pool) processTask(logger *zap.Logger, task *Task) TaskResult {
	startTime := time.Now()

	taskCtx, taskCancel := p.ctx, context.CancelFunc(func() {})
	if p.config.TaskTimeout > 0 {
		taskCtx, taskCancel = context.WithTimeout(p.ctx, p.config.TaskTimeout)
	}
	defer taskCancel()

	logger.Debug("Processing task", zap.String("task_id", task.ID))

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("task panicked: %v", r)}
			}
		}()
		v, err := task.ProcessFunc(taskCtx, task.Payload)
		done <- outcome{value: v, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-taskCtx.Done():
		out.err = fmt.Errorf("task %s stopped after %v: %w", task.ID, time.Since(startTime).Round(time.Millisecond), taskCtx.Err())
	}

	endTime := time.Now()
	result := TaskResult{
		TaskID:    task.ID,
		Payload:   task.Payload,
		Value:     out.value,
		Error:     out.err,
		Duration:  endTime.Sub(startTime),
		StartTime: startTime,
		EndTime:   endTime,
	}

	if out.err != nil {
		logger.Debug("Task failed",
			zap.String("task_id", task.ID),
			zap.Error(out.err),
			zap.Duration("duration", result.Duration))
	} else {
		logger.Debug("Task completed",
			zap.String("task_id", task.ID),
			zap.Duration("duration", result.Duration))
	}

	return result
}

// Submit queues a task, waiting for space until ctx is done
func (p *Pool) Submit(ctx context.Context, task *Task) error {
	p.shutdownMutex.RLock()
	defer p.shutdownMutex.RUnlock()

	if atomic.LoadInt32(&p.shutdown) == 1 {
		return fmt.Errorf("worker pool is shutting down")
	}

	select {
	case p.queue <- task:
		atomic.AddInt64(&p.tasksSubmitted, 1)
		atomic.AddInt64(&p.queued, 1)
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks, lets queued and running tasks finish and
// cancels whatever is left after the shutdown timeout
func (p *Pool) Shutdown() error {
	p.shutdownMutex.Lock()
	if atomic.SwapInt32(&p.shutdown, 1) == 1 {
		p.shutdownMutex.Unlock()
		return nil
	}
	close(p.queue)
	p.shutdownMutex.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Debug("All workers stopped gracefully")
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.cancel()
		p.logger.Warn("Shutdown timeout reached, cancelling remaining tasks")
		return fmt.Errorf("worker pool %s did not drain within %v", p.config.Name, p.config.ShutdownTimeout)
	}
}

// Statistics returns current worker pool statistics
func (p *Pool) Statistics() PoolStats {
	return PoolStats{
		Name:           p.config.Name,
		Workers:        p.config.Workers,
		TasksSubmitted: atomic.LoadInt64(&p.tasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.tasksFailed),
		ActiveWorkers:  atomic.LoadInt64(&p.activeWorkers),
		QueueSize:      atomic.LoadInt64(&p.queued),
	}
}

// PoolStats contains worker pool statistics
type PoolStats struct {
	Name           string `json:"name"`
	Workers        int    `json:"workers"`
	TasksSubmitted int64  `json:"tasks_submitted"`
	TasksCompleted int64  `json:"tasks_completed"`
	TasksFailed    int64  `json:"tasks_failed"`
	ActiveWorkers  int64  `json:"active_workers"`
	QueueSize      int64  `json:"queue_size"`
}
