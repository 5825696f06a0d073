package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
)

// TaskRunnerConfig holds configuration for the task runner
type TaskRunnerConfig struct {
	// WorkerCount determines how many tasks run concurrently
	WorkerCount int

	// PollInterval is how often running tasks are checked for cancellation
	PollInterval time.Duration

	// CancelRetention is how long an unanswered cancel request is kept
	CancelRetention time.Duration

	// RecheckInterval bounds how long idle workers wait before looking at
	// the store again
	RecheckInterval time.Duration

	// TimerSlack is added to delay timers
	TimerSlack time.Duration

	// IntakeBuffer is the number of submitted tasks buffered before Add blocks
	IntakeBuffer int
}

// DefaultTaskRunnerConfig returns a TaskRunnerConfig with reasonable defaults
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount:     2,
		PollInterval:    500 * time.Millisecond,
		CancelRetention: 10 * time.Minute,
		RecheckInterval: 5 * time.Second,
		TimerSlack:      100 * time.Millisecond,
		IntakeBuffer:    64,
	}
}

// TaskRunner is the entry point for submitting, inspecting and cancelling
// tasks. It owns the queue, the intake, the worker pool and the cancel set.
type TaskRunner struct {
	queue   *TaskQueue
	intake  *Intake
	pool    *WorkerPool
	cancels *CancelSet
	bus     EventBus
	config  TaskRunnerConfig
	logger  *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewTaskRunner creates a new TaskRunner
func NewTaskRunner(
	store TaskStore,
	launcher Launcher,
	bus EventBus,
	config TaskRunnerConfig,
	logger *slog.Logger,
) *TaskRunner {
	queue := NewTaskQueue(store, QueueConfig{
		RecheckInterval: config.RecheckInterval,
		TimerSlack:      config.TimerSlack,
	}, logger)
	cancels := NewCancelSet(config.CancelRetention, logger)

	pool := NewWorkerPool(queue, launcher, cancels, bus, WorkerPoolConfig{
		WorkerCount:  config.WorkerCount,
		PollInterval: config.PollInterval,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &TaskRunner{
		queue:      queue,
		intake:     NewIntake(queue, bus, config.IntakeBuffer, logger),
		pool:       pool,
		cancels:    cancels,
		bus:        bus,
		config:     config,
		logger:     logger.With("component", "task_runner"),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// SetFatalHandler sets the function called when the worker pool fails.
func (r *TaskRunner) SetFatalHandler(handler func(err error)) {
	r.pool.SetFatalHandler(handler)
}

// Start recovers the queue and starts processing.
func (r *TaskRunner) Start(ctx context.Context) error {
	if err := r.queue.Open(ctx); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.intake.Run(r.ctx)
	}()

	r.pool.Start()
	r.logger.Info("task runner started", "worker_count", r.config.WorkerCount)
	return nil
}

// Stop shuts processing down. Running tasks are killed and resume after the
// next Start.
func (r *TaskRunner) Stop() {
	r.stopOnce.Do(func() {
		r.intake.Stop()
		r.queue.Stop()
		r.pool.Stop()
		r.cancelFunc()
		r.wg.Wait()
		r.logger.Info("task runner stopped")
	})
}

// Err returns the failure that stopped the worker pool, if any.
func (r *TaskRunner) Err() error {
	return r.pool.Err()
}

// Add submits tasks. They are queued asynchronously; a CREATED event
// confirms each one.
func (r *TaskRunner) Add(ctx context.Context, tasks ...domain.Task) error {
	if err := r.intake.Submit(ctx, tasks...); err != nil {
		return fmt.Errorf("failed to submit tasks: %w", err)
	}
	return nil
}

// Find returns queued tasks matching filter.
func (r *TaskRunner) Find(ctx context.Context, filter domain.TaskFilter) ([]domain.QueuedTask, error) {
	return r.queue.Find(ctx, filter)
}

// Delete removes tasks from the queue without running them. Running tasks
// are not stopped; use Cancel for that.
func (r *TaskRunner) Delete(ctx context.Context, ids []string) (int64, error) {
	return r.queue.Delete(ctx, ids)
}

// Cancel requests cancellation of running tasks. Workers notice within one
// poll interval.
func (r *TaskRunner) Cancel(ids ...string) {
	r.logger.Info("cancelling tasks", "task_ids", ids)
	r.cancels.Add(ids...)
}

// CancelGroup deletes the waiting members of a group and cancels the
// running ones. It returns the number of tasks affected.
func (r *TaskRunner) CancelGroup(ctx context.Context, groupID string) (int, error) {
	members, err := r.queue.Find(ctx, domain.TaskFilter{GroupID: groupID})
	if err != nil {
		return 0, fmt.Errorf("failed to find group %s: %w", groupID, err)
	}

	var waiting, running []string
	for _, m := range members {
		if m.Executing {
			running = append(running, m.ID)
		} else {
			waiting = append(waiting, m.ID)
		}
	}

	if len(waiting) > 0 {
		if _, err := r.queue.Delete(ctx, waiting); err != nil {
			return 0, fmt.Errorf("failed to delete waiting members of %s: %w", groupID, err)
		}
		for _, m := range members {
			if !m.Executing {
				r.emit(ctx, domain.NewOutputEvent(m.Task, domain.StatusCancelled, 0, "Cancelled"))
			}
		}
	}

	if len(running) > 0 {
		r.Cancel(running...)
	}

	return len(members), nil
}

// Subscribe follows output events. Call the returned function to stop.
func (r *TaskRunner) Subscribe(buffer int) (<-chan domain.OutputEvent, func()) {
	return r.bus.Subscribe(buffer)
}

// InFlight returns the number of tasks currently held by workers.
func (r *TaskRunner) InFlight() int {
	return r.queue.InFlight()
}

// Ready returns the number of tasks waiting for a worker.
func (r *TaskRunner) Ready(ctx context.Context) (int, error) {
	return r.queue.Ready(ctx)
}

func (r *TaskRunner) emit(ctx context.Context, ev domain.OutputEvent) {
	if err := r.bus.Emit(ctx, ev); err != nil {
		r.logger.Warn("failed to emit event", "error", err, "task_id", ev.Task.ID)
	}
}
