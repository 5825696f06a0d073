package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/events"
)

const settleTimeout = 30 * time.Second

// WorkerPool runs a fixed number of slots. Each slot takes a task from the
// queue, launches it as a separate unit and supervises it until it exits or
// is cancelled.
type WorkerPool struct {
	// queue provides the tasks and receives their completion
	queue *TaskQueue

	// launcher starts one unit per task
	launcher Launcher

	// cancels lists tasks whose cancellation was requested
	cancels *CancelSet

	// emitter receives CANCELLED and CREATED events produced by the pool
	emitter events.Emitter

	workerCount  int
	pollInterval time.Duration

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu           sync.Mutex
	err          error
	fatalHandler func(err error)
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many tasks run at once.
	// If zero or negative, defaults to 1
	WorkerCount int

	// PollInterval is how often a running task is checked for cancellation.
	PollInterval time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:  2,
		PollInterval: 500 * time.Millisecond,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(
	queue *TaskQueue,
	launcher Launcher,
	cancels *CancelSet,
	emitter events.Emitter,
	config WorkerPoolConfig,
	logger *slog.Logger,
) *WorkerPool {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	poll := config.PollInterval
	if poll <= 0 {
		poll = DefaultWorkerPoolConfig().PollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:        queue,
		launcher:     launcher,
		cancels:      cancels,
		emitter:      emitter,
		workerCount:  workerCount,
		pollInterval: poll,
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With("component", "worker_pool"),
	}
}

// SetFatalHandler sets a function called once when the pool stops because a
// unit ended in a way the pool cannot account for.
func (p *WorkerPool) SetFatalHandler(handler func(err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fatalHandler = handler
}

// Start launches the worker goroutines.
func (p *WorkerPool) Start() {
	p.logger.Info("starting worker pool", "worker_count", p.workerCount)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop kills running units and waits for every worker to return. Killed
// tasks stay executing in the store and are recovered on the next Open.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Err returns the failure that stopped the pool, if any.
func (p *WorkerPool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("starting worker")

	for {
		t, err := p.queue.Get(p.ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || p.ctx.Err() != nil {
				logger.Debug("stopping worker")
				return
			}
			p.fail(fmt.Errorf("worker %d: %w", id, err))
			return
		}

		if err := p.run(t, logger); err != nil {
			p.fail(err)
			return
		}
	}
}

// run executes one task and settles its queue row. A non-nil error is fatal
// for the pool.
func (p *WorkerPool) run(t domain.Task, logger *slog.Logger) error {
	logger = logger.With("task_id", t.ID, "kind", t.Kind)
	logger.Info("processing task", "name", t.Name)

	unit, err := p.launcher.Launch(p.ctx, t)
	if err != nil {
		logger.Error("failed to launch task", "error", err)
		p.emit(domain.NewOutputEvent(t, domain.StatusError, 0, err.Error()))
		p.queue.AllowNextTask()
		return nil
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-unit.Done():
			return p.settle(t, unit.Outcome(), logger)

		case <-ticker.C:
			if !p.cancels.Has(t.ID) {
				continue
			}
			select {
			case <-unit.Done():
				// Finished before the request was seen.
				return p.settle(t, unit.Outcome(), logger)
			default:
			}
			logger.Info("cancelling task")
			if err := unit.Kill(); err != nil {
				logger.Warn("failed to kill task", "error", err)
			}
			<-unit.Done()
			return p.settle(t, unit.Outcome(), logger)

		case <-p.ctx.Done():
			if err := unit.Kill(); err != nil {
				logger.Warn("failed to kill task on shutdown", "error", err)
			}
			<-unit.Done()
			if out := unit.Outcome(); !out.Killed && out.Err == nil && out.ExitCode == ExitSuccess {
				return p.settle(t, out, logger)
			}
			p.queue.AllowNextTask()
			return nil
		}
	}
}

func (p *WorkerPool) settle(t domain.Task, out Outcome, logger *slog.Logger) error {
	// The unit has finished; its row must be settled even during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	switch {
	case out.Killed:
		p.cancelled(t, logger)
		return nil

	case out.ExitCode == ExitSuccess && out.Err == nil:
		p.cancels.Remove(t.ID)
		if len(out.Successors) > 0 {
			if err := p.queue.Replace(ctx, t.ID, out.Successors); err != nil {
				logger.Error("failed to queue successors", "error", err)
				p.queue.AllowNextTask()
				return nil
			}
			for _, s := range out.Successors {
				p.emit(domain.NewOutputEvent(s, domain.StatusCreated, 0, ""))
			}
			logger.Info("task continued", "successor_count", len(out.Successors))
			return nil
		}

		if err := p.queue.TaskDone(ctx, t.ID); err != nil {
			logger.Error("failed to mark task done", "error", err)
			p.queue.AllowNextTask()
			return nil
		}
		logger.Info("task completed successfully")
		return nil

	case out.ExitCode == ExitFailure && out.Err == nil:
		p.cancels.Remove(t.ID)
		if !out.Reported {
			p.emit(domain.NewOutputEvent(t, domain.StatusError, 0, "Task process failed without reporting a result"))
		}
		logger.Info("task failed, left in queue for inspection")
		p.queue.AllowNextTask()
		return nil

	default:
		p.queue.AllowNextTask()
		if out.Err != nil {
			return fmt.Errorf("task %s: %w", t.ID, out.Err)
		}
		return fmt.Errorf("task %s returned unknown exit code %d", t.ID, out.ExitCode)
	}
}

func (p *WorkerPool) cancelled(t domain.Task, logger *slog.Logger) {
	p.cancels.Remove(t.ID)
	p.emit(domain.NewOutputEvent(t, domain.StatusCancelled, 0, "Cancelled"))
	p.queue.AllowNextTask()
	logger.Info("task cancelled")
}

func (p *WorkerPool) fail(err error) {
	p.mu.Lock()
	first := p.err == nil
	if first {
		p.err = err
	}
	handler := p.fatalHandler
	p.mu.Unlock()

	if !first {
		return
	}

	p.logger.Error("worker pool failed", "error", err)
	p.cancel()
	if handler != nil {
		handler(err)
	}
}

func (p *WorkerPool) emit(ev domain.OutputEvent) {
	if err := p.emitter.Emit(context.Background(), ev); err != nil {
		p.logger.Warn("failed to emit event", "error", err, "task_id", ev.Task.ID)
	}
}
