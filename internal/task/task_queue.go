package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/store"
)

// Common errors returned by the TaskQueue
var (
	ErrQueueClosed  = errors.New("task queue is closed")
	ErrTaskNotFound = store.ErrTaskNotFound
)

// QueueConfig tunes how waiters are woken.
type QueueConfig struct {
	// RecheckInterval bounds how long Get sleeps without a wakeup, so rows
	// inserted by other processes are noticed.
	RecheckInterval time.Duration

	// TimerSlack is added to each delay timer.
	TimerSlack time.Duration
}

// DefaultQueueConfig returns the queue defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		RecheckInterval: 5 * time.Second,
		TimerSlack:      100 * time.Millisecond,
	}
}

// TaskQueue is a blocking priority queue over a TaskStore. Rows are ordered
// by priority then insertion, hidden until their start time, and handed to
// one caller at a time.
type TaskQueue struct {
	store  TaskStore
	config QueueConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	wake     chan struct{}
	timers   map[string]*time.Timer
	inFlight int
	closed   bool
}

// NewTaskQueue creates a queue. Call Open before Get.
func NewTaskQueue(s TaskStore, config QueueConfig, logger *slog.Logger) *TaskQueue {
	defaults := DefaultQueueConfig()
	if config.RecheckInterval <= 0 {
		config.RecheckInterval = defaults.RecheckInterval
	}
	if config.TimerSlack < 0 {
		config.TimerSlack = 0
	}

	return &TaskQueue{
		store:  s,
		config: config,
		logger: logger.With("component", "task_queue"),
		now:    time.Now,
		wake:   make(chan struct{}),
		timers: make(map[string]*time.Timer),
	}
}

// Open recovers from a previous run: rows left executing are made ready
// again and timers are armed for every delayed row.
func (q *TaskQueue) Open(ctx context.Context) error {
	reset, err := q.store.ResetExecuting(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset executing tasks: %w", err)
	}

	delayed, err := q.store.Delayed(ctx, q.now())
	if err != nil {
		return fmt.Errorf("failed to load delayed tasks: %w", err)
	}

	for _, t := range delayed {
		q.arm(t)
	}

	q.logger.Info("task queue opened",
		"reset_count", reset,
		"delayed_count", len(delayed))

	q.broadcast()
	return nil
}

// Put adds tasks in one transaction.
func (q *TaskQueue) Put(ctx context.Context, tasks ...domain.Task) error {
	if q.isClosed() {
		return ErrQueueClosed
	}

	if err := q.store.Insert(ctx, tasks...); err != nil {
		return fmt.Errorf("failed to enqueue tasks: %w", err)
	}

	q.scheduled(tasks)
	return nil
}

// Get blocks until a task is ready, marks it executing and returns it.
func (q *TaskQueue) Get(ctx context.Context) (domain.Task, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return domain.Task{}, ErrQueueClosed
		}
		wake := q.wake
		q.mu.Unlock()

		t, ok, err := q.store.Claim(ctx, q.now())
		if err != nil {
			return domain.Task{}, fmt.Errorf("failed to claim task: %w", err)
		}

		if ok {
			q.mu.Lock()
			q.inFlight++
			q.mu.Unlock()

			q.logger.Debug("task claimed",
				"task_id", t.ID,
				"kind", t.Kind,
				"priority", t.Priority)
			return t, nil
		}

		timer := time.NewTimer(q.config.RecheckInterval)
		select {
		case <-wake:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return domain.Task{}, ctx.Err()
		}
		timer.Stop()
	}
}

// TaskDone removes the row of a finished task. It fails with
// ErrTaskNotFound unless exactly one row was removed.
func (q *TaskQueue) TaskDone(ctx context.Context, id string) error {
	if err := q.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("failed to finish task %s: %w", id, err)
	}

	q.release()
	return nil
}

// Replace finishes id and queues its successors in one transaction.
func (q *TaskQueue) Replace(ctx context.Context, id string, successors []domain.Task) error {
	if err := q.store.Replace(ctx, id, successors); err != nil {
		return fmt.Errorf("failed to continue task %s: %w", id, err)
	}

	q.release()
	q.scheduled(successors)
	return nil
}

// AllowNextTask releases the in-flight slot of a task whose row stays in
// the queue.
func (q *TaskQueue) AllowNextTask() {
	q.release()
}

// Find returns queued rows matching filter.
func (q *TaskQueue) Find(ctx context.Context, filter domain.TaskFilter) ([]domain.QueuedTask, error) {
	return q.store.Find(ctx, filter)
}

// Delete removes rows regardless of state and returns how many were removed.
func (q *TaskQueue) Delete(ctx context.Context, ids []string) (int64, error) {
	n, err := q.store.Delete(ctx, ids)
	if err != nil {
		return 0, err
	}

	q.mu.Lock()
	for _, id := range ids {
		if timer, ok := q.timers[id]; ok {
			timer.Stop()
			delete(q.timers, id)
		}
	}
	q.mu.Unlock()

	q.logger.Info("tasks deleted", "requested", len(ids), "deleted", n)
	return n, nil
}

// Ready returns the number of rows that could be claimed now.
func (q *TaskQueue) Ready(ctx context.Context) (int, error) {
	executing, delayed := false, false
	rows, err := q.store.Find(ctx, domain.TaskFilter{
		Executing: &executing,
		Delayed:   &delayed,
		Now:       q.now(),
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// InFlight returns the number of claimed tasks not yet released.
func (q *TaskQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Stop cancels all timers and wakes every Get caller with ErrQueueClosed.
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()

	q.broadcast()
	q.logger.Info("task queue stopped")
}

func (q *TaskQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *TaskQueue) release() {
	q.mu.Lock()
	if q.inFlight > 0 {
		q.inFlight--
	}
	q.mu.Unlock()
}

// scheduled wakes waiters for ready tasks and arms timers for the rest.
func (q *TaskQueue) scheduled(tasks []domain.Task) {
	now := q.now()
	ready := false
	for _, t := range tasks {
		if t.Delayed(now) {
			q.arm(t)
		} else {
			ready = true
		}
	}
	if ready {
		q.broadcast()
	}
}

func (q *TaskQueue) arm(t domain.Task) {
	wait := t.StartAfter.Sub(q.now()) + q.config.TimerSlack
	id := t.ID

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if old, ok := q.timers[id]; ok {
		old.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(wait, func() {
		q.mu.Lock()
		if q.timers[id] == timer {
			delete(q.timers, id)
		}
		q.mu.Unlock()

		q.logger.Debug("delayed task became ready", "task_id", id)
		q.broadcast()
	})
	q.timers[id] = timer
}

// broadcast wakes every goroutine blocked in Get.
func (q *TaskQueue) broadcast() {
	q.mu.Lock()
	close(q.wake)
	q.wake = make(chan struct{})
	q.mu.Unlock()
}
