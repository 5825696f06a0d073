package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/events"
)

// ErrIntakeClosed is returned by Submit after the intake stopped.
var ErrIntakeClosed = errors.New("task intake is closed")

// Intake collects externally submitted tasks and writes whatever has
// accumulated to the queue as one batch, announcing each with a CREATED
// event.
type Intake struct {
	queue   *TaskQueue
	emitter events.Emitter
	logger  *slog.Logger

	in       chan domain.Task
	done     chan struct{}
	stopOnce sync.Once
}

// NewIntake creates an intake that buffers up to buffer pending tasks.
func NewIntake(queue *TaskQueue, emitter events.Emitter, buffer int, logger *slog.Logger) *Intake {
	if buffer <= 0 {
		buffer = 64
	}
	return &Intake{
		queue:   queue,
		emitter: emitter,
		logger:  logger.With("component", "task_intake"),
		in:      make(chan domain.Task, buffer),
		done:    make(chan struct{}),
	}
}

// Submit hands tasks to the intake. Tasks are validated here so that a
// bad submission fails for its caller instead of spoiling a batch.
func (i *Intake) Submit(ctx context.Context, tasks ...domain.Task) error {
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return err
		}
	}

	select {
	case <-i.done:
		return ErrIntakeClosed
	default:
	}

	for _, t := range tasks {
		select {
		case i.in <- t:
		case <-i.done:
			return ErrIntakeClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Run moves submitted tasks into the queue until Stop is called.
func (i *Intake) Run(ctx context.Context) {
	for {
		select {
		case <-i.done:
			return
		case <-ctx.Done():
			return
		case first := <-i.in:
			i.flush(ctx, i.collect(first))
		}
	}
}

// Stop ends Run. Tasks still buffered are dropped; they were never queued.
func (i *Intake) Stop() {
	i.stopOnce.Do(func() { close(i.done) })
}

func (i *Intake) collect(first domain.Task) []domain.Task {
	batch := []domain.Task{first}
	for {
		select {
		case t := <-i.in:
			batch = append(batch, t)
		default:
			return batch
		}
	}
}

func (i *Intake) flush(ctx context.Context, batch []domain.Task) {
	if err := i.queue.Put(ctx, batch...); err != nil {
		i.logger.Error("failed to queue submitted tasks", "error", err, "count", len(batch))
		for _, t := range batch {
			i.emit(ctx, domain.NewOutputEvent(t, domain.StatusError, 0, err.Error()))
		}
		return
	}

	for _, t := range batch {
		i.logger.Debug("task added", "task_id", t.ID, "name", t.Name)
		i.emit(ctx, domain.NewOutputEvent(t, domain.StatusCreated, 0, ""))
	}
}

func (i *Intake) emit(ctx context.Context, ev domain.OutputEvent) {
	if err := i.emitter.Emit(ctx, ev); err != nil {
		i.logger.Warn("failed to emit event", "error", err, "task_id", ev.Task.ID)
	}
}
