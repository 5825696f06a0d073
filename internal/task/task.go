package task

import (
	"context"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
)

// TaskStore persists queue rows. Implementations must make each method
// atomic with respect to other processes using the same database.
type TaskStore interface {
	// Insert stores all tasks or none.
	Insert(ctx context.Context, tasks ...domain.Task) error

	// Claim marks the best ready row as executing and returns it.
	Claim(ctx context.Context, now time.Time) (domain.Task, bool, error)

	// Remove deletes exactly one row.
	Remove(ctx context.Context, id string) error

	// Replace deletes one row and inserts successors atomically.
	Replace(ctx context.Context, id string, successors []domain.Task) error

	// ResetExecuting clears the executing flag of every row.
	ResetExecuting(ctx context.Context) (int64, error)

	// Delayed returns rows that become ready after now.
	Delayed(ctx context.Context, now time.Time) ([]domain.Task, error)

	Find(ctx context.Context, filter domain.TaskFilter) ([]domain.QueuedTask, error)
	Delete(ctx context.Context, ids []string) (int64, error)
}

// Launcher starts the execution of a task in its own unit of isolation.
type Launcher interface {
	Launch(ctx context.Context, t domain.Task) (Unit, error)
}

// Unit is one running task.
type Unit interface {
	// Done is closed once the unit has exited and its output is consumed.
	Done() <-chan struct{}

	// Outcome describes how the unit ended. It is valid after Done.
	Outcome() Outcome

	// Kill stops the unit. Done is closed afterwards. Killing a unit that
	// already exited leaves its outcome unchanged.
	Kill() error
}

// Outcome is the result of a finished unit.
type Outcome struct {
	// ExitCode is the process exit status, -1 when it was killed.
	ExitCode int

	// Killed reports termination by a signal.
	Killed bool

	// Reported is set when the unit forwarded a terminal event itself.
	Reported bool

	// Successors reported by the unit before a clean exit.
	Successors []domain.Task

	// Err holds a failure to run or observe the unit.
	Err error
}

// Exit codes of a task process.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// EventBus publishes output events and lets callers follow them.
type EventBus interface {
	Emit(ctx context.Context, event domain.OutputEvent) error
	Subscribe(buffer int) (<-chan domain.OutputEvent, func())
}
