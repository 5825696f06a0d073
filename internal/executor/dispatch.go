package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/task"
)

// Sink receives what a task process reports back to the pool.
type Sink interface {
	WriteEvent(ev domain.OutputEvent) error
	WriteSuccessors(tasks []domain.Task) error
}

// Dispatch runs t with the executor registered for its kind and reports
// the outcome to sink. It returns the exit code of the task process:
// task.ExitSuccess when the task finished or continued, task.ExitFailure
// otherwise. Panics in the executor are reported as failures.
func Dispatch(ctx context.Context, reg *Registry, t domain.Task, env *Env, sink Sink) (code int) {
	log := env.logger().With("task_id", t.ID, "kind", string(t.Kind))

	if env.Emit == nil {
		env.Emit = func(ev domain.OutputEvent) {
			if err := sink.WriteEvent(ev); err != nil {
				log.Warn("failed to report event", "error", err)
			}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("executor panicked", "panic", r, "stack", string(debug.Stack()))
			code = fail(log, t, sink, fmt.Errorf("internal error: %v", r))
		}
	}()

	ex, err := reg.For(t.Kind)
	if err != nil {
		return fail(log, t, sink, err)
	}

	res, err := ex.Execute(ctx, t, env)
	if err != nil {
		return fail(log, t, sink, err)
	}

	if res.Continues() {
		if err := sink.WriteSuccessors(res.Successors); err != nil {
			log.Error("failed to report successors", "error", err)
			return task.ExitFailure
		}
		report(log, sink, domain.NewOutputEvent(t, domain.StatusRemovedSilently, 0, ""))
		log.Debug("task continued", "successors", len(res.Successors))
		return task.ExitSuccess
	}

	report(log, sink, domain.NewOutputEvent(t, domain.StatusSuccess, 100, res.Message))
	log.Info("task finished", "message", res.Message)
	return task.ExitSuccess
}

func fail(log *slog.Logger, t domain.Task, sink Sink, err error) int {
	if IsAcceptable(err) {
		log.Info("task refused", "reason", err.Error())
	} else {
		log.Error("task failed", "error", err)
	}
	report(log, sink, domain.NewOutputEvent(t, domain.StatusError, 0, err.Error()))
	return task.ExitFailure
}

func report(log *slog.Logger, sink Sink, ev domain.OutputEvent) {
	if err := sink.WriteEvent(ev); err != nil {
		log.Warn("failed to report event", "status", string(ev.Status), "error", err)
	}
}
