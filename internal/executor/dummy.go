package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
)

// DummyExecutor pretends to work: it reports Steps progress events spaced
// by StepDelayMS and fails at FailAtStep when that is set.
type DummyExecutor struct{}

// Execute implements Executor.
func (DummyExecutor) Execute(ctx context.Context, t domain.Task, env *Env) (Result, error) {
	var p domain.DummyPayload
	if err := t.DecodePayload(&p); err != nil {
		return Result{}, err
	}

	delay := time.Duration(p.StepDelayMS) * time.Millisecond
	for i := 0; i < p.Steps; i++ {
		percent := float64(100*i) / float64(p.Steps)
		env.progress(t, percent, fmt.Sprintf("Fooling %.1f%%…", percent))

		if err := sleep(ctx, delay); err != nil {
			return Result{}, err
		}

		if p.FailAtStep > 0 && i+1 == p.FailAtStep {
			return Result{}, fmt.Errorf("dummy task failed at step %d", p.FailAtStep)
		}
	}

	env.progress(t, 99, "Almost ready…")
	return Done("Done"), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
