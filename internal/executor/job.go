package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
)

// checkJob polls a remote job. A job still in progress continues t as a
// copy that runs again after retry; a finished one is handed to process.
func checkJob(
	ctx context.Context,
	t domain.Task,
	env *Env,
	vaultName, jobID string,
	retry time.Duration,
	process func(domain.JobDescription) (Result, error),
) (Result, error) {
	env.progress(t, 0, "Checking…")

	job, err := env.Vault.DescribeJob(ctx, vaultName, jobID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to describe job %s: %w", jobID, err)
	}

	switch job.Status {
	case domain.JobInProgress:
		next := t.Retry(env.now().Add(retry))
		env.progress(t, 0, "Not ready yet")
		env.logger().Info("job not ready, checking again later",
			"job_id", jobID,
			"retry_at", next.StartAfter)
		return Continue(next), nil
	case domain.JobSucceeded:
		return process(job)
	default:
		return Result{}, fmt.Errorf("%w: job %s is %s: %s", ErrJobFailed, jobID, job.Status, job.StatusMessage)
	}
}
