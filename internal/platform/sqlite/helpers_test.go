package sqlite_test

import (
	"testing"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/stretchr/testify/require"
)

func newDummy(t *testing.T, name string, priority int) domain.Task {
	t.Helper()

	task, err := domain.NewTask(name, domain.KindDummy, domain.CategoryMeta, priority, domain.DummyPayload{Steps: 1})
	require.NoError(t, err)
	return task
}

func delayed(task domain.Task, d time.Duration) domain.Task {
	task.StartAfter = time.Now().Add(d).UTC()
	return task
}
