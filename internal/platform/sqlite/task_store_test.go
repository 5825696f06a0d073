package sqlite_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/platform/sqlite"
	"github.com/phrazzld/coldstore/internal/store"
	"github.com/phrazzld/coldstore/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStoreClaimOrder(t *testing.T) {
	db, _ := testdb.Open(t)
	s := sqlite.NewTaskStore(db)
	ctx := context.Background()

	low := newDummy(t, "low", 20)
	first := newDummy(t, "first", 10)
	second := newDummy(t, "second", 10)
	require.NoError(t, s.Insert(ctx, low, first, second))

	var got []string
	for i := 0; i < 3; i++ {
		task, ok, err := s.Claim(ctx, time.Now())
		require.NoError(t, err)
		require.True(t, ok)
		got = append(got, task.Name)
	}
	assert.Equal(t, []string{"first", "second", "low"}, got)

	_, ok, err := s.Claim(ctx, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "executing rows must not be claimed twice")
}

func TestTaskStoreClaimSkipsDelayed(t *testing.T) {
	db, _ := testdb.Open(t)
	s := sqlite.NewTaskStore(db)
	ctx := context.Background()

	later := delayed(newDummy(t, "later", 0), time.Hour)
	now := newDummy(t, "now", 50)
	require.NoError(t, s.Insert(ctx, later, now))

	task, ok, err := s.Claim(ctx, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "now", task.Name)

	_, ok, err = s.Claim(ctx, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	task, ok, err = s.Claim(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, later.ID, task.ID)
}

func TestTaskStoreRoundTripsFields(t *testing.T) {
	db, _ := testdb.Open(t)
	s := sqlite.NewTaskStore(db)
	ctx := context.Background()

	task := delayed(newDummy(t, "fields", 7), -time.Minute)
	require.NoError(t, s.Insert(ctx, task))

	found, err := s.Find(ctx, domain.TaskFilter{ID: task.ID})
	require.NoError(t, err)
	require.Len(t, found, 1)

	got := found[0]
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, task.GroupID, got.GroupID)
	assert.Equal(t, task.Kind, got.Kind)
	assert.Equal(t, task.Category, got.Category)
	assert.Equal(t, task.Priority, got.Priority)
	assert.JSONEq(t, string(task.Payload), string(got.Payload))
	assert.WithinDuration(t, task.StartAfter, got.StartAfter, time.Millisecond)
	assert.False(t, got.StartAfter.Before(task.StartAfter))
	assert.False(t, got.Executing)
}

func TestTaskStoreClaimNeverRunsEarly(t *testing.T) {
	db, _ := testdb.Open(t)
	s := sqlite.NewTaskStore(db)
	ctx := context.Background()

	// Half a millisecond into a millisecond.
	startAfter := time.UnixMilli(1_700_000_000_000).Add(500 * time.Microsecond)
	task := newDummy(t, "sub-ms", 0)
	task.StartAfter = startAfter
	require.NoError(t, s.Insert(ctx, task))

	_, ok, err := s.Claim(ctx, startAfter.Add(-100*time.Microsecond))
	require.NoError(t, err)
	assert.False(t, ok, "same millisecond, but before StartAfter")

	got, ok, err := s.Claim(ctx, startAfter.Add(500*time.Microsecond))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, task.ID, got.ID)
}

func TestTaskStoreInsertIsAllOrNothing(t *testing.T) {
	db, _ := testdb.Open(t)
	s := sqlite.NewTaskStore(db)
	ctx := context.Background()

	existing := newDummy(t, "existing", 0)
	require.NoError(t, s.Insert(ctx, existing))

	fresh := newDummy(t, "fresh", 0)
	err := s.Insert(ctx, fresh, existing)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrTaskExists)

	found, err := s.Find(ctx, domain.TaskFilter{ID: fresh.ID})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestTaskStoreInsertRejectsInvalid(t *testing.T) {
	db, _ := testdb.Open(t)
	s := sqlite.NewTaskStore(db)

	task := newDummy(t, "bad", 0)
	task.Kind = "NOPE"

	err := s.Insert(context.Background(), task)
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}

func TestTaskStoreRemove(t *testing.T) {
	db, _ := testdb.Open(t)
	s := sqlite.NewTaskStore(db)
	ctx := context.Background()

	task := newDummy(t, "done", 0)
	require.NoError(t, s.Insert(ctx, task))

	require.NoError(t, s.Remove(ctx, task.ID))

	err := s.Remove(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.True(t, store.IsNotFoundError(err))
}

func TestTaskStoreReplace(t *testing.T) {
	db, _ := testdb.Open(t)
	s := sqlite.NewTaskStore(db)
	ctx := context.Background()

	parent := newDummy(t, "parent", 0)
	require.NoError(t, s.Insert(ctx, parent))

	a, err := parent.Successor(domain.KindDummy, domain.CategoryMeta, 5, time.Time{}, domain.DummyPayload{Steps: 2})
	require.NoError(t, err)
	b, err := parent.Successor(domain.KindDummy, domain.CategoryMeta, 5, time.Time{}, domain.DummyPayload{Steps: 3})
	require.NoError(t, err)

	require.NoError(t, s.Replace(ctx, parent.ID, []domain.Task{a, b}))

	found, err := s.Find(ctx, domain.TaskFilter{GroupID: parent.GroupID})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, a.ID, found[0].ID)
	assert.Equal(t, b.ID, found[1].ID)

	t.Run("unknown id leaves queue unchanged", func(t *testing.T) {
		c, err := parent.Successor(domain.KindDummy, domain.CategoryMeta, 5, time.Time{}, nil)
		require.NoError(t, err)

		err = s.Replace(ctx, parent.ID, []domain.Task{c})
		assert.ErrorIs(t, err, store.ErrTaskNotFound)

		found, err := s.Find(ctx, domain.TaskFilter{ID: c.ID})
		require.NoError(t, err)
		assert.Empty(t, found)
	})
}

func TestTaskStoreResetExecuting(t *testing.T) {
	db, _ := testdb.Open(t)
	s := sqlite.NewTaskStore(db)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newDummy(t, "a", 0), newDummy(t, "b", 0)))
	_, _, err := s.Claim(ctx, time.Now())
	require.NoError(t, err)
	_, _, err = s.Claim(ctx, time.Now())
	require.NoError(t, err)

	n, err := s.ResetExecuting(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	executing := true
	found, err := s.Find(ctx, domain.TaskFilter{Executing: &executing})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestTaskStoreFindAndDelete(t *testing.T) {
	db, _ := testdb.Open(t)
	s := sqlite.NewTaskStore(db)
	ctx := context.Background()

	a := newDummy(t, "a", 0)
	b := delayed(newDummy(t, "b", 3), time.Hour)
	c := newDummy(t, "c", 3)
	require.NoError(t, s.Insert(ctx, a, b, c))

	prio := 3
	found, err := s.Find(ctx, domain.TaskFilter{Priority: &prio})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	isDelayed := true
	found, err = s.Find(ctx, domain.TaskFilter{Delayed: &isDelayed, Now: time.Now()})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, b.ID, found[0].ID)

	tasks, err := s.Delayed(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, b.ID, tasks[0].ID)

	n, err := s.Delete(ctx, []string{a.ID, b.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	found, err = s.Find(ctx, domain.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, c.ID, found[0].ID)
}

func TestTaskStoreConcurrentClaimAcrossHandles(t *testing.T) {
	db, path := testdb.Open(t)
	ctx := context.Background()

	const rows = 20
	seed := sqlite.NewTaskStore(db)
	for i := 0; i < rows; i++ {
		require.NoError(t, seed.Insert(ctx, newDummy(t, "row", 0)))
	}

	stores := []*sqlite.TaskStore{seed, sqlite.NewTaskStore(testdb.OpenAt(t, path)), sqlite.NewTaskStore(testdb.OpenAt(t, path))}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)

	for _, s := range stores {
		for w := 0; w < 3; w++ {
			wg.Add(1)
			go func(s *sqlite.TaskStore) {
				defer wg.Done()
				for {
					task, ok, err := s.Claim(ctx, time.Now())
					if !assert.NoError(t, err) || !ok {
						return
					}
					mu.Lock()
					claimed[task.ID]++
					mu.Unlock()
				}
			}(s)
		}
	}
	wg.Wait()

	assert.Len(t, claimed, rows)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "task %s claimed %d times", id, n)
	}
}
