package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/platform/logger"
	"github.com/phrazzld/coldstore/internal/store"
)

const taskColumns = `task_id, group_id, name, kind, priority, category, start_after, created, payload, executing`

// TaskStore persists queue rows in the tasks table.
type TaskStore struct {
	db     *sql.DB
	mu     sync.Mutex
	policy RetryPolicy
}

// NewTaskStore creates a TaskStore on db.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{
		db:     db,
		policy: DefaultRetryPolicy(),
	}
}

// WithRetryPolicy replaces the busy retry policy.
func (s *TaskStore) WithRetryPolicy(p RetryPolicy) *TaskStore {
	s.policy = p
	return s
}

// Insert stores all tasks in one transaction; either every row is written
// or none is.
func (s *TaskStore) Insert(ctx context.Context, tasks ...domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
	}

	return s.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return insertTasks(ctx, tx, tasks)
	})
}

// Claim marks the best ready row as executing and returns it. A row is ready
// when it is not executing and its start_after is not after now; the best
// row has the lowest priority value, then the lowest rowid. ok is false when
// no row is ready.
func (s *TaskStore) Claim(ctx context.Context, now time.Time) (task domain.Task, ok bool, err error) {
	err = s.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			WHERE executing = 0 AND start_after <= ?
			ORDER BY priority ASC, rowid ASC
			LIMIT 1`,
			toMillis(now),
		)

		qt, scanErr := scanTask(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			ok = false
			return nil
		}
		if scanErr != nil {
			return fmt.Errorf("failed to select ready task: %w", scanErr)
		}

		res, execErr := tx.ExecContext(ctx,
			`UPDATE tasks SET executing = 1 WHERE task_id = ? AND executing = 0`, qt.ID)
		if execErr != nil {
			return fmt.Errorf("failed to mark task executing: %w", execErr)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("failed to mark task %s executing: %d rows affected", qt.ID, n)
		}

		task, ok = qt.Task, true
		return nil
	})
	if err != nil {
		return domain.Task{}, false, err
	}

	return task, ok, nil
}

// Remove deletes the row of a finished task. Exactly one row must be
// deleted, otherwise store.ErrTaskNotFound is returned.
func (s *TaskStore) Remove(ctx context.Context, id string) error {
	return s.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return removeOne(ctx, tx, id)
	})
}

// Replace deletes the row of id and inserts successors in one transaction.
// It fails without changes when id is not queued.
func (s *TaskStore) Replace(ctx context.Context, id string, successors []domain.Task) error {
	for _, t := range successors {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
	}

	return s.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := removeOne(ctx, tx, id); err != nil {
			return err
		}
		return insertTasks(ctx, tx, successors)
	})
}

// ResetExecuting clears the executing flag on every row. It is run once at
// startup: whatever was executing belonged to a process that is gone.
func (s *TaskStore) ResetExecuting(ctx context.Context) (int64, error) {
	var n int64
	err := s.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE tasks SET executing = 0 WHERE executing = 1`)
		if err != nil {
			return fmt.Errorf("failed to reset executing tasks: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// Delayed returns the rows whose start_after lies after now.
func (s *TaskStore) Delayed(ctx context.Context, now time.Time) ([]domain.Task, error) {
	delayed := true
	found, err := s.Find(ctx, domain.TaskFilter{Delayed: &delayed, Now: now})
	if err != nil {
		return nil, err
	}

	tasks := make([]domain.Task, len(found))
	for i, qt := range found {
		tasks[i] = qt.Task
	}
	return tasks, nil
}

// Find returns the rows matching filter in queue order.
func (s *TaskStore) Find(ctx context.Context, filter domain.TaskFilter) ([]domain.QueuedTask, error) {
	where, args := buildTaskFilter(filter)
	query := `SELECT ` + taskColumns + ` FROM tasks` + where + ` ORDER BY priority ASC, rowid ASC`

	var result []domain.QueuedTask
	err := s.policy.retry(ctx, func() error {
		result = result[:0]

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			qt, err := scanTask(rows)
			if err != nil {
				return err
			}
			result = append(result, qt)
		}
		return rows.Err()
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to find tasks", "error", err)
		return nil, fmt.Errorf("failed to find tasks: %w", MapError(err))
	}

	return result, nil
}

// Delete removes the given rows, executing or not, and returns how many
// were removed. Unknown ids are ignored.
func (s *TaskStore) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var n int64
	err := s.write(ctx, func(ctx context.Context, tx *sql.Tx) error {
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM tasks WHERE task_id IN (`+placeholders(len(ids))+`)`, args...)
		if err != nil {
			return fmt.Errorf("failed to delete tasks: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// write runs fn in an exclusive transaction, serialized within the process
// and retried while another process holds the database.
func (s *TaskStore) write(ctx context.Context, fn store.TxFn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.policy.retry(ctx, func() error {
		return store.RunInTransaction(ctx, s.db, fn)
	})
	return MapError(err)
}

func insertTasks(ctx context.Context, tx store.DBTX, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tasks (task_id, group_id, name, kind, priority, category, start_after, created, payload, executing)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`)
	if err != nil {
		return fmt.Errorf("failed to prepare task insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, t := range tasks {
		var payload any
		if len(t.Payload) > 0 {
			payload = string(t.Payload)
		}

		_, err := stmt.ExecContext(ctx,
			t.ID,
			t.GroupID,
			t.Name,
			string(t.Kind),
			t.Priority,
			string(t.Category),
			ceilMillis(t.StartAfter),
			toMillis(t.Created),
			payload,
		)
		if err != nil {
			if mapped := MapError(err); store.IsDuplicateError(mapped) {
				return fmt.Errorf("%w: %s", store.ErrTaskExists, t.ID)
			}
			return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
		}
	}

	return nil
}

func removeOne(ctx context.Context, tx store.DBTX, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if n != 1 {
		return fmt.Errorf("%w: %s (%d rows affected)", store.ErrTaskNotFound, id, n)
	}

	return nil
}

func buildTaskFilter(f domain.TaskFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if f.ID != "" {
		conds = append(conds, "task_id = ?")
		args = append(args, f.ID)
	}
	if f.GroupID != "" {
		conds = append(conds, "group_id = ?")
		args = append(args, f.GroupID)
	}
	if f.Name != "" {
		conds = append(conds, "name = ?")
		args = append(args, f.Name)
	}
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Priority != nil {
		conds = append(conds, "priority = ?")
		args = append(args, *f.Priority)
	}
	if f.Executing != nil {
		conds = append(conds, "executing = ?")
		args = append(args, boolToInt(*f.Executing))
	}
	if f.Delayed != nil {
		now := f.Now
		if now.IsZero() {
			now = time.Now()
		}
		if *f.Delayed {
			conds = append(conds, "start_after > ?")
		} else {
			conds = append(conds, "start_after <= ?")
		}
		args = append(args, toMillis(now))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.QueuedTask, error) {
	var (
		qt         domain.QueuedTask
		kind       string
		category   string
		startAfter int64
		created    int64
		payload    sql.NullString
		executing  int
	)

	err := row.Scan(
		&qt.ID,
		&qt.GroupID,
		&qt.Name,
		&kind,
		&qt.Priority,
		&category,
		&startAfter,
		&created,
		&payload,
		&executing,
	)
	if err != nil {
		return domain.QueuedTask{}, err
	}

	qt.Kind = domain.Kind(kind)
	qt.Category = domain.Category(category)
	qt.StartAfter = fromMillis(startAfter)
	qt.Created = fromMillis(created)
	qt.Executing = executing == 1
	if payload.Valid {
		qt.Payload = []byte(payload.String)
	}

	return qt, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// toMillis stores instants as unix milliseconds; the zero time is 0 so
// that undelayed rows compare as ready.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// ceilMillis rounds up so that a stored delay never ends before StartAfter
// when compared against a truncated clock.
func ceilMillis(t time.Time) int64 {
	ms := toMillis(t)
	if ms != 0 && t.Sub(time.UnixMilli(ms)) > 0 {
		ms++
	}
	return ms
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
