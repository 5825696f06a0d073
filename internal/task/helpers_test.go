package task

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/events"
	"github.com/phrazzld/coldstore/internal/platform/sqlite"
	"github.com/phrazzld/coldstore/internal/testdb"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// newTestStore returns a TaskStore on a fresh database file and its path.
func newTestStore(t *testing.T) (*sqlite.TaskStore, string) {
	t.Helper()

	db, path := testdb.Open(t)
	return sqlite.NewTaskStore(db), path
}

// openTestStore opens a second handle on the database at path.
func openTestStore(t *testing.T, path string) *sqlite.TaskStore {
	t.Helper()

	return sqlite.NewTaskStore(testdb.OpenAt(t, path))
}

func dummyTask(t *testing.T, name string, priority int) domain.Task {
	t.Helper()

	task, err := domain.NewTask(name, domain.KindDummy, domain.CategoryMeta, priority, domain.DummyPayload{Steps: 1})
	require.NoError(t, err)
	return task
}

// eventLog collects forwarded events.
type eventLog struct {
	mu     sync.Mutex
	events []domain.OutputEvent
}

func (l *eventLog) HandleEvent(_ context.Context, ev domain.OutputEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) statuses(taskID string) []domain.Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.Status
	for _, ev := range l.events {
		if ev.Task.ID == taskID {
			out = append(out, ev.Status)
		}
	}
	return out
}

func (l *eventLog) has(taskID string, status domain.Status) bool {
	for _, s := range l.statuses(taskID) {
		if s == status {
			return true
		}
	}
	return false
}

// newTestBus starts a forwarder that records into the returned log.
func newTestBus(t *testing.T) (*events.Forwarder, *eventLog) {
	t.Helper()

	bus := events.NewForwarder(64, setupTestLogger())
	log := &eventLog{}
	bus.RegisterHandler(log)

	done := make(chan struct{})
	go func() {
		bus.Run(context.Background())
		close(done)
	}()
	t.Cleanup(func() {
		bus.Stop()
		<-done
	})

	return bus, log
}

// fakeUnit is a Unit finished by the test or by Kill.
type fakeUnit struct {
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	outcome Outcome
}

func newFakeUnit() *fakeUnit {
	return &fakeUnit{done: make(chan struct{})}
}

func (u *fakeUnit) Done() <-chan struct{} { return u.done }

func (u *fakeUnit) Outcome() Outcome {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.outcome
}

func (u *fakeUnit) Kill() error {
	u.finish(Outcome{ExitCode: -1, Killed: true})
	return nil
}

func (u *fakeUnit) finish(o Outcome) {
	u.once.Do(func() {
		u.mu.Lock()
		u.outcome = o
		u.mu.Unlock()
		close(u.done)
	})
}

// fakeLauncher runs behave for every launched task.
type fakeLauncher struct {
	mu       sync.Mutex
	launched []domain.Task
	behave   func(t domain.Task, u *fakeUnit)
}

func (l *fakeLauncher) Launch(_ context.Context, t domain.Task) (Unit, error) {
	l.mu.Lock()
	l.launched = append(l.launched, t)
	l.mu.Unlock()

	u := newFakeUnit()
	go l.behave(t, u)
	return u, nil
}

func (l *fakeLauncher) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, len(l.launched))
	for i, t := range l.launched {
		out[i] = t.Name
	}
	return out
}

// byName finishes units according to the task name.
func byName(t domain.Task, u *fakeUnit) {
	switch t.Name {
	case "hang":
	case "fail":
		u.finish(Outcome{ExitCode: ExitFailure})
	case "fail-reported":
		u.finish(Outcome{ExitCode: ExitFailure, Reported: true})
	case "weird":
		u.finish(Outcome{ExitCode: 7})
	case "killed":
		u.finish(Outcome{ExitCode: -1, Killed: true})
	case "continue":
		next, err := t.Successor(domain.KindDummy, domain.CategoryMeta, 0, time.Time{}, domain.DummyPayload{Steps: 1})
		if err != nil {
			u.finish(Outcome{ExitCode: ExitFailure})
			return
		}
		next.Name = "continued"
		u.finish(Outcome{ExitCode: ExitSuccess, Successors: []domain.Task{next}})
	default:
		u.finish(Outcome{ExitCode: ExitSuccess})
	}
}
