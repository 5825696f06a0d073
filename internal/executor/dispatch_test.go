package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkRecorder struct {
	events     []domain.OutputEvent
	successors [][]domain.Task
}

func (s *sinkRecorder) WriteEvent(ev domain.OutputEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *sinkRecorder) WriteSuccessors(tasks []domain.Task) error {
	s.successors = append(s.successors, tasks)
	return nil
}

func (s *sinkRecorder) last() domain.OutputEvent {
	return s.events[len(s.events)-1]
}

func TestRegistryCoversEveryKind(t *testing.T) {
	reg := NewRegistry()
	for _, kind := range domain.Kinds() {
		ex, err := reg.For(kind)
		assert.NoError(t, err, "kind %s", kind)
		assert.NotNil(t, ex, "kind %s", kind)
	}

	_, err := reg.For(domain.Kind("NOPE"))
	assert.ErrorIs(t, err, ErrNoExecutor)
}

func registryWith(fn ExecutorFunc) *Registry {
	reg := NewRegistry()
	reg.Register(domain.KindDummy, fn)
	return reg
}

func TestDispatchOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		fn         ExecutorFunc
		wantCode   int
		wantStatus domain.Status
		wantMsg    string
		successors int
	}{
		{
			name: "finished",
			fn: func(context.Context, domain.Task, *Env) (Result, error) {
				return Done("all good"), nil
			},
			wantCode:   task.ExitSuccess,
			wantStatus: domain.StatusSuccess,
			wantMsg:    "all good",
		},
		{
			name: "continued",
			fn: func(_ context.Context, tk domain.Task, _ *Env) (Result, error) {
				return Continue(tk.Retry(testNow), tk.Retry(testNow)), nil
			},
			wantCode:   task.ExitSuccess,
			wantStatus: domain.StatusRemovedSilently,
			successors: 2,
		},
		{
			name: "acceptable failure",
			fn: func(context.Context, domain.Task, *Env) (Result, error) {
				return Result{}, Acceptable(nil, "Same file exists: a/b")
			},
			wantCode:   task.ExitFailure,
			wantStatus: domain.StatusError,
			wantMsg:    "Same file exists: a/b",
		},
		{
			name: "unexpected failure",
			fn: func(context.Context, domain.Task, *Env) (Result, error) {
				return Result{}, errors.New("boom")
			},
			wantCode:   task.ExitFailure,
			wantStatus: domain.StatusError,
			wantMsg:    "boom",
		},
		{
			name: "panic",
			fn: func(context.Context, domain.Task, *Env) (Result, error) {
				panic("kaboom")
			},
			wantCode:   task.ExitFailure,
			wantStatus: domain.StatusError,
			wantMsg:    "internal error: kaboom",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			sink := &sinkRecorder{}
			tk := taskOf(t, domain.KindDummy, domain.DummyPayload{Steps: 1})

			code := Dispatch(context.Background(), registryWith(tc.fn), tk, env.Env, sink)

			assert.Equal(t, tc.wantCode, code)
			require.NotEmpty(t, sink.events)
			assert.Equal(t, tc.wantStatus, sink.last().Status)
			assert.Equal(t, tk.ID, sink.last().Task.ID)
			if tc.wantMsg != "" {
				assert.Equal(t, tc.wantMsg, sink.last().Message)
			}
			if tc.successors > 0 {
				require.Len(t, sink.successors, 1)
				assert.Len(t, sink.successors[0], tc.successors)
			} else {
				assert.Empty(t, sink.successors)
			}
		})
	}
}

func TestDispatchLogsAcceptableFailuresBelowError(t *testing.T) {
	env := newTestEnv(t)
	tk := taskOf(t, domain.KindDummy, domain.DummyPayload{Steps: 1})

	Dispatch(context.Background(), registryWith(func(context.Context, domain.Task, *Env) (Result, error) {
		return Result{}, Acceptable(nil, "duplicate")
	}), tk, env.Env, &sinkRecorder{})

	errs, err := env.logs.EntriesWithLevel("ERROR")
	require.NoError(t, err)
	assert.Empty(t, errs, "acceptable failures are not errors")
}

func TestDispatchUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	sink := &sinkRecorder{}
	tk := taskOf(t, domain.KindDummy, domain.DummyPayload{Steps: 1})

	reg := &Registry{executors: map[domain.Kind]Executor{}}
	code := Dispatch(context.Background(), reg, tk, env.Env, sink)

	assert.Equal(t, task.ExitFailure, code)
	assert.Equal(t, domain.StatusError, sink.last().Status)
}

func TestDispatchRoutesProgressToSink(t *testing.T) {
	env := newTestEnv(t)
	env.Emit = nil
	sink := &sinkRecorder{}
	tk := taskOf(t, domain.KindDummy, domain.DummyPayload{Steps: 3})

	code := Dispatch(context.Background(), NewRegistry(), tk, env.Env, sink)

	assert.Equal(t, task.ExitSuccess, code)
	require.Len(t, sink.events, 5, "three steps, almost ready, success")
	assert.Equal(t, domain.StatusActive, sink.events[0].Status)
	assert.Equal(t, domain.StatusSuccess, sink.last().Status)
}

func TestAcceptableError(t *testing.T) {
	base := errors.New("stat failed")
	err := Acceptable(base, "Cannot read %s", "x")

	assert.Equal(t, "Cannot read x", err.Error())
	assert.ErrorIs(t, err, base)
	assert.True(t, IsAcceptable(err))
	assert.False(t, IsAcceptable(base))
	assert.Equal(t, "stat failed", (&AcceptableError{Err: base}).Error())
}
