package task

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "COLDSTORE_TASK_HELPER"

// TestMain turns the test binary into a task process when the helper
// variable is set.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(helperProcess())
	}
	os.Exit(m.Run())
}

func helperProcess() int {
	t, err := ipc.ReadTask(os.Stdin)
	if err != nil {
		return 2
	}

	enc := ipc.NewEncoder(os.Stdout)
	switch t.Name {
	case "ok":
		_ = enc.WriteEvent(domain.NewOutputEvent(t, domain.StatusSuccess, 100, "done"))
		return ExitSuccess
	case "continue":
		next, err := t.Successor(domain.KindDummy, domain.CategoryMeta, 0, time.Time{}, nil)
		if err != nil {
			return ExitFailure
		}
		_ = enc.WriteSuccessors([]domain.Task{next})
		return ExitSuccess
	case "fail":
		_ = enc.WriteEvent(domain.NewOutputEvent(t, domain.StatusError, 0, "boom"))
		return ExitFailure
	case "hang":
		_ = enc.WriteEvent(domain.NewOutputEvent(t, domain.StatusActive, 0, "waiting"))
		time.Sleep(time.Minute)
		return ExitSuccess
	default:
		return 9
	}
}

func newHelperLauncher(t *testing.T) (*ProcessLauncher, *eventLog) {
	t.Helper()

	exe, err := os.Executable()
	require.NoError(t, err)

	bus, log := newTestBus(t)
	l := NewProcessLauncher(exe, []string{"-test.run=^$"}, bus, setupTestLogger())
	l.Env = []string{helperEnv + "=1"}
	return l, log
}

func launchAndWait(t *testing.T, l *ProcessLauncher, task domain.Task) Outcome {
	t.Helper()

	unit, err := l.Launch(context.Background(), task)
	require.NoError(t, err)

	select {
	case <-unit.Done():
	case <-time.After(10 * time.Second):
		_ = unit.Kill()
		t.Fatal("task process did not exit")
	}
	return unit.Outcome()
}

func TestProcessLauncherExitCodes(t *testing.T) {
	l, log := newHelperLauncher(t)

	tests := []struct {
		name     string
		code     int
		reported bool
	}{
		{"ok", ExitSuccess, true},
		{"fail", ExitFailure, true},
		{"unknown", 9, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := launchAndWait(t, l, dummyTask(t, tc.name, 0))
			assert.Equal(t, tc.code, out.ExitCode)
			assert.False(t, out.Killed)
			assert.Equal(t, tc.reported, out.Reported)
			assert.NoError(t, out.Err)
		})
	}

	require.Eventually(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		for _, ev := range log.events {
			if ev.Message == "done" && ev.Status == domain.StatusSuccess {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "child events are forwarded")
}

func TestProcessLauncherSuccessors(t *testing.T) {
	l, _ := newHelperLauncher(t)

	task := dummyTask(t, "continue", 0)
	out := launchAndWait(t, l, task)

	assert.Equal(t, ExitSuccess, out.ExitCode)
	require.Len(t, out.Successors, 1)
	assert.Equal(t, task.GroupID, out.Successors[0].GroupID)
}

func TestProcessLauncherKill(t *testing.T) {
	l, log := newHelperLauncher(t)

	task := dummyTask(t, "hang", 0)
	unit, err := l.Launch(context.Background(), task)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return log.has(task.ID, domain.StatusActive)
	}, 10*time.Second, 10*time.Millisecond)

	require.NoError(t, unit.Kill())

	select {
	case <-unit.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("killed process did not exit")
	}

	out := unit.Outcome()
	assert.True(t, out.Killed)
	assert.Equal(t, -1, out.ExitCode)
	assert.NoError(t, unit.Kill(), "killing an exited process is not an error")
}

func TestProcessLauncherKillAfterExit(t *testing.T) {
	l, _ := newHelperLauncher(t)

	unit, err := l.Launch(context.Background(), dummyTask(t, "continue", 0))
	require.NoError(t, err)

	select {
	case <-unit.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("task process did not exit")
	}

	assert.NoError(t, unit.Kill())
	out := unit.Outcome()
	assert.False(t, out.Killed)
	assert.Equal(t, ExitSuccess, out.ExitCode)
	assert.Len(t, out.Successors, 1)
}

func TestProcessLauncherMissingExecutable(t *testing.T) {
	bus, _ := newTestBus(t)
	l := NewProcessLauncher("/nonexistent/coldstore", nil, bus, setupTestLogger())

	_, err := l.Launch(context.Background(), dummyTask(t, "ok", 0))
	assert.Error(t, err)
}
