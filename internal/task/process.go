package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/events"
	"github.com/phrazzld/coldstore/internal/ipc"
)

// ProcessLauncher runs each task in a child process: the configured
// executable with Args, the task on stdin and ipc messages on stdout. The
// child's stderr is passed through.
type ProcessLauncher struct {
	Path   string
	Args   []string
	Env    []string
	Stderr io.Writer

	emitter events.Emitter
	logger  *slog.Logger
}

// NewProcessLauncher creates a launcher that forwards child events to
// emitter.
func NewProcessLauncher(path string, args []string, emitter events.Emitter, logger *slog.Logger) *ProcessLauncher {
	return &ProcessLauncher{
		Path:    path,
		Args:    args,
		Stderr:  os.Stderr,
		emitter: emitter,
		logger:  logger.With("component", "process_launcher"),
	}
}

// Launch starts the child process for t.
func (l *ProcessLauncher) Launch(ctx context.Context, t domain.Task) (Unit, error) {
	cmd := exec.Command(l.Path, l.Args...)
	if l.Env != nil {
		cmd.Env = append(os.Environ(), l.Env...)
	}
	cmd.Stderr = l.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start task process: %w", err)
	}

	p := &process{
		cmd:    cmd,
		done:   make(chan struct{}),
		logger: l.logger.With("task_id", t.ID, "pid", cmd.Process.Pid),
	}

	go func() {
		werr := ipc.WriteTask(stdin, t)
		if cerr := stdin.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			p.logger.Warn("failed to hand task to process", "error", werr)
		}
	}()

	go p.supervise(ctx, stdout, l.emitter)

	p.logger.Debug("task process started")
	return p, nil
}

type process struct {
	cmd    *exec.Cmd
	done   chan struct{}
	logger *slog.Logger

	mu      sync.Mutex
	outcome Outcome
}

func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Outcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

func (p *process) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// supervise reads the child's messages until stdout closes, then reaps it.
func (p *process) supervise(ctx context.Context, stdout io.Reader, emitter events.Emitter) {
	defer close(p.done)

	var (
		successors []domain.Task
		reported   bool
	)
	dec := ipc.NewDecoder(stdout)
	for {
		msg, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.logger.Warn("ignoring malformed process output", "error", err)
			if errors.Is(err, ipc.ErrUnknownMessage) {
				continue
			}
			// The stream is unusable; drain it so the child is not blocked.
			_, _ = io.Copy(io.Discard, stdout)
			break
		}

		switch msg.Type {
		case ipc.TypeEvent:
			reported = reported || msg.Event.Status.Terminal()
			if err := emitter.Emit(ctx, *msg.Event); err != nil {
				p.logger.Warn("failed to forward event", "error", err)
			}
		case ipc.TypeSuccessors:
			successors = append(successors, msg.Successors...)
		}
	}

	werr := p.cmd.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	// A kill that lands after the child exited does not change its status.
	code := p.cmd.ProcessState.ExitCode()
	p.outcome = Outcome{
		ExitCode:   code,
		Killed:     code == -1,
		Successors: successors,
		Reported:   reported,
	}

	var exitErr *exec.ExitError
	if werr != nil && !errors.As(werr, &exitErr) {
		p.outcome.Err = werr
	}

	p.logger.Debug("task process exited", "exit_code", code, "killed", p.outcome.Killed)
}
