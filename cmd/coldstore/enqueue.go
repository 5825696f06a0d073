package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/platform/sqlite"
)

// enqueueCommand inserts a task straight into the queue table. A running
// server notices it within its recheck interval.
func enqueueCommand(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs, configPath := newFlagSet("enqueue", stderr)
	kind := fs.String("kind", "", "task kind: "+submittableKinds())
	name := fs.String("name", "", "display name (DUMMY only)")
	payload := fs.String("payload", "", `task payload as JSON, "-" reads it from stdin, "@file" from a file`)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	raw, err := readPayload(*payload, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "coldstore enqueue: %v\n", err)
		return 2
	}

	t, err := domain.NewSubmittedTask(domain.Kind(strings.ToUpper(*kind)), *name, raw)
	if err != nil {
		fmt.Fprintf(stderr, "coldstore enqueue: %v\n", err)
		return 2
	}

	app, err := newApplication(ctx, *configPath, stderr, "")
	if err != nil {
		fmt.Fprintf(stderr, "coldstore enqueue: %v\n", err)
		return 1
	}
	defer func() {
		if err := app.cleanup(); err != nil {
			app.logger.Warn("cleanup failed", "error", err)
		}
	}()

	if err := sqlite.Migrate(ctx, app.db, app.logger); err != nil {
		fmt.Fprintf(stderr, "coldstore enqueue: %v\n", err)
		return 1
	}

	if err := sqlite.NewTaskStore(app.db).Insert(ctx, t); err != nil {
		fmt.Fprintf(stderr, "coldstore enqueue: %v\n", err)
		return 1
	}

	app.logger.Info("task enqueued", "task_id", t.ID, "kind", string(t.Kind), "group_id", t.GroupID)
	fmt.Fprintln(stdout, t.ID)
	return 0
}

func readPayload(arg string, stdin io.Reader) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case arg == "-":
		data, err = io.ReadAll(stdin)
	case strings.HasPrefix(arg, "@"):
		data, err = os.ReadFile(arg[1:])
	default:
		data = []byte(arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return json.RawMessage(strings.TrimSpace(string(data))), nil
}

func submittableKinds() string {
	var kinds []string
	for _, k := range domain.Kinds() {
		if k.Submittable() {
			kinds = append(kinds, string(k))
		}
	}
	return strings.Join(kinds, ", ")
}
