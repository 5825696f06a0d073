package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// ProcessHandler is a slog.Handler that stamps every record with the role and
// pid of the emitting process. The server and its task processes share one
// log stream, and the stamp tells their lines apart.
type ProcessHandler struct {
	handler slog.Handler
	role    string
	pid     int
}

// NewProcessHandler wraps a JSON handler writing to out.
func NewProcessHandler(out io.Writer, opts *slog.HandlerOptions, role string) *ProcessHandler {
	var handlerOpts slog.HandlerOptions
	if opts != nil {
		handlerOpts = *opts
	}

	return &ProcessHandler{
		handler: slog.NewJSONHandler(out, &handlerOpts),
		role:    role,
		pid:     os.Getpid(),
	}
}

// Enabled implements the slog.Handler interface.
func (h *ProcessHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// WithAttrs implements the slog.Handler interface.
func (h *ProcessHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ProcessHandler{handler: h.handler.WithAttrs(attrs), role: h.role, pid: h.pid}
}

// WithGroup implements the slog.Handler interface.
func (h *ProcessHandler) WithGroup(name string) slog.Handler {
	return &ProcessHandler{handler: h.handler.WithGroup(name), role: h.role, pid: h.pid}
}

// Handle implements the slog.Handler interface.
func (h *ProcessHandler) Handle(ctx context.Context, record slog.Record) error {
	enhanced := record.Clone()
	enhanced.AddAttrs(
		slog.String("role", h.role),
		slog.Int("pid", h.pid),
	)
	return h.handler.Handle(ctx, enhanced)
}
