// Package telemetry provides structured logging, run identity, and
// metrics for orchestration runs.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/oklog/ulid/v2"
)

type contextKey string

const runIDKey contextKey = "run_id"

// NewRunID returns a fresh ULID identifying one orchestration run.
func NewRunID() string {
	return ulid.Make().String()
}

// WithRunID adds a run ID to the context. If id is empty, a new one
// is generated.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewRunID()
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunID retrieves the run ID from context.
func RunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// RunLogger returns a logger with run-scoped fields.
func RunLogger(logger *slog.Logger, ctx context.Context, environment string) *slog.Logger {
	attrs := []any{
		slog.String("environment", environment),
	}
	if id := RunID(ctx); id != "" {
		attrs = append(attrs, slog.String("run_id", id))
	}
	return logger.With(attrs...)
}

// Status writes leveled operator-facing status lines. One line is
// emitted before every state-changing call so an interrupted run can
// be located from its output alone.
type Status struct {
	W io.Writer
}

// NewStatus creates a status printer. A nil writer defaults to stderr.
func NewStatus(w io.Writer) *Status {
	if w == nil {
		w = os.Stderr
	}
	return &Status{W: w}
}

func (s *Status) line(level, format string, args ...any) {
	fmt.Fprintf(s.W, "[%s] %s\n", level, fmt.Sprintf(format, args...))
}

// Info reports progress.
func (s *Status) Info(format string, args ...any) { s.line("INFO", format, args...) }

// Success reports a completed stage.
func (s *Status) Success(format string, args ...any) { s.line("OK", format, args...) }

// Warning reports a recoverable failure. Warnings never affect the
// process exit code.
func (s *Status) Warning(format string, args ...any) { s.line("WARN", format, args...) }

// Error reports a fatal failure.
func (s *Status) Error(format string, args ...any) { s.line("ERROR", format, args...) }
