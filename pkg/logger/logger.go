// Package logger provides the slog construction used across
// go-graffiti: a handler that colors records by severity so store
// failures and collaborator warnings stand out on a terminal.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// NewDefaultLogger creates a colored logger writing to stderr.
func NewDefaultLogger(level slog.Level) *slog.Logger {
	return NewLogger(os.Stderr, level)
}

// NewLogger creates a colored logger writing to w.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewColorHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
