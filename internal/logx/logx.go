// Package logx wires the process's structured logger. The daemon process
// logs JSON lines to a file; the foreground TUI process logs human-readable
// text to stderr so it never corrupts the TUI's own screen buffer.
package logx

import (
	"io"
	"log/slog"
	"os"
)

// Fields is a convenience alias for building slog attrs from a map-ish call site.
type Fields map[string]any

// NewDaemon returns a JSON-handler logger writing to w, one object per line.
func NewDaemon(w io.Writer, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// NewForeground returns a text-handler logger writing to stderr.
func NewForeground(level slog.Level) *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// Args flattens Fields into slog.Attr args for logger.With / logger.Info etc.
func (f Fields) Args() []any {
	args := make([]any, 0, len(f)*2)
	for k, v := range f {
		args = append(args, k, v)
	}
	return args
}

// ParseLevel maps a config string ("debug","info","warn","error") to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
