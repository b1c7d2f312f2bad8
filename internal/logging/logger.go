package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a JSON logger tuned for production use.
// We prefer slog here because it keeps the standard library feel
// while still emitting structured logs we can ship to any backend.
func NewLogger(level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, handlerOptions(level))
	return slog.New(handler)
}

// handlerOptions carries the caller's file and line into every record
// so a log line can be traced back without grepping for its message.
func handlerOptions(level string) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		AddSource: true,
		Level:     levelFromString(level),
	}
}

// Component returns a child logger tagged with a component name so
// dispatch, settlement and transport logs can be filtered apart.
func Component(base *slog.Logger, name string) *slog.Logger {
	return base.With("component", name)
}

func levelFromString(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
