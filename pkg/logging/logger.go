package logging

import (
	"log/slog"
	"os"
)

// InitLogger initializes a global logger with the specified level.
// It configures a JSON handler with source location information.
func InitLogger(level slog.Level) *slog.Logger {
	return InitLoggerWithFormat(level, "json")
}

// InitLoggerWithFormat initializes a global logger with the specified level
// and output format ("json" or "text"). Unknown formats fall back to JSON.
func InitLoggerWithFormat(level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	}
	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// NewComponentLogger creates a component-specific logger with context.
// It adds the component name to all log messages for better traceability.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	return base.With(
		slog.String("component", component),
	)
}

// NewSessionLogger tags a component logger with the session id so events
// from concurrent sessions can be separated in aggregated output.
func NewSessionLogger(base *slog.Logger, component, sessionID string) *slog.Logger {
	return base.With(
		slog.String("component", component),
		slog.String("session_id", sessionID),
	)
}
