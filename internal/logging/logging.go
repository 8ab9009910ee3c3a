// Package logging configures the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is the service logger. It embeds slog.Logger, so call sites use
// the standard structured methods (Info, Warn, Error, Debug).
type Logger struct {
	*slog.Logger
}

// NewLogger creates a JSON logger writing to stdout at the given level.
// Unrecognized levels fall back to info.
func NewLogger(level string) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return &Logger{
		Logger: slog.New(handler).With("service", "flow-manager"),
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
