// Package logging provides the structured logger and the child-process
// output handlers for stackup. The supervisor itself logs through slog;
// lines captured from the backend and frontend pipes go through an
// OutputHandler, which classifies and buffers them.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process-wide logger. Format is "json" or "text";
// verbose forces debug level regardless of the level string.
func NewLogger(format, level string, verbose bool) *slog.Logger {
	logLevel := parseLevel(level)
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(newHandler(os.Stderr, format, logLevel))
}

// NewLoggerWithWriter builds a logger writing to w instead of stderr.
// Tests use this to capture or discard output.
func NewLoggerWithWriter(w io.Writer, format, level string) *slog.Logger {
	return slog.New(newHandler(w, format, parseLevel(level)))
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		// Source locations are only worth the noise when debugging
		AddSource: level == slog.LevelDebug,
	}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
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

// SetDefault installs logger as the slog package default so that
// libraries logging via slog share the same handler.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
