package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// parseLogLevel maps a CLI level string onto a slog.Level. An empty string
// selects the worker default.
func parseLogLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log-level %q: must be 'debug', 'info', 'warn', or 'error'", levelStr)
	}
}

// parseLogFormat validates a CLI format string and returns its canonical
// form. An empty string selects the worker default.
func parseLogFormat(formatStr string) (string, error) {
	switch strings.ToLower(formatStr) {
	case "json", "":
		return "json", nil
	case "text":
		return "text", nil
	default:
		return "", fmt.Errorf("invalid log-format %q: must be 'text' or 'json'", formatStr)
	}
}

// newLogger creates a slog.Logger for settings already validated by
// NewConfig. It does not set the global logger, allowing for isolated
// logger instances.
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	level, err := parseLogLevel(levelStr)
	if err != nil {
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler

	if format, _ := parseLogFormat(formatStr); format == "text" {
		handler = slog.NewTextHandler(outW, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(outW, handlerOpts)
	}

	return slog.New(handler)
}
