package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace sits below debug and carries pion's trace output.
const LevelTrace = slog.LevelDebug - 4

// Options controls Init.
type Options struct {
	// Debug forces the debug level regardless of LOG_LEVEL.
	Debug bool
	// Writer receives log output, os.Stderr when nil.
	Writer io.Writer
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, true
	case "dev", "development", "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error", "production", "prod":
		return slog.LevelError, true
	}
	return 0, false
}

// Init builds the process logger and installs it as the slog default.
func Init(opts Options) *slog.Logger {
	level := slog.LevelError // default: production only shows errors

	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		if parsed, ok := ParseLevel(l); ok {
			level = parsed
		}
	}
	if opts.Debug && level > slog.LevelDebug {
		level = slog.LevelDebug
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	logger := slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		}),
	)
	slog.SetDefault(logger)
	return logger
}
