package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"meeting-telemetry/ingestion/config"
)

// Init installs the global slog logger described by config.Get().Log,
// writing to stdout. Call once at startup before any logging.
func Init() {
	slog.SetDefault(New(config.Get().Log, os.Stdout))
}

// New builds a logger for the given settings. Debug level adds source locations.
func New(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := parseLogLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Component returns the default logger tagged with a component name, so
// storage, sender and buffer lines can be told apart in a shared stream.
func Component(name string) *slog.Logger {
	return slog.Default().With(slog.String("component", name))
}

// parseLogLevel converts a string log level to slog.Level.
// Supports: debug, info, warn/warning, error
// Default: info
func parseLogLevel(level string) slog.Level {
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
