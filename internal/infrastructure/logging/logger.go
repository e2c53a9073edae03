// Package logging configures the application's slog-based structured
// logger: level and format from config, service/version attached to
// every record.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/verdantlab/verdant-core/internal/infrastructure/config"
)

// Logger is a thin wrapper over *slog.Logger so packages can depend on a
// single logging type. All slog methods are promoted; safe for
// concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of the config. Format is
// "json" or "text" (json when unrecognised), output "stdout" or
// "stderr", and every record carries service and version attributes.
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "verdant"),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// Default is the bootstrap logger used before configuration loads:
// JSON to stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// With returns a child logger carrying extra default attributes, e.g.
// logger.With("component", "mqtt").
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
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
