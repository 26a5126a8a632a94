package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"dossier/internal/platform/config"
)

// New returns a structured logger writing to stdout.
func New(cfg config.Log) *slog.Logger {
	return NewWithWriter(os.Stdout, cfg)
}

// NewWithWriter builds the handler selected by cfg.Format ("json" or "text").
func NewWithWriter(w io.Writer, cfg config.Log) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With("service", "dossier")
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
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
