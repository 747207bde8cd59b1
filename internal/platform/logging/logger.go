package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pscheid92/whispercmd/internal/platform/correlation"
)

// ParseLevel maps "debug", "info", "warn" and "error" (any case) to a level.
// Anything else yields info.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// New builds a correlation-aware logger writing to w. format is "json" or
// "text"; unknown formats fall back to text.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(correlation.NewHandler(handler))
}

// InitLogger installs a stdout logger as the slog default and returns it.
func InitLogger(level, format string) *slog.Logger {
	logger := New(os.Stdout, level, format)
	slog.SetDefault(logger)
	return logger
}
