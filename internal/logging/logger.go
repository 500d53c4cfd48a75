package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates a JSON slog logger on stdout. Every record carries the dry-run
// flag so captured logs show whether deliveries were real.
func New(level string, dryRun bool) *slog.Logger {
	return NewWithWriter(os.Stdout, level, dryRun)
}

// NewWithWriter is New with a caller-supplied sink.
func NewWithWriter(w io.Writer, level string, dryRun bool) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(handler).With(slog.Bool("dryRun", dryRun))
}

// ParseLevel maps a level name to a slog level. Names are case-insensitive and
// unknown names fall back to info.
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
