package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// NewLogger creates a structured logger. format "pretty" selects the colorized
// text handler for local runs; anything else selects JSON.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(level),
		AddSource: true,
	}

	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "pretty") {
		h = newConsoleHandler(w, opts, isTerminal(w))
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}

func parseLogLevel(level string) slog.Level {
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

func isTerminal(w io.Writer) bool {
	if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	st, err := f.Stat()
	if err != nil {
		return false
	}
	return st.Mode()&os.ModeCharDevice != 0
}
