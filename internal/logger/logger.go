// Package logger provides structured logging setup for hitl.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/Strob0t/hitl/internal/config"
)

// New creates a *slog.Logger from the given Logging config, writing to
// stdout. The returned Closer flushes the async handler, if any.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter is New with an explicit destination.
// Every record carries a "service" attribute and, when the context has one,
// a "request_id".
func NewWithWriter(cfg config.Logging, w io.Writer) (*slog.Logger, Closer) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if useText(cfg.Format, w) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	var closer Closer = nopCloser{}
	if cfg.Async {
		buf, workers := cfg.AsyncBuffer, cfg.AsyncWorkers
		if buf <= 0 {
			buf = 10000
		}
		if workers <= 0 {
			workers = 1
		}
		async := NewAsyncHandler(handler, buf, workers)
		handler, closer = async, async
	}

	return slog.New(&contextHandler{inner: handler}).With("service", cfg.Service), closer
}

// useText picks the text handler for "text", and for "auto" when w is a
// terminal.
func useText(format string, w io.Writer) bool {
	switch strings.ToLower(format) {
	case "text":
		return true
	case "auto":
		f, ok := w.(*os.File)
		return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // G115: fd fits in int
	default:
		return false
	}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
