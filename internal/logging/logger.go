package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// SecurityEventKey marks records that security monitoring should pick up.
const SecurityEventKey = "security_event"

// New creates a JSON slog logger configured at the provided level. If the
// level string is invalid it defaults to info.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter is New writing to w.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// Security records a possible tampering attempt. Records are emitted at
// warn level and tagged with SecurityEventKey.
func Security(ctx context.Context, logger *slog.Logger, event string, attrs ...any) {
	if logger == nil {
		return
	}
	args := append([]any{slog.Bool(SecurityEventKey, true), slog.String("event", event)}, attrs...)
	logger.WarnContext(ctx, "security event", args...)
}
