// Package logging wraps log/slog with the field names used across recallkit.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with recallkit-specific helpers
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// A nil handler logs text to stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger writing JSON lines to w
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger writing human-readable lines to w
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger discards everything
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// OrNoop returns l, or a discarding logger when l is nil
func OrNoop(l *Logger) *Logger {
	if l == nil {
		return NoopLogger()
	}
	return l
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// With returns a Logger carrying the given attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithComponent tags every line with the emitting component
func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

// LogApply logs one write applied by the coordinator
func (l *Logger) LogApply(ctx context.Context, kind, recordID string, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "apply failed",
			"kind", kind,
			"record_id", recordID,
			"duration", d,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "apply completed",
		"kind", kind,
		"record_id", recordID,
		"duration", d,
	)
}

// LogRetry logs a transient failure that will be retried
func (l *Logger) LogRetry(ctx context.Context, recordID string, attempt int, err error) {
	l.WarnContext(ctx, "store busy, retrying",
		"record_id", recordID,
		"attempt", attempt,
		"error", err,
	)
}

// LogEmbeddingShortfall logs fields left unembedded by a write
func (l *Logger) LogEmbeddingShortfall(ctx context.Context, recordID string, missing []string, err error) {
	l.WarnContext(ctx, "embedding incomplete",
		"record_id", recordID,
		"field", strings.Join(missing, ","),
		"error", err,
	)
}

// LogStaleMemberships logs bucket memberships that no longer matched the row's vectors
func (l *Logger) LogStaleMemberships(ctx context.Context, recordID string, rowID int64, stale int) {
	l.WarnContext(ctx, "index consistency: stale bucket memberships replaced",
		"record_id", recordID,
		"row_id", rowID,
		"stale", stale,
	)
}

// LogSearch logs a completed search
func (l *Logger) LogSearch(ctx context.Context, level, topK, results int, d time.Duration) {
	l.DebugContext(ctx, "search completed",
		"level", level,
		"k", topK,
		"results", results,
		"duration", d,
	)
}

// LogPassFailure logs a search pass that contributed nothing because it failed
func (l *Logger) LogPassFailure(ctx context.Context, pass string, err error) {
	l.WarnContext(ctx, "search pass failed",
		"pass", pass,
		"error", err,
	)
}
