package chunkgo

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with chunkgo-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithPath adds a file path field to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// WithOffset adds a chunk offset field to the logger.
func (l *Logger) WithOffset(offset int64) *Logger {
	return &Logger{
		Logger: l.Logger.With("offset", offset),
	}
}

// WithChunkSize adds a chunk size field to the logger.
func (l *Logger) WithChunkSize(size int) *Logger {
	return &Logger{
		Logger: l.Logger.With("chunk_size", size),
	}
}

// LogLoad logs a chunk load from the underlying reader.
func (l *Logger) LogLoad(ctx context.Context, path string, offset int64, bytes int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "chunk load failed",
			"path", path,
			"offset", offset,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "chunk loaded",
			"path", path,
			"offset", offset,
			"bytes", bytes,
		)
	}
}

// LogInvalidateFile logs a whole-file invalidation.
func (l *Logger) LogInvalidateFile(path string, chunks int) {
	l.Debug("file chunks invalidated",
		"path", path,
		"chunks", chunks,
	)
}

// LogClose logs cache shutdown.
func (l *Logger) LogClose(entries int, weightedBytes int64) {
	l.Info("chunk cache closed",
		"entries_dropped", entries,
		"weighted_bytes", weightedBytes,
	)
}
