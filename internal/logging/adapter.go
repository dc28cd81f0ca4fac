package logging

import (
	"context"
	"log/slog"
)

// Logger provides structured logging for pandock components.
// This interface allows callers to plug in their own logging implementation.
type Logger interface {
	// Debug logs debug-level messages with optional key-value pairs.
	Debug(msg string, keysAndValues ...interface{})

	// Info logs info-level messages with optional key-value pairs.
	Info(msg string, keysAndValues ...interface{})

	// Warn logs warning-level messages with optional key-value pairs.
	Warn(msg string, keysAndValues ...interface{})

	// Error logs error-level messages with optional key-value pairs.
	Error(msg string, keysAndValues ...interface{})
}

// noopLogger is a Logger implementation that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (noopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (noopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (noopLogger) Error(msg string, keysAndValues ...interface{}) {}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return noopLogger{}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// slogLogger adapts *slog.Logger to Logger.
type slogLogger struct {
	l *slog.Logger
}

// FromSlog wraps l. A nil l yields a no-op logger.
func FromSlog(l *slog.Logger) Logger {
	if l == nil {
		return Nop()
	}
	return slogLogger{l: l}
}

func (s slogLogger) Debug(msg string, keysAndValues ...interface{}) {
	s.l.Log(context.Background(), slog.LevelDebug, msg, keysAndValues...)
}

func (s slogLogger) Info(msg string, keysAndValues ...interface{}) {
	s.l.Log(context.Background(), slog.LevelInfo, msg, keysAndValues...)
}

func (s slogLogger) Warn(msg string, keysAndValues ...interface{}) {
	s.l.Log(context.Background(), slog.LevelWarn, msg, keysAndValues...)
}

func (s slogLogger) Error(msg string, keysAndValues ...interface{}) {
	s.l.Log(context.Background(), slog.LevelError, msg, keysAndValues...)
}
