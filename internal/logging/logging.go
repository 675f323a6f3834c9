package logging

import (
	"log/slog"
	"os"
)

// Logger is a thin leveled wrapper that writes structured key/value
// records to the console.
type Logger struct {
	l *slog.Logger
}

// NewLogger creates a new Logger.
func NewLogger() *Logger {
	return &Logger{
		l: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})),
	}
}

// With returns a Logger carrying additional key/value context.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{l: l.l.With(args...)}
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) {
	l.l.Info(msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.l.Warn(msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.l.Error(msg, args...)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.l.Debug(msg, args...)
}
