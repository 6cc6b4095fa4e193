// Package logger provides the logging abstraction used by the connection and
// the eager loader, with adapters for log/slog and go.uber.org/zap.
package logger

import "log/slog"

// Logger is a leveled, structured logger taking key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NoopLogger discards everything. It is the default.
type NoopLogger struct{}

// Debug does nothing.
func (NoopLogger) Debug(_ string, _ ...any) {}

// Info does nothing.
func (NoopLogger) Info(_ string, _ ...any) {}

// Warn does nothing.
func (NoopLogger) Warn(_ string, _ ...any) {}

// Error does nothing.
func (NoopLogger) Error(_ string, _ ...any) {}

// SlogAdapter adapts a *slog.Logger.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps logger, which must not be nil.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Debug logs at debug level.
func (a *SlogAdapter) Debug(msg string, args ...any) { a.logger.Debug(msg, args...) }

// Info logs at info level.
func (a *SlogAdapter) Info(msg string, args ...any) { a.logger.Info(msg, args...) }

// Warn logs at warn level.
func (a *SlogAdapter) Warn(msg string, args ...any) { a.logger.Warn(msg, args...) }

// Error logs at error level.
func (a *SlogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
