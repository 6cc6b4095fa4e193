package logger

import "go.uber.org/zap"

// ZapAdapter adapts a *zap.SugaredLogger; key-value pairs map onto the
// sugared logger's "w" methods.
type ZapAdapter struct {
	logger *zap.SugaredLogger
}

// NewZapAdapter wraps logger, which must not be nil.
func NewZapAdapter(logger *zap.SugaredLogger) *ZapAdapter {
	return &ZapAdapter{logger: logger}
}

// Debug logs at debug level.
func (a *ZapAdapter) Debug(msg string, args ...any) { a.logger.Debugw(msg, args...) }

// Info logs at info level.
func (a *ZapAdapter) Info(msg string, args ...any) { a.logger.Infow(msg, args...) }

// Warn logs at warn level.
func (a *ZapAdapter) Warn(msg string, args ...any) { a.logger.Warnw(msg, args...) }

// Error logs at error level.
func (a *ZapAdapter) Error(msg string, args ...any) { a.logger.Errorw(msg, args...) }

// Named returns a child adapter whose logger name is extended by name.
func (a *ZapAdapter) Named(name string) *ZapAdapter {
	return &ZapAdapter{logger: a.logger.Named(name)}
}
