package config

import (
	"github.com/creasty/defaults"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coregx/relicorm/internal/logger"
)

// Logging defines logger configuration.
type Logging struct {
	Level string `yaml:"level" default:"info"`
	// Format is "console" or "json".
	Format string `yaml:"format" default:"console"`
}

// UnmarshalYAML implements the yaml.InterfaceUnmarshaler interface.
func (l *Logging) UnmarshalYAML(unmarshal func(interface{}) error) error {
	if err := defaults.Set(l); err != nil {
		return err
	}
	// Prevent recursion.
	type self Logging
	return unmarshal((*self)(l))
}

// Validate checks level and format.
func (l *Logging) Validate() error {
	if _, err := zapcore.ParseLevel(l.Level); err != nil {
		return errors.Wrap(err, "invalid logging level")
	}
	switch l.Format {
	case "console", "json":
		return nil
	}
	return errors.Errorf("invalid logging format %q", l.Format)
}

// NewZapLogger builds a zap logger writing to stderr.
func (l *Logging) NewZapLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, errors.Wrap(err, "invalid logging level")
	}

	cfg := zap.NewProductionConfig()
	if l.Format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = l.Format

	return cfg.Build()
}

// NewLogger builds a zap-backed logger for the connection layer.
func (l *Logging) NewLogger() (logger.Logger, error) {
	z, err := l.NewZapLogger()
	if err != nil {
		return nil, err
	}
	return logger.NewZapAdapter(z.Sugar().Named("relicorm")), nil
}
