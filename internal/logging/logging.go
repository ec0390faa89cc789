// Package logging builds the zap logger used by the service and adapts it
// to core.Logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"wardtrace/internal/core"
)

// Config selects the log level and encoder.
type Config struct {
	Level       string `yaml:"level"` // debug|info|warn|error, default info
	Development bool   `yaml:"development"`
}

// ParseLevel maps a level name to a zap level. The empty string is info.
func ParseLevel(name string) (zapcore.Level, error) {
	var level zapcore.Level
	if strings.TrimSpace(name) == "" {
		return zapcore.InfoLevel, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return level, fmt.Errorf("log level %q: %w", name, err)
	}
	return level, nil
}

// NewZap builds a production (JSON) or development (console) zap logger.
func NewZap(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// NewLogger builds a zap logger for cfg and wraps it as a core.Logger.
func NewLogger(cfg Config) (*Logger, error) {
	z, err := NewZap(cfg)
	if err != nil {
		return nil, err
	}
	return Wrap(z), nil
}

// Logger adapts a zap logger to core.Logger using the sugared key/value API.
type Logger struct {
	z     *zap.Logger
	sugar *zap.SugaredLogger
}

var _ core.Logger = (*Logger)(nil)

// Wrap adapts z. A nil z yields a no-op logger.
func Wrap(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z, sugar: z.Sugar()}
}

// Zap returns the underlying logger.
func (l *Logger) Zap() *zap.Logger { return l.z }

// Named returns a child logger with a component name.
func (l *Logger) Named(name string) *Logger { return Wrap(l.z.Named(name)) }

func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.z.Sync() }
