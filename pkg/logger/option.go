package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Option configures the logger built by New.
type Option func(*zap.Config)

func WithLevel(level zapcore.Level) Option {
	return func(c *zap.Config) {
		c.Level.SetLevel(level)
	}
}

func WithEncoderConfig(encoderConfig zapcore.EncoderConfig) Option {
	return func(c *zap.Config) {
		c.EncoderConfig = encoderConfig
	}
}

// WithOutputPaths replaces the default stderr output.
func WithOutputPaths(paths ...string) Option {
	return func(c *zap.Config) {
		c.OutputPaths = paths
	}
}
