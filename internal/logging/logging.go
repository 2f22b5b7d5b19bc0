// Package logging builds the zap loggers used across shmlog.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/srediag/shmlog/pkg/config"
)

// EnvLevel supplies the level when the config leaves it empty.
const EnvLevel = "SHMLOG_LOG_LEVEL"

// New returns a JSON production logger, or a colored console logger in
// development mode.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	name := cfg.Level
	if name == "" {
		name = os.Getenv(EnvLevel)
	}
	if name == "" {
		name = "info"
	}
	level, err := ParseLevel(name)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// NewDefault returns a production logger at the $SHMLOG_LOG_LEVEL level,
// info if unset, falling back to a no-op logger if zap cannot open its sinks.
func NewDefault() *zap.Logger {
	l, err := New(config.LogConfig{})
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// ParseLevel maps debug, info, warn and error to zap levels.
func ParseLevel(name string) (zapcore.Level, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
