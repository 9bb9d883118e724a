// Package logger provides the process-wide logging facade, backed by
// zap. Before Init it drops everything, so library packages can log
// unconditionally.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/finchley/parley/pkg/config"
)

var log = zap.NewNop().Sugar()

// Init builds the real logger from global config. Safe to call more
// than once; later calls rebuild with the current settings.
func Init() error {
	settings := config.Get()

	level, err := zapcore.ParseLevel(settings.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	if settings.Logging.LogFile != "" {
		cfg.OutputPaths = []string{settings.Logging.LogFile}
		cfg.ErrorOutputPaths = []string{settings.Logging.LogFile}
	}

	built, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	log = built.Sugar()
	return nil
}

// WithLogger swaps in a caller-provided logger. Tests use this to
// capture output.
func WithLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	log = l.Sugar()
}

// Sync flushes buffered log entries.
func Sync() {
	_ = log.Sync()
}

func Debug(format string, args ...any) {
	log.Debugf(format, args...)
}

func Info(format string, args ...any) {
	log.Infof(format, args...)
}

func Warn(format string, args ...any) {
	log.Warnf(format, args...)
}

func Error(format string, args ...any) {
	log.Errorf(format, args...)
}
