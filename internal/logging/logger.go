package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	globalMu     sync.RWMutex
)

func init() {
	globalLogger = zap.NewNop()
}

// New creates a production zap logger from a level string
// ("debug", "info", "warn", "error").
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build(zap.AddCallerSkip(1))
}

// Global returns the process-wide logger.
func Global() *zap.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetGlobal installs the process-wide logger.
func SetGlobal(l *zap.Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// Debug logs at debug level using the global logger.
func Debug(msg string, fields ...zap.Field) { Global().Debug(msg, fields...) }

// Info logs at info level using the global logger.
func Info(msg string, fields ...zap.Field) { Global().Info(msg, fields...) }

// Warn logs at warn level using the global logger.
func Warn(msg string, fields ...zap.Field) { Global().Warn(msg, fields...) }

// Error logs at error level using the global logger.
func Error(msg string, fields ...zap.Field) { Global().Error(msg, fields...) }

// With creates a child logger with additional fields.
func With(fields ...zap.Field) *zap.Logger { return Global().With(fields...) }

// Sync flushes buffered log entries.
func Sync() { Global().Sync() }
