// Package logging sets up the proxy's structured logger and the
// transaction logger: a swappable package-level default zap.Logger
// built at init time with sane production defaults, replaced once
// configuration is loaded.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	defaultLogger   *zap.Logger
	defaultLoggerMu sync.RWMutex
)

func init() {
	defaultLogger, _ = newProductionLogger(zapcore.InfoLevel)
}

// Log returns the process-wide default logger.
func Log() *zap.Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// Configure rebuilds the default logger for the given level name
// ("debug", "info", "warn", "error"), JSON-encoded to stderr. It is
// called once at startup after configuration is loaded.
func Configure(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	logger, err := newProductionLogger(lvl)
	if err != nil {
		return err
	}
	defaultLoggerMu.Lock()
	old := defaultLogger
	defaultLogger = logger
	defaultLoggerMu.Unlock()
	old.Sync() //nolint:errcheck
	return nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return 0, err
		}
		return lvl, nil
	}
}

func newProductionLogger(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// NewForTest returns a logger writing to an injectable core, for tests
// that want to assert on emitted records.
func NewForTest(core zapcore.Core) *zap.Logger {
	return zap.New(core)
}
