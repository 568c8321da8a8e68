package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop()
)

// Init replaces the global logger. level is one of debug, info, warn, error.
func Init(level string, development bool) error {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	SetLogger(l)
	return nil
}

func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Sync() {
	_ = L().Sync()
}

func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	L().Fatal(msg, fields...)
}
