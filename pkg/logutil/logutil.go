// Package logutil wires every other package's logging through one
// zap.Logger, the way the teacher's pkg/logutil/logutil2 wraps a single
// GetGlobalLogger() behind package-level helpers.
package logutil

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var globalLogger atomic.Pointer[zap.Logger]

func init() {
	l, _ := zap.NewDevelopment()
	globalLogger.Store(l)
}

// FileConfig points the global logger's core at a rotated log file instead
// of stderr. Rotation parameters mirror the teacher's defaults for its own
// mo-service log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      zapcore.Level
}

// Configure replaces the global logger. Called once at server startup;
// safe to call again in tests.
func Configure(cfg FileConfig) {
	if cfg.Path == "" {
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(cfg.Level)
		l, _ := zc.Build()
		globalLogger.Store(l)
		return
	}

	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    orDefault(cfg.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 5),
		MaxAge:     orDefault(cfg.MaxAgeDays, 28),
	})
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(encoder, sink, cfg.Level)
	globalLogger.Store(zap.New(core, zap.AddCaller()))
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

// GetGlobalLogger returns the process-wide logger, matching the teacher's
// accessor name so call sites read the same way.
func GetGlobalLogger() *zap.Logger {
	return globalLogger.Load()
}

func with(fields ...zap.Field) *zap.Logger {
	return GetGlobalLogger().WithOptions(zap.AddCallerSkip(1))
}

func Debug(msg string, fields ...zap.Field) { with().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { with().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { with().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { with().Error(msg, fields...) }

func Debugf(msg string, args ...any) { with().Sugar().Debugf(msg, args...) }
func Infof(msg string, args ...any)  { with().Sugar().Infof(msg, args...) }
func Warnf(msg string, args ...any)  { with().Sugar().Warnf(msg, args...) }
func Errorf(msg string, args ...any) { with().Sugar().Errorf(msg, args...) }
