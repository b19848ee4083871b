// Package logging provides structured logging on top of zap, adapted from
// market_maker/pkg/logging: same console encoder and per-component field
// scoping, without the OpenTelemetry log bridge (see DESIGN.md for why).
package logging

import (
	"os"
	"strings"

	"dcaengine/internal/core"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements core.ILogger on top of *zap.SugaredLogger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// New creates a ZapLogger at the given level ("DEBUG", "INFO", "WARN",
// "ERROR", "FATAL"; defaults to INFO on an unrecognized value).
func New(levelStr string) (*ZapLogger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core_ := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(zapcore.AddSync(os.Stdout)),
		parseLevel(levelStr),
	)

	logger := zap.New(core_, zap.AddCaller(), zap.AddCallerSkip(1))
	return &ZapLogger{sugar: logger.Sugar()}, nil
}

func parseLevel(levelStr string) zapcore.Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return zap.DebugLevel
	case "WARN":
		return zap.WarnLevel
	case "ERROR":
		return zap.ErrorLevel
	case "FATAL":
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}

func (l *ZapLogger) Debug(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *ZapLogger) Info(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *ZapLogger) Warn(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *ZapLogger) Error(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }

// WithField returns a logger that always attaches key=value, mirroring
// market_maker's core.ILogger.WithField chaining convention.
func (l *ZapLogger) WithField(key string, value interface{}) core.ILogger {
	return &ZapLogger{sugar: l.sugar.With(key, value)}
}
