/**
 * @description
 * Structured logger for the SwarmBet backend.
 * Info messages go to stdout and errors to stderr so the hosting platform doesn't label them as errors.
 *
 * @dependencies
 * - go.uber.org/zap
 */

package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	sugar *zap.SugaredLogger
)

func init() {
	sugar = build("development").Sugar()
}

// Configure rebuilds the process logger for the given environment.
// Production and staging use the JSON encoder, everything else the console encoder.
func Configure(env string) {
	l := build(env)
	mu.Lock()
	sugar = l.Sugar()
	mu.Unlock()
}

func build(env string) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encoder := zapcore.NewConsoleEncoder(encCfg)
	level := zapcore.DebugLevel
	if env == "production" || env == "staging" {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
		level = zapcore.InfoLevel
	}

	stdout := zapcore.Lock(os.Stdout)
	stderr := zapcore.Lock(os.Stderr)

	infoLevels := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= level && l < zapcore.ErrorLevel
	})
	errorLevels := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.ErrorLevel
	})

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, stdout, infoLevels),
		zapcore.NewCore(encoder, stderr, errorLevels),
	)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Info logs an info message to stdout
func Info(format string, v ...interface{}) {
	current().Infof(format, v...)
}

// Warn logs a warning to stdout
func Warn(format string, v ...interface{}) {
	current().Warnf(format, v...)
}

// Error logs an error message to stderr
func Error(format string, v ...interface{}) {
	current().Errorf(format, v...)
}

// Fatal logs an error and exits
func Fatal(format string, v ...interface{}) {
	current().Fatalf(format, v...)
}

// Sync flushes buffered entries; call before exit.
func Sync() {
	_ = current().Sync()
}
