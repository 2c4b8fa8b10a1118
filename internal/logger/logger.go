// Package logger is the observability sink: one plain line per interception
// or failure on the console, plus an optional rotated JSON log file.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how log lines are written.
type Config struct {
	// File, if set, receives a JSON copy of every entry, rotated by size.
	File string

	// Timestamps prefixes console lines with an ISO8601 time and level.
	Timestamps bool

	// Verbose enables debug entries.
	Verbose bool

	// Console overrides the console destination (os.Stdout by default).
	Console zapcore.WriteSyncer
}

// Logger writes interception records and errors.
type Logger struct {
	z *zap.Logger
}

// New builds a Logger from cfg.
func New(cfg Config) (*Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Verbose {
		level.SetLevel(zapcore.DebugLevel)
	}

	console := cfg.Console
	if console == nil {
		console = zapcore.Lock(os.Stdout)
	}

	// Console lines carry only the message unless timestamps are asked for.
	consoleConfig := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	if cfg.Timestamps {
		consoleConfig.TimeKey = "ts"
		consoleConfig.LevelKey = "level"
		consoleConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		consoleConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), console, level),
	}

	if cfg.File != "" {
		fileConfig := zap.NewProductionEncoderConfig()
		fileConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileConfig), fileWriter, level))
	}

	return NewWithCore(zapcore.NewTee(cores...)), nil
}

// NewWithCore wraps an existing zap core, e.g. zaptest/observer in tests.
func NewWithCore(core zapcore.Core) *Logger {
	return &Logger{z: zap.New(core)}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// Interception records one intercepted connection.
func (l *Logger) Interception(remote, dest string) {
	l.z.Info("Intercepted: " + remote + " -> " + dest)
}

// Failure records an error that was handled without stopping the loop.
func (l *Logger) Failure(err error) {
	l.z.Error("Error: " + err.Error())
}

// Infof logs a formatted informational line.
func (l *Logger) Infof(format string, args ...any) {
	l.z.Info(fmt.Sprintf(format, args...))
}

// Debugf logs a formatted line when verbose logging is enabled.
func (l *Logger) Debugf(format string, args ...any) {
	if !l.z.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	l.z.Debug(fmt.Sprintf(format, args...))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}
