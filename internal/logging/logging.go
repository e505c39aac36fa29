// Package logging builds the zap logger shared by every component.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options describe where log lines go.
type Options struct {
	// ServiceName names the root logger.
	ServiceName string
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string
	// File receives JSON lines rotated by lumberjack. Empty disables the file core.
	File       string
	MaxSizeMB  int
	MaxBackups int
	// Console receives human-readable lines. Nil disables the console core,
	// which is what stdio transports need since stdout carries the protocol.
	Console zapcore.WriteSyncer
}

// New builds a logger that tees to the configured sinks. The returned
// function flushes buffered entries and should be deferred by the caller.
func New(opts Options) (*zap.Logger, func()) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	var cores []zapcore.Core
	if opts.Console != nil {
		cores = append(cores, zapcore.NewCore(consoleEncoder(), opts.Console, level))
	}
	if opts.File != "" {
		writer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		})
		cores = append(cores, zapcore.NewCore(jsonEncoder(), writer, level))
	}
	if len(cores) == 0 {
		return zap.NewNop(), func() {}
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel))
	if opts.ServiceName != "" {
		logger = logger.Named(opts.ServiceName)
	}
	return logger, func() { _ = logger.Sync() }
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func baseEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	return cfg
}

func jsonEncoder() zapcore.Encoder {
	cfg := baseEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(cfg)
}

func consoleEncoder() zapcore.Encoder {
	cfg := baseEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(cfg)
}
