package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configure the process logger
type Options struct {
	// Level is the minimum level written to the log file
	Level string
	// File is the rotated JSON log file; empty disables file logging
	File string
	// ConsoleLevel is the minimum level echoed to stderr; empty disables it.
	// The chat view owns stdout, so the console core stays quiet by default.
	ConsoleLevel string
}

// New builds a zap logger writing JSON to a rotated file, teed with an
// optional human-readable console core
func New(opts Options) (*zap.Logger, error) {
	var cores []zapcore.Core

	if opts.File != "" {
		level, err := parseLevel(opts.Level, zap.InfoLevel)
		if err != nil {
			return nil, err
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // Megabytes
			MaxBackups: 5,
			MaxAge:     30, // Days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileEncoderConfig()),
			zapcore.AddSync(rotator),
			level,
		))
	}

	if opts.ConsoleLevel != "" {
		level, err := parseLevel(opts.ConsoleLevel, zap.WarnLevel)
		if err != nil {
			return nil, err
		}
		cores = append(cores, newConsoleCore(os.Stderr, level))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func fileEncoderConfig() zapcore.EncoderConfig {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return encoderConfig
}

func newConsoleCore(w io.Writer, level zapcore.LevelEnabler) zapcore.Core {
	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(zapcore.AddSync(w)),
		level,
	)
}

func parseLevel(text string, fallback zapcore.Level) (zapcore.Level, error) {
	if text == "" {
		return fallback, nil
	}
	level, err := zapcore.ParseLevel(text)
	if err != nil {
		return fallback, fmt.Errorf("invalid log level %q: %w", text, err)
	}
	return level, nil
}
