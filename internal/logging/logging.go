// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// Level for the console core: debug, info, warn or error.
	Level string
	// File receives every entry at debug and above when set, rotated by
	// lumberjack.
	File       string
	MaxSizeMB  int
	MaxAgeDays int
	// Console defaults to stderr so command output on stdout stays clean.
	Console io.Writer
}

// New returns a logger that tees a console core and an optional rotating
// file core.
func New(opts Options) (*zap.Logger, error) {
	var level zapcore.Level
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	encConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encConfig),
			zapcore.Lock(zapcore.AddSync(console)),
			zap.LevelEnablerFunc(func(l zapcore.Level) bool {
				return l >= level
			})),
	}
	if opts.File != "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encConfig),
			zapcore.AddSync(&lumberjack.Logger{
				Filename: opts.File,
				MaxSize:  opts.MaxSizeMB,
				MaxAge:   opts.MaxAgeDays,
			}),
			zap.LevelEnablerFunc(func(l zapcore.Level) bool {
				return l >= zap.DebugLevel
			})))
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}
