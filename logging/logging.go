// Package logging provides module-scoped loggers carried in context.Context.
package logging

import (
	"context"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is used by mimespool components to emit logs.
type Logger = *zap.SugaredLogger

// LoggerFactory retrieves a named logger for a given module.
type LoggerFactory func(module string) Logger

// NullLogger is a logger that discards all output.
var NullLogger = zap.NewNop().Sugar() //nolint:gochecknoglobals

func getNullLogger(module string) Logger {
	return NullLogger
}

// Module returns a function that returns a logger for a given module when provided with a context.
func Module(module string) func(ctx context.Context) Logger {
	return func(ctx context.Context) Logger {
		if l := ctx.Value(loggerKey); l != nil {
			//nolint:forcetypeassert
			return l.(LoggerFactory)(module)
		}

		return NullLogger
	}
}

// ToWriter returns LoggerFactory that writes unadorned messages to the provided writer.
func ToWriter(w io.Writer) LoggerFactory {
	return func(module string) Logger {
		return zap.New(
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
					TimeKey:       zapcore.OmitKey,
					LevelKey:      zapcore.OmitKey,
					NameKey:       zapcore.OmitKey,
					CallerKey:     zapcore.OmitKey,
					FunctionKey:   zapcore.OmitKey,
					MessageKey:    "M",
					StacktraceKey: zapcore.OmitKey,
					LineEnding:    zapcore.DefaultLineEnding,
				}),
				zapcore.AddSync(w),
				zapcore.DebugLevel,
			),
		).Sugar()
	}
}

// Console returns LoggerFactory that writes timestamped, leveled output to w at or above the given level.
func Console(w io.Writer, level zapcore.Level) LoggerFactory {
	return func(module string) Logger {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		ec.CallerKey = zapcore.OmitKey

		return zap.New(
			zapcore.NewCore(zapcore.NewConsoleEncoder(ec), zapcore.AddSync(w), level),
		).Sugar().Named(module)
	}
}

// Broadcast is a logger that broadcasts each log message to multiple loggers.
func Broadcast(logger ...Logger) Logger {
	var cores []zapcore.Core

	for _, l := range logger {
		cores = append(cores, l.Desugar().Core())
	}

	return zap.New(zapcore.NewTee(cores...)).Sugar()
}

// JSON returns LoggerFactory that writes one JSON object per entry to w at or above the given level.
func JSON(w io.Writer, level zapcore.Level) LoggerFactory {
	return func(module string) Logger {
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder

		return zap.New(
			zapcore.NewCore(zapcore.NewJSONEncoder(ec), zapcore.AddSync(w), level),
		).Sugar().Named(module)
	}
}
