package testlogging

import (
	"bytes"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kopia/mimespool/logging"
)

// bareEncoderConfig emits only the message and structured fields.
//
//nolint:gochecknoglobals
var bareEncoderConfig = zapcore.EncoderConfig{
	TimeKey:        zapcore.OmitKey,
	LevelKey:       zapcore.OmitKey,
	NameKey:        zapcore.OmitKey,
	CallerKey:      zapcore.OmitKey,
	FunctionKey:    zapcore.OmitKey,
	MessageKey:     "M",
	StacktraceKey:  "S",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeDuration: zapcore.StringDurationEncoder,
}

// Printf returns a logger that uses given printf-style function to print log output.
func Printf(printf func(msg string, args ...interface{}), prefix string) logging.Logger {
	return PrintfLevel(printf, prefix, zapcore.DebugLevel)
}

// PrintfLevel returns a logger that uses given printf-style function to print log output for logs of a given level or above.
func PrintfLevel(printf func(msg string, args ...interface{}), prefix string, level zapcore.Level) logging.Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(bareEncoderConfig),
		printfSink{printf, prefix},
		level,
	)

	return zap.New(core).Sugar()
}

// PrintfFactory returns LoggerFactory that uses given printf-style function to print log output.
func PrintfFactory(printf func(msg string, args ...interface{})) logging.LoggerFactory {
	return func(module string) logging.Logger {
		return Printf(printf, "["+module+"] ")
	}
}

// printfSink adapts a printf-style function to zapcore.WriteSyncer, one call per log line.
type printfSink struct {
	printf func(msg string, args ...interface{})
	prefix string
}

func (w printfSink) Write(p []byte) (int, error) {
	w.printf("%s%s", w.prefix, bytes.TrimRight(p, "\n"))

	return len(p), nil
}

func (w printfSink) Sync() error {
	return nil
}
