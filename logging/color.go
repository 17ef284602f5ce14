package logging

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ColorConsole is like Console but highlights log levels with ANSI colors.
func ColorConsole(w io.Writer, level zapcore.Level) LoggerFactory {
	return func(module string) Logger {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.CallerKey = zapcore.OmitKey

		return zap.New(
			zapcore.NewCore(zapcore.NewConsoleEncoder(ec), zapcore.AddSync(w), level),
		).Sugar().Named(module)
	}
}
