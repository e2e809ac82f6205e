package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the log output format.
type Options struct {
	// JSON enables production JSON-formatted logs.
	JSON bool
	// Development adds timestamps and callers for local debugging.
	Development bool
	// Verbose lowers the level to DEBUG.
	Verbose bool
}

// New builds a zap logger for the given options. Without JSON or
// Development it produces terse console output on stderr.
func New(opts Options) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if opts.Verbose {
		level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	switch {
	case opts.JSON:
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		return cfg.Build()
	case opts.Development:
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = level
		return cfg.Build()
	}

	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "", // no timestamps on the console
		EncodeLevel:    IconLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	})
	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level)
	return zap.New(core, zap.AddStacktrace(zapcore.FatalLevel)), nil
}

// IconLevelEncoder serializes only the important levels, as a short marker.
func IconLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch {
	case l >= zapcore.ErrorLevel:
		enc.AppendString("ERROR")
	case l == zapcore.WarnLevel:
		enc.AppendString("WARN")
	case l == zapcore.DebugLevel:
		enc.AppendString("debug")
	default:
		enc.AppendString("-")
	}
}
