package infra

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerOptions configures NewLogger.
type LoggerOptions struct {
	// Path is the rotated JSON log file. Empty disables file output.
	Path string
	// Debug lowers the level to Debug and tees human-readable output to stderr.
	Debug bool
}

// NewLogger builds the process logger: production JSON with ISO8601 time
// into a lumberjack-rotated file. It never fails; without a usable log
// directory it falls back to stderr.
func NewLogger(opts LoggerOptions) *zap.Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Debug {
		level.SetLevel(zapcore.DebugLevel)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err == nil {
			writer := zapcore.AddSync(&lumberjack.Logger{
				Filename:   opts.Path,
				MaxSize:    10, // MB
				MaxBackups: 3,
				MaxAge:     28, // days
			})
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), writer, level))
		}
	}

	if opts.Debug || len(cores) == 0 {
		consoleConfig := zap.NewDevelopmentEncoderConfig()
		consoleConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleConfig),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}
