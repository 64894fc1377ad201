// Package observability holds the process-wide structured logger.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process logger. It is a no-op until InitCLILogger runs.
var CLILogger = zap.NewNop()

// InitCLILogger installs a JSON logger on stderr tagged with service. Verbose
// enables debug level; otherwise LOG_LEVEL (debug, info, warn, error) applies,
// defaulting to info.
func InitCLILogger(service string, verbose bool) {
	level := zapcore.InfoLevel
	if lvl, ok := parseLevel(os.Getenv("LOG_LEVEL")); ok {
		level = lvl
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	CLILogger = NewLogger(service, level)
}

// NewLogger builds a production JSON logger at level.
func NewLogger(service string, level zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = level > zapcore.DebugLevel

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.With(zap.String("service", service))
}

// Sync flushes buffered log entries.
func Sync() {
	_ = CLILogger.Sync()
}

func parseLevel(s string) (zapcore.Level, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return zapcore.InfoLevel, false
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return zapcore.InfoLevel, false
	}
	return lvl, true
}
