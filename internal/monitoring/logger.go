package monitoring

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var current atomic.Pointer[zap.Logger]

func init() {
	l, err := NewLogger("info", "console", "")
	if err != nil {
		l = zap.NewNop()
	}
	current.Store(l)
}

// L returns the package-level logger.
func L() *zap.Logger {
	return current.Load()
}

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	current.Store(l)
}

// Logf is printf-style sugar over the package logger at info level.
func Logf(format string, v ...interface{}) {
	L().Sugar().Infof(format, v...)
}

// NewLogger builds a logger.
// level: "debug", "info", "warn", "error" (default "info").
// format: "json" or "console" (default "json").
// service is attached as the service_name field when non-empty.
func NewLogger(level, format, service string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var config zap.Config
	if format == "console" {
		config = zap.NewDevelopmentConfig()
		config.DisableStacktrace = true
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.OutputPaths = []string{"stdout"}
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.ErrorOutputPaths = []string{"stderr"}

	l, err := config.Build()
	if err != nil {
		return nil, err
	}
	if service != "" {
		l = l.With(zap.String("service_name", service))
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" && format != "console" {
		l = l.With(zap.String("hostname", hostname))
	}
	return l, nil
}
