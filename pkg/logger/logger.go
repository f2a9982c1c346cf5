// Package logger owns the process-wide zap logger shared by the connector
// components and the CLI.
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the global logger. Encoding is "json" for services and
// "console" for interactive use.
type Config struct {
	Level       string
	Encoding    string
	OutputPaths []string
}

var (
	mu     sync.Mutex
	global *zap.Logger
)

// Init builds and installs the global logger. Later calls replace the
// previous logger, so a CLI flag can override defaults installed earlier.
func Init(cfg Config) error {
	logger, err := build(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	global = logger
	mu.Unlock()
	return nil
}

func build(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encoder := zap.NewProductionEncoderConfig()
	encoder.TimeKey = "ts"
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder.EncodeDuration = zapcore.StringDurationEncoder
	if cfg.Encoding == "console" {
		encoder.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	// Extraction output goes to stdout, so logs default to stderr.
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         cfg.Encoding,
		EncoderConfig:    encoder,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	return zapCfg.Build()
}

// Get returns the global logger, installing a production default if Init was
// never called.
func Get() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		logger, err := build(Config{Level: "info", Encoding: "json"})
		if err != nil {
			logger = zap.NewNop()
		}
		global = logger
	}
	return global
}

// ForSystem returns the global logger scoped to one target system.
func ForSystem(systemID string) *zap.Logger {
	return Get().With(zap.String("system_id", systemID))
}

// Sync flushes buffered entries. Safe to call before Init.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		return nil
	}
	return global.Sync()
}
