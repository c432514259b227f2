// Package logging builds the zap loggers used across the core. Components
// receive a *zap.Logger named after their subsystem (cache, router, session,
// controller) so log output can be filtered per concern.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs the root production logger. verbose drops the level to
// debug. Callers own the returned logger and must Sync it on shutdown.
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// NewAtLevel builds a logger at an explicit level string (debug, info,
// warn, error). Unknown levels fall back to info.
func NewAtLevel(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Nop returns a disabled logger for tests and optional dependencies.
func Nop() *zap.Logger { return zap.NewNop() }
