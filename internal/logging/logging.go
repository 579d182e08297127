// Package logging provides a thin category-tagged wrapper around
// zap.Logger so sandbox, library-gate, and require-resolver events can
// be filtered independently without a package-level global logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names the subsystem a log entry belongs to, expressed as a
// zap field rather than routing to separate log files per subsystem.
type Category string

const (
	CategorySandbox    Category = "sandbox"
	CategoryLibraries  Category = "libraries"
	CategoryRequire    Category = "require"
	CategorySerializer Category = "serializer"
	CategoryHost       Category = "host"
)

// Tagged returns base with a "category" field bound, so every entry
// logged through the result carries its subsystem without the caller
// repeating zap.String("category", ...) everywhere.
func Tagged(base *zap.Logger, cat Category) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return base.With(zap.String("category", string(cat)))
}

// New builds a *zap.Logger for the cmd/sandboxctl host driver:
// production encoding by default, debug level when verbose is set.
// It mirrors cmd/nerd/main.go's PersistentPreRunE logger construction.
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}
