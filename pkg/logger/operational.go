package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// NewOperational builds the zap logger used for the pipeline's own
// diagnostics. format is "json" or "console".
func NewOperational(level, format string) (*zap.Logger, error) {
	atomic, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging level: %w", err)
	}

	var cfg zap.Config
	switch format {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("logging format %q", format)
	}
	cfg.Level = atomic
	return cfg.Build()
}
