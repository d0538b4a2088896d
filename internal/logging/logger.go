package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/edvin/ec2-inventory/internal/config"
)

// NewLogger creates a structured zerolog.Logger with context fields from the
// config. Logs go to stderr: stdout is reserved for the inventory document
// Ansible reads.
func NewLogger(cfg *config.Config) zerolog.Logger {
	return newLogger(os.Stderr, cfg)
}

func newLogger(w io.Writer, cfg *config.Config) zerolog.Logger {
	ctx := zerolog.New(w).With().Timestamp().Str("service", config.ServiceName)

	if cfg.Region != "" {
		ctx = ctx.Str("region", cfg.Region)
	}
	if cfg.ClusterName != "" {
		ctx = ctx.Str("cluster", cfg.ClusterName)
	}
	if cfg.ASGName != "" {
		ctx = ctx.Str("asg", cfg.ASGName)
	}

	logger := ctx.Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
