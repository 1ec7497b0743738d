// Package logging builds the process logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level string `yaml:"level" env:"LEVEL"`
	// Mode is "prod" for JSON output or "dev" for console output.
	Mode string `yaml:"mode" env:"MODE"`
}

// New returns a logger and the level that controls it, so callers can change
// verbosity at runtime.
func New(c Config) (*zap.Logger, zap.AtomicLevel, error) {
	var cfg zap.Config
	switch strings.ToLower(c.Mode) {
	case "", "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "dev", "development":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, zap.AtomicLevel{}, fmt.Errorf("unknown log mode %q", c.Mode)
	}

	lvl := zap.NewAtomicLevelAt(zap.InfoLevel)
	if c.Level != "" {
		if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, zap.AtomicLevel{}, fmt.Errorf("log level: %w", err)
		}
	}
	cfg.Level = lvl

	l, err := cfg.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	return l, lvl, nil
}
