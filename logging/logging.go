// Package logging builds the zap loggers used across the service.
package logging

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvLogLevel       = "FREIGHT_LOG_LEVEL"
	EnvLogDevelopment = "FREIGHT_LOG_DEVELOPMENT"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

type Options struct {
	Level       string
	Development bool
}

// New builds a logger for profile. Explicit options override the profile
// defaults and the environment overrides both.
func New(profile Profile, opts Options) (*zap.Logger, error) {
	cfg := defaultConfig(profile)
	if lvl, ok := parseLevel(opts.Level); ok {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	if opts.Development {
		useDevelopment(&cfg)
	}
	applyEnvOverrides(&cfg, os.LookupEnv)

	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}
	return log.Named("freightmarket"), nil
}

func defaultConfig(profile Profile) zap.Config {
	switch profile {
	case ProfileTest:
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.EncoderConfig.TimeKey = ""
		return cfg
	default:
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return cfg
	}
}

func useDevelopment(cfg *zap.Config) {
	level := cfg.Level
	*cfg = zap.NewDevelopmentConfig()
	cfg.Level = level
}

func applyEnvOverrides(cfg *zap.Config, lookup func(string) (string, bool)) {
	if raw, ok := lookup(EnvLogDevelopment); ok {
		if v, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil && v {
			useDevelopment(cfg)
		}
	}
	if raw, ok := lookup(EnvLogLevel); ok {
		if lvl, ok := parseLevel(raw); ok {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
}

func parseLevel(raw string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zapcore.DebugLevel, true
	case "info":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}
