package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/vk/cutlet/internal/config"
	"github.com/vk/cutlet/internal/lifecycle"
)

// Option names that the document's runtime block may also set. An option
// given explicitly on the command line wins over the runtime block.
const (
	OptionWorkers         = "workers"
	OptionGracePeriod     = "grace-period"
	OptionHealthcheckPort = "healthcheck-port"
)

// Config holds all the necessary configuration for an App instance.
type Config struct {
	ConfigPaths     []string
	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	Workers         int
	GracePeriod     time.Duration
	Watch           bool
	Console         bool
	// Explicit records the options set on the command line.
	Explicit map[string]bool
}

// NewConfig validates the given configuration.
func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.ConfigPaths) == 0 {
		return nil, errors.New("configuration path cannot be empty")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.LogFormat)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("healthcheck port %d out of range", cfg.HealthcheckPort)
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must not be negative, got %d", cfg.Workers)
	}
	if cfg.GracePeriod < 0 {
		return nil, fmt.Errorf("grace period must not be negative, got %s", cfg.GracePeriod)
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = lifecycle.DefaultGracePeriod
	}
	if cfg.Explicit == nil {
		cfg.Explicit = make(map[string]bool)
	}
	return &cfg, nil
}

// runtimeSettings are the attributes of the document's runtime block.
type runtimeSettings struct {
	Workers         *int    `cty:"workers"`
	GracePeriod     *string `cty:"grace_period"`
	HealthcheckPort *int    `cty:"healthcheck_port"`
}

// applyRuntime fills options not set on the command line from the runtime
// block of doc. A document without a runtime block leaves cfg untouched.
func (cfg *Config) applyRuntime(doc *config.Document) error {
	section, ok := doc.Section("runtime")
	if !ok {
		return nil
	}
	var rt runtimeSettings
	if err := section.Decode(&rt); err != nil {
		return err
	}

	if rt.Workers != nil && !cfg.Explicit[OptionWorkers] {
		if *rt.Workers < 0 {
			return fmt.Errorf("%s: workers must not be negative, got %d", section.Path, *rt.Workers)
		}
		cfg.Workers = *rt.Workers
	}
	if rt.GracePeriod != nil && !cfg.Explicit[OptionGracePeriod] {
		d, err := time.ParseDuration(*rt.GracePeriod)
		if err != nil {
			return fmt.Errorf("%s: invalid grace_period: %w", section.Path, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s: grace_period must be positive, got %s", section.Path, d)
		}
		cfg.GracePeriod = d
	}
	if rt.HealthcheckPort != nil && !cfg.Explicit[OptionHealthcheckPort] {
		if *rt.HealthcheckPort < 0 || *rt.HealthcheckPort > 65535 {
			return fmt.Errorf("%s: healthcheck_port %d out of range", section.Path, *rt.HealthcheckPort)
		}
		cfg.HealthcheckPort = *rt.HealthcheckPort
	}
	return nil
}
