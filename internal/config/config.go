// Package config loads and hot-reloads the process tuning file backing
// spec.md §6's configuration table (maxRetryAttempts, initialRetryDelayMs,
// retryBackoffMultiplier, workerPoolSize, queueCapacity, per-system
// connectorTimeoutMs, defaultZombieIntervalDays, signCertificates).
//
// Grounded on kadirpekel-hector, jinterlante1206-AleutianLocal, and
// jordigilh-kubernaut, all three of which load a YAML config file on
// startup and re-load it on fsnotify.Write events; this package follows
// the same load-then-watch shape, generalized to this domain's fields.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration, YAML-decoded from disk.
type Config struct {
	MaxRetryAttempts        int                      `yaml:"maxRetryAttempts"`
	InitialRetryDelayMs     int                      `yaml:"initialRetryDelayMs"`
	RetryBackoffMultiplier  float64                  `yaml:"retryBackoffMultiplier"`
	WorkerPoolSize          int                      `yaml:"workerPoolSize"`
	QueueCapacity           int                      `yaml:"queueCapacity"`
	ConnectorTimeoutMs      map[string]int           `yaml:"connectorTimeoutMs"`
	DefaultZombieIntervalDays int                    `yaml:"defaultZombieIntervalDays"`
	SignCertificates         bool                    `yaml:"signCertificates"`
	ZombieScanCadence        string                  `yaml:"zombieScanCadence"`
}

// Default returns the configuration spec.md §6 names as defaults.
func Default() Config {
	return Config{
		MaxRetryAttempts:          3,
		InitialRetryDelayMs:       1000,
		RetryBackoffMultiplier:    2.0,
		WorkerPoolSize:            4,
		QueueCapacity:             256,
		ConnectorTimeoutMs:        map[string]int{"default": 15000},
		DefaultZombieIntervalDays: 30,
		SignCertificates:          true,
		ZombieScanCadence:         "6h",
	}
}

// InitialRetryDelay returns InitialRetryDelayMs as a time.Duration.
func (c Config) InitialRetryDelay() time.Duration {
	return time.Duration(c.InitialRetryDelayMs) * time.Millisecond
}

// ConnectorTimeout returns the configured timeout for system, falling back
// to the "default" entry, and finally to 15s if neither is set.
func (c Config) ConnectorTimeout(system string) time.Duration {
	if ms, ok := c.ConnectorTimeoutMs[system]; ok {
		return time.Duration(ms) * time.Millisecond
	}
	if ms, ok := c.ConnectorTimeoutMs["default"]; ok {
		return time.Duration(ms) * time.Millisecond
	}
	return 15 * time.Second
}

// ZombieScanInterval parses ZombieScanCadence, defaulting to 6 hours on an
// empty or invalid value (spec.md §6: "cron... default cadence every 6
// hours").
func (c Config) ZombieScanInterval() time.Duration {
	if c.ZombieScanCadence == "" {
		return 6 * time.Hour
	}
	d, err := time.ParseDuration(c.ZombieScanCadence)
	if err != nil {
		return 6 * time.Hour
	}
	return d
}

// Load reads and YAML-decodes the config file at path, filling any fields
// the file omits with Default()'s values.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
