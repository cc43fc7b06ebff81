// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads proxygate's startup configuration from an optional
// YAML file, with command-line flags taking precedence over file values and
// file values taking precedence over built-in defaults — grounded on
// _examples/nishisan-dev-n-backup's internal/config package
// (LoadServerConfig: read, unmarshal, validate-and-default).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is proxygate's full startup configuration.
type Config struct {
	Port            int           `yaml:"port"`
	BufferSize      int           `yaml:"buffer_size"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	FetchRatePerSec float64       `yaml:"fetch_rate_per_second"`
	WorkerPoolSize  int           `yaml:"worker_pool_size"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	LogLevel        string        `yaml:"log_level"`
}

// Default returns the built-in defaults. Port has no built-in default since
// it is deployment-specific; it must come from the config file or a flag.
func Default() Config {
	return Config{
		BufferSize:      500,
		CacheTTL:        5 * time.Minute,
		SweepInterval:   5 * time.Minute,
		FetchTimeout:    30 * time.Second,
		FetchRatePerSec: 0,
		WorkerPoolSize:  64,
		MetricsEnabled:  false,
		MetricsAddr:     "127.0.0.1:9090",
		LogLevel:        "info",
	}
}

// BatchBodySize returns BUFFER_SIZE-8, the datagram payload size per batch.
func (c Config) BatchBodySize() int {
	return c.BufferSize - 8
}

// Load reads path (if non-empty) over the defaults. A missing path is not
// an error — Load returns the defaults unmodified. Load does not validate:
// callers that still have command-line overrides to apply (cmd/proxygated)
// must call Validate once those are merged in.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate reports whether c is a runnable configuration. Call it after
// merging in any command-line overrides.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Port)
	}
	if c.BufferSize <= 8 {
		return fmt.Errorf("buffer_size must be > 8 (8 bytes are reserved for the datagram header), got %d", c.BufferSize)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive, got %s", c.CacheTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval)
	}
	if c.WorkerPoolSize < 0 {
		return fmt.Errorf("worker_pool_size must be >= 0 (0 means unbounded), got %d", c.WorkerPoolSize)
	}
	return nil
}
