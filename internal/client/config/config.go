// Package config holds the logbook client settings, read from a YAML file
// with environment overrides for the secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeBulk   = "bulk"
	ModeSingle = "single"
)

type Config struct {
	ServerURL    string        `yaml:"server_url"`
	Token        string        `yaml:"token"`
	DatabasePath string        `yaml:"database_path"`
	Mode         string        `yaml:"mode"`
	BatchSize    int           `yaml:"batch_size"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	AppEnv       string        `yaml:"app_env"`
}

func Default() *Config {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return &Config{
		ServerURL:    "http://localhost:8080",
		DatabasePath: filepath.Join(dir, "logbook", "logbook.db"),
		Mode:         ModeBulk,
		BatchSize:    100,
		Timeout:      30 * time.Second,
		AppEnv:       "production",
	}
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "logbook.yaml"
	}
	return filepath.Join(dir, "logbook", "config.yaml")
}

// Load reads path over the defaults. A missing file is not an error.
// LOGBOOK_SERVER and LOGBOOK_TOKEN override the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if v := os.Getenv("LOGBOOK_SERVER"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("LOGBOOK_TOKEN"); v != "" {
		cfg.Token = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Mode != ModeBulk && c.Mode != ModeSingle {
		return fmt.Errorf("invalid mode %q: must be %q or %q", c.Mode, ModeBulk, ModeSingle)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.DatabasePath == "" {
		return errors.New("database_path is required")
	}
	return nil
}
