// Package config loads the sync server settings. Values come from an
// optional YAML file named by CONFIG_FILE and are then overridden by
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultTombstoneTTL = 30 * 24 * time.Hour

type Postgres struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	DB       string `yaml:"db"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN builds a lib/pq connection URL.
func (p Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.DB, p.SSLMode)
}

type Redis struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
}

// Enabled reports whether a Redis host was configured.
func (r Redis) Enabled() bool { return r.Host != "" }

func (r Redis) Addr() string { return r.Host + ":" + r.Port }

type Sync struct {
	TombstoneTTL     time.Duration `yaml:"tombstone_ttl"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	BulkBatchSize    int           `yaml:"bulk_batch_size"`
	BulkConcurrency  int           `yaml:"bulk_concurrency"`
	MaxBulkItems     int           `yaml:"max_bulk_items"`
	RateLimitRPS     float64       `yaml:"rate_limit_rps"`
	RateLimitBurst   int           `yaml:"rate_limit_burst"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	RequestBodyLimit int64         `yaml:"request_body_limit"`
}

type Config struct {
	AppEnv    string   `yaml:"app_env"`
	HTTPAddr  string   `yaml:"http_addr"`
	JWTSecret string   `yaml:"jwt_secret"`
	Postgres  Postgres `yaml:"postgres"`
	Redis     Redis    `yaml:"redis"`
	Sync      Sync     `yaml:"sync"`
}

func Default() *Config {
	return &Config{
		AppEnv:   "development",
		HTTPAddr: ":8080",
		Postgres: Postgres{Host: "localhost", Port: "5432", SSLMode: "disable"},
		Redis:    Redis{Port: "6379"},
		Sync: Sync{
			TombstoneTTL:     DefaultTombstoneTTL,
			SweepInterval:    time.Hour,
			BulkBatchSize:    100,
			BulkConcurrency:  3,
			MaxBulkItems:     1000,
			RateLimitRPS:     5,
			RateLimitBurst:   20,
			AllowedOrigins:   []string{"https://*", "http://localhost:8081"},
			RequestBodyLimit: 8 << 20,
		},
	}
}

// Load reads the YAML file (if CONFIG_FILE is set) and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.AppEnv, "APP_ENV")
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.JWTSecret, "JWT_SECRET")

	setString(&cfg.Postgres.Host, "PG_HOST")
	setString(&cfg.Postgres.Port, "PG_PORT")
	setString(&cfg.Postgres.User, "PG_USER")
	setString(&cfg.Postgres.DB, "PG_DB")
	setString(&cfg.Postgres.Password, "PG_PASSWORD")
	setString(&cfg.Postgres.SSLMode, "PG_SSLMODE")

	setString(&cfg.Redis.Host, "REDIS_HOST")
	setString(&cfg.Redis.Port, "REDIS_PORT")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	if err := setDuration(&cfg.Sync.TombstoneTTL, "TOMBSTONE_TTL"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Sync.SweepInterval, "SWEEP_INTERVAL"); err != nil {
		return err
	}
	if err := setInt(&cfg.Sync.BulkBatchSize, "BULK_BATCH_SIZE"); err != nil {
		return err
	}
	if err := setInt(&cfg.Sync.RateLimitBurst, "RATE_LIMIT_BURST"); err != nil {
		return err
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RPS %q: %w", v, err)
		}
		cfg.Sync.RateLimitRPS = rps
	}
	return nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	if c.Sync.TombstoneTTL <= 0 {
		return errors.New("tombstone ttl must be positive")
	}
	if c.Sync.BulkBatchSize <= 0 {
		return errors.New("bulk batch size must be positive")
	}
	if c.Sync.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}
