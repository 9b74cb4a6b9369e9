package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	DatabaseURL     string        `yaml:"database_url"`
	JWTSecret       string        `yaml:"jwt_secret"`
	Port            string        `yaml:"port"`
	CORSOrigin      string        `yaml:"cors_origin"`
	ServiceKeyHash  string        `yaml:"service_key_hash"`
	Store           string        `yaml:"store"`
	Workers         int           `yaml:"workers"`
	UserTimeout     time.Duration `yaml:"user_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	DefaultTimezone string        `yaml:"default_timezone"`
	MigrationsDir   string        `yaml:"migrations_dir"`
}

func Default() Config {
	return Config{
		Port:            "8080",
		Store:           StorePostgres,
		Workers:         4,
		UserTimeout:     30 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
		DefaultTimezone: "UTC",
	}
}

// Load layers defaults, an optional .env in the working directory, the YAML
// file at path (skipped when empty) and the environment, in that order.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"DATABASE_URL":     &cfg.DatabaseURL,
		"JWT_SECRET":       &cfg.JWTSecret,
		"PORT":             &cfg.Port,
		"CORS_ORIGIN":      &cfg.CORSOrigin,
		"SERVICE_KEY_HASH": &cfg.ServiceKeyHash,
		"STORE":            &cfg.Store,
		"LOG_LEVEL":        &cfg.LogLevel,
		"LOG_FORMAT":       &cfg.LogFormat,
		"DEFAULT_TIMEZONE": &cfg.DefaultTimezone,
		"MIGRATIONS_DIR":   &cfg.MigrationsDir,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WORKERS: %w", err)
		}
		cfg.Workers = n
	}
	if v := os.Getenv("USER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("USER_TIMEOUT: %w", err)
		}
		cfg.UserTimeout = d
	}
	return nil
}

// Validate checks what every command needs. Commands that sign or verify
// tokens also call RequireJWT.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("WORKERS must be positive, got %d", c.Workers))
	}
	if c.UserTimeout <= 0 {
		errs = append(errs, fmt.Errorf("USER_TIMEOUT must be positive, got %s", c.UserTimeout))
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_TIMEZONE: %w", err))
	}
	return errors.Join(errs...)
}

func (c Config) RequireJWT() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}
