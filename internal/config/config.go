// Package config loads todosync configuration from YAML.
//
// A file is decoded strictly (unknown keys are errors) on top of Default, so
// a file only needs the keys it changes. The result is validated with
// go-playground/validator struct tags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/todosync/internal/persist"
)

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Config is the complete todosync configuration.
type Config struct {
	// Backend selects durable storage: sqlite, badger, file or redis.
	Backend string `yaml:"backend" validate:"required,oneof=sqlite badger file redis"`

	// Path is the database file, badger directory or JSON document.
	// Unused by the redis backend.
	Path string `yaml:"path"`

	Redis RedisConfig `yaml:"redis"`

	// Workers is the number of persistence lanes.
	Workers int `yaml:"workers" validate:"gte=1,lte=64"`

	Retry RetryConfig `yaml:"retry"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
	Instance string `yaml:"instance" validate:"omitempty,max=64"`
}

// RetryConfig configures persistence retries.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" validate:"gte=1,lte=100"`
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `yaml:"max_interval" validate:"gtefield=InitialInterval"`
	Multiplier      float64       `yaml:"multiplier" validate:"gte=1"`
}

// Default returns the built-in configuration.
func Default() Config {
	def := persist.DefaultRetryPolicy()
	return Config{
		Backend: BackendSQLite,
		Path:    "todosync.db",
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Instance: "default",
		},
		Workers: persist.DefaultWorkers,
		Retry: RetryConfig{
			MaxAttempts:     def.MaxAttempts,
			InitialInterval: def.InitialInterval,
			MaxInterval:     def.MaxInterval,
			Multiplier:      def.Multiplier,
		},
		LogLevel: "warn",
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(backendRequirements, Config{})
	return v
}

// backendRequirements checks fields whose need depends on the backend.
func backendRequirements(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	switch cfg.Backend {
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			sl.ReportError(cfg.Redis.Addr, "Redis.Addr", "addr", "required_for_redis", "")
		}
		if cfg.Redis.Instance == "" {
			sl.ReportError(cfg.Redis.Instance, "Redis.Instance", "instance", "required_for_redis", "")
		}
	case BackendSQLite, BackendBadger, BackendFile:
		if cfg.Path == "" {
			sl.ReportError(cfg.Path, "Path", "path", "required_for_backend", cfg.Backend)
		}
	}
}

// Load reads the file at path over Default. An empty path returns Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field and returns one error naming each violation.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// RetryPolicy converts the retry section for persist.WithRetryPolicy.
func (c Config) RetryPolicy() persist.RetryPolicy {
	return persist.RetryPolicy{
		MaxAttempts:     c.Retry.MaxAttempts,
		InitialInterval: c.Retry.InitialInterval,
		MaxInterval:     c.Retry.MaxInterval,
		Multiplier:      c.Retry.Multiplier,
	}
}

// SlogLevel maps LogLevel to a slog level. Unknown values map to info.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
