// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Schema     SchemaConfig     `yaml:"schema"`
	Validation ValidationConfig `yaml:"validation"`
	Hasher     HasherConfig     `yaml:"hasher"`
	IDs        IDConfig         `yaml:"ids"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// StoreConfig configures the record store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// SchemaConfig configures where record type definitions are read from.
type SchemaConfig struct {
	Dir string `yaml:"dir"`
}

// ValidationConfig configures input validation.
type ValidationConfig struct {
	Strict bool `yaml:"strict"` // Reject fields a type does not declare
}

// HasherConfig configures secret hashing.
type HasherConfig struct {
	Cost int `yaml:"cost"` // bcrypt cost
}

// IDConfig configures identity generation.
type IDConfig struct {
	Generator string `yaml:"generator"` // "uuid" or "uuidv7"
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Textfile string `yaml:"textfile"` // Written on exit when set
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	QUERYKIT_STORE_DRIVER       - Store driver: sqlite or memory (default: sqlite)
//	QUERYKIT_STORE_DSN          - Database path (default: querykit.db)
//	QUERYKIT_SCHEMA_DIR         - Record type definitions (default: schemas)
//	QUERYKIT_VALIDATION_STRICT  - Reject undeclared fields (default: false)
//	QUERYKIT_HASHER_COST        - bcrypt cost (default: 10)
//	QUERYKIT_IDS_GENERATOR      - Identity scheme: uuid or uuidv7 (default: uuid)
//	QUERYKIT_LOG_LEVEL          - Log level: debug, info, warn, error (default: info)
//	QUERYKIT_LOG_FORMAT         - Log format: json or console (default: json)
//	QUERYKIT_METRICS_ENABLED    - Collect metrics (default: false)
//	QUERYKIT_METRICS_TEXTFILE   - Write metrics to this file on exit
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads from file when it exists, otherwise from
// environment variables and defaults.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// HasEnvConfig returns true if any QUERYKIT_* variable is set.
func HasEnvConfig() bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "QUERYKIT_") {
			return true
		}
	}
	return false
}

// applyEnvOverrides applies QUERYKIT_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Store configuration
	if v := os.Getenv("QUERYKIT_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("QUERYKIT_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}

	// Schema configuration
	if v := os.Getenv("QUERYKIT_SCHEMA_DIR"); v != "" {
		cfg.Schema.Dir = v
	}

	// Validation configuration
	if v := os.Getenv("QUERYKIT_VALIDATION_STRICT"); v != "" {
		cfg.Validation.Strict = parseBool(v)
	}

	// Hasher configuration
	if v := os.Getenv("QUERYKIT_HASHER_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Hasher.Cost = n
		}
	}

	// Identity configuration
	if v := os.Getenv("QUERYKIT_IDS_GENERATOR"); v != "" {
		cfg.IDs.Generator = v
	}

	// Logging configuration
	if v := os.Getenv("QUERYKIT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("QUERYKIT_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("QUERYKIT_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("QUERYKIT_METRICS_TEXTFILE"); v != "" {
		cfg.Metrics.Textfile = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.DSN == "" && cfg.Store.Driver == "sqlite" {
		cfg.Store.DSN = "querykit.db"
	}

	if cfg.Schema.Dir == "" {
		cfg.Schema.Dir = "schemas"
	}

	if cfg.Hasher.Cost == 0 {
		cfg.Hasher.Cost = bcrypt.DefaultCost
	}

	if cfg.IDs.Generator == "" {
		cfg.IDs.Generator = "uuid"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// A textfile implies collection.
	if cfg.Metrics.Textfile != "" {
		cfg.Metrics.Enabled = true
	}
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{"sqlite": true, "memory": true}
	if !validDrivers[cfg.Store.Driver] {
		return fmt.Errorf("store.driver must be 'sqlite' or 'memory', got %q", cfg.Store.Driver)
	}

	if cfg.Hasher.Cost < bcrypt.MinCost || cfg.Hasher.Cost > bcrypt.MaxCost {
		return fmt.Errorf("hasher.cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, cfg.Hasher.Cost)
	}

	validGenerators := map[string]bool{"uuid": true, "uuidv7": true}
	if !validGenerators[cfg.IDs.Generator] {
		return fmt.Errorf("ids.generator must be 'uuid' or 'uuidv7', got %q", cfg.IDs.Generator)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	return nil
}
