// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for ollamadesk.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation.
//
// Configuration file location (in order of precedence):
//   - ~/.ollamadesk/config.toml
//   - Built-in defaults
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/jeranaias/ollamadesk/internal/capability"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete ollamadesk configuration.
type Config struct {
	Version string `toml:"version"`

	// Server configuration (Ollama)
	Server ServerConfig `toml:"server"`

	// Models configuration
	Models ModelsConfig `toml:"models"`

	// Storage configuration
	Storage StorageConfig `toml:"storage"`

	// Capability holds the keyword fallback table for models whose
	// capabilities cannot be queried.
	Capability capability.KeywordTable `toml:"capability"`
}

// ServerConfig contains Ollama server configuration.
type ServerConfig struct {
	// URL is the base URL of the Ollama server
	URL string `toml:"url"`
	// TimeoutSecs applies to non-streaming requests
	TimeoutSecs int `toml:"timeout_secs"`
}

// ModelsConfig contains model selection configuration.
type ModelsConfig struct {
	// Default is the model used for new conversations
	Default string `toml:"default"`
	// TitleModel generates conversation titles (empty = conversation model)
	TitleModel string `toml:"title_model"`
}

// StorageConfig contains persistence configuration.
type StorageConfig struct {
	// DataDir holds the conversation database (empty = ~/.ollamadesk)
	DataDir string `toml:"data_dir"`
	// ExportDir is where exports are written (empty = current directory)
	ExportDir string `toml:"export_dir"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Server: ServerConfig{
			URL:         "http://127.0.0.1:11434",
			TimeoutSecs: 30,
		},

		Models: ModelsConfig{
			Default:    "qwen3:8b",
			TitleModel: "",
		},

		Storage: StorageConfig{
			DataDir:   "",
			ExportDir: ".",
		},

		Capability: capability.DefaultKeywordTable(),
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the ollamadesk configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "could not determine home directory")
	}
	return filepath.Join(home, ".ollamadesk"), nil
}

// Path returns the path to the config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureDir ensures the config directory exists.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file, falling back to defaults
// when none exists. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path with validation.
// A missing file is not an error; defaults are used.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, statErr := os.Stat(path); statErr == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "decode config %s", path)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default config file.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath saves the configuration to a TOML file.
func SaveToPath(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create config directory")
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, "create config file")
	}
	defer file.Close()

	fmt.Fprintln(file, "# ollamadesk configuration file")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return errors.Wrap(err, "encode config")
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.URL != "" {
		u, err := url.Parse(c.Server.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "server.url",
				Message: fmt.Sprintf("invalid URL %q", c.Server.URL),
			})
		}
	}

	if c.Server.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.timeout_secs",
			Message: "must be non-negative",
		})
	}

	if c.Models.Default == "" {
		errs = append(errs, ValidationError{
			Field:   "models.default",
			Message: "must not be empty",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults sets default values for any missing configuration fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Server.URL == "" {
		c.Server.URL = defaults.Server.URL
	}
	if c.Server.TimeoutSecs == 0 {
		c.Server.TimeoutSecs = defaults.Server.TimeoutSecs
	}
	if c.Models.Default == "" {
		c.Models.Default = defaults.Models.Default
	}
	if c.Storage.ExportDir == "" {
		c.Storage.ExportDir = defaults.Storage.ExportDir
	}
	if c.Capability.IsEmpty() {
		c.Capability = defaults.Capability
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - OLLAMADESK_URL: overrides server.url
//   - OLLAMADESK_MODEL: overrides models.default
//   - OLLAMADESK_TITLE_MODEL: overrides models.title_model
//   - OLLAMADESK_DATA_DIR: overrides storage.data_dir
func (c *Config) ApplyEnvOverrides() {
	if u := os.Getenv("OLLAMADESK_URL"); u != "" {
		c.Server.URL = u
	}
	if m := os.Getenv("OLLAMADESK_MODEL"); m != "" {
		c.Models.Default = m
	}
	if m := os.Getenv("OLLAMADESK_TITLE_MODEL"); m != "" {
		c.Models.TitleModel = m
	}
	if d := os.Getenv("OLLAMADESK_DATA_DIR"); d != "" {
		c.Storage.DataDir = d
	}
}

// =============================================================================
// DERIVED PATHS
// =============================================================================

// DatabasePath returns the conversation database file path.
func (c *Config) DatabasePath() (string, error) {
	dir := c.Storage.DataDir
	if dir == "" {
		var err error
		dir, err = Dir()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "conversations.db"), nil
}

// Timeout returns the request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Server.TimeoutSecs) * time.Second
}
