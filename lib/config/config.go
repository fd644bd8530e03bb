// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Gridline components.
//
// Configuration is loaded from a single file specified by:
//   - GRIDLINE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections (development,
// staging, production) that override base values when the environment matches.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for Gridline.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Auth configures the authentication coordinator.
	Auth AuthConfig `yaml:"auth"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths *PathsConfig `yaml:"paths,omitempty"`
	Auth  *AuthConfig  `yaml:"auth,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for Gridline data.
	Root string `yaml:"root"`

	// State is where runtime state is stored.
	State string `yaml:"state"`
}

// AuthConfig configures the authentication coordinator.
type AuthConfig struct {
	// PolicyFile is the path to the credential policy document.
	// Default: ${GRIDLINE_ROOT}/auth.json
	PolicyFile string `yaml:"policy_file"`

	// SocketPath is the Unix socket the coordinator serves RPC on.
	// Default: /run/gridline/auth.sock
	SocketPath string `yaml:"socket_path"`

	// AllowAny admits every incoming credential without a matching
	// policy entry. Intended for development only.
	// Default: false
	AllowAny bool `yaml:"allow_any"`

	// WatchDebounce is how long file events must stay quiet before the
	// policy file is reloaded. Parsed with time.ParseDuration.
	// Default: 250ms
	WatchDebounce string `yaml:"watch_debounce"`

	// LogLevel is the minimum slog level (debug, info, warn, error).
	// Default: info
	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "gridline")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:  defaultRoot,
			State: filepath.Join(defaultRoot, "state"),
		},
		Auth: AuthConfig{
			PolicyFile:    filepath.Join(defaultRoot, "auth.json"),
			SocketPath:    "/run/gridline/auth.sock",
			AllowAny:      false,
			WatchDebounce: "250ms",
			LogLevel:      "info",
		},
	}
}

// Load loads configuration from GRIDLINE_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if GRIDLINE_CONFIG is not set, this fails.
// This ensures deterministic, auditable configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("GRIDLINE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("GRIDLINE_CONFIG environment variable not set; " +
			"set it to the path of your gridline.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values - this ensures deterministic, auditable configuration.
// The only expansion performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.State != "" {
			c.Paths.State = overrides.Paths.State
		}
	}

	if overrides.Auth != nil {
		if overrides.Auth.PolicyFile != "" {
			c.Auth.PolicyFile = overrides.Auth.PolicyFile
		}
		if overrides.Auth.SocketPath != "" {
			c.Auth.SocketPath = overrides.Auth.SocketPath
		}
		// AllowAny is a bool, so we always apply it from overrides.
		c.Auth.AllowAny = overrides.Auth.AllowAny
		if overrides.Auth.WatchDebounce != "" {
			c.Auth.WatchDebounce = overrides.Auth.WatchDebounce
		}
		if overrides.Auth.LogLevel != "" {
			c.Auth.LogLevel = overrides.Auth.LogLevel
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"GRIDLINE_ROOT": c.Paths.Root,
		"HOME":          os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["GRIDLINE_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Auth.PolicyFile = expandVars(c.Auth.PolicyFile, vars)
	c.Auth.SocketPath = expandVars(c.Auth.SocketPath, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}

	if c.Auth.PolicyFile == "" {
		errs = append(errs, fmt.Errorf("auth.policy_file is required"))
	}

	if c.Auth.SocketPath == "" {
		errs = append(errs, fmt.Errorf("auth.socket_path is required"))
	}

	if _, err := time.ParseDuration(c.Auth.WatchDebounce); err != nil {
		errs = append(errs, fmt.Errorf("auth.watch_debounce: %w", err))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !contains(levels, c.Auth.LogLevel) {
		errs = append(errs, fmt.Errorf("auth.log_level must be one of: %v", levels))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// WatchDebounceDuration returns the parsed watch debounce interval.
// Call Validate first; an unparsable value falls back to 250ms here.
func (c *Config) WatchDebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.Auth.WatchDebounce)
	if err != nil {
		return 250 * time.Millisecond
	}
	return d
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.State,
		filepath.Dir(c.Auth.PolicyFile),
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
