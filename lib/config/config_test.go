// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}

	if cfg.Auth.SocketPath != "/run/gridline/auth.sock" {
		t.Errorf("expected socket_path=/run/gridline/auth.sock, got %s", cfg.Auth.SocketPath)
	}

	if cfg.Auth.AllowAny {
		t.Error("expected allow_any=false by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_RequiresGridlineConfig(t *testing.T) {
	// Save and restore GRIDLINE_CONFIG.
	origConfig := os.Getenv("GRIDLINE_CONFIG")
	defer os.Setenv("GRIDLINE_CONFIG", origConfig)

	// Unset GRIDLINE_CONFIG - Load() should fail.
	os.Unsetenv("GRIDLINE_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when GRIDLINE_CONFIG not set, got nil")
	}

	expectedMsg := "GRIDLINE_CONFIG environment variable not set"
	if err.Error()[:len(expectedMsg)] != expectedMsg {
		t.Errorf("expected error message to start with %q, got %q", expectedMsg, err.Error())
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "gridline.yaml")

	configContent := `
environment: staging

paths:
  root: /custom/root

auth:
  policy_file: /custom/auth.json
  socket_path: /custom/auth.sock
  allow_any: true
  watch_debounce: 1s
  log_level: debug
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}

	if cfg.Paths.Root != "/custom/root" {
		t.Errorf("expected root=/custom/root, got %s", cfg.Paths.Root)
	}

	if cfg.Auth.PolicyFile != "/custom/auth.json" {
		t.Errorf("expected policy_file=/custom/auth.json, got %s", cfg.Auth.PolicyFile)
	}

	if !cfg.Auth.AllowAny {
		t.Error("expected allow_any=true")
	}

	if got := cfg.WatchDebounceDuration(); got != time.Second {
		t.Errorf("expected watch_debounce=1s, got %v", got)
	}

	if cfg.Auth.LogLevel != "debug" {
		t.Errorf("expected log_level=debug, got %s", cfg.Auth.LogLevel)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "gridline.yaml")

	configContent := `
environment: production

paths:
  root: /default/root

auth:
  allow_any: true

production:
  paths:
    root: /prod/root
  auth:
    allow_any: false
    log_level: warn
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	// Production overrides should be applied.
	if cfg.Paths.Root != "/prod/root" {
		t.Errorf("expected root=/prod/root, got %s", cfg.Paths.Root)
	}

	if cfg.Auth.AllowAny {
		t.Error("expected allow_any=false from production override")
	}

	if cfg.Auth.LogLevel != "warn" {
		t.Errorf("expected log_level=warn, got %s", cfg.Auth.LogLevel)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/gridline",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/gridline",
		},
		{
			input:    "${MISSING:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${GRIDLINE_ROOT}/auth.json",
			vars:     map[string]string{"GRIDLINE_ROOT": "/srv/gridline"},
			expected: "/srv/gridline/auth.json",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid environment",
			modify: func(c *Config) {
				c.Environment = "invalid"
			},
			wantErr: true,
		},
		{
			name: "empty root path",
			modify: func(c *Config) {
				c.Paths.Root = ""
			},
			wantErr: true,
		},
		{
			name: "empty policy file",
			modify: func(c *Config) {
				c.Auth.PolicyFile = ""
			},
			wantErr: true,
		},
		{
			name: "unparsable watch debounce",
			modify: func(c *Config) {
				c.Auth.WatchDebounce = "soon"
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Auth.LogLevel = "verbose"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnsurePaths(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Default()
	cfg.Paths.Root = filepath.Join(tmpDir, "gridline")
	cfg.Paths.State = filepath.Join(cfg.Paths.Root, "state")
	cfg.Auth.PolicyFile = filepath.Join(cfg.Paths.Root, "auth", "auth.json")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths failed: %v", err)
	}

	for _, path := range []string{cfg.Paths.Root, cfg.Paths.State, filepath.Dir(cfg.Auth.PolicyFile)} {
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("path %s not created: %v", path, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("path %s is not a directory", path)
		}
	}
}
