// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads relay daemon configuration from a single YAML
// file. There are no fallbacks or automatic discovery: the file is
// named explicitly by flag, and flag values override file values. This
// keeps configuration deterministic and auditable with no hidden
// overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the relay daemon configuration.
type Config struct {
	// Listen is the TCP address for the WebSocket/health listener
	// (e.g., ":8787", "127.0.0.1:8787").
	Listen string `yaml:"listen"`

	// HostSocket is the Unix socket path where host processes announce
	// sessions.
	HostSocket string `yaml:"host_socket"`

	// TokenFile is the YAML file of issued bearer token hashes, shared
	// with the afk-token CLI.
	TokenFile string `yaml:"token_file"`

	// OwnerUser is the user ID assigned to connections arriving on the
	// local host socket. Local processes are trusted implicitly; the
	// socket itself is the authentication boundary.
	OwnerUser string `yaml:"owner_user"`

	// PollInterval is the transcript poll backstop interval. Filesystem
	// notifications provide low latency; the poll guarantees progress
	// when notifications are missed or coalesced.
	PollInterval time.Duration `yaml:"poll_interval"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file and no flags
// are given.
func Default() Config {
	return Config{
		Listen:       "127.0.0.1:8787",
		HostSocket:   "/tmp/afk-relay.sock",
		TokenFile:    "",
		OwnerUser:    "",
		PollInterval: time.Second,
		LogLevel:     "info",
	}
}

// Load reads the YAML file at path and merges it over Default().
// Fields absent from the file keep their defaults.
func Load(path string) (Config, error) {
	configuration := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &configuration); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := configuration.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return configuration, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.HostSocket == "" {
		return fmt.Errorf("host socket path is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}
