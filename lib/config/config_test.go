// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "listen: \":9000\"\nowner_user: alice\n")

	configuration, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if configuration.Listen != ":9000" {
		t.Errorf("Listen: got %q, want %q", configuration.Listen, ":9000")
	}
	if configuration.OwnerUser != "alice" {
		t.Errorf("OwnerUser: got %q, want %q", configuration.OwnerUser, "alice")
	}
	// Unspecified fields keep their defaults.
	if configuration.PollInterval != time.Second {
		t.Errorf("PollInterval default: got %v, want %v", configuration.PollInterval, time.Second)
	}
	if configuration.LogLevel != "info" {
		t.Errorf("LogLevel default: got %q, want %q", configuration.LogLevel, "info")
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "log_level: loud\n")

	if _, err := Load(path); err == nil {
		t.Error("Load with bad log level: got nil error")
	}
}

func TestLoadRejectsNonPositivePollInterval(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "poll_interval: -1s\n")

	if _, err := Load(path); err == nil {
		t.Error("Load with negative poll interval: got nil error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load on missing file: got nil error")
	}
}

func TestDefaultValidates(t *testing.T) {
	t.Parallel()

	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate(): %v", err)
	}
}
