// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// tokenFile is the on-disk YAML shape shared by the relay daemon and
// the afk-token CLI. It holds hashes only, never plaintext tokens.
type tokenFile struct {
	Tokens []Entry `yaml:"tokens"`
}

// LoadTokenFile populates the service from a YAML token file. A
// missing file is not an error — the service starts empty and the
// first SaveTokenFile creates it.
func (s *Service) LoadTokenFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading token file %s: %w", path, err)
	}

	var file tokenFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing token file %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range file.Tokens {
		if entry.Hash == "" || entry.UserID == "" {
			return fmt.Errorf("token file %s: entry missing hash or user", path)
		}
		s.tokens[entry.Hash] = entry
	}
	return nil
}

// SaveTokenFile writes all issued token entries to a YAML file with
// owner-only permissions. The write is atomic (write + rename) so a
// concurrent reader never sees a torn file.
func (s *Service) SaveTokenFile(path string) error {
	entries := s.Entries()
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].UserID != entries[j].UserID {
			return entries[i].UserID < entries[j].UserID
		}
		return entries[i].Hash < entries[j].Hash
	})

	data, err := yaml.Marshal(tokenFile{Tokens: entries})
	if err != nil {
		return fmt.Errorf("encoding token file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	temp := path + ".tmp"
	if err := os.WriteFile(temp, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := os.Rename(temp, path); err != nil {
		return fmt.Errorf("replacing token file: %w", err)
	}
	return nil
}
