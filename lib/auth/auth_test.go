// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestIssueAndValidate(t *testing.T) {
	t.Parallel()
	service := NewService()

	token, err := service.IssueToken("alice")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if !strings.HasPrefix(token, "afk_") {
		t.Errorf("token prefix: got %q, want afk_ prefix", token)
	}

	userID, ok := service.ValidateToken(token)
	if !ok {
		t.Fatal("ValidateToken rejected a freshly issued token")
	}
	if userID != "alice" {
		t.Errorf("ValidateToken user: got %q, want %q", userID, "alice")
	}
}

func TestValidateUnknownToken(t *testing.T) {
	t.Parallel()
	service := NewService()

	if _, ok := service.ValidateToken("afk_not-a-real-token"); ok {
		t.Error("ValidateToken accepted an unknown token")
	}
}

func TestIssueEmptyUser(t *testing.T) {
	t.Parallel()
	service := NewService()

	if _, err := service.IssueToken(""); err == nil {
		t.Error("IssueToken with empty user: got nil error")
	}
}

func TestRevoke(t *testing.T) {
	t.Parallel()
	service := NewService()

	token, err := service.IssueToken("alice")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	service.RevokeToken(token)

	if _, ok := service.ValidateToken(token); ok {
		t.Error("ValidateToken accepted a revoked token")
	}
}

func TestRevokeHash(t *testing.T) {
	t.Parallel()
	service := NewService()

	token, err := service.IssueToken("alice")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	entries := service.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(entries))
	}
	service.RevokeHash(entries[0].Hash)

	if _, ok := service.ValidateToken(token); ok {
		t.Error("ValidateToken accepted a token revoked by hash")
	}
}

func TestTokensAreUnique(t *testing.T) {
	t.Parallel()
	service := NewService()

	first, err := service.IssueToken("alice")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	second, err := service.IssueToken("alice")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if first == second {
		t.Error("two issued tokens are identical")
	}
}

func TestTokenFileRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tokens.yaml")

	issuer := NewService()
	token, err := issuer.IssueToken("alice")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if err := issuer.SaveTokenFile(path); err != nil {
		t.Fatalf("SaveTokenFile: %v", err)
	}

	validator := NewService()
	if err := validator.LoadTokenFile(path); err != nil {
		t.Fatalf("LoadTokenFile: %v", err)
	}
	userID, ok := validator.ValidateToken(token)
	if !ok || userID != "alice" {
		t.Errorf("validate after reload: got (%q, %v), want (alice, true)", userID, ok)
	}
}

func TestLoadMissingTokenFile(t *testing.T) {
	t.Parallel()
	service := NewService()

	if err := service.LoadTokenFile(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Errorf("LoadTokenFile on missing file: got %v, want nil", err)
	}
}
