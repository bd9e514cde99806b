// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth issues and validates the opaque bearer tokens that
// observer and host connections present to the relay. Tokens are
// random strings; the service stores only their blake3 hashes, so a
// leaked token file does not leak usable credentials.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// tokenPrefix marks afk-code tokens so they are recognizable in
// configs and logs without revealing anything about their contents.
const tokenPrefix = "afk_"

// tokenEntropyBytes is the random payload size per token. 32 bytes
// keeps brute force out of reach for the lifetime of any session.
const tokenEntropyBytes = 32

// Service maps bearer tokens to user IDs. All methods are safe for
// concurrent use.
type Service struct {
	mu sync.RWMutex

	// tokens maps hex-encoded blake3 token hashes to their entries.
	tokens map[string]Entry
}

// Entry records one issued token. The plaintext token is returned
// exactly once from IssueToken and never stored.
type Entry struct {
	// UserID is the user the token authenticates as.
	UserID string `yaml:"user"`

	// Hash is the hex-encoded blake3 hash of the plaintext token.
	Hash string `yaml:"hash"`

	// CreatedAt records when the token was issued.
	CreatedAt time.Time `yaml:"created_at"`
}

// NewService returns an empty token service.
func NewService() *Service {
	return &Service{tokens: make(map[string]Entry)}
}

// IssueToken mints a fresh bearer token for userID and returns the
// plaintext. The service retains only the token's hash.
func (s *Service) IssueToken(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("issue token: empty user ID")
	}

	entropy := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(entropy); err != nil {
		return "", fmt.Errorf("issue token: reading entropy: %w", err)
	}
	token := tokenPrefix + base64.RawURLEncoding.EncodeToString(entropy)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[hashToken(token)] = Entry{
		UserID:    userID,
		Hash:      hashToken(token),
		CreatedAt: time.Now().UTC(),
	}
	return token, nil
}

// ValidateToken resolves a bearer token to the user ID it was issued
// for. Returns ok=false for unknown or revoked tokens.
func (s *Service) ValidateToken(token string) (userID string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.tokens[hashToken(token)]
	if !ok {
		return "", false
	}
	return entry.UserID, true
}

// RevokeToken removes a token. Subsequent ValidateToken calls for it
// fail. Revoking an unknown token is a no-op.
func (s *Service) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, hashToken(token))
}

// RevokeHash removes the token whose stored hash matches. It exists
// for administrative tooling, which only ever sees hashes.
func (s *Service) RevokeHash(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, hash)
}

// Entries returns a snapshot of all issued token entries, for listing
// and persistence.
func (s *Service) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]Entry, 0, len(s.tokens))
	for _, entry := range s.tokens {
		entries = append(entries, entry)
	}
	return entries
}

// hashToken returns the hex-encoded blake3 hash of a plaintext token.
func hashToken(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
