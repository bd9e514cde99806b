// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import "sync"

// ClaimSet tracks which transcript files are attached to live
// sessions. When several sessions share one log directory, the claim
// set prevents two trackers from tailing the same file. All methods
// are safe for concurrent use.
type ClaimSet struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// NewClaimSet returns an empty claim set.
func NewClaimSet() *ClaimSet {
	return &ClaimSet{paths: make(map[string]struct{})}
}

// Claim attaches path to the caller. Returns false if another session
// already holds it.
func (c *ClaimSet) Claim(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.paths[path]; taken {
		return false
	}
	c.paths[path] = struct{}{}
	return true
}

// Release detaches path so a later session reusing the directory is
// not blocked. Releasing an unclaimed path is a no-op.
func (c *ClaimSet) Release(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.paths, path)
}

// Claimed reports whether path is currently attached to a session.
func (c *ClaimSet) Claimed(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, taken := c.paths[path]
	return taken
}
