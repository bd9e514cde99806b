// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import "testing"

func TestClaimSetExclusive(t *testing.T) {
	t.Parallel()
	claims := NewClaimSet()

	if !claims.Claim("/logs/a.jsonl") {
		t.Fatal("first Claim failed")
	}
	if claims.Claim("/logs/a.jsonl") {
		t.Error("second Claim of the same path succeeded")
	}
	if !claims.Claimed("/logs/a.jsonl") {
		t.Error("Claimed reports false for a held path")
	}
}

func TestClaimSetRelease(t *testing.T) {
	t.Parallel()
	claims := NewClaimSet()

	claims.Claim("/logs/a.jsonl")
	claims.Release("/logs/a.jsonl")

	if claims.Claimed("/logs/a.jsonl") {
		t.Error("Claimed reports true after Release")
	}
	if !claims.Claim("/logs/a.jsonl") {
		t.Error("Claim failed after Release")
	}
}

func TestClaimSetReleaseUnknownPath(t *testing.T) {
	t.Parallel()
	claims := NewClaimSet()

	// Must not panic or affect other paths.
	claims.Release("/logs/never-claimed.jsonl")
}
