// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

// Package transcript follows the append-only session logs written by a
// hosted interactive agent and turns raw log growth into structured
// session events.
//
// The package is organized around the ingestion data flow:
//
//   - parser.go: pure classification of one log line into an event
//   - claim.go: the set of transcript files attached to live sessions
//   - tracker.go: per-session file discovery, tailing, and dedup
//   - supervisor.go: tracker lifecycle across many sessions
//
// Classification is best-effort: the log format belongs to the hosted
// agent, not to this system, so unparseable or unrecognized lines are
// dropped silently rather than treated as errors.
package transcript
