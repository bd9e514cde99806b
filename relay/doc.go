// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay routes session events from hosting processes to remote
// observers and input commands back.
//
// The package is organized around the routing data flow:
//
//   - protocol.go: JSON wire messages for the observer connection
//   - registry.go: authoritative connection/session/subscription state
//   - sessions.go: session lifecycle spanning registry and trackers
//   - sink.go: adapter feeding tracker events into registry fan-out
//   - server.go: WebSocket termination, authentication, dispatch
//
// All state lives in a Registry instance owned by the daemon; there is
// no package-level state, so tests run many independent relays in one
// process.
package relay
