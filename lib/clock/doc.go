// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides a time abstraction with real and fake
// implementations. Components that poll or schedule work take a
// clock.Clock so tests can drive time deterministically with
// FakeClock.Advance instead of sleeping.
package clock
