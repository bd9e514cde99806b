// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"log/slog"
	"sync"
	"time"

	"github.com/clharman/afk-code/lib/clock"
)

// Supervisor owns one Tracker per live session plus the claimed-files
// set they share. It is the single handle the rest of the daemon uses
// to start and stop transcript tracking.
type Supervisor struct {
	sink         Sink
	clk          clock.Clock
	pollInterval time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	claims   *ClaimSet
	trackers map[string]*Tracker
}

// NewSupervisor creates a supervisor with no tracked sessions.
func NewSupervisor(sink Sink, clk clock.Clock, pollInterval time.Duration, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		sink:         sink,
		clk:          clk,
		pollInterval: pollInterval,
		logger:       logger,
		claims:       NewClaimSet(),
		trackers:     make(map[string]*Tracker),
	}
}

// Track starts a tracker for the session. Tracking an already-tracked
// session restarts its tracker with the new descriptor — the host has
// re-announced the session, and the old watch state is stale.
func (s *Supervisor) Track(session SessionRef) {
	// Start before publishing: every tracker reachable from the map is
	// running, so whoever displaces it can Stop it safely. The swap
	// itself happens under one lock hold — concurrent re-announcements
	// each displace exactly one tracker and stop it, never leaking one.
	tracker := NewTracker(session, s.sink, s.claims, s.clk, s.pollInterval, s.logger)
	tracker.Start()

	s.mu.Lock()
	previous := s.trackers[session.ID]
	s.trackers[session.ID] = tracker
	s.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}
}

// Untrack stops the session's tracker, releasing its claimed file and
// dedup cache. Unknown session IDs are a no-op.
func (s *Supervisor) Untrack(sessionID string) {
	s.mu.Lock()
	tracker := s.trackers[sessionID]
	delete(s.trackers, sessionID)
	s.mu.Unlock()

	if tracker != nil {
		tracker.Stop()
	}
}

// Close stops every tracker. Called at daemon shutdown.
func (s *Supervisor) Close() {
	s.mu.Lock()
	trackers := make([]*Tracker, 0, len(s.trackers))
	for _, tracker := range s.trackers {
		trackers = append(trackers, tracker)
	}
	s.trackers = make(map[string]*Tracker)
	s.mu.Unlock()

	for _, tracker := range trackers {
		tracker.Stop()
	}
}
