// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"errors"
	"log/slog"
	"time"

	"github.com/clharman/afk-code/lib/clock"
	"github.com/clharman/afk-code/transcript"
)

// ErrHostUnavailable reports that a session's hosting connection is
// currently disconnected, so input cannot be routed.
var ErrHostUnavailable = errors.New("session host is not connected")

// confirmDelay separates the input text from the simulated Enter
// keypress, giving the interactive process time to ingest the text as
// typed input before the line terminator arrives.
const confirmDelay = 100 * time.Millisecond

// Sessions ties session lifecycle together across the registry and
// the transcript supervisor. Both host surfaces — the local Unix
// socket and the network host path — drive the same methods, so a
// session behaves identically however its host connects.
type Sessions struct {
	registry *Registry
	tracking *transcript.Supervisor
	clk      clock.Clock
	logger   *slog.Logger
}

// NewSessions creates the session service.
func NewSessions(registry *Registry, tracking *transcript.Supervisor, clk clock.Clock, logger *slog.Logger) *Sessions {
	return &Sessions{registry: registry, tracking: tracking, clk: clk, logger: logger}
}

// Start registers a session announced by hostConn and begins
// transcript tracking for it. Returns false when hostConn is not an
// authenticated host connection.
func (s *Sessions) Start(hostConn *Conn, announcement ClientMessage) bool {
	startedAt := s.clk.Now()
	registered := s.registry.RegisterSession(hostConn, Session{
		ID:               announcement.ID,
		Name:             announcement.Name,
		WorkingDirectory: announcement.WorkingDirectory,
		LogDirectory:     announcement.LogDirectory,
		Command:          announcement.Command,
		Status:           StatusRunning,
		StartedAt:        startedAt,
	})
	if !registered {
		return false
	}

	s.tracking.Track(transcript.SessionRef{
		ID:           announcement.ID,
		LogDirectory: announcement.LogDirectory,
		StartedAt:    startedAt,
	})
	return true
}

// End handles an explicit session end: stops tracking and removes the
// session with its cascade of observer notifications.
func (s *Sessions) End(sessionID string) {
	s.tracking.Untrack(sessionID)
	s.registry.EndSession(sessionID)
}

// Disconnect removes a closed connection from the registry and stops
// tracking for any sessions it hosted. Safe for both kinds; observer
// removals simply have no sessions to cascade.
func (s *Sessions) Disconnect(conn *Conn) {
	for _, sessionID := range s.registry.RemoveConnection(conn) {
		s.tracking.Untrack(sessionID)
	}
}

// SendInput routes observer input to the session's host as two
// deliveries: the literal text, then shortly after a carriage return
// emulating the Enter keypress. The second delivery is best-effort —
// if the host drops between the two, the input was still delivered
// at-most-once and no error is surfaced.
func (s *Sessions) SendInput(sessionID, text string) error {
	hostConn, ok := s.registry.HostForSession(sessionID)
	if !ok {
		return ErrHostUnavailable
	}

	if err := hostConn.Send(ServerMessage{Type: TypeInput, SessionID: sessionID, Text: text}); err != nil {
		return err
	}
	go func() {
		s.clk.Sleep(confirmDelay)
		if err := hostConn.Send(ServerMessage{Type: TypeInput, SessionID: sessionID, Text: "\r"}); err != nil {
			s.logger.Debug("confirm keypress not delivered", "session", sessionID, "error", err)
		}
	}()
	return nil
}
