// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"github.com/clharman/afk-code/transcript"
)

// TrackerSink feeds tracker-derived events into registry fan-out. It
// is the only coupling between transcript tracking and transport: the
// tracker sees a transcript.Sink, the registry sees its own methods.
type TrackerSink struct {
	registry *Registry
}

// NewTrackerSink returns a sink publishing into registry.
func NewTrackerSink(registry *Registry) *TrackerSink {
	return &TrackerSink{registry: registry}
}

// Message publishes one conversation turn to the session's subscribed
// observers.
func (s *TrackerSink) Message(sessionID string, message transcript.Message) {
	// Events for sessions the registry no longer knows (ended while
	// the tracker was mid-pass) are dropped.
	owner, ok := s.registry.SessionOwner(sessionID)
	if !ok {
		return
	}
	s.registry.NotifySubscribedClients(owner, sessionID, ServerMessage{
		Type:      TypeSessionMessage,
		SessionID: sessionID,
		Role:      string(message.Role),
		Content:   message.Content,
		Timestamp: message.Timestamp,
	})
}

// Todos publishes a changed todo snapshot.
func (s *TrackerSink) Todos(sessionID string, items []transcript.TodoItem) {
	owner, ok := s.registry.SessionOwner(sessionID)
	if !ok {
		return
	}
	s.registry.NotifySubscribedClients(owner, sessionID, ServerMessage{
		Type:      TypeSessionTodos,
		SessionID: sessionID,
		Todos:     items,
	})
}

// Status applies a running/idle transition to the registry, which
// fans it out.
func (s *TrackerSink) Status(sessionID string, status string) {
	s.registry.UpdateSessionStatus(sessionID, status)
}

// Rename applies a discovered slug to the registry, which fans it out.
func (s *TrackerSink) Rename(sessionID string, name string) {
	s.registry.RenameSession(sessionID, name)
}
