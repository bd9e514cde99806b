// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clharman/afk-code/transcript"
)

// Kind distinguishes the two connection classes.
type Kind string

const (
	// KindHost marks a connection announcing and serving sessions.
	KindHost Kind = "host"

	// KindObserver marks a remote client receiving session events.
	KindObserver Kind = "observer"
)

// Session status values. Running and idle are derived from transcript
// activity; ended is set by an explicit end notification or by the
// hosting connection closing.
const (
	StatusRunning = transcript.StatusRunning
	StatusIdle    = transcript.StatusIdle
	StatusEnded   = "ended"
)

// Sender delivers one outbound message to a peer. The transport layer
// owns the underlying socket; the registry only ever calls Send and
// treats failures as that peer's problem.
type Sender interface {
	Send(message ServerMessage) error
}

// Conn is the registry's handle for one live peer. The transport
// creates it on accept and passes it to every registry call for that
// peer, so the registry never touches transport internals.
type Conn struct {
	id     string
	sender Sender
}

// NewConn wraps a transport sender in a connection handle.
func NewConn(sender Sender) *Conn {
	return &Conn{id: uuid.NewString(), sender: sender}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// Send delivers one message to the peer.
func (c *Conn) Send(message ServerMessage) error { return c.sender.Send(message) }

// Session is the unit of tracking. The registry owns all Session
// records; callers receive copies.
type Session struct {
	ID               string
	Name             string
	WorkingDirectory string
	LogDirectory     string
	Command          string
	Status           string
	OwnerUserID      string
	StartedAt        time.Time

	// hostConnID is the connection currently hosting this session.
	hostConnID string
}

// connState is the registry's record for one authenticated connection.
type connState struct {
	conn          *Conn
	userID        string
	kind          Kind
	subscriptions map[string]struct{}
}

// Stats is the shallow health-check payload.
type Stats struct {
	HostConnections     int `json:"host_connections"`
	ObserverConnections int `json:"observer_connections"`
	LiveSessions        int `json:"live_sessions"`
}

// Registry is the authoritative in-memory store for connections,
// sessions, and subscriptions. It is the sole mutator of that state;
// transports and trackers reach it only through the methods below.
// All methods are safe for concurrent use.
//
// Registry state does not survive a process restart: sessions are
// rebuilt from host re-announcements on reconnect.
type Registry struct {
	logger *slog.Logger

	mu          sync.RWMutex
	connections map[string]*connState
	sessions    map[string]*Session

	// tracked is the per-user "interested sessions" relation. Unlike
	// subscriptions it is keyed by user, not connection, so it
	// persists across reconnects. It is inert bookkeeping for a future
	// out-of-band delivery path; nothing in the relay delivers
	// through it.
	tracked map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:      logger,
		connections: make(map[string]*connState),
		sessions:    make(map[string]*Session),
		tracked:     make(map[string]map[string]struct{}),
	}
}

// RegisterConnection marks a connection authenticated as userID with
// the given kind. Must be called exactly once per connection, after
// token validation.
func (r *Registry) RegisterConnection(conn *Conn, userID string, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.ID()] = &connState{
		conn:          conn,
		userID:        userID,
		kind:          kind,
		subscriptions: make(map[string]struct{}),
	}
}

// RegisterSession creates a session owned by the host connection's
// user and announces the updated session list to that user's
// observers. A re-announced session ID replaces the previous record:
// the host has restarted the session and the old state is stale.
func (r *Registry) RegisterSession(hostConn *Conn, session Session) bool {
	r.mu.Lock()
	state, ok := r.connections[hostConn.ID()]
	if !ok || state.kind != KindHost {
		r.mu.Unlock()
		return false
	}
	session.OwnerUserID = state.userID
	session.hostConnID = hostConn.ID()
	r.sessions[session.ID] = &session

	owner := state.userID
	observers := r.observerSendersLocked(owner)
	list := r.sessionListLocked(owner)
	r.mu.Unlock()

	r.logger.Info("session registered",
		"session", session.ID, "owner", owner, "workdir", session.WorkingDirectory)
	r.deliver(observers, ServerMessage{Type: TypeSessionsList, Sessions: list})
	return true
}

// UpdateSessionStatus mutates a session's status and fans the change
// out to subscribed observers. Unknown sessions are a no-op.
func (r *Registry) UpdateSessionStatus(sessionID string, status string) {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	session.Status = status
	targets := r.subscribedSendersLocked(session.OwnerUserID, sessionID)
	r.mu.Unlock()

	r.deliver(targets, ServerMessage{Type: TypeSessionStatus, SessionID: sessionID, Status: status})
}

// RenameSession sets a session's human-readable name and fans the
// change out to subscribed observers. Unknown sessions are a no-op.
func (r *Registry) RenameSession(sessionID string, name string) {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	session.Name = name
	targets := r.subscribedSendersLocked(session.OwnerUserID, sessionID)
	r.mu.Unlock()

	r.deliver(targets, ServerMessage{Type: TypeSessionUpdate, SessionID: sessionID, Name: name})
}

// NotifySubscribedClients delivers event to every authenticated
// observer connection whose user matches and whose subscription set
// contains sessionID. Delivery is fire-and-forget per connection: one
// observer's send failure never blocks the others.
func (r *Registry) NotifySubscribedClients(userID, sessionID string, event ServerMessage) {
	r.mu.RLock()
	targets := r.subscribedSendersLocked(userID, sessionID)
	r.mu.RUnlock()

	r.deliver(targets, event)
}

// SessionsForUser returns every session owned by the user, regardless
// of current subscriptions, sorted by start time for a stable listing.
func (r *Registry) SessionsForUser(userID string) []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionListLocked(userID)
}

// SubscribeToSession adds sessionID to the observer's subscription
// set. Returns false without mutating anything when the session does
// not exist or is not owned by the observer's user; the caller
// surfaces that as a user-visible error.
func (r *Registry) SubscribeToSession(observer *Conn, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.connections[observer.ID()]
	if !ok || state.kind != KindObserver {
		return false
	}
	session, ok := r.sessions[sessionID]
	if !ok || session.OwnerUserID != state.userID {
		return false
	}
	state.subscriptions[sessionID] = struct{}{}
	return true
}

// UnsubscribeFromSession removes sessionID from the observer's
// subscription set. Unknown connections or sessions are a no-op.
func (r *Registry) UnsubscribeFromSession(observer *Conn, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.connections[observer.ID()]; ok {
		delete(state.subscriptions, sessionID)
	}
}

// HostForSession resolves the connection hosting a session, used to
// route observer input. ok is false when the session is unknown or its
// host is currently disconnected.
func (r *Registry) HostForSession(sessionID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	state, ok := r.connections[session.hostConnID]
	if !ok {
		return nil, false
	}
	return state.conn, true
}

// SessionOwner resolves the user that owns a session. ok is false for
// unknown sessions.
func (r *Registry) SessionOwner(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	return session.OwnerUserID, true
}

// TrackSession records the user's interest in a session independent of
// any live subscription. Inert bookkeeping: nothing is delivered
// through this relation yet.
func (r *Registry) TrackSession(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.tracked[userID]
	if !ok {
		set = make(map[string]struct{})
		r.tracked[userID] = set
	}
	set[sessionID] = struct{}{}
}

// UntrackSession removes the user's interest in a session.
func (r *Registry) UntrackSession(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.tracked[userID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.tracked, userID)
		}
	}
}

// TrackedSessions returns the user's tracked session IDs, sorted.
func (r *Registry) TrackedSessions(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tracked[userID]))
	for id := range r.tracked[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EndSession transitions a session to ended, notifies its subscribed
// observers exactly once, and removes it. Returns false for unknown
// sessions.
func (r *Registry) EndSession(sessionID string) bool {
	return r.endSession(sessionID, "")
}

// endSession implements EndSession. When requireHostConnID is
// non-empty the session must still be hosted by that connection: a
// host-removal cascade uses this so a session re-announced by a new
// connection mid-cascade is left alone.
func (r *Registry) endSession(sessionID, requireHostConnID string) bool {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if !ok || (requireHostConnID != "" && session.hostConnID != requireHostConnID) {
		r.mu.Unlock()
		return false
	}
	session.Status = StatusEnded
	targets := r.subscribedSendersLocked(session.OwnerUserID, sessionID)
	delete(r.sessions, sessionID)
	for _, state := range r.connections {
		delete(state.subscriptions, sessionID)
	}
	r.mu.Unlock()

	r.logger.Info("session ended", "session", sessionID)
	r.deliver(targets, ServerMessage{Type: TypeSessionStatus, SessionID: sessionID, Status: StatusEnded})
	return true
}

// RemoveConnection deletes a connection on transport close. A host
// removal cascades: every session it hosted ends, with one end
// notification per session to its subscribed observers. Returns the
// IDs of the ended sessions so the caller can stop their trackers.
//
// This is the source of truth for host liveness — there is no grace
// period.
func (r *Registry) RemoveConnection(conn *Conn) []string {
	r.mu.Lock()
	state, ok := r.connections[conn.ID()]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.connections, conn.ID())

	var candidates []string
	if state.kind == KindHost {
		for id, session := range r.sessions {
			if session.hostConnID == conn.ID() {
				candidates = append(candidates, id)
			}
		}
		sort.Strings(candidates)
	}
	r.mu.Unlock()

	// Each end re-checks the hosting connection: a session re-announced
	// by a new host between collection and here stays live.
	var ended []string
	for _, sessionID := range candidates {
		if r.endSession(sessionID, conn.ID()) {
			ended = append(ended, sessionID)
		}
	}
	return ended
}

// Stats returns connection and session counts for the health endpoint.
// No side effects.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stats Stats
	for _, state := range r.connections {
		switch state.kind {
		case KindHost:
			stats.HostConnections++
		case KindObserver:
			stats.ObserverConnections++
		}
	}
	stats.LiveSessions = len(r.sessions)
	return stats
}

// subscribedSendersLocked collects the connections a session event
// fans out to. Callers hold r.mu; delivery happens after release so a
// slow peer never stalls the registry.
func (r *Registry) subscribedSendersLocked(userID, sessionID string) []*Conn {
	var targets []*Conn
	for _, state := range r.connections {
		if state.kind != KindObserver || state.userID != userID {
			continue
		}
		if _, subscribed := state.subscriptions[sessionID]; !subscribed {
			continue
		}
		targets = append(targets, state.conn)
	}
	return targets
}

// observerSendersLocked collects all of a user's observer connections,
// subscribed or not. Used for session-list announcements.
func (r *Registry) observerSendersLocked(userID string) []*Conn {
	var targets []*Conn
	for _, state := range r.connections {
		if state.kind == KindObserver && state.userID == userID {
			targets = append(targets, state.conn)
		}
	}
	return targets
}

// sessionListLocked builds the observer-facing session list for a
// user.
func (r *Registry) sessionListLocked(userID string) []SessionInfo {
	var list []SessionInfo
	for _, session := range r.sessions {
		if session.OwnerUserID != userID {
			continue
		}
		list = append(list, SessionInfo{
			ID:               session.ID,
			Name:             session.Name,
			WorkingDirectory: session.WorkingDirectory,
			Status:           session.Status,
			StartedAt:        session.StartedAt,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].StartedAt.Before(list[j].StartedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// deliver sends event to each target, logging and continuing on
// failure. At-most-once: there are no retries.
func (r *Registry) deliver(targets []*Conn, event ServerMessage) {
	for _, target := range targets {
		if err := target.Send(event); err != nil {
			r.logger.Debug("delivery failed, peer skipped",
				"connection", target.ID(), "type", event.Type, "error", err)
		}
	}
}
