// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"time"

	"github.com/clharman/afk-code/transcript"
)

// Inbound message types. Observers send the first seven; hosts
// connecting over the network send auth plus the session lifecycle
// pair.
const (
	TypeAuth           = "auth"
	TypeListSessions   = "list_sessions"
	TypeSubscribe      = "subscribe"
	TypeUnsubscribe    = "unsubscribe"
	TypeSendInput      = "send_input"
	TypeTrackSession   = "track_session"
	TypeUntrackSession = "untrack_session"
	TypeSessionStart   = "session_start"
	TypeSessionEnd     = "session_end"
)

// Outbound message types. TypeInput flows to host connections only;
// the rest flow to observers.
const (
	TypeAuthOK         = "auth_ok"
	TypeAuthError      = "auth_error"
	TypeSessionsList   = "sessions_list"
	TypeSessionStatus  = "session_status"
	TypeSessionUpdate  = "session_update"
	TypeSessionMessage = "session_message"
	TypeSessionTodos   = "session_todos"
	TypeError          = "error"
	TypeInput          = "input"
)

// ClientMessage is any inbound JSON message. Type discriminates; the
// remaining fields are populated per type and zero otherwise.
type ClientMessage struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`

	// Session announcement fields (session_start from hosts).
	ID               string `json:"id,omitempty"`
	Name             string `json:"name,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`
	LogDirectory     string `json:"log_directory,omitempty"`
	Command          string `json:"command,omitempty"`
}

// ServerMessage is any outbound JSON message. Type discriminates; the
// remaining fields are populated per type and omitted otherwise.
type ServerMessage struct {
	Type      string        `json:"type"`
	Message   string        `json:"message,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Status    string        `json:"status,omitempty"`
	Name      string        `json:"name,omitempty"`
	Role      string        `json:"role,omitempty"`
	Content   string        `json:"content,omitempty"`
	Text      string        `json:"text,omitempty"`
	Timestamp time.Time     `json:"timestamp,omitzero"`
	Sessions  []SessionInfo `json:"sessions,omitempty"`

	Todos []transcript.TodoItem `json:"todos,omitempty"`
}

// SessionInfo is the observer-facing view of one session, carried in
// sessions_list messages.
type SessionInfo struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	WorkingDirectory string    `json:"working_directory"`
	Status           string    `json:"status"`
	StartedAt        time.Time `json:"started_at"`
}
