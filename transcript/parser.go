// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the author of a transcript message.
type Role string

const (
	// RoleUser marks input typed by the person driving the session.
	RoleUser Role = "user"

	// RoleAssistant marks output produced by the hosted agent.
	RoleAssistant Role = "assistant"
)

// Session status values derived from transcript activity. A session is
// running while a turn is in progress and idle once the agent has
// declared the turn complete. The "ended" state is owned by the
// registry, not by transcript parsing.
const (
	StatusRunning = "running"
	StatusIdle    = "idle"
)

// Event is one classified transcript record. Exactly one of the
// concrete types below, or nil when the line carries nothing of
// interest.
type Event interface {
	transcriptEvent()
}

// Message is a user or assistant conversation turn.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// TodoUpdate is a snapshot of the agent's working todo list.
type TodoUpdate struct {
	Items []TodoItem
}

// TodoItem is one entry in a todo snapshot.
type TodoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm,omitempty"`
}

// SlugDiscovered carries the short descriptive name the agent assigned
// to the session.
type SlugDiscovered struct {
	Slug string
}

// TurnIdle signals that the agent declared the current turn complete.
// It is terminal for the turn, not for the session.
type TurnIdle struct{}

func (Message) transcriptEvent()        {}
func (TodoUpdate) transcriptEvent()     {}
func (SlugDiscovered) transcriptEvent() {}
func (TurnIdle) transcriptEvent()       {}

// rawRecord is the subset of the log record shape that classification
// reads. Everything else in a record is ignored.
type rawRecord struct {
	Type      string     `json:"type"`
	Subtype   string     `json:"subtype"`
	IsMeta    bool       `json:"isMeta"`
	Timestamp string     `json:"timestamp"`
	Slug      string     `json:"slug"`
	Todos     []TodoItem `json:"todos"`
	Message   rawMessage `json:"message"`
}

// rawMessage holds the nested message payload. Content is either a
// plain string or an array of typed content blocks.
type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// contentBlock is one element of an array-form content payload. Only
// text-typed blocks contribute to the message text.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Classify parses one transcript line into zero or one event. It never
// returns an error: malformed JSON, unrecognized record types, and
// empty content all classify as nil and are dropped by the caller.
//
// When a record matches several shapes, the first match in this order
// wins: todo snapshot, slug, turn-complete signal, message. A record
// in practice carries only one of these.
func Classify(line []byte) Event {
	var record rawRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return nil
	}

	if len(record.Todos) > 0 {
		return TodoUpdate{Items: record.Todos}
	}

	if record.Slug != "" {
		return SlugDiscovered{Slug: record.Slug}
	}

	if record.Type == "system" && record.Subtype == "stop" {
		return TurnIdle{}
	}

	if record.Type == string(RoleUser) || record.Type == string(RoleAssistant) {
		if record.IsMeta || record.Subtype != "" {
			return nil
		}
		content := messageText(record.Message.Content)
		if strings.TrimSpace(content) == "" {
			return nil
		}
		timestamp, _ := time.Parse(time.RFC3339, record.Timestamp)
		return Message{
			Role:      Role(record.Type),
			Content:   content,
			Timestamp: timestamp,
		}
	}

	return nil
}

// messageText extracts the text of a message content payload:
// string-form content verbatim, array-form content as the
// concatenation of its text-typed blocks.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var builder strings.Builder
	for _, block := range blocks {
		if block.Type != "text" {
			continue
		}
		builder.WriteString(block.Text)
	}
	return builder.String()
}
