// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clharman/afk-code/lib/clock"
	"github.com/clharman/afk-code/lib/testutil"
)

// sinkEvent is one recorded Sink callback.
type sinkEvent struct {
	kind      string // "message", "todos", "status", "rename"
	sessionID string
	message   Message
	items     []TodoItem
	status    string
	name      string
}

// channelSink records Sink callbacks onto a channel for assertion with
// the testutil helpers.
type channelSink struct {
	events chan sinkEvent
}

func newChannelSink() *channelSink {
	return &channelSink{events: make(chan sinkEvent, 64)}
}

func (s *channelSink) Message(sessionID string, message Message) {
	s.events <- sinkEvent{kind: "message", sessionID: sessionID, message: message}
}

func (s *channelSink) Todos(sessionID string, items []TodoItem) {
	s.events <- sinkEvent{kind: "todos", sessionID: sessionID, items: items}
}

func (s *channelSink) Status(sessionID string, status string) {
	s.events <- sinkEvent{kind: "status", sessionID: sessionID, status: status}
}

func (s *channelSink) Rename(sessionID string, name string) {
	s.events <- sinkEvent{kind: "rename", sessionID: sessionID, name: name}
}

// trackerFixture wires a tracker over a temp log directory with a fake
// clock driving the poll backstop.
type trackerFixture struct {
	dir     string
	path    string
	clk     *clock.FakeClock
	claims  *ClaimSet
	sink    *channelSink
	tracker *Tracker
}

func startTracker(t *testing.T, startedAt time.Time) *trackerFixture {
	t.Helper()

	dir := t.TempDir()
	fixture := &trackerFixture{
		dir:    dir,
		path:   filepath.Join(dir, "session.jsonl"),
		clk:    clock.Fake(startedAt),
		claims: NewClaimSet(),
		sink:   newChannelSink(),
	}
	fixture.tracker = NewTracker(
		SessionRef{ID: "s1", LogDirectory: dir, StartedAt: startedAt},
		fixture.sink,
		fixture.claims,
		fixture.clk,
		time.Second,
		slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	)
	fixture.tracker.Start()
	t.Cleanup(fixture.tracker.Stop)
	return fixture
}

// append adds data to the transcript file and forces a poll tick so
// the test does not depend on filesystem notification latency.
func (f *trackerFixture) append(t *testing.T, data string) {
	t.Helper()
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("opening transcript: %v", err)
	}
	if _, err := file.WriteString(data); err != nil {
		t.Fatalf("appending transcript: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("closing transcript: %v", err)
	}
	f.clk.Advance(time.Second)
}

func userLine(timestamp time.Time, text string) string {
	return fmt.Sprintf(
		`{"type":"user","timestamp":%q,"message":{"role":"user","content":%q}}`+"\n",
		timestamp.Format(time.RFC3339), text)
}

func assistantLine(timestamp time.Time, text string) string {
	return fmt.Sprintf(
		`{"type":"assistant","timestamp":%q,"message":{"role":"assistant","content":%q}}`+"\n",
		timestamp.Format(time.RFC3339), text)
}

var testEpoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestTrackerEmitsMessagesInLineOrder(t *testing.T) {
	t.Parallel()
	fixture := startTracker(t, testEpoch)

	fixture.append(t, userLine(testEpoch.Add(time.Second), "first"))
	fixture.append(t, assistantLine(testEpoch.Add(2*time.Second), "second"))
	fixture.append(t, assistantLine(testEpoch.Add(3*time.Second), "third"))

	var contents []string
	for len(contents) < 3 {
		event := testutil.RequireReceive(t, fixture.sink.events, 5*time.Second, "waiting for message %d", len(contents)+1)
		if event.kind != "message" {
			continue // status transitions interleave with messages
		}
		contents = append(contents, event.message.Content)
	}

	want := []string{"first", "second", "third"}
	for i := range want {
		if contents[i] != want[i] {
			t.Errorf("message %d: got %q, want %q", i, contents[i], want[i])
		}
	}
}

func TestTrackerDeduplicatesAcrossRescans(t *testing.T) {
	t.Parallel()
	fixture := startTracker(t, testEpoch)

	fixture.append(t, assistantLine(testEpoch.Add(time.Second), "only once"))
	event := testutil.RequireReceive(t, fixture.sink.events, 5*time.Second, "waiting for message")
	if event.kind != "message" || event.message.Content != "only once" {
		t.Fatalf("first event: got %+v", event)
	}

	// Every later pass rescans the full file; the dedup cache must
	// swallow the already-classified line.
	fixture.clk.Advance(time.Second)
	fixture.clk.Advance(time.Second)
	testutil.RequireNoReceive(t, fixture.sink.events, 300*time.Millisecond, "rescan re-emitted a line")
}

func TestTrackerFiltersMessagesBeforeSessionStart(t *testing.T) {
	t.Parallel()
	fixture := startTracker(t, testEpoch)

	// A resumed session reuses a file holding turns from a prior run.
	fixture.append(t, assistantLine(testEpoch.Add(-time.Hour), "stale"))
	fixture.append(t, assistantLine(testEpoch.Add(time.Second), "fresh"))

	event := testutil.RequireReceive(t, fixture.sink.events, 5*time.Second, "waiting for fresh message")
	if event.kind != "message" || event.message.Content != "fresh" {
		t.Errorf("got %+v, want the post-start message only", event)
	}
	testutil.RequireNoReceive(t, fixture.sink.events, 300*time.Millisecond, "stale message leaked")
}

func TestTrackerRenamesOnFirstSlugOnly(t *testing.T) {
	t.Parallel()
	fixture := startTracker(t, testEpoch)

	fixture.append(t, `{"type":"summary","slug":"refactor-auth"}`+"\n")
	event := testutil.RequireReceive(t, fixture.sink.events, 5*time.Second, "waiting for rename")
	if event.kind != "rename" || event.name != "refactor-auth" {
		t.Fatalf("got %+v, want rename to refactor-auth", event)
	}

	fixture.append(t, `{"type":"summary","slug":"second-slug"}`+"\n")
	testutil.RequireNoReceive(t, fixture.sink.events, 300*time.Millisecond, "second slug emitted a rename")
}

func TestTrackerSuppressesDuplicateTodoSnapshots(t *testing.T) {
	t.Parallel()
	fixture := startTracker(t, testEpoch)

	// Two todo-bearing lines with identical items but distinct line
	// bytes, so the dedup cache alone cannot suppress the second.
	fixture.append(t, `{"type":"user","uuid":"a","todos":[{"content":"write tests","status":"in_progress"}]}`+"\n")
	event := testutil.RequireReceive(t, fixture.sink.events, 5*time.Second, "waiting for todos")
	if event.kind != "todos" || len(event.items) != 1 {
		t.Fatalf("got %+v, want one-item todos", event)
	}

	fixture.append(t, `{"type":"user","uuid":"b","todos":[{"content":"write tests","status":"in_progress"}]}`+"\n")
	testutil.RequireNoReceive(t, fixture.sink.events, 300*time.Millisecond, "identical todo snapshot re-emitted")

	// A changed snapshot goes through.
	fixture.append(t, `{"type":"user","uuid":"c","todos":[{"content":"write tests","status":"completed"}]}`+"\n")
	event = testutil.RequireReceive(t, fixture.sink.events, 5*time.Second, "waiting for changed todos")
	if event.kind != "todos" || event.items[0].Status != "completed" {
		t.Errorf("got %+v, want completed todo snapshot", event)
	}
}

func TestTrackerIdleThenUserMessageRunsAgain(t *testing.T) {
	t.Parallel()
	fixture := startTracker(t, testEpoch)

	fixture.append(t, `{"type":"system","subtype":"stop"}`+"\n")
	event := testutil.RequireReceive(t, fixture.sink.events, 5*time.Second, "waiting for idle")
	if event.kind != "status" || event.status != StatusIdle {
		t.Fatalf("got %+v, want idle status", event)
	}

	// A second stop signal is a no-op while already idle.
	fixture.append(t, `{"type":"system","subtype":"stop","uuid":"again"}`+"\n")
	testutil.RequireNoReceive(t, fixture.sink.events, 300*time.Millisecond, "repeated idle signal re-emitted")

	// A new user turn resets the declared idle state.
	fixture.append(t, userLine(testEpoch.Add(time.Minute), "keep going"))
	sawMessage, sawRunning := false, false
	for !sawMessage || !sawRunning {
		event = testutil.RequireReceive(t, fixture.sink.events, 5*time.Second, "waiting for message and running status")
		switch {
		case event.kind == "message":
			sawMessage = true
		case event.kind == "status" && event.status == StatusRunning:
			sawRunning = true
		}
	}
}

func TestTrackerDefersPartialTrailingLine(t *testing.T) {
	t.Parallel()
	fixture := startTracker(t, testEpoch)

	// A read racing the writer can observe half a record. Without the
	// terminating newline, nothing must be classified.
	fixture.append(t, `{"type":"assistant","timestamp":"2026-03-01T10:00:05Z","message":{"role":"assist`)
	testutil.RequireNoReceive(t, fixture.sink.events, 300*time.Millisecond, "partial line classified")

	fixture.append(t, `ant","content":"now complete"}}`+"\n")
	event := testutil.RequireReceive(t, fixture.sink.events, 5*time.Second, "waiting for completed line")
	if event.kind != "message" || event.message.Content != "now complete" {
		t.Errorf("got %+v, want the reassembled message", event)
	}
}

func TestTrackerDiscoversFileCreatedAfterStart(t *testing.T) {
	t.Parallel()
	fixture := startTracker(t, testEpoch)

	// No transcript yet; discovery retries on poll ticks.
	fixture.clk.Advance(time.Second)
	testutil.RequireNoReceive(t, fixture.sink.events, 200*time.Millisecond, "event before any file exists")

	fixture.append(t, assistantLine(testEpoch.Add(time.Second), "late arrival"))
	event := testutil.RequireReceive(t, fixture.sink.events, 5*time.Second, "waiting for late file message")
	if event.kind != "message" || event.message.Content != "late arrival" {
		t.Errorf("got %+v, want the late-file message", event)
	}
}

func TestTrackerSelectsMostRecentUnclaimedCandidate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	older := filepath.Join(dir, "earlier-run.jsonl")
	newer := filepath.Join(dir, "resumed-run.jsonl")
	for _, path := range []string{older, newer} {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatalf("creating %s: %v", path, err)
		}
	}
	base := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, base, base); err != nil {
		t.Fatalf("aging older file: %v", err)
	}
	if err := os.Chtimes(newer, base.Add(time.Minute), base.Add(time.Minute)); err != nil {
		t.Fatalf("aging newer file: %v", err)
	}

	claims := NewClaimSet()
	sink := newChannelSink()
	tracker := NewTracker(
		SessionRef{ID: "s1", LogDirectory: dir, StartedAt: testEpoch},
		sink, claims, clock.Fake(testEpoch), time.Second,
		slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	)
	tracker.Start()
	defer tracker.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for !claims.Claimed(newer) {
		if time.Now().After(deadline) {
			t.Fatal("tracker never claimed the most recent candidate")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if claims.Claimed(older) {
		t.Error("tracker claimed the older candidate")
	}
}

func TestTrackerStopReleasesClaim(t *testing.T) {
	t.Parallel()
	fixture := startTracker(t, testEpoch)

	fixture.append(t, assistantLine(testEpoch.Add(time.Second), "hello"))
	testutil.RequireReceive(t, fixture.sink.events, 5*time.Second, "waiting for claim to be established")

	fixture.tracker.Stop()

	if fixture.claims.Claimed(fixture.path) {
		t.Error("claim still held after Stop")
	}
}
