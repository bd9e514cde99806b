// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zeebo/blake3"

	"github.com/clharman/afk-code/lib/clock"
)

// Sink receives the session events a Tracker derives from transcript
// growth. Implementations must not block: tracker update passes are
// serialized, so a stalled sink stalls ingestion for that session.
type Sink interface {
	// Message delivers one conversation turn, in file line order.
	Message(sessionID string, message Message)

	// Todos delivers a changed todo snapshot. Consecutive identical
	// snapshots are suppressed before this is called.
	Todos(sessionID string, items []TodoItem)

	// Status delivers a running/idle transition. Called only on actual
	// transitions, never for no-op repeats.
	Status(sessionID string, status string)

	// Rename delivers the discovered session slug, at most once per
	// session.
	Rename(sessionID string, name string)
}

// SessionRef identifies the session a Tracker follows. StartedAt
// filters out transcript messages from a prior run that reused the
// same log file.
type SessionRef struct {
	ID           string
	LogDirectory string
	StartedAt    time.Time
}

// Tracker tails one session's transcript file: it discovers the file,
// follows appends, classifies each new line exactly once, and reports
// derived events to its Sink.
//
// Two triggers drive the tracker: filesystem notifications for low
// latency, and a fixed-interval poll as a correctness backstop against
// missed or coalesced notifications. Both funnel into the same
// idempotent update pass, so duplicate triggers are harmless.
type Tracker struct {
	session      SessionRef
	sink         Sink
	claims       *ClaimSet
	clk          clock.Clock
	pollInterval time.Duration
	logger       *slog.Logger

	// Watch state below is touched only by the run goroutine.
	file         string
	watchingDir  bool
	seen         map[[32]byte]struct{}
	lastTodoHash [32]byte
	hasTodoHash  bool
	renamed      bool
	status       string

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewTracker creates a tracker for the given session. Call Start to
// begin watching and Stop to tear it down.
func NewTracker(session SessionRef, sink Sink, claims *ClaimSet, clk clock.Clock, pollInterval time.Duration, logger *slog.Logger) *Tracker {
	return &Tracker{
		session:      session,
		sink:         sink,
		claims:       claims,
		clk:          clk,
		pollInterval: pollInterval,
		logger:       logger.With("session", session.ID),
		seen:         make(map[[32]byte]struct{}),
		status:       StatusRunning,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the watch loop in its own goroutine.
func (t *Tracker) Start() {
	go t.run()
}

// Stop cancels the watch loop, releases the claimed file, and discards
// the dedup cache. Blocks until the loop has exited, so teardown is
// deterministic. Safe to call more than once.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

func (t *Tracker) run() {
	defer close(t.done)
	defer t.cleanup()

	var fsEvents chan fsnotify.Event
	var fsErrors chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Poll-only operation still converges, just with up to one
		// poll interval of added latency.
		t.logger.Warn("filesystem watcher unavailable, falling back to polling", "error", err)
		watcher = nil
	} else {
		defer watcher.Close()
		fsEvents = watcher.Events
		fsErrors = watcher.Errors
	}

	ticker := t.clk.NewTicker(t.pollInterval)
	defer ticker.Stop()

	t.update(watcher)

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.update(watcher)
		case event, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			t.update(watcher)
		case watchErr, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			t.logger.Warn("filesystem watcher error", "error", watchErr)
		}
	}
}

// cleanup releases the claimed file so a later session reusing the
// directory is not blocked, and drops the dedup cache so memory does
// not accumulate across many sessions in a long-running daemon.
func (t *Tracker) cleanup() {
	if t.file != "" {
		t.claims.Release(t.file)
		t.file = ""
	}
	t.seen = nil
}

// update is the single idempotent pass both triggers converge on:
// ensure the directory watch is in place, discover the transcript file
// if not yet claimed, then scan for new complete lines.
func (t *Tracker) update(watcher *fsnotify.Watcher) {
	if watcher != nil && !t.watchingDir {
		// The log directory may not exist when the session starts;
		// keep trying until it does.
		if err := watcher.Add(t.session.LogDirectory); err == nil {
			t.watchingDir = true
		}
	}

	if t.file == "" {
		t.file = t.discover()
		if t.file == "" {
			return
		}
		t.logger.Info("claimed transcript file", "path", t.file)
	}

	t.scan()
}

// discover selects and claims the session's transcript file. With
// several candidates (a resumed session continuing into a file from an
// earlier run), the most recently modified wins; ties break by path so
// the choice is deterministic. Returns "" when no claimable candidate
// exists yet.
func (t *Tracker) discover() string {
	matches, err := filepath.Glob(filepath.Join(t.session.LogDirectory, "*.jsonl"))
	if err != nil {
		t.logger.Warn("listing transcript candidates", "error", err)
		return ""
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	candidates := make([]candidate, 0, len(matches))
	for _, path := range matches {
		if t.claims.Claimed(path) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path: path, modTime: info.ModTime()})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].modTime.Equal(candidates[j].modTime) {
			return candidates[i].modTime.After(candidates[j].modTime)
		}
		return candidates[i].path < candidates[j].path
	})

	for _, c := range candidates {
		if t.claims.Claim(c.path) {
			return c.path
		}
	}
	return ""
}

// scan reads the full current file and ingests every complete line not
// seen before. A trailing fragment without a line break is a write in
// progress and is left for the next pass.
func (t *Tracker) scan() {
	data, err := os.ReadFile(t.file)
	if err != nil {
		// Transient read failures race with the writer; the next
		// trigger retries.
		t.logger.Warn("reading transcript", "path", t.file, "error", err)
		return
	}

	rest := data
	for {
		idx := bytes.IndexByte(rest, '\n')
		if idx < 0 {
			break
		}
		line := rest[:idx]
		rest = rest[idx+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		t.ingest(line)
	}
}

// ingest classifies one complete line exactly once and applies the
// resulting event.
func (t *Tracker) ingest(line []byte) {
	hash := blake3.Sum256(line)
	if _, duplicate := t.seen[hash]; duplicate {
		return
	}
	t.seen[hash] = struct{}{}

	switch event := Classify(line).(type) {
	case SlugDiscovered:
		// First slug names the session; later ones are ignored.
		if t.renamed {
			return
		}
		t.renamed = true
		t.sink.Rename(t.session.ID, event.Slug)

	case TodoUpdate:
		snapshot := todoHash(event.Items)
		if t.hasTodoHash && snapshot == t.lastTodoHash {
			return
		}
		t.lastTodoHash = snapshot
		t.hasTodoHash = true
		t.sink.Todos(t.session.ID, event.Items)

	case TurnIdle:
		if t.status == StatusIdle {
			return
		}
		t.status = StatusIdle
		t.sink.Status(t.session.ID, StatusIdle)

	case Message:
		// A message timestamped before the session start belongs to a
		// prior run sharing the file.
		if !event.Timestamp.IsZero() && event.Timestamp.Before(t.session.StartedAt) {
			return
		}
		t.sink.Message(t.session.ID, event)
		// A new user turn resets the idle state the agent most
		// recently declared.
		if event.Role == RoleUser && t.status != StatusRunning {
			t.status = StatusRunning
			t.sink.Status(t.session.ID, StatusRunning)
		}
	}
}

// todoHash fingerprints a normalized todo snapshot so no-op updates
// can be suppressed.
func todoHash(items []TodoItem) [32]byte {
	var buf bytes.Buffer
	for _, item := range items {
		buf.WriteString(item.Content)
		buf.WriteByte(0)
		buf.WriteString(item.Status)
		buf.WriteByte(0)
		buf.WriteString(item.ActiveForm)
		buf.WriteByte('\n')
	}
	return blake3.Sum256(buf.Bytes())
}
