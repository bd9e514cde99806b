// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

// Package jsonl implements newline-delimited JSON framing for stream
// transports. One JSON value per line; a reader accumulates partial
// data and only dispatches complete lines, retaining any trailing
// fragment for the next read. Both endpoints of the host protocol use
// the same discipline, so a record is never dispatched half-written.
package jsonl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxLineLength caps a single record. A transcript line or input
// command should never approach this; the cap bounds memory against a
// misbehaving peer that streams bytes without a newline.
const maxLineLength = 4 * 1024 * 1024

// Writer encodes JSON values one per line. Safe for concurrent use:
// each Encode call writes its record atomically under a mutex.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Writer framing onto w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Encode marshals v and writes it followed by a newline as a single
// Write call, so concurrent encoders never interleave records.
func (w *Writer) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Reader splits a byte stream into complete newline-terminated lines.
// Partial trailing data is buffered until the terminating newline
// arrives. A partial line at EOF is discarded — the peer went away
// mid-record and the record is unusable.
type Reader struct {
	r   io.Reader
	buf []byte
	pos int // start of unconsumed data in buf
}

// NewReader returns a Reader framing from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next complete line with the trailing newline
// stripped. Blocks until a full line is available. Returns io.EOF when
// the stream ends; any unterminated trailing fragment is dropped.
func (r *Reader) Next() ([]byte, error) {
	for {
		if line, ok := r.takeLine(); ok {
			return line, nil
		}
		if len(r.buf)-r.pos > maxLineLength {
			return nil, fmt.Errorf("line exceeds %d bytes without newline", maxLineLength)
		}

		chunk := make([]byte, 32*1024)
		n, err := r.r.Read(chunk)
		if n > 0 {
			r.compact()
			r.buf = append(r.buf, chunk[:n]...)
		}
		if err != nil {
			if line, ok := r.takeLine(); ok {
				// A final newline arrived in the same read as the
				// error; deliver the line first, surface the error on
				// the next call.
				r.r = errReader{err}
				return line, nil
			}
			return nil, err
		}
	}
}

// Decode reads the next complete line and unmarshals it into v.
func (r *Reader) Decode(v any) error {
	line, err := r.Next()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	return nil
}

// takeLine extracts one complete line from the buffer if present.
func (r *Reader) takeLine() ([]byte, bool) {
	pending := r.buf[r.pos:]
	idx := bytes.IndexByte(pending, '\n')
	if idx < 0 {
		return nil, false
	}
	line := pending[:idx]
	r.pos += idx + 1
	return line, true
}

// compact shifts unconsumed data to the front of the buffer so the
// buffer does not grow with the total stream length.
func (r *Reader) compact() {
	if r.pos == 0 {
		return
	}
	remaining := len(r.buf) - r.pos
	copy(r.buf, r.buf[r.pos:])
	r.buf = r.buf[:remaining]
	r.pos = 0
}

// errReader replays a sticky error for every Read.
type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
