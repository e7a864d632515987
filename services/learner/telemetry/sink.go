// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Sink receives events from the orchestration layers.
//
// Every layer, whether invoked directly by a user or nested by a caller
// above it, writes to the same sink. This is the mechanism by which the
// learning loop observes the whole call graph, not just the outermost
// layer. Sinks are injected dependencies, never package globals, so each
// layer's tests can assert exactly what was logged.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Sink interface {
	// Emit records one event. A nil-safe timestamp is the caller's job;
	// Emit does not backfill missing fields.
	Emit(ctx context.Context, event Event) error
}

// FileSink appends NDJSON events to a single log file.
//
// The file is opened with O_APPEND so each write is a single atomic
// append on POSIX filesystems. A mutex serializes writers within this
// process; cross-process exclusivity is the producer topology's job
// (one producing process per source file).
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewFileSink opens (creating if needed) the event log at path.
//
// Inputs:
//   - path: Log file path. Parent directory must exist.
//
// Outputs:
//   - *FileSink: Ready to use sink.
//   - error: Non-nil if the file cannot be opened.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &FileSink{file: f, path: path}, nil
}

// Emit appends the event as one JSON line.
func (s *FileSink) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Path returns the log file path this sink appends to.
func (s *FileSink) Path() string {
	return s.path
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// MemorySink collects events in memory for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit records the event.
func (s *MemorySink) Emit(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of all recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Ensure implementations satisfy the interface.
var (
	_ Sink = (*FileSink)(nil)
	_ Sink = (*MemorySink)(nil)
)
