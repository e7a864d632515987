// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry defines the unified event stream shared by every
// orchestration layer and consumed by the learning loop.
//
// Events are newline-delimited JSON, one per line, appended to a per-source
// log file. Files are single-writer (the producing layer) and single-reader
// (the learning loop, via an exclusive file lock). Rotation is performed
// externally and detected by inode change, never by filename convention.
package telemetry

import (
	"time"
)

// Common event types emitted by the orchestration layers.
//
// The learning loop treats the type as an opaque string; these constants
// exist so producers and tests agree on spelling.
const (
	EventTaskStarted    = "task_started"
	EventTaskIteration  = "task_iteration"
	EventTaskCompleted  = "task_completed"
	EventQueryRouted    = "query_routed"
	EventContextFetched = "context_fetched"
	EventCacheHit       = "cache_hit"
	EventCacheMiss      = "cache_miss"
	EventUserFeedback   = "user_feedback"
	EventError          = "error"
)

// Event is one observable action taken by any layer of the system.
//
// Events are immutable once written: producers append them to a log file
// and never rewrite history. The learning loop is a read-only consumer.
type Event struct {
	// Type classifies the event (e.g. "task_completed", "query_routed").
	Type string `json:"event_type"`

	// Timestamp is when the event occurred (UTC).
	Timestamp time.Time `json:"timestamp"`

	// TaskID groups events belonging to one task-loop invocation.
	// Empty for events outside a task context.
	TaskID string `json:"task_id,omitempty"`

	// Data carries event-specific payload fields.
	Data map[string]any `json:"data,omitempty"`
}

// String returns a field from Data as a string, or "" if absent.
func (e *Event) String(key string) string {
	if e.Data == nil {
		return ""
	}
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return ""
}

// Float returns a field from Data as a float64.
//
// Outputs:
//   - float64: The value, or 0 if absent.
//   - bool: True if the field was present and numeric.
func (e *Event) Float(key string) (float64, bool) {
	if e.Data == nil {
		return 0, false
	}
	switch v := e.Data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Int returns a field from Data as an int.
func (e *Event) Int(key string) (int, bool) {
	f, ok := e.Float(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}
