// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backpressure detects when the learning loop falls behind its
// producers and tells it to slow down.
//
// Overload is a self-throttle condition, not an error: the driving loop
// backs off its interval and the state is surfaced through metrics and
// the readiness endpoint so operators can see it.
package backpressure

import (
	"fmt"
	"time"
)

// Status is the derived overload assessment. Never persisted.
type Status struct {
	// IsOverloaded is true when either threshold is exceeded.
	IsOverloaded bool `json:"is_overloaded"`

	// LagSeconds is how long ago the loop last finished processing.
	LagSeconds float64 `json:"lag_seconds"`

	// QueueSize is the pending event count at check time.
	QueueSize int `json:"queue_size"`

	// Recommendation is a human-readable hint for the status endpoint.
	Recommendation string `json:"recommendation"`
}

// Config holds the overload thresholds.
type Config struct {
	// MaxLagSeconds is the processing lag above which the loop is
	// considered overloaded (default: 300).
	MaxLagSeconds float64

	// MaxQueueSize is the pending event count above which the loop is
	// considered overloaded (default: 1000).
	MaxQueueSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxLagSeconds: 300,
		MaxQueueSize:  1000,
	}
}

// Monitor compares processing lag and queue depth to thresholds.
//
// Thread Safety: Check is a pure function over its inputs plus the clock;
// safe for concurrent use.
type Monitor struct {
	config Config

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewMonitor creates a Monitor with the given thresholds.
func NewMonitor(config Config) *Monitor {
	if config.MaxLagSeconds <= 0 {
		config.MaxLagSeconds = DefaultConfig().MaxLagSeconds
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = DefaultConfig().MaxQueueSize
	}
	return &Monitor{config: config, now: time.Now}
}

// Check derives the overload status from the loop's last progress mark
// and current queue depth.
//
// Inputs:
//   - lastProcessedAt: When the loop last finished a batch. A zero time
//     means the loop has not completed a batch yet and contributes no lag.
//   - queueSize: Events read but not yet persisted.
//
// Outputs:
//   - Status: The derived assessment.
func (m *Monitor) Check(lastProcessedAt time.Time, queueSize int) Status {
	var lag float64
	if !lastProcessedAt.IsZero() {
		lag = m.now().Sub(lastProcessedAt).Seconds()
	}

	status := Status{
		LagSeconds: lag,
		QueueSize:  queueSize,
	}

	switch {
	case lag > m.config.MaxLagSeconds && queueSize > m.config.MaxQueueSize:
		status.IsOverloaded = true
		status.Recommendation = fmt.Sprintf(
			"lag %.0fs exceeds %.0fs and queue %d exceeds %d; back off and reduce batch size",
			lag, m.config.MaxLagSeconds, queueSize, m.config.MaxQueueSize)
	case lag > m.config.MaxLagSeconds:
		status.IsOverloaded = true
		status.Recommendation = fmt.Sprintf(
			"lag %.0fs exceeds %.0fs; increase loop sleep interval",
			lag, m.config.MaxLagSeconds)
	case queueSize > m.config.MaxQueueSize:
		status.IsOverloaded = true
		status.Recommendation = fmt.Sprintf(
			"queue %d exceeds %d; increase loop sleep interval",
			queueSize, m.config.MaxQueueSize)
	default:
		status.Recommendation = "healthy"
	}

	return status
}
