// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backpressure

import (
	"strings"
	"testing"
	"time"
)

func fixedMonitor(config Config, now time.Time) *Monitor {
	m := NewMonitor(config)
	m.now = func() time.Time { return now }
	return m
}

func TestCheck_Healthy(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	m := fixedMonitor(Config{MaxLagSeconds: 300, MaxQueueSize: 1000}, now)

	status := m.Check(now.Add(-10*time.Second), 50)
	if status.IsOverloaded {
		t.Fatalf("overloaded at lag=10s queue=50: %+v", status)
	}
	if status.Recommendation != "healthy" {
		t.Errorf("Recommendation = %q, want healthy", status.Recommendation)
	}
	if status.LagSeconds != 10 {
		t.Errorf("LagSeconds = %v, want 10", status.LagSeconds)
	}
}

func TestCheck_LagOverload(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	m := fixedMonitor(Config{MaxLagSeconds: 300, MaxQueueSize: 1000}, now)

	status := m.Check(now.Add(-400*time.Second), 0)
	if !status.IsOverloaded {
		t.Fatal("lag 400s over max 300s should be overloaded")
	}
	if !strings.Contains(status.Recommendation, "lag") {
		t.Errorf("Recommendation %q does not mention lag", status.Recommendation)
	}
}

func TestCheck_QueueOverload(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	m := fixedMonitor(Config{MaxLagSeconds: 300, MaxQueueSize: 1000}, now)

	status := m.Check(now.Add(-time.Second), 1500)
	if !status.IsOverloaded {
		t.Fatal("queue 1500 over max 1000 should be overloaded")
	}
	if !strings.Contains(status.Recommendation, "queue") {
		t.Errorf("Recommendation %q does not mention queue", status.Recommendation)
	}
}

func TestCheck_BothThresholds(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	m := fixedMonitor(Config{MaxLagSeconds: 300, MaxQueueSize: 1000}, now)

	status := m.Check(now.Add(-301*time.Second), 1001)
	if !status.IsOverloaded {
		t.Fatal("both thresholds exceeded, want overloaded")
	}
	if !strings.Contains(status.Recommendation, "batch size") {
		t.Errorf("Recommendation %q should suggest reducing batch size", status.Recommendation)
	}
}

func TestCheck_ZeroTimeContributesNoLag(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	m := fixedMonitor(Config{MaxLagSeconds: 300, MaxQueueSize: 1000}, now)

	// Before the first batch completes there is no progress mark; the
	// loop must not appear overloaded from lag alone.
	status := m.Check(time.Time{}, 0)
	if status.IsOverloaded {
		t.Fatalf("zero progress mark treated as lag: %+v", status)
	}
	if status.LagSeconds != 0 {
		t.Errorf("LagSeconds = %v, want 0", status.LagSeconds)
	}
}

func TestCheck_ThresholdIsExclusive(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	m := fixedMonitor(Config{MaxLagSeconds: 300, MaxQueueSize: 1000}, now)

	status := m.Check(now.Add(-300*time.Second), 1000)
	if status.IsOverloaded {
		t.Fatalf("values at exactly the thresholds should pass: %+v", status)
	}
}

func TestNewMonitor_AppliesDefaults(t *testing.T) {
	m := NewMonitor(Config{})
	if m.config.MaxLagSeconds != 300 {
		t.Errorf("MaxLagSeconds = %v, want 300", m.config.MaxLagSeconds)
	}
	if m.config.MaxQueueSize != 1000 {
		t.Errorf("MaxQueueSize = %v, want 1000", m.config.MaxQueueSize)
	}
}
