// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 12310 {
		t.Errorf("Port = %d, want 12310", cfg.Server.Port)
	}
	if cfg.Learning.BatchSize != 256 {
		t.Errorf("BatchSize = %d, want 256", cfg.Learning.BatchSize)
	}
	if !cfg.GC.DedupEnabled {
		t.Error("DedupEnabled = false, want true by default")
	}
	if cfg.Scoring.Weights.Outcome != 0.35 {
		t.Errorf("Outcome weight = %v, want 0.35", cfg.Scoring.Weights.Outcome)
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if cfg.Server.Port != 12310 {
		t.Errorf("Port = %d, want default 12310", cfg.Server.Port)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learn.yaml")
	content := `
server:
  port: 9000
learning:
  batch_size: 64
gc:
  pruning_enabled: false
scoring:
  weights:
    outcome: 0.5
    feedback: 0.5
  confidence_floor: 0.6
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Learning.BatchSize != 64 {
		t.Errorf("BatchSize = %d, want 64", cfg.Learning.BatchSize)
	}
	if cfg.GC.PruningEnabled {
		t.Error("PruningEnabled = true, want false from file")
	}
	if cfg.Scoring.ConfidenceFloor != 0.6 {
		t.Errorf("ConfidenceFloor = %v, want 0.6", cfg.Scoring.ConfidenceFloor)
	}
	// Untouched sections keep their defaults.
	if cfg.Circuit.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want default 5", cfg.Circuit.FailureThreshold)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learn.yaml")
	os.WriteFile(path, []byte("server: [not a map"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learn.yaml")
	os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644)

	t.Setenv("ALEUTIAN_LEARN_SERVER_PORT", "9001")
	t.Setenv("ALEUTIAN_LEARN_GC_DEDUP_ENABLED", "false")
	t.Setenv("ALEUTIAN_LEARN_BACKPRESSURE_MAX_LAG_SECONDS", "120.5")
	t.Setenv("ALEUTIAN_LEARN_LLM_MODEL", "llama3:8b")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("Port = %d, want env override 9001", cfg.Server.Port)
	}
	if cfg.GC.DedupEnabled {
		t.Error("DedupEnabled = true, want env override false")
	}
	if cfg.Backpressure.MaxLagSeconds != 120.5 {
		t.Errorf("MaxLagSeconds = %v, want 120.5", cfg.Backpressure.MaxLagSeconds)
	}
	if cfg.LLM.Model != "llama3:8b" {
		t.Errorf("Model = %q, want llama3:8b", cfg.LLM.Model)
	}
}

func TestLoad_UnparseableEnvValueIgnored(t *testing.T) {
	t.Setenv("ALEUTIAN_LEARN_SERVER_PORT", "not-a-number")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 12310 {
		t.Errorf("Port = %d, want default preserved", cfg.Server.Port)
	}
}

func TestLoad_ValidationRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"port out of range", "server:\n  port: 70000\n"},
		{"zero batch size", "learning:\n  batch_size: 0\n"},
		{"score above one", "gc:\n  min_value_score: 1.5\n"},
		{"negative weight", "scoring:\n  weights:\n    outcome: -0.2\n"},
		{"bad weaviate url", "stores:\n  weaviate_url: not-a-url\n"},
		{"empty state dir", "state_dir: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "learn.yaml")
			os.WriteFile(path, []byte(tt.yaml), 0o644)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
