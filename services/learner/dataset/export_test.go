// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataset

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianLearn/services/learner/extract"
	"github.com/AleutianAI/AleutianLearn/services/learner/scoring"
)

func exportPattern(id string, value *float64) *extract.Pattern {
	return &extract.Pattern{
		ID:        id,
		Query:     "query for " + id,
		Steps:     []string{"step one", "step two"},
		Tags:      []string{"test"},
		Score:     scoring.ValueScore{Value: value},
		CreatedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestExporter_AppendWritesNDJSON(t *testing.T) {
	dir := t.TempDir()
	e, err := NewExporter(dir, 0)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}

	score := 0.8
	if err := e.Append(exportPattern("p1", &score)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := e.Append(exportPattern("p2", nil)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, exportFileName))
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()

	var records []exportRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record exportRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("bad export line: %v", err)
		}
		records = append(records, record)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].PatternID != "p1" || *records[0].Value != 0.8 {
		t.Errorf("record 0 = %+v", records[0])
	}
	// A nil score exports as null, never a fabricated number.
	if records[1].Value != nil {
		t.Errorf("record 1 value = %v, want null", *records[1].Value)
	}
}

func TestExporter_RotatesAtMaxBytes(t *testing.T) {
	dir := t.TempDir()
	e, err := NewExporter(dir, 200)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}

	score := 0.5
	for i := 0; i < 5; i++ {
		if err := e.Append(exportPattern("p", &score)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	rotated := 0
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "finetune-") {
			rotated++
		}
	}
	if rotated == 0 {
		t.Fatalf("no rotated files among %d entries, want at least 1", len(entries))
	}
	// The live file always exists and stays under a rotation's worth.
	if _, err := os.Stat(filepath.Join(dir, exportFileName)); err != nil {
		t.Errorf("live export file missing: %v", err)
	}
}
