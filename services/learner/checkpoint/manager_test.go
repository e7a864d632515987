// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checkpoint

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManager_SaveLoadRoundtrip(t *testing.T) {
	m, err := NewManager(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	want := State{
		SourcePath:     "/var/log/telemetry/events.ndjson",
		ByteOffset:     4096,
		Inode:          123456,
		ProcessedCount: 42,
	}
	if err := m.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := m.Load(want.SourcePath)
	if got.ByteOffset != want.ByteOffset || got.Inode != want.Inode ||
		got.ProcessedCount != want.ProcessedCount || got.SourcePath != want.SourcePath {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
	if got.SavedAt.IsZero() {
		t.Error("SavedAt not stamped on save")
	}
}

func TestManager_LoadMissingReturnsZero(t *testing.T) {
	m, err := NewManager(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	got := m.Load("/never/saved.ndjson")
	if !got.IsZero() {
		t.Errorf("Load of missing checkpoint = %+v, want zero state", got)
	}
}

func TestManager_LoadCorruptReturnsZero(t *testing.T) {
	m, err := NewManager(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	source := "/var/log/telemetry/events.ndjson"
	if err := m.Save(State{SourcePath: source, ByteOffset: 100}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := os.WriteFile(m.PathFor(source), []byte("{truncated"), 0o644); err != nil {
		t.Fatalf("corrupt checkpoint: %v", err)
	}
	got := m.Load(source)
	if !got.IsZero() {
		t.Errorf("Load of corrupt checkpoint = %+v, want zero state", got)
	}
}

func TestManager_LoadChecksumMismatchReturnsZero(t *testing.T) {
	m, err := NewManager(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	source := "/var/log/telemetry/events.ndjson"
	if err := m.Save(State{SourcePath: source, ByteOffset: 100}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Tamper with the payload without fixing the checksum.
	path := m.PathFor(source)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read checkpoint: %v", err)
	}
	tampered := strings.Replace(string(data), `"byte_offset": 100`, `"byte_offset": 999`, 1)
	if tampered == string(data) {
		t.Fatal("tamper target not found in checkpoint file")
	}
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatalf("write tampered checkpoint: %v", err)
	}

	got := m.Load(source)
	if !got.IsZero() {
		t.Errorf("Load of tampered checkpoint = %+v, want zero state", got)
	}
}

func TestManager_SaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	source := "/var/log/telemetry/events.ndjson"
	if err := m.Save(State{SourcePath: source, ByteOffset: 1}); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := m.Save(State{SourcePath: source, ByteOffset: 2}); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	// No temp files left behind; the final file is valid JSON.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Fatalf("checkpoint dir has %d entries (%v), want 1", len(entries), names)
	}
	data, err := os.ReadFile(m.PathFor(source))
	if err != nil {
		t.Fatalf("read checkpoint: %v", err)
	}
	var js map[string]any
	if err := json.Unmarshal(data, &js); err != nil {
		t.Fatalf("checkpoint is not valid JSON: %v", err)
	}
	if got := m.Load(source); got.ByteOffset != 2 {
		t.Errorf("ByteOffset = %d, want 2", got.ByteOffset)
	}
}

func TestManager_PathForDistinguishesSources(t *testing.T) {
	m, err := NewManager(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	a := m.PathFor("/srv/a/events.ndjson")
	b := m.PathFor("/srv/b/events.ndjson")
	if a == b {
		t.Errorf("same-basename sources share checkpoint path %s", a)
	}
}
