// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stores

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianLearn/services/learner/extract"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func spillRecord(id string) SpillRecord {
	return SpillRecord{
		Pattern: &extract.Pattern{ID: id, Query: "q-" + id, Steps: []string{"s1"}},
		Vector:  []float32{0.1, 0.2},
	}
}

func TestSpill_AppendAndPending(t *testing.T) {
	w, err := NewSpillWriter(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewSpillWriter: %v", err)
	}

	if n, _ := w.Pending(); n != 0 {
		t.Fatalf("Pending on empty = %d, want 0", n)
	}
	for i := 0; i < 3; i++ {
		if err := w.Append(spillRecord(fmt.Sprintf("p%d", i))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	n, err := w.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if n != 3 {
		t.Fatalf("Pending = %d, want 3", n)
	}
}

func TestSpill_ReplayDrainsOldestFirst(t *testing.T) {
	w, err := NewSpillWriter(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewSpillWriter: %v", err)
	}
	for i := 0; i < 3; i++ {
		w.Append(spillRecord(fmt.Sprintf("p%d", i)))
	}

	var order []string
	replayed, err := w.Replay(context.Background(), func(ctx context.Context, r SpillRecord) error {
		order = append(order, r.Pattern.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed != 3 {
		t.Fatalf("replayed = %d, want 3", replayed)
	}
	if order[0] != "p0" || order[2] != "p2" {
		t.Errorf("replay order = %v, want oldest first", order)
	}
	if n, _ := w.Pending(); n != 0 {
		t.Errorf("Pending after drain = %d, want 0", n)
	}
	if _, err := os.Stat(w.path); !os.IsNotExist(err) {
		t.Error("drained spill file not removed")
	}
}

func TestSpill_ReplayStopsAtFirstFailure(t *testing.T) {
	w, err := NewSpillWriter(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewSpillWriter: %v", err)
	}
	for i := 0; i < 5; i++ {
		w.Append(spillRecord(fmt.Sprintf("p%d", i)))
	}

	calls := 0
	replayed, err := w.Replay(context.Background(), func(ctx context.Context, r SpillRecord) error {
		calls++
		if calls == 3 {
			return errors.New("circuit re-opened")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed != 2 {
		t.Fatalf("replayed = %d, want 2", replayed)
	}
	// The failed record and everything after it survive for the next pass.
	if n, _ := w.Pending(); n != 3 {
		t.Fatalf("Pending after interrupted replay = %d, want 3", n)
	}

	var order []string
	replayed, err = w.Replay(context.Background(), func(ctx context.Context, r SpillRecord) error {
		order = append(order, r.Pattern.ID)
		return nil
	})
	if err != nil || replayed != 3 {
		t.Fatalf("second Replay = (%d, %v), want (3, nil)", replayed, err)
	}
	if order[0] != "p2" {
		t.Errorf("retry starts at %s, want p2 (the record that failed)", order[0])
	}
}

func TestSpill_ReplayDropsUnparseableLines(t *testing.T) {
	dir := t.TempDir()
	w, err := NewSpillWriter(dir, testLogger())
	if err != nil {
		t.Fatalf("NewSpillWriter: %v", err)
	}
	w.Append(spillRecord("p0"))

	f, _ := os.OpenFile(filepath.Join(dir, spillFileName), os.O_WRONLY|os.O_APPEND, 0o644)
	f.WriteString("garbage line\n")
	f.Close()
	w.Append(spillRecord("p1"))

	replayed, err := w.Replay(context.Background(), func(ctx context.Context, r SpillRecord) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed != 2 {
		t.Fatalf("replayed = %d, want 2 (garbage dropped)", replayed)
	}
}

func TestSpill_ReplayMissingFileIsNoop(t *testing.T) {
	w, err := NewSpillWriter(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewSpillWriter: %v", err)
	}
	replayed, err := w.Replay(context.Background(), func(ctx context.Context, r SpillRecord) error {
		t.Fatal("persist called with no spill file")
		return nil
	})
	if err != nil || replayed != 0 {
		t.Fatalf("Replay on missing file = (%d, %v), want (0, nil)", replayed, err)
	}
}

func TestSpill_VectorRoundtrip(t *testing.T) {
	w, err := NewSpillWriter(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewSpillWriter: %v", err)
	}
	w.Append(spillRecord("p0"))

	var got SpillRecord
	w.Replay(context.Background(), func(ctx context.Context, r SpillRecord) error {
		got = r
		return nil
	})
	if len(got.Vector) != 2 || got.Vector[1] != 0.2 {
		t.Errorf("Vector = %v, want [0.1 0.2]", got.Vector)
	}
	if got.Pattern.Query != "q-p0" {
		t.Errorf("Query = %q", got.Pattern.Query)
	}
}
