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
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestFileSink_EmitAppendsNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sink.ndjson")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := sink.Emit(ctx, Event{Type: EventQueryRouted, TaskID: "t1"})
		if err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open sink file: %v", err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("line %d is not a valid event: %v", count, err)
		}
		if event.Timestamp.IsZero() {
			t.Errorf("line %d: timestamp not backfilled", count)
		}
		count++
	}
	if count != 3 {
		t.Fatalf("got %d lines, want 3", count)
	}
}

func TestFileSink_ConcurrentEmits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sink.ndjson")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer sink.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				sink.Emit(context.Background(), Event{Type: EventCacheHit})
			}
		}()
	}
	wg.Wait()

	f, _ := os.Open(path)
	defer f.Close()
	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("interleaved write produced bad line: %v", err)
		}
		count++
	}
	if count != 200 {
		t.Fatalf("got %d lines, want 200", count)
	}
}

func TestMemorySink_RecordsEvents(t *testing.T) {
	sink := NewMemorySink()
	sink.Emit(context.Background(), Event{Type: EventTaskStarted, TaskID: "a"})
	sink.Emit(context.Background(), Event{Type: EventTaskCompleted, TaskID: "a"})

	events := sink.Events()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].Type != EventTaskCompleted {
		t.Errorf("second event = %s, want %s", events[1].Type, EventTaskCompleted)
	}
}
