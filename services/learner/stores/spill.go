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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/AleutianAI/AleutianLearn/services/learner/extract"
)

// spillFileName is the NDJSON file holding patterns that could not be
// persisted while a store circuit was open.
const spillFileName = "patterns.spill.ndjson"

// SpillRecord is one deferred pattern with its embedding vector.
type SpillRecord struct {
	Pattern *extract.Pattern `json:"pattern"`
	Vector  []float32        `json:"vector,omitempty"`
}

// SpillWriter appends patterns to a local spill file when downstream
// stores are unavailable, and replays them once stores recover.
//
// Thread Safety: all methods are safe for concurrent use.
type SpillWriter struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

// NewSpillWriter creates a spill writer rooted at dir.
func NewSpillWriter(dir string, logger *slog.Logger) (*SpillWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spill dir: %w", err)
	}
	return &SpillWriter{
		path:   filepath.Join(dir, spillFileName),
		logger: logger,
	}, nil
}

// Append writes one record to the spill file.
//
// The write is append-only and fsynced so a crash after spilling cannot
// lose the pattern.
func (w *SpillWriter) Append(record SpillRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal spill record: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open spill file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write spill record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync spill file: %w", err)
	}
	return nil
}

// Pending reports how many records are waiting in the spill file.
func (w *SpillWriter) Pending() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open spill file: %w", err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			count++
		}
	}
	return count, scanner.Err()
}

// Replay drains the spill file through persist, oldest first.
//
// Description:
//
//	Stops at the first persist failure and rewrites the file with the
//	remaining records, so a replay interrupted by a re-opened circuit
//	loses nothing and retries from where it stopped. Unparseable lines
//	are logged and dropped.
//
// Outputs:
//
//	int - Records successfully persisted.
//	error - Non-nil if the file cannot be read or rewritten.
func (w *SpillWriter) Replay(ctx context.Context, persist func(context.Context, SpillRecord) error) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open spill file: %w", err)
	}

	var records []SpillRecord
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 1 {
			var record SpillRecord
			if jsonErr := json.Unmarshal(line, &record); jsonErr != nil {
				w.logger.Warn("dropping unparseable spill record",
					slog.String("error", jsonErr.Error()))
			} else {
				records = append(records, record)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			f.Close()
			return 0, fmt.Errorf("read spill file: %w", err)
		}
	}
	f.Close()

	replayed := 0
	for i, record := range records {
		if err := persist(ctx, record); err != nil {
			w.logger.Warn("spill replay interrupted",
				slog.Int("replayed", replayed),
				slog.Int("remaining", len(records)-i),
				slog.String("error", err.Error()))
			if err := w.rewrite(records[i:]); err != nil {
				return replayed, err
			}
			return replayed, nil
		}
		replayed++
	}

	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return replayed, fmt.Errorf("remove drained spill file: %w", err)
	}
	return replayed, nil
}

// rewrite atomically replaces the spill file with the given records.
func (w *SpillWriter) rewrite(records []SpillRecord) error {
	tmp, err := os.CreateTemp(filepath.Dir(w.path), "spill-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp spill file: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpName)
		}
	}()

	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("marshal spill record: %w", err)
		}
		if _, err := tmp.Write(append(data, '\n')); err != nil {
			tmp.Close()
			return fmt.Errorf("write temp spill file: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp spill file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp spill file: %w", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		return fmt.Errorf("replace spill file: %w", err)
	}
	success = true
	return nil
}
