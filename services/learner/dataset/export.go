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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianLearn/services/learner/extract"
)

// exportFileName is the append-only fine-tuning export.
const exportFileName = "finetune.ndjson"

// defaultExportMaxBytes rotates the export file at 64 MiB.
const defaultExportMaxBytes = 64 << 20

// exportRecord is one fine-tuning example derived from a pattern.
type exportRecord struct {
	Query     string    `json:"query"`
	Steps     []string  `json:"steps"`
	Tags      []string  `json:"tags,omitempty"`
	Value     *float64  `json:"value_score"`
	PatternID string    `json:"pattern_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Exporter appends persisted patterns to a fine-tuning dataset file.
//
// Description:
//
//	One NDJSON record per pattern. When the file exceeds MaxBytes it is
//	rotated by renaming with a timestamp suffix; the export stream loses
//	nothing across rotation because records are appended after the check.
//
// Thread Safety: all methods are safe for concurrent use.
type Exporter struct {
	dir      string
	maxBytes int64

	mu sync.Mutex
}

// NewExporter creates an exporter rooted at dir.
//
// maxBytes <= 0 selects the default rotation size.
func NewExporter(dir string, maxBytes int64) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = defaultExportMaxBytes
	}
	return &Exporter{dir: dir, maxBytes: maxBytes}, nil
}

// Append writes one pattern to the export file, rotating first if the
// file has grown past the limit.
func (e *Exporter) Append(pattern *extract.Pattern) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	path := filepath.Join(e.dir, exportFileName)
	if info, err := os.Stat(path); err == nil && info.Size() >= e.maxBytes {
		rotated := filepath.Join(e.dir,
			fmt.Sprintf("finetune-%s.ndjson", time.Now().UTC().Format("20060102T150405")))
		if err := os.Rename(path, rotated); err != nil {
			return fmt.Errorf("rotate export file: %w", err)
		}
	}

	record := exportRecord{
		Query:     pattern.Query,
		Steps:     pattern.Steps,
		Tags:      pattern.Tags,
		Value:     pattern.Score.Value,
		PatternID: pattern.ID,
		CreatedAt: pattern.CreatedAt,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal export record: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open export file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write export record: %w", err)
	}
	return nil
}
