// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint persists per-source read positions so the learning
// loop can resume after a crash without losing or re-reading the whole log.
//
// Checkpoints are written atomically (temp file + fsync + rename) with a
// SHA256 checksum envelope. A corrupt or missing checkpoint is never fatal:
// Load returns a zero state and the reader restarts that source from
// offset 0. Consumers downstream must therefore tolerate rare duplicates.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Version is the current checkpoint format version (semver).
const Version = "1.0.0"

// State records how far one telemetry source has been consumed.
type State struct {
	// SourcePath is the telemetry log file this state tracks.
	SourcePath string `json:"source_path"`

	// ByteOffset is the next unread byte in the file. Monotonically
	// non-decreasing for a given (SourcePath, Inode) pair.
	ByteOffset int64 `json:"byte_offset"`

	// Inode identifies the file at the time the offset was recorded.
	// An inode mismatch on the live file means external rotation.
	Inode uint64 `json:"inode"`

	// ProcessedCount is the total events consumed from this source.
	ProcessedCount int64 `json:"processed_count"`

	// SavedAt is when this state was persisted.
	SavedAt time.Time `json:"saved_at"`
}

// IsZero reports whether the state is the empty "no checkpoint" state.
func (s State) IsZero() bool {
	return s.SourcePath == "" && s.ByteOffset == 0 && s.Inode == 0 && s.ProcessedCount == 0
}

// envelope is the on-disk format: the state plus integrity metadata.
type envelope struct {
	State    State  `json:"state"`
	Version  string `json:"version"`
	Checksum string `json:"checksum"`
}

// computeChecksum calculates SHA256 over the state and version.
func computeChecksum(state State) (string, error) {
	payload := struct {
		State   State  `json:"state"`
		Version string `json:"version"`
	}{State: state, Version: Version}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal for checksum: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Manager reads and writes checkpoint files, one per telemetry source.
//
// Thread Safety: Safe for concurrent use on different sources. Callers
// must serialize Save calls for the same source (the learning loop is the
// single writer, so this holds structurally).
type Manager struct {
	dir    string
	logger *slog.Logger
}

// NewManager creates a Manager rooted at dir, creating it if needed.
//
// Inputs:
//   - dir: Directory for checkpoint files.
//   - logger: Structured logger. Must not be nil.
//
// Outputs:
//   - *Manager: Ready to use manager.
//   - error: Non-nil if the directory cannot be created.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Manager{dir: dir, logger: logger}, nil
}

// PathFor returns the checkpoint file path for a source.
//
// The filename combines the source basename with a short hash of the full
// path so two sources with the same basename never collide.
func (m *Manager) PathFor(sourcePath string) string {
	sum := sha256.Sum256([]byte(sourcePath))
	name := fmt.Sprintf("%s-%s.checkpoint.json", filepath.Base(sourcePath), hex.EncodeToString(sum[:4]))
	return filepath.Join(m.dir, name)
}

// Save persists the state atomically.
//
// Description:
//
//	Writes to a temp file in the same directory, fsyncs, then renames over
//	the canonical path. A reader never observes a partial checkpoint.
//
// Inputs:
//
//	state - The state to persist. SourcePath must not be empty.
//
// Outputs:
//
//	error - Non-nil if serialization or any file operation fails.
func (m *Manager) Save(state State) error {
	if state.SourcePath == "" {
		return fmt.Errorf("checkpoint: source path must not be empty")
	}
	state.SavedAt = time.Now().UTC()

	checksum, err := computeChecksum(state)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(envelope{State: state, Version: Version, Checksum: checksum}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tempFile, err := os.CreateTemp(m.dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tempPath, m.PathFor(state.SourcePath)); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	success = true
	return nil
}

// Load returns the last durable state for a source.
//
// Description:
//
//	A missing file yields a zero state (start from offset 0). A corrupt
//	file, a version mismatch, or a checksum mismatch also yields a zero
//	state with a warning log; corruption is never fatal to the process.
//
// Inputs:
//
//	sourcePath - The telemetry source whose state to load.
//
// Outputs:
//
//	State - The last durable state, or the zero state.
func (m *Manager) Load(sourcePath string) State {
	path := m.PathFor(sourcePath)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("checkpoint unreadable, restarting from zero",
				slog.String("source", sourcePath),
				slog.String("error", err.Error()))
		}
		return State{}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.logger.Warn("checkpoint corrupt, restarting from zero",
			slog.String("source", sourcePath),
			slog.String("error", err.Error()))
		return State{}
	}
	if env.Version != Version {
		m.logger.Warn("checkpoint version mismatch, restarting from zero",
			slog.String("source", sourcePath),
			slog.String("got", env.Version),
			slog.String("want", Version))
		return State{}
	}

	expected, err := computeChecksum(env.State)
	if err != nil || env.Checksum != expected {
		m.logger.Warn("checkpoint checksum mismatch, restarting from zero",
			slog.String("source", sourcePath))
		return State{}
	}

	return env.State
}
