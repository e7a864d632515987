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
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianLearn/services/learner/checkpoint"
)

// logSnippetLen bounds how much of an unparseable line is logged.
const logSnippetLen = 100

// ReaderConfig configures the telemetry Reader.
type ReaderConfig struct {
	// Sources are the initial telemetry log files to consume.
	Sources []string

	// LockWait bounds how long to wait for a source's file lock before
	// skipping it for this cycle (default: 10s).
	LockWait time.Duration

	// CheckpointInterval is how many events to consume from a source
	// before persisting its checkpoint (default: 100). Lower values cost
	// more I/O; higher values allow more re-processing after a crash.
	CheckpointInterval int
}

// ReaderStats are cumulative ingestion counters for the status endpoint.
type ReaderStats struct {
	EventsRead     int64            `json:"events_read"`
	LinesSkipped   int64            `json:"lines_skipped"`
	Rotations      int64            `json:"rotations"`
	LockTimeouts   int64            `json:"lock_timeouts"`
	SourceOffsets  map[string]int64 `json:"source_offsets"`
	ProcessedCount map[string]int64 `json:"processed_count"`
	SkippedCount   map[string]int64 `json:"skipped_count"`
}

// position is the in-memory read position for one source.
type position struct {
	offset        int64
	inode         uint64
	processed     int64
	sinceLastSave int
	lastSaved     int64 // last persisted offset, for the monotonic check
}

// Reader produces a lazy, restartable sequence of events from a set of
// append-only log sources.
//
// For each source it acquires an exclusive file lock with a bounded wait,
// detects external rotation via inode change, seeks to the checkpointed
// offset, and reads line-delimited JSON. A line not terminated by a
// newline is a write in progress and is left unconsumed. A line that
// fails to parse is logged and skipped, never fatal.
//
// Offsets advance in memory on every line but are persisted through the
// checkpoint Manager only every CheckpointInterval events, trading a small
// amount of possible re-processing after a crash for I/O efficiency.
//
// Thread Safety: AddSource, Sources, and Stats are safe from any
// goroutine. ReadBatch and FlushCheckpoints must be called from a single
// goroutine (the learning loop).
type Reader struct {
	cfg         ReaderConfig
	locker      FileLocker
	checkpoints *checkpoint.Manager
	logger      *slog.Logger

	mu        sync.Mutex
	sources   []string
	positions map[string]position
	skipped   map[string]int64

	eventsRead   int64
	linesSkipped int64
	rotations    int64
	lockTimeouts int64
}

// NewReader creates a Reader over the configured sources.
//
// Inputs:
//   - cfg: Reader configuration. Zero-value fields get defaults.
//   - checkpoints: Checkpoint manager for durable positions. Must not be nil.
//   - logger: Structured logger. Must not be nil.
//
// Outputs:
//   - *Reader: Ready to use reader.
func NewReader(cfg ReaderConfig, checkpoints *checkpoint.Manager, logger *slog.Logger) *Reader {
	if cfg.LockWait <= 0 {
		cfg.LockWait = 10 * time.Second
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 100
	}
	r := &Reader{
		cfg:         cfg,
		locker:      newFileLocker(),
		checkpoints: checkpoints,
		logger:      logger,
		positions:   make(map[string]position),
		skipped:     make(map[string]int64),
	}
	for _, src := range cfg.Sources {
		r.AddSource(src)
	}
	return r
}

// AddSource registers a telemetry source at runtime.
//
// Duplicate paths are ignored. New sources start from their checkpointed
// position, or offset 0 if none exists.
func (r *Reader) AddSource(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sources {
		if s == path {
			return
		}
	}
	r.sources = append(r.sources, path)
	sort.Strings(r.sources)
	r.logger.Info("telemetry source registered", slog.String("source", path))
}

// Sources returns the currently registered source paths.
func (r *Reader) Sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sources))
	copy(out, r.sources)
	return out
}

// ReadBatch reads up to max events across all sources.
//
// Description:
//
//	Sources are visited in deterministic order. A source whose lock cannot
//	be acquired within the wait budget is logged and skipped for this
//	cycle; the next cycle retries it. Per-source errors never abort the
//	batch.
//
// Inputs:
//
//	ctx - Context for cancellation, observed between sources.
//	max - Maximum events to return. Must be > 0.
//
// Outputs:
//
//	[]Event - The events read, possibly empty.
//	error - Only ctx.Err() on cancellation; source errors are contained.
func (r *Reader) ReadBatch(ctx context.Context, max int) ([]Event, error) {
	var batch []Event
	for _, src := range r.Sources() {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		if len(batch) >= max {
			break
		}
		events, err := r.readSource(ctx, src, max-len(batch))
		if err != nil {
			switch err {
			case ErrLockTimeout:
				r.count(func() { r.lockTimeouts++ })
				r.logger.Warn("telemetry source locked, skipping this cycle",
					slog.String("source", src))
			case ErrSourceMissing:
				r.logger.Debug("telemetry source not present yet",
					slog.String("source", src))
			default:
				r.logger.Error("telemetry source read failed",
					slog.String("source", src),
					slog.String("error", err.Error()))
			}
			continue
		}
		batch = append(batch, events...)
	}
	return batch, nil
}

// readSource reads up to budget events from one source.
func (r *Reader) readSource(ctx context.Context, path string, budget int) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSourceMissing
		}
		return nil, err
	}
	defer f.Close()

	if err := lockWithWait(ctx, r.locker, f, r.cfg.LockWait); err != nil {
		return nil, err
	}
	defer r.locker.Unlock(f)

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	inode := fileInode(info)

	pos := r.loadPosition(path, inode)

	if pos.inode != 0 && inode != 0 && pos.inode != inode {
		// External rotation: the path now names a different file.
		r.logger.Info("telemetry source rotated, resetting offset",
			slog.String("source", path),
			slog.Uint64("old_inode", pos.inode),
			slog.Uint64("new_inode", inode))
		pos.offset = 0
		pos.lastSaved = 0
		pos.inode = inode
		r.count(func() { r.rotations++ })
	}
	if info.Size() < pos.offset {
		// Truncation without an inode change. Treat like rotation.
		r.logger.Warn("telemetry source shrank, resetting offset",
			slog.String("source", path),
			slog.Int64("offset", pos.offset),
			slog.Int64("size", info.Size()))
		pos.offset = 0
		pos.lastSaved = 0
	}

	if _, err := f.Seek(pos.offset, io.SeekStart); err != nil {
		return nil, err
	}

	var events []Event
	var skipped int64
	reader := bufio.NewReader(f)
	for len(events) < budget {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// No trailing newline: a write in progress. Leave it for the
			// next cycle without consuming any of its bytes.
			break
		}
		if err != nil {
			r.commit(path, pos, int64(len(events)), skipped)
			return events, err
		}

		pos.offset += int64(len(line))
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(trimmed), &event); err != nil {
			snippet := trimmed
			if len(snippet) > logSnippetLen {
				snippet = snippet[:logSnippetLen]
			}
			r.logger.Warn("skipping unparseable telemetry line",
				slog.String("source", path),
				slog.String("line", snippet),
				slog.String("error", err.Error()))
			skipped++
			continue
		}

		events = append(events, event)
		pos.processed++
		pos.sinceLastSave++

		if pos.sinceLastSave >= r.cfg.CheckpointInterval {
			r.persist(path, &pos)
		}
	}

	r.commit(path, pos, int64(len(events)), skipped)
	return events, nil
}

// loadPosition returns a copy of the in-memory position for a source,
// loading the durable checkpoint on first sight.
func (r *Reader) loadPosition(path string, inode uint64) position {
	r.mu.Lock()
	if pos, ok := r.positions[path]; ok {
		r.mu.Unlock()
		return pos
	}
	r.mu.Unlock()

	state := r.checkpoints.Load(path)
	pos := position{
		offset:    state.ByteOffset,
		inode:     state.Inode,
		processed: state.ProcessedCount,
		lastSaved: state.ByteOffset,
	}
	if pos.inode == 0 {
		pos.inode = inode
	}

	r.mu.Lock()
	r.positions[path] = pos
	r.mu.Unlock()
	return pos
}

// commit stores the updated position and counters after a source pass.
func (r *Reader) commit(path string, pos position, read, skipped int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[path] = pos
	r.eventsRead += read
	r.linesSkipped += skipped
	r.skipped[path] += skipped
}

// count runs a counter mutation under the reader mutex.
func (r *Reader) count(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

// persist saves one source's position through the checkpoint manager.
//
// Offsets never move backwards for the same inode: a stale in-memory
// position can only re-save what is already durable, not regress it.
func (r *Reader) persist(path string, pos *position) {
	if pos.offset < pos.lastSaved {
		return
	}
	state := checkpoint.State{
		SourcePath:     path,
		ByteOffset:     pos.offset,
		Inode:          pos.inode,
		ProcessedCount: pos.processed,
	}
	if err := r.checkpoints.Save(state); err != nil {
		r.logger.Error("checkpoint save failed",
			slog.String("source", path),
			slog.String("error", err.Error()))
		return
	}
	pos.lastSaved = pos.offset
	pos.sinceLastSave = 0
}

// FlushCheckpoints persists every in-memory position with unsaved events.
//
// Called after each batch completes downstream processing and at loop
// shutdown, so a clean exit never re-reads the tail of a source.
func (r *Reader) FlushCheckpoints() {
	r.mu.Lock()
	pending := make(map[string]position)
	for path, pos := range r.positions {
		if pos.sinceLastSave > 0 || pos.offset > pos.lastSaved {
			pending[path] = pos
		}
	}
	r.mu.Unlock()

	for path, pos := range pending {
		r.persist(path, &pos)
		r.mu.Lock()
		r.positions[path] = pos
		r.mu.Unlock()
	}
}

// Stats returns cumulative ingestion counters.
func (r *Reader) Stats() ReaderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := ReaderStats{
		EventsRead:     r.eventsRead,
		LinesSkipped:   r.linesSkipped,
		Rotations:      r.rotations,
		LockTimeouts:   r.lockTimeouts,
		SourceOffsets:  make(map[string]int64, len(r.positions)),
		ProcessedCount: make(map[string]int64, len(r.positions)),
		SkippedCount:   make(map[string]int64, len(r.skipped)),
	}
	for path, pos := range r.positions {
		stats.SourceOffsets[path] = pos.offset
		stats.ProcessedCount[path] = pos.processed
	}
	for path, n := range r.skipped {
		stats.SkippedCount[path] = n
	}
	return stats
}
