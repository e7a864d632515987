// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine drives the continuous learning cycle: read telemetry,
// score, extract patterns, and persist them behind circuit breakers,
// with a spill file covering store outages.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianLearn/services/learner/backpressure"
	"github.com/AleutianAI/AleutianLearn/services/learner/breaker"
	"github.com/AleutianAI/AleutianLearn/services/learner/dataset"
	"github.com/AleutianAI/AleutianLearn/services/learner/extract"
	"github.com/AleutianAI/AleutianLearn/services/learner/observability"
	"github.com/AleutianAI/AleutianLearn/services/learner/scoring"
	"github.com/AleutianAI/AleutianLearn/services/learner/stores"
	"github.com/AleutianAI/AleutianLearn/services/learner/telemetry"
	"github.com/AleutianAI/AleutianLearn/services/llm"
)

// maxBackoffMultiplier caps the backpressure-driven interval doubling.
const maxBackoffMultiplier = 8

// PatternStore is the slice of the vector store the engine needs.
type PatternStore interface {
	UpsertPattern(ctx context.Context, pattern *extract.Pattern, vector []float32) error
}

// SolutionStore is the slice of the relational store the engine needs.
type SolutionStore interface {
	Insert(ctx context.Context, sol stores.Solution) error
	ContentHashExists(ctx context.Context, hash string) (bool, error)
}

// Config holds the learning loop cadence.
type Config struct {
	// Interval is the pause between learning cycles (default: 15s).
	Interval time.Duration

	// BatchSize bounds events consumed per cycle (default: 256).
	BatchSize int

	// GCInterval is the pause between dataset GC cycles (default: 1h).
	GCInterval time.Duration
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		Interval:   15 * time.Second,
		BatchSize:  256,
		GCInterval: time.Hour,
	}
}

// Status is the learning loop snapshot served by the status endpoint.
type Status struct {
	Reader            telemetry.ReaderStats `json:"reader"`
	CyclesCompleted   int64                 `json:"cycles_completed"`
	LastCycleAt       time.Time             `json:"last_cycle_at,omitzero"`
	LastCycleDuration time.Duration         `json:"last_cycle_duration"`
	PatternsExtracted int64                 `json:"patterns_extracted"`
	PatternsSpilled   int64                 `json:"patterns_spilled"`
	Backpressure      backpressure.Status   `json:"backpressure"`
}

// Deps are the collaborators the engine is assembled from.
type Deps struct {
	Reader            *telemetry.Reader
	Scorer            *scoring.Scorer
	Extractor         *extract.Extractor
	Embedder          llm.EmbeddingClient
	Patterns          PatternStore
	Solutions         SolutionStore
	Spill             *stores.SpillWriter
	Exporter          *dataset.Exporter
	GC                *dataset.Manager
	Monitor           *backpressure.Monitor
	VectorBreaker     *breaker.Breaker
	RelationalBreaker *breaker.Breaker
	Metrics           *observability.Metrics
	Logger            *slog.Logger
}

// Engine owns the learning and GC loops.
//
// Thread Safety: Run and RunGC each occupy one goroutine; Status and
// TriggerGC are safe from any goroutine.
type Engine struct {
	config Config
	deps   Deps

	mu                sync.Mutex
	lastSkipped       map[string]int64
	cyclesCompleted   int64
	lastCycleAt       time.Time
	lastCycleDuration time.Duration
	patternsExtracted int64
	patternsSpilled   int64
	lastEventAt       time.Time
	lastPressure      backpressure.Status
}

// New creates an engine. Zero-value config fields get defaults.
func New(config Config, deps Deps) *Engine {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.GCInterval <= 0 {
		config.GCInterval = defaults.GCInterval
	}
	return &Engine{config: config, deps: deps, lastSkipped: make(map[string]int64)}
}

// Run executes the learning loop until ctx is cancelled.
//
// Description:
//
//	Each cycle replays the spill file when the stores are back, reads a
//	batch, scores it, extracts qualifying patterns, and persists them
//	behind the circuit breakers. The sleep interval doubles (capped)
//	while the backpressure monitor reports overload and restores once
//	healthy. Checkpoints are flushed on exit so a clean shutdown never
//	re-reads events.
func (e *Engine) Run(ctx context.Context) error {
	defer e.deps.Reader.FlushCheckpoints()

	interval := e.config.Interval
	for {
		e.runCycle(ctx)

		pressure := e.checkPressure(ctx)
		if pressure.IsOverloaded {
			if interval < e.config.Interval*maxBackoffMultiplier {
				interval *= 2
			}
			e.deps.Logger.Warn("backpressure backoff",
				slog.Duration("interval", interval),
				slog.Float64("lag_seconds", pressure.LagSeconds),
				slog.String("recommendation", pressure.Recommendation))
		} else {
			interval = e.config.Interval
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// RunGC executes the dataset GC loop until ctx is cancelled.
func (e *Engine) RunGC(ctx context.Context) error {
	ticker := time.NewTicker(e.config.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.deps.GC.RunCycle(ctx)
		}
	}
}

// TriggerGC runs one GC cycle on demand (manual endpoint).
func (e *Engine) TriggerGC(ctx context.Context) []dataset.Report {
	return e.deps.GC.RunCycle(ctx)
}

// runCycle performs one learning iteration.
func (e *Engine) runCycle(ctx context.Context) {
	start := time.Now()

	e.replaySpill(ctx)

	events, err := e.deps.Reader.ReadBatch(ctx, e.config.BatchSize)
	if err != nil {
		e.deps.Logger.Error("read batch failed", slog.String("error", err.Error()))
		return
	}

	extracted, spilled := e.processBatch(ctx, events)

	duration := time.Since(start)
	e.mu.Lock()
	e.cyclesCompleted++
	e.lastCycleAt = start
	e.lastCycleDuration = duration
	e.patternsExtracted += extracted
	e.patternsSpilled += spilled
	if n := len(events); n > 0 {
		e.lastEventAt = events[n-1].Timestamp
	}
	e.mu.Unlock()

	if m := e.deps.Metrics; m != nil {
		m.EventsProcessedTotal.Add(ctx, int64(len(events)))
		m.CycleDuration.Record(ctx, duration.Seconds())
		e.recordSkipped(ctx, m)
	}
}

// recordSkipped adds the per-source unparseable-line delta since the
// previous cycle to the skip counter.
func (e *Engine) recordSkipped(ctx context.Context, m *observability.Metrics) {
	stats := e.deps.Reader.Stats()
	e.mu.Lock()
	defer e.mu.Unlock()
	for src, total := range stats.SkippedCount {
		if delta := total - e.lastSkipped[src]; delta > 0 {
			m.EventsSkippedTotal.Add(ctx, delta,
				metric.WithAttributes(attribute.String("source", src)))
			e.lastSkipped[src] = total
		}
	}
}

// processBatch scores a batch and extracts and persists its patterns.
func (e *Engine) processBatch(ctx context.Context, events []telemetry.Event) (extracted, spilled int64) {
	if len(events) == 0 {
		return 0, 0
	}

	for i := range events {
		if events[i].Type == telemetry.EventUserFeedback {
			e.deps.Scorer.RecordFeedback(events[i])
		}
	}

	scores := e.deps.Scorer.ScoreBatch(ctx, events)
	for i, event := range events {
		score := scores[i]
		if m := e.deps.Metrics; m != nil && score.Value != nil {
			m.ValueScoreDistribution.Record(ctx, *score.Value)
		}

		pattern, err := e.deps.Extractor.Extract(ctx, event, score)
		if errors.Is(err, extract.ErrNotQualified) {
			continue
		}
		if err != nil {
			e.deps.Logger.Warn("extraction failed",
				slog.String("task_id", event.TaskID),
				slog.String("error", err.Error()))
			if m := e.deps.Metrics; m != nil {
				m.ExtractionFailuresTotal.Add(ctx, 1)
			}
			continue
		}

		if e.persistOrSpill(ctx, pattern) {
			extracted++
		} else {
			spilled++
		}
	}
	return extracted, spilled
}

// persistOrSpill stores one pattern, spilling locally when a breaker is
// open or a store call fails. Returns true when persisted.
func (e *Engine) persistOrSpill(ctx context.Context, pattern *extract.Pattern) bool {
	vector, err := e.embedPattern(ctx, pattern)
	if err != nil {
		e.deps.Logger.Warn("pattern embedding failed, spilling",
			slog.String("pattern_id", pattern.ID),
			slog.String("error", err.Error()))
		vector = nil
	}

	if err == nil {
		if err := e.persist(ctx, pattern, vector); err == nil {
			return true
		} else if !errors.Is(err, errDuplicatePattern) {
			e.deps.Logger.Warn("pattern persist failed, spilling",
				slog.String("pattern_id", pattern.ID),
				slog.String("error", err.Error()))
		} else {
			// Already in the corpus; nothing to store or spill.
			return true
		}
	}

	if err := e.deps.Spill.Append(stores.SpillRecord{Pattern: pattern, Vector: vector}); err != nil {
		e.deps.Logger.Error("spill append failed, pattern lost",
			slog.String("pattern_id", pattern.ID),
			slog.String("error", err.Error()))
		return false
	}
	if m := e.deps.Metrics; m != nil {
		m.SpilledPatternsTotal.Add(ctx, 1)
	}
	return false
}

// errDuplicatePattern marks a pattern whose content already exists.
var errDuplicatePattern = errors.New("pattern content already stored")

// persist writes one pattern to both stores behind their breakers.
func (e *Engine) persist(ctx context.Context, pattern *extract.Pattern, vector []float32) error {
	hash := pattern.ContentHash()

	var exists bool
	err := e.deps.RelationalBreaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		exists, err = e.deps.Solutions.ContentHashExists(ctx, hash)
		return err
	})
	if err != nil {
		return err
	}
	if exists {
		return errDuplicatePattern
	}

	err = e.deps.VectorBreaker.Execute(ctx, func(ctx context.Context) error {
		return e.deps.Patterns.UpsertPattern(ctx, pattern, vector)
	})
	if err != nil {
		return err
	}

	source := ""
	if len(pattern.SourceEvents) > 0 {
		source = pattern.SourceEvents[0]
	}
	err = e.deps.RelationalBreaker.Execute(ctx, func(ctx context.Context) error {
		return e.deps.Solutions.Insert(ctx, stores.Solution{
			ID:          uuid.NewString(),
			PatternID:   pattern.ID,
			ContentHash: hash,
			ValueScore:  pattern.Score.Value,
			Source:      source,
			CreatedAt:   pattern.CreatedAt,
		})
	})
	if err != nil {
		return err
	}

	if e.deps.Exporter != nil {
		if err := e.deps.Exporter.Append(pattern); err != nil {
			e.deps.Logger.Warn("dataset export failed",
				slog.String("pattern_id", pattern.ID),
				slog.String("error", err.Error()))
		}
	}
	if m := e.deps.Metrics; m != nil {
		m.PatternsExtractedTotal.Add(ctx, 1)
	}
	return nil
}

// embedPattern produces the vector stored alongside a pattern.
func (e *Engine) embedPattern(ctx context.Context, pattern *extract.Pattern) ([]float32, error) {
	if e.deps.Embedder == nil {
		return nil, nil
	}
	vectors, err := e.deps.Embedder.EmbedBatch(ctx, []string{pattern.Query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	return vectors[0], nil
}

// replaySpill drains deferred patterns once the breakers allow writes.
func (e *Engine) replaySpill(ctx context.Context) {
	if e.deps.VectorBreaker.State() == breaker.StateOpen ||
		e.deps.RelationalBreaker.State() == breaker.StateOpen {
		return
	}

	replayed, err := e.deps.Spill.Replay(ctx, func(ctx context.Context, record stores.SpillRecord) error {
		err := e.persist(ctx, record.Pattern, record.Vector)
		if errors.Is(err, errDuplicatePattern) {
			return nil
		}
		return err
	})
	if err != nil {
		e.deps.Logger.Error("spill replay failed", slog.String("error", err.Error()))
		return
	}
	if replayed > 0 {
		e.deps.Logger.Info("spill replayed", slog.Int("patterns", replayed))
		if m := e.deps.Metrics; m != nil {
			m.ReplayedPatternsTotal.Add(ctx, int64(replayed))
		}
	}
}

// checkPressure evaluates the backpressure monitor and records gauges.
func (e *Engine) checkPressure(ctx context.Context) backpressure.Status {
	e.mu.Lock()
	lastEventAt := e.lastEventAt
	e.mu.Unlock()

	pending, err := e.deps.Spill.Pending()
	if err != nil {
		e.deps.Logger.Warn("spill pending count failed", slog.String("error", err.Error()))
	}

	status := e.deps.Monitor.Check(lastEventAt, pending)

	e.mu.Lock()
	overloadChanged := status.IsOverloaded != e.lastPressure.IsOverloaded
	e.lastPressure = status
	e.mu.Unlock()

	if m := e.deps.Metrics; m != nil {
		overloaded := int64(0)
		if status.IsOverloaded {
			overloaded = 1
		}
		m.BackpressureOverloaded.Record(ctx, overloaded)
		m.BackpressureLagSeconds.Record(ctx, status.LagSeconds)
		if overloadChanged {
			to := "healthy"
			if status.IsOverloaded {
				to = "overloaded"
			}
			m.BackpressureTransitionsTotal.Add(ctx, 1,
				metric.WithAttributes(attribute.String("to", to)))
		}
	}
	return status
}

// Status returns the loop snapshot for the status endpoint.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Reader:            e.deps.Reader.Stats(),
		CyclesCompleted:   e.cyclesCompleted,
		LastCycleAt:       e.lastCycleAt,
		LastCycleDuration: e.lastCycleDuration,
		PatternsExtracted: e.patternsExtracted,
		PatternsSpilled:   e.patternsSpilled,
		Backpressure:      e.lastPressure,
	}
}
