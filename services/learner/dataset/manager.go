// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dataset maintains the learned corpus: expiring stale entries,
// pruning low-value ones near the size limit, deduplicating by content
// hash, and removing vector index entries with no backing record.
package dataset

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianLearn/services/learner/observability"
	"github.com/AleutianAI/AleutianLearn/services/learner/stores"
)

// Deletion reasons reported in metrics and GC reports.
const (
	ReasonExpired   = "expired"
	ReasonPruned    = "pruned"
	ReasonDuplicate = "duplicate"
	ReasonOrphan    = "orphan"
)

// pruneTriggerRatio starts value pruning before the corpus hits the
// hard limit, so inserts between GC cycles do not overshoot it badly.
const pruneTriggerRatio = 0.9

// maxPruneFraction caps how much of the corpus one pruning pass may
// delete.
const maxPruneFraction = 0.2

// RelationalCorpus is the slice of the relational store GC needs.
type RelationalCorpus interface {
	ListAll(ctx context.Context) ([]stores.Solution, error)
	Count(ctx context.Context) (int, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
	ListPatternIDs(ctx context.Context) (map[string]struct{}, error)
}

// VectorCorpus is the slice of the vector store GC needs.
type VectorCorpus interface {
	ListRefs(ctx context.Context) ([]stores.PatternRef, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
	DeleteByPatternIDs(ctx context.Context, patternIDs []string) (int64, error)
}

// Config holds the GC thresholds and per-pass toggles.
type Config struct {
	// MaxAgeDays is the expiration age threshold (default: 90).
	MaxAgeDays int

	// MinValueScore is the expiration value threshold (default: 0.3).
	MinValueScore float64

	// MaxSolutions is the hard corpus size limit (default: 10000).
	MaxSolutions int

	// Per-pass toggles. All default to enabled via DefaultConfig.
	ExpirationEnabled bool
	PruningEnabled    bool
	DedupEnabled      bool
	OrphansEnabled    bool
}

// DefaultConfig returns the GC defaults with every pass enabled.
func DefaultConfig() Config {
	return Config{
		MaxAgeDays:        90,
		MinValueScore:     0.3,
		MaxSolutions:      10000,
		ExpirationEnabled: true,
		PruningEnabled:    true,
		DedupEnabled:      true,
		OrphansEnabled:    true,
	}
}

// Report summarizes one GC pass.
type Report struct {
	Pass     string        `json:"pass"`
	Deleted  int64         `json:"deleted"`
	Skipped  bool          `json:"skipped"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Manager runs the four GC passes.
//
// Description:
//
//	Each pass holds its own mutex so the scheduled loop and a manual
//	trigger can never run the same pass concurrently; a pass that finds
//	its mutex held is skipped, not queued. Passes never delete more than
//	their thresholds require. The relational store is the source of
//	truth; the vector index follows it.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	config     Config
	relational RelationalCorpus
	vector     VectorCorpus
	metrics    *observability.Metrics
	logger     *slog.Logger

	// now is replaceable for tests.
	now func() time.Time

	expirationMu sync.Mutex
	pruningMu    sync.Mutex
	dedupMu      sync.Mutex
	orphansMu    sync.Mutex
}

// NewManager creates a GC manager.
//
// Inputs:
//   - config: Thresholds and toggles. Zero-value numeric fields get defaults.
//   - relational: Relational corpus access. Must not be nil.
//   - vector: Vector corpus access. Must not be nil.
//   - metrics: Instrument set. May be nil (metrics are then skipped).
//   - logger: Structured logger. Must not be nil.
func NewManager(config Config, relational RelationalCorpus, vector VectorCorpus, metrics *observability.Metrics, logger *slog.Logger) *Manager {
	defaults := DefaultConfig()
	if config.MaxAgeDays <= 0 {
		config.MaxAgeDays = defaults.MaxAgeDays
	}
	if config.MinValueScore <= 0 {
		config.MinValueScore = defaults.MinValueScore
	}
	if config.MaxSolutions <= 0 {
		config.MaxSolutions = defaults.MaxSolutions
	}
	return &Manager{
		config:     config,
		relational: relational,
		vector:     vector,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// RunCycle runs every enabled pass in order and returns one report per
// pass. Pass failures are reported, not returned; one failing pass does
// not stop the others.
func (m *Manager) RunCycle(ctx context.Context) []Report {
	passes := []struct {
		name    string
		enabled bool
		run     func(context.Context) (int64, error)
		mu      *sync.Mutex
	}{
		{ReasonExpired, m.config.ExpirationEnabled, m.runExpiration, &m.expirationMu},
		{ReasonPruned, m.config.PruningEnabled, m.runPruning, &m.pruningMu},
		{ReasonDuplicate, m.config.DedupEnabled, m.runDedup, &m.dedupMu},
		{ReasonOrphan, m.config.OrphansEnabled, m.runOrphans, &m.orphansMu},
	}

	var reports []Report
	for _, pass := range passes {
		if !pass.enabled {
			reports = append(reports, Report{Pass: pass.name, Skipped: true})
			continue
		}
		reports = append(reports, m.runPass(ctx, pass.name, pass.mu, pass.run))
	}

	if m.metrics != nil {
		if count, err := m.relational.Count(ctx); err == nil {
			m.metrics.DatasetSolutions.Record(ctx, int64(count))
		} else {
			m.logger.Warn("corpus size gauge skipped",
				slog.String("error", err.Error()))
		}
	}
	return reports
}

// runPass wraps one pass with its mutex, timing, and metrics.
func (m *Manager) runPass(ctx context.Context, name string, mu *sync.Mutex, run func(context.Context) (int64, error)) Report {
	if !mu.TryLock() {
		m.logger.Info("gc pass already running, skipping", slog.String("pass", name))
		return Report{Pass: name, Skipped: true}
	}
	defer mu.Unlock()

	start := m.now()
	deleted, err := run(ctx)
	duration := m.now().Sub(start)

	report := Report{Pass: name, Deleted: deleted, Duration: duration}
	if err != nil {
		report.Error = err.Error()
		m.logger.Error("gc pass failed",
			slog.String("pass", name),
			slog.String("error", err.Error()))
	} else {
		m.logger.Info("gc pass complete",
			slog.String("pass", name),
			slog.Int64("deleted", deleted),
			slog.Duration("duration", duration))
	}

	if m.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("reason", name))
		m.metrics.GCDeletionsTotal.Add(ctx, deleted, attrs)
		m.metrics.GCPassDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("pass", name)))
	}
	return report
}

// runExpiration deletes entries that are both old and low-value.
//
// An entry with a nil score that has aged past the threshold also
// expires: feedback that never arrived within the retention window no
// longer justifies keeping the entry.
func (m *Manager) runExpiration(ctx context.Context) (int64, error) {
	solutions, err := m.relational.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := m.now().Add(-time.Duration(m.config.MaxAgeDays) * 24 * time.Hour)
	var doomed []stores.Solution
	for _, sol := range solutions {
		if !sol.CreatedAt.Before(cutoff) {
			continue
		}
		if sol.ValueScore == nil || *sol.ValueScore < m.config.MinValueScore {
			doomed = append(doomed, sol)
		}
	}
	return m.deleteSolutions(ctx, doomed)
}

// runPruning trims the corpus back under MaxSolutions.
//
// Description:
//
//	Only runs once the corpus reaches pruneTriggerRatio of the limit,
//	and deletes exactly the overage, lowest-scored first. Entries still
//	awaiting feedback are pruned only after every explicitly-scored
//	candidate, oldest first. One pass deletes at most maxPruneFraction
//	of the corpus.
func (m *Manager) runPruning(ctx context.Context) (int64, error) {
	count, err := m.relational.Count(ctx)
	if err != nil {
		return 0, err
	}
	if float64(count) < pruneTriggerRatio*float64(m.config.MaxSolutions) {
		return 0, nil
	}

	need := count - m.config.MaxSolutions
	if need <= 0 {
		return 0, nil
	}
	if limit := int(maxPruneFraction * float64(count)); need > limit {
		need = limit
	}

	solutions, err := m.relational.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	var scored, unscored []stores.Solution
	for _, sol := range solutions {
		if sol.ValueScore != nil {
			scored = append(scored, sol)
		} else {
			unscored = append(unscored, sol)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].ValueScore < *scored[j].ValueScore
	})
	sort.SliceStable(unscored, func(i, j int) bool {
		return unscored[i].CreatedAt.Before(unscored[j].CreatedAt)
	})

	candidates := append(scored, unscored...)
	if need > len(candidates) {
		need = len(candidates)
	}
	return m.deleteSolutions(ctx, candidates[:need])
}

// runDedup keeps a single entry per exact content hash.
//
// The survivor is the highest-scored entry in the group; a nil score
// loses to any explicit score, and ties keep the oldest.
func (m *Manager) runDedup(ctx context.Context) (int64, error) {
	solutions, err := m.relational.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	groups := make(map[string][]stores.Solution)
	for _, sol := range solutions {
		groups[sol.ContentHash] = append(groups[sol.ContentHash], sol)
	}

	var doomed []stores.Solution
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		keep := 0
		for i := 1; i < len(group); i++ {
			if betterDuplicate(group[i], group[keep]) {
				keep = i
			}
		}
		for i, sol := range group {
			if i != keep {
				doomed = append(doomed, sol)
			}
		}
	}
	return m.deleteSolutions(ctx, doomed)
}

// betterDuplicate reports whether a should survive over b.
func betterDuplicate(a, b stores.Solution) bool {
	switch {
	case a.ValueScore != nil && b.ValueScore == nil:
		return true
	case a.ValueScore == nil && b.ValueScore != nil:
		return false
	case a.ValueScore != nil && b.ValueScore != nil && *a.ValueScore != *b.ValueScore:
		return *a.ValueScore > *b.ValueScore
	default:
		return a.CreatedAt.Before(b.CreatedAt)
	}
}

// runOrphans removes vector entries with no relational record.
//
// The cleanup is asymmetric: a relational row without a vector entry
// only costs recall, but a vector hit without a backing record serves
// answers that can no longer be traced.
func (m *Manager) runOrphans(ctx context.Context) (int64, error) {
	refs, err := m.vector.ListRefs(ctx)
	if err != nil {
		return 0, err
	}
	known, err := m.relational.ListPatternIDs(ctx)
	if err != nil {
		return 0, err
	}

	var orphanIDs []string
	for _, ref := range refs {
		if _, ok := known[ref.PatternID]; !ok {
			orphanIDs = append(orphanIDs, ref.ID)
		}
	}
	if len(orphanIDs) == 0 {
		return 0, nil
	}
	return m.vector.DeleteByIDs(ctx, orphanIDs)
}

// deleteSolutions removes the given rows and their vector entries.
func (m *Manager) deleteSolutions(ctx context.Context, doomed []stores.Solution) (int64, error) {
	if len(doomed) == 0 {
		return 0, nil
	}
	ids := make([]string, len(doomed))
	patternIDs := make([]string, len(doomed))
	for i, sol := range doomed {
		ids[i] = sol.ID
		patternIDs[i] = sol.PatternID
	}

	deleted, err := m.relational.DeleteByIDs(ctx, ids)
	if err != nil {
		return deleted, err
	}
	if _, err := m.vector.DeleteByPatternIDs(ctx, patternIDs); err != nil {
		// The next orphan pass will catch what this delete missed.
		m.logger.Warn("vector delete after relational delete failed",
			slog.String("error", err.Error()))
	}
	return deleted, nil
}
