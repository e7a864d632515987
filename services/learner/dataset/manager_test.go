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
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AleutianAI/AleutianLearn/services/learner/observability"
	"github.com/AleutianAI/AleutianLearn/services/learner/stores"
)

type fakeRelational struct {
	mu        sync.Mutex
	solutions map[string]stores.Solution
}

func newFakeRelational() *fakeRelational {
	return &fakeRelational{solutions: make(map[string]stores.Solution)}
}

func (f *fakeRelational) add(sol stores.Solution) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.solutions[sol.ID] = sol
}

func (f *fakeRelational) ListAll(ctx context.Context) ([]stores.Solution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stores.Solution, 0, len(f.solutions))
	for _, sol := range f.solutions {
		out = append(out, sol)
	}
	return out, nil
}

func (f *fakeRelational) Count(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.solutions), nil
}

func (f *fakeRelational) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for _, id := range ids {
		if _, ok := f.solutions[id]; ok {
			delete(f.solutions, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeRelational) ListPatternIDs(ctx context.Context) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]struct{}, len(f.solutions))
	for _, sol := range f.solutions {
		out[sol.PatternID] = struct{}{}
	}
	return out, nil
}

type fakeVector struct {
	mu   sync.Mutex
	refs map[string]stores.PatternRef // object ID -> ref
}

func newFakeVector() *fakeVector {
	return &fakeVector{refs: make(map[string]stores.PatternRef)}
}

func (f *fakeVector) add(ref stores.PatternRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs[ref.ID] = ref
}

func (f *fakeVector) ListRefs(ctx context.Context) ([]stores.PatternRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stores.PatternRef, 0, len(f.refs))
	for _, ref := range f.refs {
		out = append(out, ref)
	}
	return out, nil
}

func (f *fakeVector) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for _, id := range ids {
		if _, ok := f.refs[id]; ok {
			delete(f.refs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeVector) DeleteByPatternIDs(ctx context.Context, patternIDs []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for _, pid := range patternIDs {
		for id, ref := range f.refs {
			if ref.PatternID == pid {
				delete(f.refs, id)
				deleted++
			}
		}
	}
	return deleted, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr(v float64) *float64 { return &v }

// newTestManager wires a manager with a frozen clock.
func newTestManager(config Config, rel *fakeRelational, vec *fakeVector) (*Manager, time.Time) {
	m := NewManager(config, rel, vec, nil, testLogger())
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, now
}

func solution(id string, score *float64, age time.Duration, now time.Time) stores.Solution {
	return stores.Solution{
		ID:          id,
		PatternID:   "pat-" + id,
		ContentHash: "hash-" + id,
		ValueScore:  score,
		CreatedAt:   now.Add(-age),
	}
}

func TestExpiration_OldLowValueDeleted(t *testing.T) {
	rel := newFakeRelational()
	vec := newFakeVector()
	m, now := newTestManager(Config{MaxAgeDays: 90, MinValueScore: 0.3}, rel, vec)

	old := 91 * 24 * time.Hour
	fresh := 10 * 24 * time.Hour
	rel.add(solution("old-low", ptr(0.1), old, now))       // expires
	rel.add(solution("old-nil", nil, old, now))            // expires: feedback never arrived
	rel.add(solution("old-high", ptr(0.9), old, now))      // survives: still valuable
	rel.add(solution("fresh-low", ptr(0.1), fresh, now))   // survives: too young
	rel.add(solution("fresh-nil", nil, fresh, now))        // survives

	deleted, err := m.runExpiration(context.Background())
	if err != nil {
		t.Fatalf("runExpiration: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	remaining, _ := rel.ListAll(context.Background())
	for _, sol := range remaining {
		if sol.ID == "old-low" || sol.ID == "old-nil" {
			t.Errorf("%s survived expiration", sol.ID)
		}
	}
}

func TestPruning_BelowTriggerDoesNothing(t *testing.T) {
	rel := newFakeRelational()
	m, now := newTestManager(Config{MaxSolutions: 100}, rel, newFakeVector())
	for i := 0; i < 50; i++ {
		rel.add(solution(fmt.Sprintf("s%d", i), ptr(0.5), time.Hour, now))
	}

	deleted, err := m.runPruning(context.Background())
	if err != nil {
		t.Fatalf("runPruning: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d below trigger, want 0", deleted)
	}
}

func TestPruning_DeletesLowestScoredFirst(t *testing.T) {
	rel := newFakeRelational()
	m, now := newTestManager(Config{MaxSolutions: 10}, rel, newFakeVector())

	// 12 entries over a limit of 10: exactly 2 must go, the 2 lowest.
	for i := 0; i < 12; i++ {
		rel.add(solution(fmt.Sprintf("s%02d", i), ptr(float64(i)/12), time.Hour, now))
	}

	deleted, err := m.runPruning(context.Background())
	if err != nil {
		t.Fatalf("runPruning: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2 (the overage)", deleted)
	}
	remaining, _ := rel.ListAll(context.Background())
	for _, sol := range remaining {
		if sol.ID == "s00" || sol.ID == "s01" {
			t.Errorf("lowest-scored %s survived pruning", sol.ID)
		}
	}
}

func TestPruning_UnscoredGoAfterScored(t *testing.T) {
	rel := newFakeRelational()
	m, now := newTestManager(Config{MaxSolutions: 8}, rel, newFakeVector())

	// One explicitly-scored entry and nine awaiting feedback. Every
	// scored candidate is pruned before any unscored one; among the
	// unscored the oldest goes first.
	rel.add(solution("scored", ptr(0.9), time.Hour, now))
	for i := 0; i < 9; i++ {
		rel.add(solution(fmt.Sprintf("nil%d", i), nil, time.Duration(i+1)*24*time.Hour, now))
	}

	deleted, err := m.runPruning(context.Background())
	if err != nil {
		t.Fatalf("runPruning: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	remaining, _ := rel.ListAll(context.Background())
	for _, sol := range remaining {
		if sol.ID == "scored" {
			t.Error("scored entry survived while unscored ones were pruned")
		}
		if sol.ID == "nil8" {
			t.Error("oldest unscored entry survived")
		}
	}
}

func TestPruning_CappedAtMaxFraction(t *testing.T) {
	rel := newFakeRelational()
	m, now := newTestManager(Config{MaxSolutions: 100}, rel, newFakeVector())
	for i := 0; i < 200; i++ {
		rel.add(solution(fmt.Sprintf("s%03d", i), ptr(float64(i)/200), time.Hour, now))
	}

	// Overage is 100 but one pass may delete at most 20% of 200 = 40.
	deleted, err := m.runPruning(context.Background())
	if err != nil {
		t.Fatalf("runPruning: %v", err)
	}
	if deleted != 40 {
		t.Fatalf("deleted = %d, want 40 (fraction cap)", deleted)
	}
	count, _ := rel.Count(context.Background())
	if count != 160 {
		t.Fatalf("count after pass = %d, want 160", count)
	}
}

func TestDedup_HighestScoreSurvives(t *testing.T) {
	rel := newFakeRelational()
	m, now := newTestManager(Config{}, rel, newFakeVector())

	mk := func(id string, score *float64, age time.Duration) stores.Solution {
		sol := solution(id, score, age, now)
		sol.ContentHash = "same"
		return sol
	}
	rel.add(mk("nil", nil, 48*time.Hour))
	rel.add(mk("low", ptr(0.2), 24*time.Hour))
	rel.add(mk("high", ptr(0.8), time.Hour))

	deleted, err := m.runDedup(context.Background())
	if err != nil {
		t.Fatalf("runDedup: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	remaining, _ := rel.ListAll(context.Background())
	if len(remaining) != 1 || remaining[0].ID != "high" {
		t.Fatalf("survivor = %v, want high", remaining)
	}
}

func TestDedup_TieKeepsOldest(t *testing.T) {
	rel := newFakeRelational()
	m, now := newTestManager(Config{}, rel, newFakeVector())

	older := solution("older", ptr(0.5), 48*time.Hour, now)
	newer := solution("newer", ptr(0.5), time.Hour, now)
	older.ContentHash, newer.ContentHash = "same", "same"
	rel.add(older)
	rel.add(newer)

	if _, err := m.runDedup(context.Background()); err != nil {
		t.Fatalf("runDedup: %v", err)
	}
	remaining, _ := rel.ListAll(context.Background())
	if len(remaining) != 1 || remaining[0].ID != "older" {
		t.Fatalf("survivor = %v, want older", remaining)
	}
}

func TestDedup_DistinctHashesUntouched(t *testing.T) {
	rel := newFakeRelational()
	m, now := newTestManager(Config{}, rel, newFakeVector())
	rel.add(solution("a", ptr(0.5), time.Hour, now))
	rel.add(solution("b", ptr(0.5), time.Hour, now))

	deleted, err := m.runDedup(context.Background())
	if err != nil {
		t.Fatalf("runDedup: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d across distinct hashes, want 0", deleted)
	}
}

func TestOrphans_RemovesVectorOnlyEntries(t *testing.T) {
	rel := newFakeRelational()
	vec := newFakeVector()
	m, now := newTestManager(Config{}, rel, vec)

	rel.add(solution("backed", ptr(0.5), time.Hour, now))
	vec.add(stores.PatternRef{ID: "obj-1", PatternID: "pat-backed"})
	vec.add(stores.PatternRef{ID: "obj-2", PatternID: "pat-gone"})

	deleted, err := m.runOrphans(context.Background())
	if err != nil {
		t.Fatalf("runOrphans: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	refs, _ := vec.ListRefs(context.Background())
	if len(refs) != 1 || refs[0].PatternID != "pat-backed" {
		t.Fatalf("remaining refs = %v, want only the backed one", refs)
	}
}

func TestOrphans_RelationalOnlyRowsStay(t *testing.T) {
	rel := newFakeRelational()
	vec := newFakeVector()
	m, now := newTestManager(Config{}, rel, vec)

	// Asymmetric by design: a row without a vector entry only costs
	// recall and is never deleted by the orphan pass.
	rel.add(solution("lonely", ptr(0.5), time.Hour, now))

	deleted, err := m.runOrphans(context.Background())
	if err != nil {
		t.Fatalf("runOrphans: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d, want 0", deleted)
	}
	count, _ := rel.Count(context.Background())
	if count != 1 {
		t.Fatal("relational row deleted by orphan pass")
	}
}

func TestDelete_RemovesVectorEntriesToo(t *testing.T) {
	rel := newFakeRelational()
	vec := newFakeVector()
	m, now := newTestManager(Config{MaxAgeDays: 90, MinValueScore: 0.3}, rel, vec)

	rel.add(solution("doomed", ptr(0.1), 91*24*time.Hour, now))
	vec.add(stores.PatternRef{ID: "obj-1", PatternID: "pat-doomed"})

	if _, err := m.runExpiration(context.Background()); err != nil {
		t.Fatalf("runExpiration: %v", err)
	}
	refs, _ := vec.ListRefs(context.Background())
	if len(refs) != 0 {
		t.Fatalf("vector refs = %v, want none after relational delete", refs)
	}
}

func TestRunCycle_DisabledPassSkipped(t *testing.T) {
	config := DefaultConfig()
	config.DedupEnabled = false
	m, _ := newTestManager(config, newFakeRelational(), newFakeVector())

	reports := m.RunCycle(context.Background())
	if len(reports) != 4 {
		t.Fatalf("got %d reports, want 4", len(reports))
	}
	for _, r := range reports {
		if r.Pass == ReasonDuplicate && !r.Skipped {
			t.Error("disabled dedup pass was not skipped")
		}
		if r.Pass == ReasonExpired && r.Skipped {
			t.Error("enabled expiration pass was skipped")
		}
	}
}

func TestRunPass_HeldMutexSkipsNotQueues(t *testing.T) {
	m, _ := newTestManager(DefaultConfig(), newFakeRelational(), newFakeVector())

	m.expirationMu.Lock()
	defer m.expirationMu.Unlock()

	done := make(chan Report, 1)
	go func() {
		done <- m.runPass(context.Background(), ReasonExpired, &m.expirationMu, m.runExpiration)
	}()

	select {
	case report := <-done:
		if !report.Skipped {
			t.Error("pass ran while its mutex was held")
		}
	case <-time.After(time.Second):
		t.Fatal("runPass blocked on a held mutex instead of skipping")
	}
}

func TestRunCycle_RecordsCorpusSize(t *testing.T) {
	rel := newFakeRelational()
	vec := newFakeVector()

	metricReader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader))
	t.Cleanup(func() { provider.Shutdown(context.Background()) })
	metrics, err := observability.NewMetrics(provider.Meter("dataset_test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m := NewManager(DefaultConfig(), rel, vec, metrics, testLogger())
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	// Fresh, scored, unique entries with backing vector refs survive
	// every pass, so the gauge reports exactly what remains.
	for i := 0; i < 3; i++ {
		sol := solution(fmt.Sprintf("s%d", i), ptr(0.8), time.Hour, now)
		rel.add(sol)
		vec.add(stores.PatternRef{ID: fmt.Sprintf("v%d", i), PatternID: sol.PatternID})
	}
	m.RunCycle(context.Background())

	var rm metricdata.ResourceMetrics
	if err := metricReader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var got int64 = -1
	for _, scope := range rm.ScopeMetrics {
		for _, inst := range scope.Metrics {
			if inst.Name != "learn_dataset_solutions" {
				continue
			}
			gauge, ok := inst.Data.(metricdata.Gauge[int64])
			if !ok {
				t.Fatalf("learn_dataset_solutions is %T, want Gauge[int64]", inst.Data)
			}
			if len(gauge.DataPoints) == 0 {
				t.Fatal("learn_dataset_solutions has no data points")
			}
			got = gauge.DataPoints[len(gauge.DataPoints)-1].Value
		}
	}
	if got != 3 {
		t.Errorf("learn_dataset_solutions = %d, want 3", got)
	}
}
