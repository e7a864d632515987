// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scoring

import (
	"context"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianLearn/services/learner/telemetry"
)

// maxComplexitySteps is the step count at which complexity saturates to 1.
const maxComplexitySteps = 10

// Embedder turns query text into vectors for the reusability lookup.
//
// Implemented by the llm service's embedding client. Batched: one call
// per scoring window, never one per event.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// SimilaritySearcher finds how close each vector is to prior interactions.
//
// Implemented by the vector store. Returns one max-similarity value in
// [0, 1] per input vector.
type SimilaritySearcher interface {
	MaxSimilarity(ctx context.Context, vectors [][]float32) ([]float64, error)
}

// Scorer computes value scores for task-completion events.
//
// The scorer keeps a small in-memory index of user feedback by task ID,
// because feedback events arrive on the same stream but later than the
// completions they grade.
//
// Thread Safety: Safe for concurrent use; the feedback index is mutex
// protected. In practice only the learning loop calls it.
type Scorer struct {
	weights  Weights
	embedder Embedder
	searcher SimilaritySearcher
	logger   *slog.Logger

	mu       sync.Mutex
	feedback map[string]float64 // task_id -> rating in [0, 1]
}

// NewScorer creates a Scorer with the configured weights.
//
// Inputs:
//   - weights: Component weights, already validated at startup.
//   - embedder: Embedding client for reusability lookups. May be nil;
//     reusability and novelty are then skipped with reduced confidence.
//   - searcher: Vector-store similarity search. May be nil, same effect.
//   - logger: Structured logger. Must not be nil.
func NewScorer(weights Weights, embedder Embedder, searcher SimilaritySearcher, logger *slog.Logger) *Scorer {
	return &Scorer{
		weights:  weights,
		embedder: embedder,
		searcher: searcher,
		logger:   logger,
		feedback: make(map[string]float64),
	}
}

// RecordFeedback indexes a user_feedback event for later scoring.
//
// The rating is read from data.rating and clamped to [0, 1]. Events
// without a task_id or rating are ignored.
func (s *Scorer) RecordFeedback(event telemetry.Event) {
	if event.TaskID == "" {
		return
	}
	rating, ok := event.Float("rating")
	if !ok {
		return
	}
	s.mu.Lock()
	s.feedback[event.TaskID] = clamp01(rating)
	s.mu.Unlock()
}

// ScoreBatch scores a window of task-completion events.
//
// Description:
//
//	Per-event components (outcome, feedback, complexity) are computed
//	locally. Reusability and novelty need a nearest-neighbor lookup
//	against prior interactions; those lookups are batched into one
//	embedding call and one search call for the whole window to bound
//	external-call volume. A failed lookup degrades confidence for the
//	window instead of failing it.
//
// Inputs:
//
//	ctx - Context for the external lookups.
//	events - The events to score, in batch order.
//
// Outputs:
//
//	[]ValueScore - One score per input event, same order.
func (s *Scorer) ScoreBatch(ctx context.Context, events []telemetry.Event) []ValueScore {
	similarities := s.lookupSimilarities(ctx, events)

	scores := make([]ValueScore, len(events))
	for i, event := range events {
		scores[i] = s.scoreOne(event, similarities[i])
	}
	return scores
}

// lookupSimilarities runs the batched reusability lookup.
//
// Returns one similarity pointer per event; nil means the lookup was
// unavailable for that event.
func (s *Scorer) lookupSimilarities(ctx context.Context, events []telemetry.Event) []*float64 {
	out := make([]*float64, len(events))
	if s.embedder == nil || s.searcher == nil || len(events) == 0 {
		return out
	}

	texts := make([]string, 0, len(events))
	indices := make([]int, 0, len(events))
	for i, event := range events {
		if q := event.String("query"); q != "" {
			texts = append(texts, q)
			indices = append(indices, i)
		}
	}
	if len(texts) == 0 {
		return out
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		s.logger.Warn("reusability embedding failed, skipping component",
			slog.Int("batch_size", len(texts)),
			slog.String("error", err.Error()))
		return out
	}
	sims, err := s.searcher.MaxSimilarity(ctx, vectors)
	if err != nil {
		s.logger.Warn("reusability search failed, skipping component",
			slog.Int("batch_size", len(vectors)),
			slog.String("error", err.Error()))
		return out
	}
	for j, idx := range indices {
		if j < len(sims) {
			sim := clamp01(sims[j])
			out[idx] = &sim
		}
	}
	return out
}

// scoreOne computes the weighted score for a single event.
func (s *Scorer) scoreOne(event telemetry.Event, similarity *float64) ValueScore {
	components := make(map[string]float64)

	components[ComponentOutcome] = outcomeQuality(event)

	if n, ok := event.Int("steps"); ok {
		components[ComponentComplexity] = clamp01(float64(n) / maxComplexitySteps)
	} else if n, ok := event.Int("iterations"); ok {
		components[ComponentComplexity] = clamp01(float64(n) / maxComplexitySteps)
	}

	if similarity != nil {
		// High similarity to prior interactions means the pattern recurs
		// and is worth reusing; novelty is its complement.
		components[ComponentReusability] = *similarity
		components[ComponentNovelty] = 1 - *similarity
	}

	s.mu.Lock()
	rating, hasFeedback := s.feedback[event.TaskID]
	s.mu.Unlock()
	if !hasFeedback {
		if r, ok := event.Float("rating"); ok {
			rating, hasFeedback = clamp01(r), true
		}
	}

	score := ValueScore{
		WeightsUsed: s.weights,
		Components:  components,
	}

	if !hasFeedback {
		// Unknown, not neutral: no numeric value is invented here.
		score.RequiresFeedback = true
		score.Confidence = 0.0
		return score
	}

	components[ComponentFeedback] = rating

	weightFor := map[string]float64{
		ComponentOutcome:     s.weights.Outcome,
		ComponentFeedback:    s.weights.Feedback,
		ComponentReusability: s.weights.Reusability,
		ComponentComplexity:  s.weights.Complexity,
		ComponentNovelty:     s.weights.Novelty,
	}

	var sum, totalWeight, availableWeight float64
	for name, weight := range weightFor {
		totalWeight += weight
		if v, ok := components[name]; ok {
			sum += weight * v
			availableWeight += weight
		}
	}
	if availableWeight == 0 {
		score.RequiresFeedback = true
		return score
	}

	value := clamp01(sum / availableWeight)
	score.Value = &value
	// Confidence scales with how much of the configured weighting the
	// available components cover.
	score.Confidence = availableWeight / totalWeight
	return score
}

// outcomeQuality derives the outcome component from the event payload.
func outcomeQuality(event telemetry.Event) float64 {
	if q, ok := event.Float("outcome_quality"); ok {
		return clamp01(q)
	}
	if v, ok := event.Data["success"].(bool); ok {
		if v {
			return 1.0
		}
		return 0.0
	}
	// Completion without an explicit quality signal counts as a weak
	// positive: the task did finish.
	return 0.5
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
