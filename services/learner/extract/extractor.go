// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLearn/services/learner/scoring"
	"github.com/AleutianAI/AleutianLearn/services/learner/telemetry"
	"github.com/AleutianAI/AleutianLearn/services/llm"
)

// distillPrompt asks the completion service for a JSON array of steps.
const distillPrompt = `Summarize the following task transcript as a short JSON array of
reusable step descriptions. Respond with ONLY the JSON array, no prose.

Task: %s

Transcript:
%s`

// maxDistillTokens bounds the completion response size.
const maxDistillTokens = 512

// Config holds the qualification thresholds.
type Config struct {
	// ConfidenceFloor is the minimum score confidence for extraction
	// when no iteration signal is present (default: 0.5).
	ConfidenceFloor float64

	// MaxIterations qualifies an event regardless of confidence when the
	// task completed within this many iterations (default: 3).
	MaxIterations int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceFloor: 0.5,
		MaxIterations:   3,
	}
}

// Extractor turns qualifying task-completion events into patterns.
//
// The qualification filter runs before any expensive work so the
// completion service is only called for events worth learning from.
// Extraction failures (dependency down, malformed output) drop the event
// from pattern extraction only - the event stays checkpointed as consumed
// and is never re-read.
type Extractor struct {
	config Config
	client llm.LLMClient
	logger *slog.Logger
}

// NewExtractor creates an Extractor.
//
// Inputs:
//   - config: Qualification thresholds. Zero-value fields get defaults.
//   - client: Completion client for step distillation. May be nil; events
//     without inline steps are then dropped with ErrMalformedOutput.
//   - logger: Structured logger. Must not be nil.
func NewExtractor(config Config, client llm.LLMClient, logger *slog.Logger) *Extractor {
	if config.ConfidenceFloor <= 0 {
		config.ConfidenceFloor = DefaultConfig().ConfidenceFloor
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultConfig().MaxIterations
	}
	return &Extractor{config: config, client: client, logger: logger}
}

// Qualifies reports whether an event passes the extraction filter.
//
// An event qualifies when its score confidence clears the floor, OR the
// task completed within MaxIterations. Only task-completion events are
// considered at all.
func (e *Extractor) Qualifies(event telemetry.Event, score scoring.ValueScore) bool {
	if event.Type != telemetry.EventTaskCompleted {
		return false
	}
	if score.Confidence >= e.config.ConfidenceFloor {
		return true
	}
	if iters, ok := event.Int("iterations"); ok && iters <= e.config.MaxIterations {
		return true
	}
	return false
}

// Extract produces a pattern from one qualifying event.
//
// Description:
//
//	Returns (nil, ErrNotQualified) for events that fail the filter; the
//	caller skips them silently. Other errors mean the event qualified but
//	extraction failed; the caller logs and drops it from extraction only.
//
// Inputs:
//
//	ctx - Context for the completion call.
//	event - The event to extract from.
//	score - The event's value score.
//
// Outputs:
//
//	*Pattern - The extracted pattern, or nil.
//	error - ErrNotQualified, ErrNoQuery, ErrMalformedOutput, or a
//	  completion transport error.
func (e *Extractor) Extract(ctx context.Context, event telemetry.Event, score scoring.ValueScore) (*Pattern, error) {
	if !e.Qualifies(event, score) {
		return nil, ErrNotQualified
	}

	query := event.String("query")
	if query == "" {
		return nil, ErrNoQuery
	}

	steps, err := e.resolveSteps(ctx, event, query)
	if err != nil {
		return nil, err
	}

	pattern := &Pattern{
		ID:           uuid.NewString(),
		Query:        query,
		Steps:        steps,
		Tags:         eventTags(event),
		Score:        score,
		SourceEvents: []string{event.TaskID},
		CreatedAt:    time.Now().UTC(),
	}
	return pattern, nil
}

// resolveSteps takes steps inline from the event when present, otherwise
// distills them from the transcript via the completion service.
func (e *Extractor) resolveSteps(ctx context.Context, event telemetry.Event, query string) ([]string, error) {
	if raw, ok := event.Data["steps"].([]any); ok && len(raw) > 0 {
		steps := make([]string, 0, len(raw))
		for _, s := range raw {
			if str, ok := s.(string); ok && strings.TrimSpace(str) != "" {
				steps = append(steps, str)
			}
		}
		if len(steps) > 0 {
			return steps, nil
		}
	}

	transcript := event.String("transcript")
	if transcript == "" || e.client == nil {
		return nil, ErrMalformedOutput
	}

	maxTokens := maxDistillTokens
	prompt := fmt.Sprintf(distillPrompt, query, transcript)
	out, err := e.client.Generate(ctx, prompt, llm.GenerationParams{MaxTokens: &maxTokens})
	if err != nil {
		return nil, fmt.Errorf("distill steps: %w", err)
	}

	steps, err := parseSteps(out)
	if err != nil {
		e.logger.Warn("completion returned malformed steps",
			slog.String("task_id", event.TaskID),
			slog.String("error", err.Error()))
		return nil, ErrMalformedOutput
	}
	return steps, nil
}

// parseSteps extracts a JSON string array from the completion output,
// tolerating surrounding prose or code fences.
func parseSteps(out string) ([]string, error) {
	start := strings.Index(out, "[")
	end := strings.LastIndex(out, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array found")
	}

	var steps []string
	if err := json.Unmarshal([]byte(out[start:end+1]), &steps); err != nil {
		return nil, fmt.Errorf("parse steps array: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("empty steps array")
	}
	return steps, nil
}

// eventTags pulls string tags from the event payload.
func eventTags(event telemetry.Event) []string {
	raw, ok := event.Data["tags"].([]any)
	if !ok {
		return nil
	}
	var tags []string
	for _, t := range raw {
		if s, ok := t.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}
