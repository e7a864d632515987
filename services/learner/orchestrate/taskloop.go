// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrate

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLearn/services/learner/telemetry"
)

// TaskLoopConfig holds the iteration budget.
type TaskLoopConfig struct {
	// MaxIterations bounds executor invocations per task (default: 10).
	MaxIterations int
}

// DefaultTaskLoopConfig returns task loop defaults.
func DefaultTaskLoopConfig() TaskLoopConfig {
	return TaskLoopConfig{MaxIterations: 10}
}

// TaskLoop is the outermost orchestration layer: it drives a query
// through the router until an executor signals completion or the
// iteration budget runs out.
//
// An executor result carrying ContinueExitCode is always treated as a
// request for another iteration, never as success, regardless of what
// the answer text claims.
type TaskLoop struct {
	config TaskLoopConfig
	router *Router
	sink   telemetry.Sink
	logger *slog.Logger
}

// NewTaskLoop creates the task loop layer.
func NewTaskLoop(config TaskLoopConfig, router *Router, sink telemetry.Sink, logger *slog.Logger) *TaskLoop {
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultTaskLoopConfig().MaxIterations
	}
	return &TaskLoop{config: config, router: router, sink: sink, logger: logger}
}

// Run executes one task to completion.
//
// Description:
//
//	Emits task_started, one task_iteration per continue round, and a
//	final task_completed carrying the query, iteration count, steps,
//	and success flag - the exact shape the learning loop scores and
//	extracts from.
//
// Outputs:
//   - *Result: The final executor result on success.
//   - error: Execution failure or ErrIterationBudget.
func (t *TaskLoop) Run(ctx context.Context, query string) (*Result, error) {
	taskID := uuid.NewString()
	started := time.Now()

	t.emit(ctx, telemetry.EventTaskStarted, taskID, map[string]any{"query": query})

	var steps []string
	for iteration := 1; iteration <= t.config.MaxIterations; iteration++ {
		result, err := t.router.Execute(ctx, taskID, query, nil)
		if err != nil {
			t.emit(ctx, telemetry.EventError, taskID, map[string]any{
				"query": query,
				"error": err.Error(),
			})
			return nil, err
		}
		steps = append(steps, result.Steps...)

		if result.ExitCode == ContinueExitCode {
			t.emit(ctx, telemetry.EventTaskIteration, taskID, map[string]any{
				"query":     query,
				"iteration": iteration,
			})
			continue
		}

		t.emit(ctx, telemetry.EventTaskCompleted, taskID, map[string]any{
			"query":            query,
			"iterations":       iteration,
			"success":          true,
			"steps":            steps,
			"outcome_quality":  result.Confidence,
			"duration_seconds": time.Since(started).Seconds(),
		})
		return result, nil
	}

	t.emit(ctx, telemetry.EventTaskCompleted, taskID, map[string]any{
		"query":      query,
		"iterations": t.config.MaxIterations,
		"success":    false,
		"steps":      steps,
	})
	return nil, ErrIterationBudget
}

func (t *TaskLoop) emit(ctx context.Context, eventType, taskID string, data map[string]any) {
	err := t.sink.Emit(ctx, telemetry.Event{
		Type:   eventType,
		TaskID: taskID,
		Data:   data,
	})
	if err != nil {
		t.logger.Warn("telemetry emit failed",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()))
	}
}
