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

	"github.com/AleutianAI/AleutianLearn/services/learner/telemetry"
)

// Routes selected by the query router.
const (
	RouteLocal  = "local"
	RouteRemote = "remote"
)

// RouterConfig holds routing thresholds.
type RouterConfig struct {
	// ConfidenceThreshold is the minimum retrieval confidence for the
	// local route (default: 0.7).
	ConfidenceThreshold float64
}

// DefaultRouterConfig returns routing defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{ConfidenceThreshold: 0.7}
}

// Router decides per query whether the local or the remote executor
// answers, based on how well the learned corpus covers the query.
//
// When the caller supplies no context docs the router fetches its own
// through the knowledge layer.
type Router struct {
	config    RouterConfig
	knowledge *KnowledgeLayer
	local     Executor
	remote    Executor
	sink      telemetry.Sink
	logger    *slog.Logger
}

// NewRouter creates a query router.
//
// Either executor may be nil; routing to a nil executor falls back to
// the other, and ErrNoExecutor is returned when both are nil. A nil
// knowledge layer disables retrieval, so queries without caller-supplied
// docs carry no context.
func NewRouter(config RouterConfig, knowledge *KnowledgeLayer, local, remote Executor, sink telemetry.Sink, logger *slog.Logger) *Router {
	if config.ConfidenceThreshold <= 0 {
		config.ConfidenceThreshold = DefaultRouterConfig().ConfidenceThreshold
	}
	return &Router{
		config:    config,
		knowledge: knowledge,
		local:     local,
		remote:    remote,
		sink:      sink,
		logger:    logger,
	}
}

// Execute routes one query and runs the selected executor.
//
// Inputs:
//   - ctx: Context for retrieval and execution.
//   - taskID: Task correlation ID for telemetry.
//   - query: The query text.
//   - docs: Pre-fetched context, or nil to let the router fetch.
//
// Outputs:
//   - *Result: The executor's result.
//   - error: Retrieval, routing, or execution failure.
func (r *Router) Execute(ctx context.Context, taskID, query string, docs []ContextDoc) (*Result, error) {
	if docs == nil && r.knowledge != nil {
		fetched, err := r.knowledge.Fetch(ctx, taskID, query)
		if err != nil {
			// Retrieval failure downgrades to remote execution with no
			// context rather than failing the task.
			r.logger.Warn("context fetch failed, routing remote",
				slog.String("task_id", taskID),
				slog.String("error", err.Error()))
		}
		docs = fetched
	}

	confidence := retrievalConfidence(docs)
	route := RouteRemote
	if confidence >= r.config.ConfidenceThreshold {
		route = RouteLocal
	}
	executor := r.executorFor(&route)
	if executor == nil {
		return nil, ErrNoExecutor
	}

	r.emit(ctx, taskID, map[string]any{
		"query":      query,
		"route":      route,
		"confidence": confidence,
		"doc_count":  len(docs),
	})

	return executor.Run(ctx, query, docs)
}

// executorFor resolves the route to a configured executor, updating the
// route label when falling back.
func (r *Router) executorFor(route *string) Executor {
	if *route == RouteLocal {
		if r.local != nil {
			return r.local
		}
		*route = RouteRemote
	}
	if r.remote != nil {
		return r.remote
	}
	if r.local != nil {
		*route = RouteLocal
		return r.local
	}
	return nil
}

func (r *Router) emit(ctx context.Context, taskID string, data map[string]any) {
	err := r.sink.Emit(ctx, telemetry.Event{
		Type:   telemetry.EventQueryRouted,
		TaskID: taskID,
		Data:   data,
	})
	if err != nil {
		r.logger.Warn("telemetry emit failed",
			slog.String("event_type", telemetry.EventQueryRouted),
			slog.String("error", err.Error()))
	}
}

// retrievalConfidence scores corpus coverage as the best hit relevance.
func retrievalConfidence(docs []ContextDoc) float64 {
	best := 0.0
	for _, doc := range docs {
		if doc.Relevance > best {
			best = doc.Relevance
		}
	}
	return best
}
