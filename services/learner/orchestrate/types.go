// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrate implements the three nested serving layers: the
// task loop, the query router, and the knowledge retrieval layer. Every
// layer emits events to the same telemetry stream the learning loop
// consumes, which closes the learn-from-your-own-traffic cycle.
package orchestrate

import "context"

// ContinueExitCode is the sentinel exit code an executor returns when a
// task needs another iteration. It is never treated as success.
const ContinueExitCode = "continue"

// ContextDoc is one retrieved knowledge entry handed to an executor.
type ContextDoc struct {
	// PatternID identifies the learned pattern this doc came from.
	PatternID string `json:"pattern_id"`

	// Query is the original query the pattern was learned from.
	Query string `json:"query"`

	// Steps are the reusable steps the pattern recorded.
	Steps []string `json:"steps"`

	// Tags classify the pattern.
	Tags []string `json:"tags,omitempty"`

	// Relevance is the similarity certainty in [0, 1].
	Relevance float64 `json:"relevance"`

	// ValueScore is the authoritative score from the relational store;
	// nil when the pattern is still awaiting feedback.
	ValueScore *float64 `json:"value_score"`
}

// Result is the outcome of one executor invocation.
type Result struct {
	// Answer is the executor's response text.
	Answer string

	// Steps are the actions the executor took, for pattern extraction.
	Steps []string

	// Confidence is the executor's self-reported confidence in [0, 1].
	Confidence float64

	// ExitCode signals control flow; ContinueExitCode requests another
	// iteration, anything else ends the task.
	ExitCode string
}

// Executor runs one query against a backend (local model or remote
// service). Implementations must be safe for concurrent use.
type Executor interface {
	Run(ctx context.Context, query string, docs []ContextDoc) (*Result, error)
}
