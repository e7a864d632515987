// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract turns qualifying telemetry events into reusable
// interaction patterns.
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianLearn/services/learner/scoring"
)

// Pattern is a reusable description of how a task was accomplished.
//
// Patterns are immutable once created: re-scoring produces a new value,
// never a mutated record. Every pattern traces to at least one source
// event.
type Pattern struct {
	// ID is a UUID assigned at creation.
	ID string `json:"id"`

	// Query is the user request the pattern answers.
	Query string `json:"query"`

	// Steps are the distilled actions that accomplished the task.
	Steps []string `json:"steps"`

	// Tags classify the pattern for retrieval.
	Tags []string `json:"tags,omitempty"`

	// Score is the value assessment at extraction time.
	Score scoring.ValueScore `json:"value_score"`

	// SourceEvents identifies the events this pattern was derived from
	// (task IDs). Never empty.
	SourceEvents []string `json:"source_events"`

	// CreatedAt is the extraction timestamp (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// ContentHash returns the SHA256 of the pattern's canonical content.
//
// The hash covers query and steps only - not score, tags, or timestamps -
// so two extractions of the same interaction collide exactly. Used by the
// dataset manager for exact-match deduplication.
func (p *Pattern) ContentHash() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(p.Query)))
	for _, step := range p.Steps {
		b.WriteByte('\n')
		b.WriteString(strings.TrimSpace(step))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
