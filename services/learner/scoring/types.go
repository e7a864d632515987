// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scoring computes a bounded value score for telemetry events.
//
// The score is a weighted sum over named components: outcome quality,
// user feedback, reusability, structural complexity, and novelty. Weights
// come from configuration so deployments can retune without code changes.
//
// "No explicit feedback" is a distinct state from a neutral score: it
// yields a nil Value with zero confidence, never a numeric 0.5. The
// caller decides whether to persist such patterns at reduced confidence.
package scoring

import "fmt"

// Component names, used as keys in ValueScore.Components and metric labels.
const (
	ComponentOutcome     = "outcome"
	ComponentFeedback    = "feedback"
	ComponentReusability = "reusability"
	ComponentComplexity  = "complexity"
	ComponentNovelty     = "novelty"
)

// Weights holds the per-component weights from configuration.
type Weights struct {
	Outcome     float64 `json:"outcome" yaml:"outcome"`
	Feedback    float64 `json:"feedback" yaml:"feedback"`
	Reusability float64 `json:"reusability" yaml:"reusability"`
	Complexity  float64 `json:"complexity" yaml:"complexity"`
	Novelty     float64 `json:"novelty" yaml:"novelty"`
}

// DefaultWeights returns the shipped weighting.
func DefaultWeights() Weights {
	return Weights{
		Outcome:     0.35,
		Feedback:    0.30,
		Reusability: 0.15,
		Complexity:  0.10,
		Novelty:     0.10,
	}
}

// Validate checks that every weight is non-negative and the sum is
// positive. Called at startup; an invalid weighting is fatal.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		ComponentOutcome:     w.Outcome,
		ComponentFeedback:    w.Feedback,
		ComponentReusability: w.Reusability,
		ComponentComplexity:  w.Complexity,
		ComponentNovelty:     w.Novelty,
	} {
		if v < 0 {
			return fmt.Errorf("scoring weight %q must be >= 0, got %v", name, v)
		}
	}
	if w.Outcome+w.Feedback+w.Reusability+w.Complexity+w.Novelty <= 0 {
		return fmt.Errorf("scoring weights must sum to a positive value")
	}
	return nil
}

// ValueScore is the scorer's output for one event.
type ValueScore struct {
	// Value is the weighted score in [0, 1], or nil when no explicit
	// feedback exists. nil is "unknown", never collapsed to 0.5.
	Value *float64 `json:"value"`

	// Confidence in [0, 1]. Zero when Value is nil.
	Confidence float64 `json:"confidence"`

	// WeightsUsed records the weighting applied, for reproducibility.
	WeightsUsed Weights `json:"weights_used"`

	// RequiresFeedback is true when no explicit feedback was available.
	RequiresFeedback bool `json:"requires_feedback"`

	// Components holds the raw per-component scores that were available.
	Components map[string]float64 `json:"components"`
}

// ValueOr returns the score's value, or fallback when Value is nil.
//
// Callers that must have a numeric value (e.g. ordering for GC) choose
// the fallback explicitly; the scorer itself never substitutes one.
func (v ValueScore) ValueOr(fallback float64) float64 {
	if v.Value == nil {
		return fallback
	}
	return *v.Value
}
