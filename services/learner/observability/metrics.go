// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the Aleutian Learn service.
//
// Description:
//
//	Provides counters, histograms, and gauges for the learning loop,
//	pattern extraction, dataset GC, and the dependency circuit breakers.
//	All metrics use the "learn_" prefix for consistent naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Learning Loop Metrics ---

	// EventsProcessedTotal counts telemetry events consumed.
	EventsProcessedTotal metric.Int64Counter

	// EventsSkippedTotal counts unparseable telemetry lines by source.
	EventsSkippedTotal metric.Int64Counter

	// CycleDuration records learning cycle duration in seconds.
	CycleDuration metric.Float64Histogram

	// PatternsExtractedTotal counts patterns successfully extracted.
	PatternsExtractedTotal metric.Int64Counter

	// ExtractionFailuresTotal counts qualified events that failed extraction.
	ExtractionFailuresTotal metric.Int64Counter

	// ValueScoreDistribution records scored values in [0, 1].
	ValueScoreDistribution metric.Float64Histogram

	// SpilledPatternsTotal counts patterns diverted to the spill file.
	SpilledPatternsTotal metric.Int64Counter

	// ReplayedPatternsTotal counts spill records persisted after recovery.
	ReplayedPatternsTotal metric.Int64Counter

	// --- Dataset GC Metrics ---

	// GCDeletionsTotal counts corpus deletions by reason
	// (expired, pruned, duplicate, orphan).
	GCDeletionsTotal metric.Int64Counter

	// GCPassDuration records GC pass duration in seconds by pass.
	GCPassDuration metric.Float64Histogram

	// DatasetSolutions tracks the corpus size after each GC cycle.
	DatasetSolutions metric.Int64Gauge

	// --- Dependency Metrics ---

	// BreakerTransitionsTotal counts circuit state transitions by breaker.
	BreakerTransitionsTotal metric.Int64Counter

	// BackpressureTransitionsTotal counts overload flag flips by direction.
	BackpressureTransitionsTotal metric.Int64Counter

	// BackpressureOverloaded tracks the overload flag (0 or 1).
	BackpressureOverloaded metric.Int64Gauge

	// BackpressureLagSeconds tracks processing lag in seconds.
	BackpressureLagSeconds metric.Float64Gauge
}

// NewMetrics creates a Metrics instance with all instruments registered.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance with all instruments initialized.
//	error - Non-nil if metric registration fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- Learning Loop Metrics ---
	m.EventsProcessedTotal, err = meter.Int64Counter(
		"learn_events_processed_total",
		metric.WithDescription("Total telemetry events consumed"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create events_processed_total: %w", err)
	}

	m.EventsSkippedTotal, err = meter.Int64Counter(
		"learn_events_skipped_total",
		metric.WithDescription("Total unparseable telemetry lines skipped"),
		metric.WithUnit("{line}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create events_skipped_total: %w", err)
	}

	m.CycleDuration, err = meter.Float64Histogram(
		"learn_cycle_duration_seconds",
		metric.WithDescription("Learning cycle duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("create cycle_duration: %w", err)
	}

	m.PatternsExtractedTotal, err = meter.Int64Counter(
		"learn_patterns_extracted_total",
		metric.WithDescription("Total patterns extracted"),
		metric.WithUnit("{pattern}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create patterns_extracted_total: %w", err)
	}

	m.ExtractionFailuresTotal, err = meter.Int64Counter(
		"learn_extraction_failures_total",
		metric.WithDescription("Total qualified events that failed extraction"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create extraction_failures_total: %w", err)
	}

	m.ValueScoreDistribution, err = meter.Float64Histogram(
		"learn_value_score",
		metric.WithDescription("Distribution of computed value scores"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9),
	)
	if err != nil {
		return nil, fmt.Errorf("create value_score: %w", err)
	}

	m.SpilledPatternsTotal, err = meter.Int64Counter(
		"learn_spilled_patterns_total",
		metric.WithDescription("Total patterns diverted to the spill file"),
		metric.WithUnit("{pattern}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create spilled_patterns_total: %w", err)
	}

	m.ReplayedPatternsTotal, err = meter.Int64Counter(
		"learn_replayed_patterns_total",
		metric.WithDescription("Total spill records persisted after recovery"),
		metric.WithUnit("{pattern}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create replayed_patterns_total: %w", err)
	}

	// --- Dataset GC Metrics ---
	m.GCDeletionsTotal, err = meter.Int64Counter(
		"learn_gc_deletions_total",
		metric.WithDescription("Total corpus deletions by reason"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create gc_deletions_total: %w", err)
	}

	m.GCPassDuration, err = meter.Float64Histogram(
		"learn_gc_pass_duration_seconds",
		metric.WithDescription("GC pass duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create gc_pass_duration: %w", err)
	}

	m.DatasetSolutions, err = meter.Int64Gauge(
		"learn_dataset_solutions",
		metric.WithDescription("Number of solutions in the learned corpus"),
		metric.WithUnit("{solution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create dataset_solutions: %w", err)
	}

	// --- Dependency Metrics ---
	m.BreakerTransitionsTotal, err = meter.Int64Counter(
		"learn_breaker_transitions_total",
		metric.WithDescription("Total circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create breaker_transitions_total: %w", err)
	}

	m.BackpressureTransitionsTotal, err = meter.Int64Counter(
		"learn_backpressure_transitions_total",
		metric.WithDescription("Total overload state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create backpressure_transitions_total: %w", err)
	}

	m.BackpressureOverloaded, err = meter.Int64Gauge(
		"learn_backpressure_overloaded",
		metric.WithDescription("Whether the learner considers itself overloaded"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create backpressure_overloaded: %w", err)
	}

	m.BackpressureLagSeconds, err = meter.Float64Gauge(
		"learn_backpressure_lag_seconds",
		metric.WithDescription("Telemetry processing lag in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create backpressure_lag_seconds: %w", err)
	}

	return m, nil
}
