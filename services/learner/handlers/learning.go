// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianLearn/services/learner/dataset"
	"github.com/AleutianAI/AleutianLearn/services/learner/engine"
)

// StatusProvider exposes the learning loop snapshot.
type StatusProvider interface {
	Status() engine.Status
}

// GCTrigger runs one on-demand GC cycle.
type GCTrigger interface {
	TriggerGC(ctx context.Context) []dataset.Report
}

// LearningStatus serves the learning loop snapshot: processed counts,
// last cycle time, and per-source checkpoint offsets.
func LearningStatus(provider StatusProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, provider.Status())
	}
}

// TriggerGC runs a manual GC cycle and reports per-pass results.
//
// The per-pass mutexes inside the GC manager make this safe to call
// while the scheduled loop runs; a pass already in flight is reported
// as skipped.
func TriggerGC(trigger GCTrigger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reports := trigger.TriggerGC(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"passes": reports})
	}
}
