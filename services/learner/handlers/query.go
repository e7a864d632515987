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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianLearn/services/learner/orchestrate"
)

// TaskRunner drives one query through the orchestration layers.
type TaskRunner interface {
	Run(ctx context.Context, query string) (*orchestrate.Result, error)
}

// queryRequest is the POST /v1/query body.
type queryRequest struct {
	Query string `json:"query" binding:"required"`
}

// HandleQuery serves queries through the task loop. Every request
// produces telemetry events the learning loop later consumes.
func HandleQuery(runner TaskRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req queryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
			return
		}

		result, err := runner.Run(c.Request.Context(), req.Query)
		if errors.Is(err, orchestrate.ErrIterationBudget) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"answer":     result.Answer,
			"confidence": result.Confidence,
		})
	}
}
