// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianLearn/services/learner/handlers"
)

// Deps are the collaborators the routes wire handlers to.
type Deps struct {
	Engine interface {
		handlers.StatusProvider
		handlers.GCTrigger
	}
	Tasks     handlers.TaskRunner
	Readiness handlers.ReadinessDeps
}

// SetupRoutes registers every learner endpoint on the router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.Readiness(deps.Readiness))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/query", handlers.HandleQuery(deps.Tasks))
		v1.GET("/learning/status", handlers.LearningStatus(deps.Engine))
		v1.POST("/dataset/gc", handlers.TriggerGC(deps.Engine))
	}
}
