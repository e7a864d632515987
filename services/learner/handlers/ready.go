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
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianLearn/services/learner/breaker"
)

// pingTimeout bounds each dependency reachability check.
const pingTimeout = 2 * time.Second

// Pinger checks one dependency's reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessDeps are the dependencies the readiness check inspects.
type ReadinessDeps struct {
	// Breakers are the per-dependency circuit breakers.
	Breakers []*breaker.Breaker

	// Pingers maps dependency name to its reachability check. Entries
	// may be nil when a dependency is not configured.
	Pingers map[string]Pinger

	// SpillDir is probed for writability; an open breaker is tolerable
	// only while the spill path still accepts patterns.
	SpillDir string
}

// Readiness reports dependency health.
//
// Description:
//
//	Returns 200 while the learner can still make progress: either every
//	breaker is closed, or an open breaker is covered by a writable spill
//	path. Returns 503 when patterns could be lost.
func Readiness(deps ReadinessDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
		defer cancel()

		breakers := make([]breaker.Stats, 0, len(deps.Breakers))
		anyOpen := false
		for _, b := range deps.Breakers {
			stats := b.Stats()
			breakers = append(breakers, stats)
			if b.State() == breaker.StateOpen {
				anyOpen = true
			}
		}

		pings := make(map[string]string, len(deps.Pingers))
		for name, pinger := range deps.Pingers {
			if pinger == nil {
				pings[name] = "not configured"
				continue
			}
			if err := pinger.Ping(ctx); err != nil {
				pings[name] = err.Error()
			} else {
				pings[name] = "ok"
			}
		}

		spillOK := spillWritable(deps.SpillDir)

		status := http.StatusOK
		ready := true
		if anyOpen && !spillOK {
			status = http.StatusServiceUnavailable
			ready = false
		}

		c.JSON(status, gin.H{
			"ready":          ready,
			"breakers":       breakers,
			"pings":          pings,
			"spill_writable": spillOK,
		})
	}
}

// spillWritable probes the spill directory with a throwaway file.
func spillWritable(dir string) bool {
	if dir == "" {
		return false
	}
	f, err := os.CreateTemp(dir, "probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
