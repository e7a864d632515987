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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLearn/services/learner/breaker"
	"github.com/AleutianAI/AleutianLearn/services/learner/dataset"
	"github.com/AleutianAI/AleutianLearn/services/learner/engine"
	"github.com/AleutianAI/AleutianLearn/services/learner/orchestrate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRunner struct {
	result *orchestrate.Result
	err    error
}

func (s *stubRunner) Run(ctx context.Context, query string) (*orchestrate.Result, error) {
	return s.result, s.err
}

type stubPinger struct{ err error }

func (s *stubPinger) Ping(ctx context.Context) error { return s.err }

type stubEngine struct {
	status  engine.Status
	reports []dataset.Report
}

func (s *stubEngine) Status() engine.Status { return s.status }

func (s *stubEngine) TriggerGC(ctx context.Context) []dataset.Report { return s.reports }

func perform(handler gin.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	router := gin.New()
	router.Handle(method, path, handler)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	w := perform(HealthCheck, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "aleutian-learn", body["service"])
}

func TestHandleQuery_Success(t *testing.T) {
	runner := &stubRunner{result: &orchestrate.Result{Answer: "42", Confidence: 0.85}}
	w := perform(HandleQuery(runner), http.MethodPost, "/v1/query", `{"query":"meaning of life"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "42", body["answer"])
	assert.InDelta(t, 0.85, body["confidence"], 1e-9)
}

func TestHandleQuery_MissingQuery(t *testing.T) {
	w := perform(HandleQuery(&stubRunner{}), http.MethodPost, "/v1/query", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleQuery_BadJSON(t *testing.T) {
	w := perform(HandleQuery(&stubRunner{}), http.MethodPost, "/v1/query", `{"query":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleQuery_IterationBudget(t *testing.T) {
	runner := &stubRunner{err: orchestrate.ErrIterationBudget}
	w := perform(HandleQuery(runner), http.MethodPost, "/v1/query", `{"query":"q"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandleQuery_ExecutionFailure(t *testing.T) {
	runner := &stubRunner{err: errors.New("backend unreachable")}
	w := perform(HandleQuery(runner), http.MethodPost, "/v1/query", `{"query":"q"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestLearningStatus(t *testing.T) {
	eng := &stubEngine{status: engine.Status{
		CyclesCompleted:   7,
		PatternsExtracted: 42,
		LastCycleAt:       time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}}
	w := perform(LearningStatus(eng), http.MethodGet, "/v1/learning/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 7, body["cycles_completed"])
	assert.EqualValues(t, 42, body["patterns_extracted"])
}

func TestTriggerGC(t *testing.T) {
	eng := &stubEngine{reports: []dataset.Report{
		{Pass: "expired", Deleted: 3},
		{Pass: "pruned", Skipped: true},
	}}
	w := perform(TriggerGC(eng), http.MethodPost, "/v1/dataset/gc", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Passes []dataset.Report `json:"passes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Passes, 2)
	assert.Equal(t, int64(3), body.Passes[0].Deleted)
	assert.True(t, body.Passes[1].Skipped)
}

func TestReadiness_AllHealthy(t *testing.T) {
	deps := ReadinessDeps{
		Breakers: []*breaker.Breaker{
			breaker.New("vector", breaker.Config{FailureThreshold: 3, RecoveryTimeout: time.Minute}),
		},
		Pingers:  map[string]Pinger{"postgres": &stubPinger{}, "llm": nil},
		SpillDir: t.TempDir(),
	}
	w := perform(Readiness(deps), http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Ready         bool              `json:"ready"`
		Pings         map[string]string `json:"pings"`
		SpillWritable bool              `json:"spill_writable"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Ready)
	assert.True(t, body.SpillWritable)
	assert.Equal(t, "ok", body.Pings["postgres"])
	assert.Equal(t, "not configured", body.Pings["llm"])
}

func TestReadiness_OpenBreakerWithSpillStaysReady(t *testing.T) {
	tripped := breaker.New("vector", breaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	tripped.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("down")
	})

	deps := ReadinessDeps{
		Breakers: []*breaker.Breaker{tripped},
		SpillDir: t.TempDir(),
	}
	w := perform(Readiness(deps), http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code, "open breaker is tolerable while spill is writable")
}

func TestReadiness_OpenBreakerWithoutSpillIs503(t *testing.T) {
	tripped := breaker.New("vector", breaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	tripped.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("down")
	})

	deps := ReadinessDeps{
		Breakers: []*breaker.Breaker{tripped},
		SpillDir: "/nonexistent/spill",
	}
	w := perform(Readiness(deps), http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Ready bool `json:"ready"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Ready)
}

func TestReadiness_FailingPingReported(t *testing.T) {
	deps := ReadinessDeps{
		Pingers:  map[string]Pinger{"postgres": &stubPinger{err: errors.New("connection refused")}},
		SpillDir: t.TempDir(),
	}
	w := perform(Readiness(deps), http.MethodGet, "/ready", "")
	// A failing ping alone does not flip readiness; breakers decide.
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Pings map[string]string `json:"pings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Pings["postgres"], "connection refused")
}
