// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package breaker guards calls to external dependencies with a
// failure-counting circuit breaker.
//
// One breaker instance wraps one dependency (the vector store, the
// relational store); breakers never share state. Callers that receive
// ErrCircuitOpen must take an explicit fallback path (the learner spills
// to a local file) rather than blocking or silently dropping data.
package breaker

import (
	"context"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is normal operation - calls pass through, failures counted.
	StateClosed State = iota
	// StateOpen means too many failures - calls are rejected immediately.
	StateOpen
	// StateHalfOpen is testing recovery - exactly one probe call allowed.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures the circuit breaker behavior.
type Config struct {
	// FailureThreshold is consecutive failures before opening (default: 5).
	FailureThreshold int

	// RecoveryTimeout is how long to stay open before allowing a single
	// probe call (default: 30s).
	RecoveryTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// Stats contains circuit breaker statistics for the readiness endpoint.
type Stats struct {
	Dependency      string    `json:"dependency"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	LastFailureAt   time.Time `json:"last_failure_at,omitzero"`
	TotalCalls      int64     `json:"total_calls"`
	TotalFailures   int64     `json:"total_failures"`
	TotalRejections int64     `json:"total_rejections"`
	LastStateChange time.Time `json:"last_state_change"`
}

// Breaker protects calls to one external dependency.
//
// State machine:
//
//   - Closed: calls pass through, consecutive failures counted. Reaching
//     FailureThreshold opens the circuit.
//   - Open: calls are rejected with ErrCircuitOpen until RecoveryTimeout
//     elapses; the next call then transitions to half-open.
//   - Half-open: exactly one probe call is allowed. Success closes the
//     circuit and resets the failure count; failure reopens it and
//     restarts the timer.
//
// Thread Safety: Safe for concurrent use. Mutation is serialized by an
// internal mutex (single-writer per instance).
type Breaker struct {
	dependency string
	config     Config

	// onTransition, if set, is called after every state change with the
	// new state. Used to count transitions in metrics.
	onTransition func(from, to State)

	mu              sync.RWMutex
	state           State
	failures        int
	lastFailureAt   time.Time
	lastStateChange time.Time
	probeInFlight   bool

	totalCalls      int64
	totalFailures   int64
	totalRejections int64
}

// New creates a circuit breaker for one named dependency.
//
// Inputs:
//   - dependency: Name used in stats and metrics (e.g. "vector_store").
//   - config: Breaker configuration. Zero-value fields get defaults.
//
// Outputs:
//   - *Breaker: Ready to use breaker in the closed state.
func New(dependency string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	return &Breaker{
		dependency:      dependency,
		config:          config,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// OnTransition registers a callback invoked after every state change.
//
// Must be called before the breaker is shared between goroutines.
func (b *Breaker) OnTransition(fn func(from, to State)) {
	b.onTransition = fn
}

// Dependency returns the name this breaker guards.
func (b *Breaker) Dependency() string {
	return b.dependency
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Execute runs fn under circuit breaker protection.
//
// Inputs:
//   - ctx: Context passed through to fn.
//   - fn: The guarded call.
//
// Outputs:
//   - error: ErrCircuitOpen if rejected without invoking fn, otherwise
//     the error from fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// allow decides whether a call may proceed, handling the open-to-half-open
// transition and the single-probe rule.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(b.lastStateChange) >= b.config.RecoveryTimeout {
			b.transitionTo(StateHalfOpen)
			b.probeInFlight = true
			return true
		}
		b.totalRejections++
		return false

	case StateHalfOpen:
		if b.probeInFlight {
			b.totalRejections++
			return false
		}
		b.probeInFlight = true
		return true
	}

	return false
}

// recordSuccess handles a successful guarded call.
func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.probeInFlight = false
		b.transitionTo(StateClosed)
	}
}

// recordFailure handles a failed guarded call.
func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.failures++
	b.lastFailureAt = time.Now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.probeInFlight = false
		b.transitionTo(StateOpen)
	}
}

// transitionTo changes state. Must be called with the lock held.
func (b *Breaker) transitionTo(newState State) {
	from := b.state
	b.state = newState
	b.lastStateChange = time.Now()
	if newState == StateClosed {
		b.failures = 0
	}
	if b.onTransition != nil && from != newState {
		// Callback runs with the lock held; keep implementations cheap
		// (counter increments only).
		b.onTransition(from, newState)
	}
}

// Stats returns a snapshot of the breaker's counters and state.
func (b *Breaker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Dependency:      b.dependency,
		State:           b.state.String(),
		FailureCount:    b.failures,
		LastFailureAt:   b.lastFailureAt,
		TotalCalls:      b.totalCalls,
		TotalFailures:   b.totalFailures,
		TotalRejections: b.totalRejections,
		LastStateChange: b.lastStateChange,
	}
}
