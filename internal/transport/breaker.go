// Copyright 2025 The Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker trips after consecutive retryable failures within a
// window, fails fast while open, then allows a single probe request
// once the cooldown elapses.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	window           time.Duration
	cooldown         time.Duration
	nowFunc          func() time.Time

	state          breakerState
	failures       int
	windowStart    time.Time
	openedAt       time.Time
	probeInFlight  bool
}

// NewCircuitBreaker creates a breaker; the defaults are 5 failures
// in 30s, open for cooldown seconds).
func NewCircuitBreaker(failureThreshold int, window, cooldown time.Duration, nowFunc func() time.Time) *CircuitBreaker {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		window:           window,
		cooldown:         cooldown,
		nowFunc:          nowFunc,
		state:            breakerClosed,
	}
}

// Allow reports whether a new request may proceed. When the breaker is
// open and the cooldown has elapsed, it transitions to half-open and
// allows exactly one probe through; further calls are refused until
// that probe reports its outcome via RecordSuccess/RecordFailure.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.nowFunc().Sub(b.openedAt) >= b.cooldown {
			b.state = breakerHalfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case breakerHalfOpen:
		return false // probe already in flight
	}
	return false
}

// RecordFailure registers a retryable failure. It trips the breaker
// once failureThreshold consecutive failures land inside window, and
// reopens it if the half-open probe itself fails.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFunc()

	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = now
		b.probeInFlight = false
		b.failures = 0
		return
	}

	if b.windowStart.IsZero() || now.Sub(b.windowStart) > b.window {
		b.windowStart = now
		b.failures = 0
	}
	b.failures++

	if b.failures >= b.failureThreshold {
		b.state = breakerOpen
		b.openedAt = now
		b.failures = 0
	}
}

// RecordSuccess closes the breaker (from closed or half-open).
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = breakerClosed
	b.failures = 0
	b.windowStart = time.Time{}
	b.probeInFlight = false
}

// State reports the current breaker state for diagnostics/metrics.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
