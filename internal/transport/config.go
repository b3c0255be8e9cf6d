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
	"fmt"
	"time"
)

// Config configures the Provider Transport's timeout, retry, and
// circuit-breaker behavior.
type Config struct {
	// Timeout is the per-request timeout.
	Timeout time.Duration

	// MaxAttempts is the maximum number of attempts (including the
	// first).
	MaxAttempts int

	// BaseBackoff and MaxBackoff bound the exponential backoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// UserAgent is sent on every request.
	UserAgent string

	// BreakerFailureThreshold consecutive retryable failures trip the breaker.
	BreakerFailureThreshold int
	// BreakerWindow is the sliding window consecutive failures must fall within.
	BreakerWindow time.Duration
	// BreakerCooldown is how long the breaker stays open before a half-open probe.
	BreakerCooldown time.Duration

	// RequestsPerSecond throttles outbound calls before the Provider has
	// to; zero disables client-side limiting. RateBurst bounds the burst
	// size and defaults to 1 when limiting is on.
	RequestsPerSecond float64
	RateBurst         int
}

// DefaultConfig returns the stock settings: 120s per-request timeout,
// base=0.5s, cap=30s, 5 attempts, breaker trips at 5 failures/30s and
// cools down for 30s.
func DefaultConfig() Config {
	return Config{
		Timeout:                 120 * time.Second,
		MaxAttempts:             5,
		BaseBackoff:             500 * time.Millisecond,
		MaxBackoff:              30 * time.Second,
		UserAgent:               "aegis-cascade/1.0",
		BreakerFailureThreshold: 5,
		BreakerWindow:           30 * time.Second,
		BreakerCooldown:         30 * time.Second,
	}
}

// Validate checks the configuration for obviously invalid values.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %v", c.Timeout)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.BaseBackoff <= 0 {
		return fmt.Errorf("base_backoff must be > 0, got %v", c.BaseBackoff)
	}
	if c.MaxBackoff < c.BaseBackoff {
		return fmt.Errorf("max_backoff (%v) must be >= base_backoff (%v)", c.MaxBackoff, c.BaseBackoff)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required")
	}
	if c.BreakerFailureThreshold < 1 {
		return fmt.Errorf("breaker_failure_threshold must be >= 1")
	}
	return nil
}
