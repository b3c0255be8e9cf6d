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

// Package transport implements the Provider Transport: an HTTP client
// over TLS with per-request timeout, retry/backoff honoring
// Retry-After, a circuit breaker, idempotency tokens, and sanitized
// error messages — the single gateway every outbound Provider call
// goes through.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Client wraps *http.Client with retry, breaker, rate-limit, and
// idempotency logic.
type Client struct {
	httpClient *http.Client
	cfg        Config
	breaker    *CircuitBreaker
	limiter    *rate.Limiter
}

// New builds a Client from cfg. nowFunc is threaded through to the
// circuit breaker only; pass nil to use time.Now.
func New(cfg Config, nowFunc func() time.Time) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseTransport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS13,
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		httpClient: &http.Client{Transport: baseTransport, Timeout: cfg.Timeout},
		cfg:        cfg,
		breaker:    NewCircuitBreaker(cfg.BreakerFailureThreshold, cfg.BreakerWindow, cfg.BreakerCooldown, nowFunc),
		limiter:    limiter,
	}, nil
}

// BreakerState exposes the circuit breaker's current state for metrics/logging.
func (c *Client) BreakerState() string { return c.breaker.State() }

// RequestSpec describes one outbound call; callers supply a fresh
// io.Reader factory so the body can be replayed across retries.
type RequestSpec struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        func() io.Reader
	RunID       string
	StepKey     string // combined with RunID to derive the idempotency token
}

// Do executes spec with retry, backoff, and circuit-breaker protection,
// returning the final *http.Response on success or a *ProviderError on
// failure. The caller owns closing the returned response body.
func (c *Client) Do(ctx context.Context, spec RequestSpec) (*http.Response, error) {
	if !c.breaker.Allow() {
		return nil, coolingDownError()
	}

	var lastErr *ProviderError
	var retryAfterUsed bool
	// sleptOnRetryAfter marks that the previous attempt already waited
	// out a Retry-After header; that wait replaces the attempt's normal
	// backoff rather than stacking on top of it.
	var sleptOnRetryAfter bool

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 && !sleptOnRetryAfter {
			delay := c.backoffDelay(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, transportError(ctx.Err().Error())
			}
		}
		sleptOnRetryAfter = false

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, transportError(err.Error())
			}
		}

		req, err := c.buildRequest(ctx, spec)
		if err != nil {
			return nil, transportError(err.Error())
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = transportError(err.Error())
			c.breaker.RecordFailure()
			continue
		}

		if resp.StatusCode < 400 {
			c.breaker.RecordSuccess()
			return resp, nil
		}

		if !shouldRetryStatus(resp.StatusCode) {
			// A contract/validation 4xx is a definitive Provider answer,
			// not an outage: it surfaces immediately and never retries,
			// and it does not count against the breaker.
			msg := readErrorBody(resp)
			resp.Body.Close()
			c.breaker.RecordSuccess()
			return nil, statusError(resp.StatusCode, false, msg)
		}

		retryAfter := parseRetryAfter(resp)
		resp.Body.Close()
		c.breaker.RecordFailure()
		lastErr = statusError(resp.StatusCode, true, fmt.Sprintf("http %d", resp.StatusCode))

		if resp.StatusCode == http.StatusTooManyRequests && retryAfter > 0 && !retryAfterUsed {
			retryAfterUsed = true
			sleptOnRetryAfter = true
			select {
			case <-time.After(retryAfter):
			case <-ctx.Done():
				return nil, transportError(ctx.Err().Error())
			}
		}
	}

	if lastErr == nil {
		lastErr = transportError("exhausted retries")
	}
	return nil, lastErr
}

func (c *Client) buildRequest(ctx context.Context, spec RequestSpec) (*http.Request, error) {
	var body io.Reader
	if spec.Body != nil {
		body = spec.Body()
	}
	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if spec.RunID != "" && spec.StepKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyToken(spec.RunID, spec.StepKey))
	}
	return req, nil
}

// idempotencyToken derives a stable token from (run_id, step_key) so
// retried requests never double-create server-side state.
func idempotencyToken(runID, stepKey string) string {
	return runID + ":" + stepKey
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	backoff := float64(c.cfg.BaseBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(c.cfg.MaxBackoff) {
		backoff = float64(c.cfg.MaxBackoff)
	}
	jitter := rand.Float64() // [0, 1)
	return time.Duration(backoff * (1 + jitter))
}

// shouldRetryStatus is the fixed retry table: 408, 425, 429, 5xx.
func shouldRetryStatus(status int) bool {
	switch {
	case status >= 500 && status < 600:
		return true
	case status == http.StatusRequestTimeout, status == http.StatusTooEarly, status == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// errorBodyLimit bounds how much of an error response body is read
// into the sanitized message.
const errorBodyLimit = 2048

func readErrorBody(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	if err != nil || len(data) == 0 {
		return fmt.Sprintf("http %d", resp.StatusCode)
	}
	return sanitizeMessage(string(data))
}

// parseRetryAfter extracts Retry-After as either delta-seconds or an
// HTTP-date, returning 0 when absent or unparsable.
func parseRetryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// SanitizeURL is exported so higher layers (request builders, error
// wrapping) can redact a URL before logging it.
func SanitizeURL(u *url.URL) string { return sanitizeURL(u) }
