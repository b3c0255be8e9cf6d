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
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.BaseBackoff = 1 * time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func TestDoSucceedsOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(testConfig(), nil)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), RequestSpec{Method: "GET", URL: srv.URL, RunID: "r1", StepKey: "s1"})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "closed", c.BreakerState())
}

func TestDoRetriesOn500ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(testConfig(), nil)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), RequestSpec{Method: "GET", URL: srv.URL})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoDoesNotRetryOn400(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := New(testConfig(), nil)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), RequestSpec{Method: "GET", URL: srv.URL})
	require.Error(t, err)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, http.StatusBadRequest, perr.Status)
	require.False(t, perr.Retryable)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx must not be retried")
}

func TestDoExhaustsRetriesAndReturnsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxAttempts = 2
	c, err := New(cfg, nil)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), RequestSpec{Method: "GET", URL: srv.URL})
	require.Error(t, err)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	require.True(t, perr.Retryable)
}

func TestDoSetsIdempotencyHeader(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(testConfig(), nil)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), RequestSpec{Method: "GET", URL: srv.URL, RunID: "run-9", StepKey: "a1"})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "run-9:a1", gotHeader)
}

func TestDoFailsFastWhenBreakerOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.BreakerFailureThreshold = 1
	c, err := New(cfg, nil)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), RequestSpec{Method: "GET", URL: srv.URL})
	require.Error(t, err)
	require.Equal(t, "open", c.BreakerState())

	_, err = c.Do(context.Background(), RequestSpec{Method: "GET", URL: srv.URL})
	require.Error(t, err)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, KindCoolingDown, perr.Kind)
}

func TestDoRetriesOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(testConfig(), nil)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), RequestSpec{Method: "GET", URL: srv.URL})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDoRetryAfterReplacesBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.BaseBackoff = 2 * time.Second // would dominate elapsed time if it stacked
	cfg.MaxBackoff = 30 * time.Second
	c, err := New(cfg, nil)
	require.NoError(t, err)

	start := time.Now()
	resp, err := c.Do(context.Background(), RequestSpec{Method: "GET", URL: srv.URL})
	elapsed := time.Since(start)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.GreaterOrEqual(t, elapsed, time.Second, "the Retry-After wait must be honored")
	// Stacking the normal backoff (>= 4s for attempt 1 at base 2s) on
	// top of the 1s Retry-After would push elapsed past 5s.
	require.Less(t, elapsed, 3*time.Second, "Retry-After must replace the attempt's backoff, not add to it")
}

func TestDoSecondConsecutive429FollowsNormalBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(testConfig(), nil) // millisecond-scale backoff
	require.NoError(t, err)

	start := time.Now()
	resp, err := c.Do(context.Background(), RequestSpec{Method: "GET", URL: srv.URL})
	elapsed := time.Since(start)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
	// The first 429's Retry-After (1s) is honored once; the second 429
	// falls back to the millisecond backoff instead of a second 1s wait.
	require.GreaterOrEqual(t, elapsed, time.Second)
	require.Less(t, elapsed, 2*time.Second, "Retry-After must be honored exactly once per 429 burst")
}

func TestDoCancelDuringRetryAfterSleep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "10")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := New(testConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = c.Do(ctx, RequestSpec{Method: "GET", URL: srv.URL})
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second, "cancellation must abort the Retry-After sleep")
}
