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

// Package errors defines the run engine's typed error taxonomy. Every
// failure surfaced out of the cascade, batch monitor, or supervisor is
// one of these kinds, so callers can branch on classification instead
// of string matching.
package errors

import "fmt"

// ErrorClassifier is implemented by every error in this module that can
// be classified for retry or reporting decisions.
type ErrorClassifier interface {
	error

	// ErrorType returns the error's kind, e.g. "transport" or "contract".
	ErrorType() string

	// IsRetryable reports whether the failed operation may be retried.
	IsRetryable() bool
}

// RunError is the common envelope every run-engine error carries: which
// step and run it happened in, plus a sanitized detail safe to log or
// surface to a UI.
type RunError struct {
	Kind            string
	Step            string
	RunID           string
	DetailSanitized string
	Cause           error
}

func (e *RunError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s at step %s: %s", e.Kind, e.Step, e.DetailSanitized)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.DetailSanitized)
}

func (e *RunError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *RunError) ErrorType() string { return e.Kind }

// IsRetryable implements ErrorClassifier.
func (e *RunError) IsRetryable() bool {
	switch e.Kind {
	case "transport", "rate_limited":
		return true
	default:
		return false
	}
}

func newRunError(kind, step, runID, detail string, cause error) *RunError {
	return &RunError{Kind: kind, Step: step, RunID: runID, DetailSanitized: detail, Cause: cause}
}

// TransportError wraps a network/5xx/timeout failure. Always retryable.
func TransportError(step, runID, detail string, cause error) *RunError {
	return newRunError("transport", step, runID, detail, cause)
}

// RateLimitedError wraps an HTTP 429. Retryable, honoring Retry-After.
func RateLimitedError(step, runID, detail string, cause error) *RunError {
	return newRunError("rate_limited", step, runID, detail, cause)
}

// CoolingDownError means the circuit breaker is open; the cascade should
// pause, not fail.
func CoolingDownError(step, runID string) *RunError {
	return newRunError("cooling_down", step, runID, "circuit breaker open", nil)
}

// CancelledError means cooperative cancellation was observed.
func CancelledError(step, runID string) *RunError {
	return newRunError("cancelled", step, runID, "cancelled by caller", nil)
}

// ContractErrorDetail is the structured part of a ContractError: the
// contract name, the JSON pointer of the offending field, and the reason
// the response failed strict JSON-contract validation.
type ContractErrorDetail struct {
	Contract string
	Pointer  string
	Reason   string
}

// ContractError represents a parser failure: the response did not match
// its expected wire contract.
type ContractError struct {
	RunError
	Detail ContractErrorDetail
}

// NewContractError builds a ContractError for the given contract/pointer/reason.
func NewContractError(step, runID, contract, pointer, reason string) *ContractError {
	return &ContractError{
		RunError: *newRunError("contract", step, runID, fmt.Sprintf("%s: %s (%s)", contract, reason, pointer), nil),
		Detail:   ContractErrorDetail{Contract: contract, Pointer: pointer, Reason: reason},
	}
}

// AssemblyError means a chunk sequence was malformed and could not be
// reassembled into a whole file.
func AssemblyError(step, runID, path, reason string) *RunError {
	return newRunError("assembly", step, runID, fmt.Sprintf("%s: %s", path, reason), nil)
}

// PathPolicyError means a model-specified output path violated safety rules.
func PathPolicyError(step, runID, path, reason string) *RunError {
	return newRunError("path_policy", step, runID, fmt.Sprintf("%q: %s", path, reason), nil)
}

// CapabilityDowngradeError is not user-visible; it documents that a
// request was rebuilt without a feature the model does not support.
func CapabilityDowngradeError(step, runID, feature string) *RunError {
	return newRunError("capability_downgrade", step, runID, feature+" unavailable, rebuilt without it", nil)
}

// StorageError means a local disk write failed; logging degrades to
// memory-buffered events rather than aborting the run.
func StorageError(step, runID, detail string, cause error) *RunError {
	return newRunError("storage", step, runID, detail, cause)
}

// ConfigurationError means the RunRequest itself was invalid and the run
// was rejected before starting.
func ConfigurationError(detail string) *RunError {
	return newRunError("configuration", "", "", detail, nil)
}
