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

import "fmt"

// ErrorKind classifies a ProviderError for retry/backoff decisions.
type ErrorKind string

const (
	KindTransport   ErrorKind = "transport"
	KindRateLimited ErrorKind = "rate_limited"
	KindCoolingDown ErrorKind = "cooling_down"
	KindContract    ErrorKind = "contract"
	KindValidation  ErrorKind = "validation"
)

// ProviderError is the Transport's single well-typed error shape: every
// failure surfaced to a caller is one of these, never a raw net/http error.
type ProviderError struct {
	Kind             ErrorKind
	Status           int // 0 when not an HTTP response (e.g. transport/cooling_down)
	Retryable        bool
	MessageSanitized string
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.MessageSanitized)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.MessageSanitized)
}

// ErrorType implements the pkg/errors ErrorClassifier interface.
func (e *ProviderError) ErrorType() string { return string(e.Kind) }

// IsRetryable implements the pkg/errors ErrorClassifier interface.
func (e *ProviderError) IsRetryable() bool { return e.Retryable }

func coolingDownError() *ProviderError {
	return &ProviderError{Kind: KindCoolingDown, Retryable: false, MessageSanitized: "circuit breaker open"}
}

func transportError(msg string) *ProviderError {
	return &ProviderError{Kind: KindTransport, Retryable: true, MessageSanitized: sanitizeMessage(msg)}
}

func statusError(status int, retryable bool, msg string) *ProviderError {
	kind := KindValidation
	switch {
	case status == 429:
		kind = KindRateLimited
	case retryable:
		kind = KindTransport
	}
	return &ProviderError{Kind: kind, Status: status, Retryable: retryable, MessageSanitized: sanitizeMessage(msg)}
}
