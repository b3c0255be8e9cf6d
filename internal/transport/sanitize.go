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
	"net/url"
	"strings"
)

// sensitiveParams are query parameter names redacted before a URL or
// error message is allowed to surface, matched case-insensitively.
var sensitiveParams = []string{
	"api_key", "apikey", "token", "password", "auth", "secret", "key", "credential",
}

func isSensitiveParam(param string) bool {
	lower := strings.ToLower(param)
	for _, p := range sensitiveParams {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// sanitizeURL redacts sensitive query parameters from a URL before it
// is logged or embedded in an error message.
func sanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	q := u.Query()
	for param := range q {
		if isSensitiveParam(param) {
			q.Set(param, "[REDACTED]")
		}
	}
	safe := *u
	safe.RawQuery = q.Encode()
	return safe.String()
}

// sanitizeMessage replaces the token following the first "bearer "
// (matched case-insensitively) with [REDACTED] before an error string is
// wrapped into a ProviderError. Later bearer tokens and other credential
// fragments, such as api_key values, are left as they are.
func sanitizeMessage(msg string) string {
	lower := strings.ToLower(msg)
	if idx := strings.Index(lower, "bearer "); idx >= 0 {
		end := idx + len("bearer ")
		tokenEnd := end
		for tokenEnd < len(msg) && msg[tokenEnd] != ' ' && msg[tokenEnd] != '"' && msg[tokenEnd] != '\n' {
			tokenEnd++
		}
		msg = msg[:end] + "[REDACTED]" + msg[tokenEnd:]
	}
	return msg
}
