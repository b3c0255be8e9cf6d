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

// Package secretscrub redacts sensitive values before they reach a run
// log, receipt, or any other artifact a human might read. It combines
// key-name pattern masking with structural redaction
// so an arbitrary JSON-shaped payload can be scrubbed without losing
// its shape.
package secretscrub

import (
	"bytes"
	"encoding/json"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// keyContainsPatterns are substrings that mark a key as sensitive
// regardless of where they appear in the key name.
var keyContainsPatterns = []string{
	"api_key", "apikey", "password", "token", "secret",
	"authorization", "cookie",
}

// keySuffixPatterns are case-insensitive suffixes that mark a key as
// sensitive, matching environment-variable naming conventions.
var keySuffixPatterns = []string{
	"_TOKEN", "_SECRET", "_KEY", "_PASSWORD", "_PASS", "_PWD",
}

// Scrubber redacts sensitive values from strings and arbitrary JSON-like
// structures (map[string]any, []any, string, number, bool, nil).
type Scrubber struct {
	knownSecrets map[string]bool
}

// New creates a Scrubber with no known literal secret values registered.
func New() *Scrubber {
	return &Scrubber{knownSecrets: make(map[string]bool)}
}

// RegisterSecret adds a literal value that must be masked wherever it
// appears in a string, independent of the key it's nested under.
func (s *Scrubber) RegisterSecret(value string) {
	if value != "" {
		s.knownSecrets[value] = true
	}
}

// IsSensitiveKey reports whether a key name matches a known secret
// pattern, by substring containment or by env-style suffix.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, p := range keyContainsPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	upper := strings.ToUpper(key)
	for _, p := range keySuffixPatterns {
		if strings.HasSuffix(upper, p) {
			return true
		}
	}
	return false
}

// RedactString masks any registered literal secret values found inside s.
func (s *Scrubber) RedactString(str string) string {
	result := str
	for secret := range s.knownSecrets {
		if strings.Contains(result, secret) {
			result = strings.ReplaceAll(result, secret, redactedPlaceholder)
		}
	}
	return result
}

// Redact walks an arbitrary JSON-shaped value and returns a redacted
// copy with the same structural shape. Values under a sensitive key are
// replaced wholesale; all other string values are scanned for
// registered literal secrets. Redact is a fixed point:
// Redact(Redact(x)) equals Redact(x), since [REDACTED] itself never
// matches a sensitive key pattern or contains a registered secret.
func (s *Scrubber) Redact(v interface{}) interface{} {
	return s.redactValue("", v)
}

func (s *Scrubber) redactValue(key string, v interface{}) interface{} {
	if key != "" && IsSensitiveKey(key) {
		if v == nil {
			return nil
		}
		return redactedPlaceholder
	}

	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			out[k] = s.redactValue(k, child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = s.redactValue(key, item)
		}
		return out
	case string:
		return s.RedactString(val)
	case json.Number, float64, int, int64, bool, nil:
		return val
	default:
		return val
	}
}

// RedactJSON redacts a JSON document supplied as raw bytes, preserving
// number formatting via json.Number. Non-JSON input falls back to plain
// string redaction of registered secrets.
func (s *Scrubber) RedactJSON(raw []byte) []byte {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var data interface{}
	if err := dec.Decode(&data); err != nil {
		return []byte(s.RedactString(string(raw)))
	}

	redacted := s.Redact(data)
	out, err := json.Marshal(redacted)
	if err != nil {
		return []byte(s.RedactString(string(raw)))
	}
	return out
}
