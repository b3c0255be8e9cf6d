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

package secretscrub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsSensitiveKey(t *testing.T) {
	cases := map[string]bool{
		"api_key":          true,
		"API_KEY":          true,
		"Authorization":    true,
		"cookie":           true,
		"SESSION_TOKEN":    true,
		"DB_PASSWORD":      true,
		"MY_SECRET":        true,
		"client_id":        false,
		"region":           false,
		"model":            false,
	}
	for key, want := range cases {
		require.Equal(t, want, IsSensitiveKey(key), "key %q", key)
	}
}

func TestRedactPreservesShape(t *testing.T) {
	s := New()
	input := map[string]interface{}{
		"model": "gpt-5",
		"auth": map[string]interface{}{
			"api_key": "sk-abc123",
			"region":  "us-east-1",
		},
		"tags": []interface{}{"a", "b"},
	}

	got := s.Redact(input).(map[string]interface{})
	require.Equal(t, "gpt-5", got["model"])
	auth := got["auth"].(map[string]interface{})
	require.Equal(t, "[REDACTED]", auth["api_key"])
	require.Equal(t, "us-east-1", auth["region"])
	require.Equal(t, []interface{}{"a", "b"}, got["tags"])
}

func TestRedactIsFixedPoint(t *testing.T) {
	s := New()
	input := map[string]interface{}{
		"token": "t-xyz",
		"nested": map[string]interface{}{
			"password": "hunter2",
			"note":     "fine",
		},
	}

	once := s.Redact(input)
	twice := s.Redact(once)
	require.Equal(t, once, twice)
}

func TestRedactStringMasksRegisteredLiteral(t *testing.T) {
	s := New()
	s.RegisterSecret("sk-super-secret-value")

	msg := "request failed using key sk-super-secret-value against host"
	got := s.RedactString(msg)
	require.NotContains(t, got, "sk-super-secret-value")
	require.Contains(t, got, "[REDACTED]")
}

func TestRedactJSONRoundTrip(t *testing.T) {
	s := New()
	raw := []byte(`{"model":"gpt-5","secret":"abc","count":3}`)
	got := s.RedactJSON(raw)
	require.Contains(t, string(got), `"secret":"[REDACTED]"`)
	require.Contains(t, string(got), `"count":3`)
}
