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

package runlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/secretscrub"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerCreatesLayout(t *testing.T) {
	base := t.TempDir()
	l, err := NewLogger(base, "run-1", secretscrub.New())
	require.NoError(t, err)
	defer l.Close()

	for _, sub := range []string{"requests", "responses", "manifests"} {
		info, err := os.Stat(filepath.Join(l.Dir(), sub))
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestAppendEventScrubsAndWrites(t *testing.T) {
	base := t.TempDir()
	l, err := NewLogger(base, "run-2", secretscrub.New())
	require.NoError(t, err)
	defer l.Close()

	l.AppendEvent(Event{
		Level: "info",
		Step:  "a1",
		Kind:  "step_started",
		Data:  map[string]interface{}{"api_key": "sk-abc", "model": "gpt-5"},
	})

	raw, err := os.ReadFile(filepath.Join(l.Dir(), "events.jsonl"))
	require.NoError(t, err)
	require.Contains(t, string(raw), `"model":"gpt-5"`)
	require.NotContains(t, string(raw), "sk-abc")
	require.Contains(t, string(raw), "[REDACTED]")
}

func TestWriteJSONAtomicRoundTrip(t *testing.T) {
	base := t.TempDir()
	l, err := NewLogger(base, "run-3", secretscrub.New())
	require.NoError(t, err)
	defer l.Close()

	type payload struct {
		Model  string `json:"model"`
		Secret string `json:"token"`
	}
	require.NoError(t, l.WriteJSON("requests/a1.json", payload{Model: "gpt-5", Secret: "tok-123"}))

	raw, err := os.ReadFile(filepath.Join(l.Dir(), "requests", "a1.json"))
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, "gpt-5", got["model"])
	require.Equal(t, "[REDACTED]", got["token"])

	degraded, _ := l.Degraded()
	require.False(t, degraded)
}

func TestWriteJSONDegradesWhenDestinationIsADirectory(t *testing.T) {
	base := t.TempDir()
	l, err := NewLogger(base, "run-4", secretscrub.New())
	require.NoError(t, err)
	defer l.Close()

	// Rename can never replace an existing non-empty directory with a
	// regular file, regardless of the process's privilege level.
	blocked := filepath.Join(l.Dir(), "requests", "blocked.json")
	require.NoError(t, os.MkdirAll(filepath.Join(blocked, "occupied"), 0o755))

	err = l.WriteJSON("requests/blocked.json", map[string]string{"a": "b"})
	require.NoError(t, err) // never propagates
	degraded, reason := l.Degraded()
	require.True(t, degraded)
	require.NotEmpty(t, reason)
}
