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
	"os"
	"path/filepath"
	"testing"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/secretscrub"
	"github.com/stretchr/testify/require"
)

func TestLoadRunStateMissingFilesReturnsNil(t *testing.T) {
	dir := t.TempDir()
	state, events, err := LoadRunState(dir)
	require.NoError(t, err)
	require.Nil(t, state)
	require.Nil(t, events)
}

func TestLoadRunStateReadsStateAndEvents(t *testing.T) {
	base := t.TempDir()
	l, err := NewLogger(base, "run-resume", secretscrub.New())
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.WriteJSON("run_state.json", RunState{
		RunID:        "run-resume",
		Mode:         "GENERATE",
		CurrentState: "A2_STRUCTURE",
		LastStep:     "a2",
		UpdatedAt:    "2026-07-31T00:00:00Z",
	}))
	l.AppendEvent(Event{Step: "a2", Kind: "step_completed"})
	l.AppendEvent(Event{Step: "a3", Kind: "step_started"})

	state, events, err := LoadRunState(l.Dir())
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, "A2_STRUCTURE", state.CurrentState)
	require.Len(t, events, 2)
}

func TestLoadRunStateToleratesTornTrailingLine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events.jsonl"),
		[]byte(`{"step":"a1","kind":"step_started"}`+"\n"+`{"step":"a2","kind":"step_st`), 0o644))

	_, events, err := LoadRunState(dir)
	require.NoError(t, err)
	require.Len(t, events, 1)
}
