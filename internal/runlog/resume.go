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
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
)

// RunState is the reconstructable checkpoint of a run, persisted by the
// Cascade Engine to run_state.json at each step boundary.
type RunState struct {
	RunID        string                 `json:"run_id"`
	Mode         string                 `json:"mode"`
	CurrentState string                 `json:"current_state"`
	LastStep     string                 `json:"last_step"`
	UpdatedAt    string                 `json:"updated_at"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

// LoadRunState reads the RunState persisted in run_state.json (nil when
// the file is absent) together with every well-formed events.jsonl line.
// The events are returned as read; they are not applied to the state.
func LoadRunState(runDir string) (*RunState, []Event, error) {
	var state *RunState
	data, err := os.ReadFile(filepath.Join(runDir, "run_state.json"))
	switch {
	case err == nil:
		var s RunState
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, nil, err
		}
		state = &s
	case os.IsNotExist(err):
		state = nil
	default:
		return nil, nil, err
	}

	events, err := readAllEvents(filepath.Join(runDir, "events.jsonl"))
	if err != nil {
		return nil, nil, err
	}

	return state, events, nil
}

// readAllEvents returns every well-formed event.jsonl line in file
// order, without filtering them against the run state.
func readAllEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue // tolerate a torn trailing line from a crash mid-write
		}
		out = append(out, ev)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return out, err
	}
	return out, nil
}
