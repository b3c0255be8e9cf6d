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

// Package runlog implements the per-run artifact store: atomic JSON
// writes, an append-only event stream, and a degraded-logging fallback
// so a disk-full or permission failure never aborts a run.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/secretscrub"
)

// Event is one line of events.jsonl.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Level     string      `json:"level"`
	Step      string      `json:"step"`
	Kind      string      `json:"kind"`
	Data      interface{} `json:"data,omitempty"`
}

// Logger owns one run's directory: LOG/<run_id>/{run_state.json,
// events.jsonl, requests/, responses/, manifests/, ui_state.json}.
type Logger struct {
	dir      string
	scrubber *secretscrub.Scrubber

	mu          sync.Mutex
	eventsFile  *os.File
	degraded    bool
	degradedMsg string
	memEvents   []Event // buffered fallback once the file can't be written
}

// NewLogger creates (or reopens) the run directory under baseDir/LOG/runID
// and its requests/responses/manifests subdirectories.
func NewLogger(baseDir, runID string, scrubber *secretscrub.Scrubber) (*Logger, error) {
	dir := filepath.Join(baseDir, "LOG", runID)
	for _, sub := range []string{"", "requests", "responses", "manifests"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create run log dir: %w", err)
		}
	}

	l := &Logger{dir: dir, scrubber: scrubber}

	f, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		l.enterDegraded("open events.jsonl: " + err.Error())
		return l, nil
	}
	l.eventsFile = f
	return l, nil
}

// Dir returns the run's log directory.
func (l *Logger) Dir() string { return l.dir }

// Degraded reports whether logging has fallen back to in-memory
// buffering after a disk-full or permission failure.
func (l *Logger) Degraded() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded, l.degradedMsg
}

func (l *Logger) enterDegraded(reason string) {
	if l.degraded {
		return
	}
	l.degraded = true
	l.degradedMsg = reason
}

// AppendEvent scrubs and appends one event.jsonl line. A write failure
// never propagates to the caller: it flips the logger into degraded
// mode and the event is kept in memory instead.
func (l *Logger) AppendEvent(ev Event) Event {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if l.scrubber != nil {
		ev.Data = l.scrubber.Redact(ev.Data)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.degraded || l.eventsFile == nil {
		l.memEvents = append(l.memEvents, ev)
		return ev
	}

	data, err := json.Marshal(ev)
	if err != nil {
		l.enterDegraded("marshal event: " + err.Error())
		l.memEvents = append(l.memEvents, ev)
		return ev
	}

	if _, err := l.eventsFile.Write(append(data, '\n')); err != nil {
		l.enterDegraded("write events.jsonl: " + err.Error())
		l.memEvents = append(l.memEvents, ev)
		return ev
	}
	if err := l.eventsFile.Sync(); err != nil {
		l.enterDegraded("fsync events.jsonl: " + err.Error())
	}
	return ev
}

// MemEvents returns a copy of the events buffered in memory while
// degraded. A Logger stays degraded once it has entered that mode.
func (l *Logger) MemEvents() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.memEvents))
	copy(out, l.memEvents)
	return out
}

// WriteJSON atomically scrubs and writes payload to relPath under the
// run directory (temp sibling + fsync + rename). Failures degrade
// rather than propagate, matching events.jsonl's behavior.
func (l *Logger) WriteJSON(relPath string, payload interface{}) error {
	scrubbed := payload
	if l.scrubber != nil {
		scrubbed = l.scrubber.Redact(toJSONShape(payload))
	}

	data, err := json.MarshalIndent(scrubbed, "", "  ")
	if err != nil {
		l.mu.Lock()
		l.enterDegraded("marshal " + relPath + ": " + err.Error())
		l.mu.Unlock()
		return nil
	}

	dst := filepath.Join(l.dir, relPath)
	if err := atomicWrite(dst, data); err != nil {
		l.mu.Lock()
		l.enterDegraded("write " + relPath + ": " + err.Error())
		l.mu.Unlock()
		return nil
	}
	return nil
}

// atomicWrite writes data to a temp sibling of dst, fsyncs it, then
// renames it into place.
func atomicWrite(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dst)
}

// toJSONShape round-trips payload through JSON so Redact sees the same
// map[string]interface{}/[]interface{} shape it would see reading the
// file back, regardless of the concrete Go struct passed in.
func toJSONShape(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return v
	}
	return generic
}

// Close closes the events file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.eventsFile != nil {
		return l.eventsFile.Close()
	}
	return nil
}
