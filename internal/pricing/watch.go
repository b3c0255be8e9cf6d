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

package pricing

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the table in place whenever path is rewritten, so a
// long-lived process picks up a refreshed pricing file without a
// restart. The returned stop func releases the watcher. Reload failures
// are logged and the previous rates stay in effect.
func (t *Table) Watch(path string, log *slog.Logger) (stop func(), err error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("pricing: start watcher: %w", err)
	}
	// Watch the directory, not the file: editors and atomic writers
	// replace the file by rename, which drops a file-level watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("pricing: watch %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				fresh, err := Load(path)
				if err != nil {
					log.Warn("pricing table reload failed; keeping previous rates", "path", path, "error", err)
					continue
				}
				t.replaceWith(fresh)
				log.Info("pricing table reloaded", "path", path, "models", len(fresh.rates))
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return func() { watcher.Close() }, nil
}

func (t *Table) replaceWith(fresh *Table) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.asOf = fresh.asOf
	t.rates = fresh.rates
}
