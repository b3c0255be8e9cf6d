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

// Package pricing loads the pre-built per-model pricing table
// consumed when recording a receipt's cost. Ingestion/scraping of
// pricing data is out of scope: this package only parses a file
// someone else produced and flags when it has gone stale.
package pricing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ModelRate is one model's pricing entry. StoragePerByteDay and
// ToolFileSearch are optional: nil means the Provider doesn't bill for
// that dimension (or the table simply doesn't carry it yet).
type ModelRate struct {
	InputPerToken     float64  `yaml:"input_per_token" json:"input_per_token"`
	OutputPerToken    float64  `yaml:"output_per_token" json:"output_per_token"`
	BatchMultiplier   *float64 `yaml:"batch_multiplier,omitempty" json:"batch_multiplier,omitempty"`
	ToolFileSearch    *float64 `yaml:"tool_file_search,omitempty" json:"tool_file_search,omitempty"`
	StoragePerByteDay *float64 `yaml:"storage_per_byte_day,omitempty" json:"storage_per_byte_day,omitempty"`
}

// tableFile is the on-disk shape: an as_of timestamp plus a flat
// model id -> rate map.
type tableFile struct {
	AsOf  time.Time            `yaml:"as_of" json:"as_of"`
	Rates map[string]ModelRate `yaml:"rates" json:"rates"`
}

// Table is a loaded pricing table, safe for concurrent use; Watch
// replaces its contents in place. Zero value is an empty,
// always-stale table, so a missing configuration path degrades to
// "cost unknown" rather than a crash.
type Table struct {
	mu    sync.RWMutex
	asOf  time.Time
	rates map[string]ModelRate
}

// Load reads a YAML or JSON pricing table from path, selecting the
// decoder by file extension (.yaml/.yml vs anything else -> JSON).
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pricing: read %s: %w", path, err)
	}

	var tf tableFile
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &tf); err != nil {
			return nil, fmt.Errorf("pricing: parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &tf); err != nil {
			return nil, fmt.Errorf("pricing: parse json: %w", err)
		}
	}

	return &Table{asOf: tf.AsOf, rates: tf.Rates}, nil
}

// Empty returns a Table with no rates, always reporting Stale.
func Empty() *Table {
	return &Table{rates: map[string]ModelRate{}}
}

// Rate looks up model's rate. ok is false when the table carries no
// entry for it -- the receipt is then recorded with CostEstimated set
// rather than a guessed price (Cost reports estimated=true in that case).
func (t *Table) Rate(model string) (rate ModelRate, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rate, ok = t.rates[model]
	return rate, ok
}

// Stale reports whether the table is older than ttl, or was never
// loaded from a real file (zero as_of always counts as stale).
func (t *Table) Stale(ttl time.Duration) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.asOf.IsZero() {
		return true
	}
	return time.Since(t.asOf) > ttl
}

// Cost computes the priced cost of inputTokens/outputTokens against
// model's rate. estimated is true when no rate entry exists (cost is
// then 0, matching the receipt ledger's CostEstimated convention) or
// when batch is true and the table has no BatchMultiplier to apply.
func (t *Table) Cost(model string, inputTokens, outputTokens int64, batch bool) (costUSD float64, estimated bool) {
	rate, ok := t.Rate(model)
	if !ok {
		return 0, true
	}

	cost := float64(inputTokens)*rate.InputPerToken + float64(outputTokens)*rate.OutputPerToken
	if batch {
		if rate.BatchMultiplier == nil {
			return cost, true
		}
		cost *= *rate.BatchMultiplier
	}
	return cost, false
}
