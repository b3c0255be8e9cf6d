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

// Package receipts implements the embedded relational usage/cost
// ledger: one row per completed response or batch, deduplicated on the
// logical identity of the step that produced it.
package receipts

import "time"

// Receipt is the per-response (or per-batch) cost-accounting record.
type Receipt struct {
	RunID            string
	ResponseID       string // empty when BatchID is set
	BatchID          string // empty when ResponseID is set
	StepKey          string
	Model            string
	Mode             string
	Project          string
	InputTokens      int64
	OutputTokens     int64
	ToolUsage        map[string]int64
	StorageBytesTime int64
	CostUSD          float64
	CostEstimated    bool
	PromptDigest     string
	RecordedAt       time.Time
}

// Filters constrains a Query call.
type Filters struct {
	Since      *time.Time
	Until      *time.Time
	Model      string
	Mode       string
	Project    string
	FullText   string // matched against PromptDigest
	RunID      string
	ResponseID string
	BatchID    string
}
