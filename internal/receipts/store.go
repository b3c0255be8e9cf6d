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

package receipts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the embedded relational receipt ledger, backed by
// modernc.org/sqlite in WAL mode with a bounded busy timeout.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the receipt ledger at path.
// path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("receipts: database path is required")
	}

	connStr := path
	if path != ":memory:" {
		connStr += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("receipts: open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("receipts: ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("receipts: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS receipts (
			run_id TEXT NOT NULL,
			response_id TEXT NOT NULL DEFAULT '',
			batch_id TEXT NOT NULL DEFAULT '',
			step_key TEXT NOT NULL,
			model TEXT NOT NULL,
			mode TEXT NOT NULL,
			project TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			tool_usage_json TEXT NOT NULL DEFAULT '{}',
			storage_bytes_time INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			cost_estimated INTEGER NOT NULL DEFAULT 0,
			prompt_digest TEXT NOT NULL DEFAULT '',
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (run_id, response_id, batch_id, step_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_run_id ON receipts(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_response_id ON receipts(response_id)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_batch_id ON receipts(batch_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record inserts a receipt. Duplicate keys (run_id, response_id,
// batch_id, step_key) are ignored, never raised: the key IS the
// logical identity of the step, so the store rejects duplicates
// instead of the caller detecting them.
func (s *Store) Record(ctx context.Context, r Receipt) error {
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	toolUsage, err := json.Marshal(r.ToolUsage)
	if err != nil {
		return fmt.Errorf("receipts: marshal tool usage: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO receipts (
			run_id, response_id, batch_id, step_key, model, mode, project,
			input_tokens, output_tokens, tool_usage_json, storage_bytes_time,
			cost_usd, cost_estimated, prompt_digest, recorded_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (run_id, response_id, batch_id, step_key) DO NOTHING`,
		r.RunID, r.ResponseID, r.BatchID, r.StepKey, r.Model, r.Mode, r.Project,
		r.InputTokens, r.OutputTokens, string(toolUsage), r.StorageBytesTime,
		r.CostUSD, boolToInt(r.CostEstimated), r.PromptDigest, r.RecordedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("receipts: insert: %w", err)
	}
	return nil
}

// Query returns receipts matching filters, most recent first.
func (s *Store) Query(ctx context.Context, f Filters) ([]Receipt, error) {
	var where []string
	var args []interface{}

	if f.Since != nil {
		where = append(where, "recorded_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if f.Until != nil {
		where = append(where, "recorded_at < ?")
		args = append(args, f.Until.UTC().Format(time.RFC3339Nano))
	}
	if f.Model != "" {
		where = append(where, "model = ?")
		args = append(args, f.Model)
	}
	if f.Mode != "" {
		where = append(where, "mode = ?")
		args = append(args, f.Mode)
	}
	if f.Project != "" {
		where = append(where, "project = ?")
		args = append(args, f.Project)
	}
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.ResponseID != "" {
		where = append(where, "response_id = ?")
		args = append(args, f.ResponseID)
	}
	if f.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, f.BatchID)
	}
	if f.FullText != "" {
		where = append(where, "prompt_digest LIKE ?")
		args = append(args, "%"+f.FullText+"%")
	}

	query := "SELECT run_id, response_id, batch_id, step_key, model, mode, project, input_tokens, output_tokens, tool_usage_json, storage_bytes_time, cost_usd, cost_estimated, prompt_digest, recorded_at FROM receipts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("receipts: query: %w", err)
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		var r Receipt
		var toolUsageJSON, recordedAt string
		var costEstimated int
		if err := rows.Scan(&r.RunID, &r.ResponseID, &r.BatchID, &r.StepKey, &r.Model, &r.Mode,
			&r.Project, &r.InputTokens, &r.OutputTokens, &toolUsageJSON, &r.StorageBytesTime,
			&r.CostUSD, &costEstimated, &r.PromptDigest, &recordedAt); err != nil {
			return nil, fmt.Errorf("receipts: scan: %w", err)
		}
		r.CostEstimated = costEstimated != 0
		_ = json.Unmarshal([]byte(toolUsageJSON), &r.ToolUsage)
		if ts, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
			r.RecordedAt = ts
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
