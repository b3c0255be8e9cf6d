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

// Package batch implements the Batch Monitor: batch mode builds one
// JSONL line carrying a single C_FILES_ALL request, submits it as a
// Provider batch, polls the batch to completion with bounded backoff,
// and on success parses and writes every file it returns.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/contract"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/metrics"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/pathsafety"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/pricing"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/providerclient"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/receipts"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/runlog"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/versioning"
	apperrors "github.com/karelmartinek-a11y/aegis-cascade/pkg/errors"
)

// nonTerminalStatuses is the fixed set of Provider batch statuses the
// poll loop keeps waiting on; anything else is terminal.
var nonTerminalStatuses = map[string]bool{
	"queued":      true,
	"in_progress": true,
	"validating":  true,
	"finalizing":  true,
}

// Options carries per-run parameters for Run.
type Options struct {
	RunID      string
	Project    string
	Model      string
	OutputRoot string
	Prompt     string
	Versioning bool
	// SupportsTemperature mirrors the model's probed capability: when
	// false the batch line omits the temperature parameter entirely,
	// the same downgrade CreateResponse applies per request.
	SupportsTemperature bool
	// PollMinInterval/PollMaxInterval bound the poll backoff
	// (defaults 5s and 60s).
	PollMinInterval time.Duration
	PollMaxInterval time.Duration
	CancelCheck     func() bool
}

// Result is what Run hands back once the batch reaches a terminal state.
type Result struct {
	BatchID string
	Status  string
	Files   []FileOutcome
}

// FileOutcome mirrors cascade.FileOutcome for a single C_FILES_ALL entry.
type FileOutcome struct {
	Path    string
	Written bool
	Err     error
}

// Monitor drives the full batch lifecycle over an already-configured
// Provider client and run logger.
type Monitor struct {
	client      *providerclient.Client
	logger      *runlog.Logger
	receipts    *receipts.Store
	snapshotter *versioning.Snapshotter
	pricing     *pricing.Table
	metrics     *metrics.Collector
	nowFunc     func() time.Time
}

// New builds a Monitor.
func New(client *providerclient.Client, logger *runlog.Logger, receiptStore *receipts.Store, snapshotter *versioning.Snapshotter, nowFunc func() time.Time) *Monitor {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Monitor{client: client, logger: logger, receipts: receiptStore, snapshotter: snapshotter, nowFunc: nowFunc}
}

// WithPricing attaches a pricing table to the Monitor. Run does not
// consult it: every batch receipt records a cost of 0 with
// CostEstimated set.
func (m *Monitor) WithPricing(t *pricing.Table) *Monitor {
	m.pricing = t
	return m
}

// WithMetrics attaches a metrics collector.
func (m *Monitor) WithMetrics(c *metrics.Collector) *Monitor {
	m.metrics = c
	return m
}

// batchLine is the one JSONL line submitted: a single /responses
// request carrying the C_FILES_ALL contract.
type batchLine struct {
	CustomID string                         `json:"custom_id"`
	Method   string                         `json:"method"`
	URL      string                         `json:"url"`
	Body     providerclient.ResponsesWireInput `json:"body"`
}

// Run executes the full batch lifecycle: build, upload, create, poll,
// download, parse, and write. A batch that ends in any status other
// than completed gets a zero-usage receipt recorded by Run itself, has
// its error file persisted (when the Provider supplies one), and
// returns a Result carrying the batch id and status alongside the error.
func (m *Monitor) Run(ctx context.Context, opts Options) (Result, error) {
	if opts.PollMinInterval <= 0 {
		opts.PollMinInterval = 5 * time.Second
	}
	if opts.PollMaxInterval <= 0 {
		opts.PollMaxInterval = 60 * time.Second
	}

	line := batchLine{
		CustomID: opts.RunID + ":C",
		Method:   "POST",
		URL:      "/v1/responses",
		Body: providerclient.ResponsesWireInput{
			Model:        opts.Model,
			Instructions: batchInstructions(),
			Input:        []providerclient.InputSegment{{Text: batchInputReminder()}, {Text: opts.Prompt}},
			Temperature:  batchTemperature(opts),
		},
	}
	data, err := json.Marshal(line)
	if err != nil {
		return Result{}, fmt.Errorf("batch: encode jsonl line: %w", err)
	}
	data = append(data, '\n')

	m.logger.WriteJSON(filepath.Join("requests", "C_jsonl.json"), line)

	fileID, err := m.client.UploadFile(ctx, "batch.jsonl", data, "batch", opts.RunID, "C:upload")
	if err != nil {
		return Result{}, fmt.Errorf("batch: upload jsonl: %w", err)
	}

	if err := checkCancel(opts); err != nil {
		return Result{}, err
	}

	batchID, err := m.client.CreateBatch(ctx, fileID, opts.RunID, "C:create")
	if err != nil {
		return Result{}, fmt.Errorf("batch: create: %w", err)
	}
	m.logger.AppendEvent(runlog.Event{Step: "C", Kind: "batch_created", Data: map[string]interface{}{"batch_id": batchID}})

	status, err := m.poll(ctx, opts, batchID)
	if err != nil {
		return Result{BatchID: batchID}, err
	}

	if status.Status != "completed" {
		m.recordFailureReceipt(ctx, opts, batchID)
		if status.ErrorFileID != "" {
			errBytes, derr := m.client.DownloadFile(ctx, status.ErrorFileID, opts.RunID, "C:error_file")
			if derr == nil {
				m.logger.WriteJSON(filepath.Join("responses", "C_error.json"), json.RawMessage(errBytes))
			}
		}
		return Result{BatchID: batchID, Status: status.Status}, apperrors.TransportError("C", opts.RunID, "batch terminated with status "+status.Status, nil)
	}

	raw, err := m.client.DownloadFile(ctx, status.OutputFileID, opts.RunID, "C:output_file")
	if err != nil {
		return Result{BatchID: batchID, Status: status.Status}, fmt.Errorf("batch: download output: %w", err)
	}
	m.logger.WriteJSON(filepath.Join("responses", "C_output.json"), json.RawMessage(raw))

	parsed, perr := contract.Parse("C", opts.RunID, raw)
	if perr != nil {
		if opts.OutputRoot != "" {
			dir := filepath.Join(opts.OutputRoot, "_invalid")
			os.MkdirAll(dir, 0o755)
			os.WriteFile(filepath.Join(dir, "C.json"), raw, 0o644)
		}
		return Result{BatchID: batchID, Status: status.Status}, perr
	}
	filesAll := parsed.(contract.FilesAllResult)

	files := m.writeFiles(opts, filesAll.Files)
	m.recordSuccessReceipt(ctx, opts, batchID)

	return Result{BatchID: batchID, Status: status.Status, Files: files}, nil
}

// batchTemperature returns the fixed content temperature (0.0) for
// models that accept the parameter and nil — omitting the field — for
// models that don't.
func batchTemperature(opts Options) *float64 {
	if !opts.SupportsTemperature {
		return nil
	}
	t := 0.0
	return &t
}

func checkCancel(opts Options) error {
	if opts.CancelCheck != nil && opts.CancelCheck() {
		return apperrors.CancelledError("C", opts.RunID)
	}
	return nil
}

// poll waits for the batch to reach a terminal status, sleeping between
// checks with a simple doubling backoff bounded by
// [PollMinInterval, PollMaxInterval].
func (m *Monitor) poll(ctx context.Context, opts Options, batchID string) (providerclient.BatchStatus, error) {
	interval := opts.PollMinInterval
	for {
		if err := checkCancel(opts); err != nil {
			return providerclient.BatchStatus{}, err
		}

		status, err := m.client.GetBatch(ctx, batchID)
		if err != nil {
			return providerclient.BatchStatus{}, err
		}
		if !nonTerminalStatuses[status.Status] {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return providerclient.BatchStatus{}, ctx.Err()
		case <-time.After(interval):
		}

		interval *= 2
		if interval > opts.PollMaxInterval {
			interval = opts.PollMaxInterval
		}
	}
}

// writeFiles writes every C_FILES_ALL entry through the versioning and
// path-safety gate, in deterministic lexical order.
func (m *Monitor) writeFiles(opts Options, files []contract.FileSpec) []FileOutcome {
	sorted := append([]contract.FileSpec{}, files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var out []FileOutcome
	for _, f := range sorted {
		if opts.Versioning && m.snapshotter != nil {
			m.snapshotter.EnsureSnapshot(opts.OutputRoot)
		}
		abs, err := pathsafety.SafeJoin(opts.OutputRoot, f.Path)
		if err != nil {
			out = append(out, FileOutcome{Path: f.Path, Err: apperrors.PathPolicyError("C", opts.RunID, f.Path, err.Error())})
			continue
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			out = append(out, FileOutcome{Path: f.Path, Err: apperrors.StorageError("C", opts.RunID, "mkdir", err)})
			continue
		}
		if err := os.WriteFile(abs, []byte(f.Content), 0o644); err != nil {
			out = append(out, FileOutcome{Path: f.Path, Err: apperrors.StorageError("C", opts.RunID, "write", err)})
			continue
		}
		out = append(out, FileOutcome{Path: f.Path, Written: true})
	}
	return out
}

func (m *Monitor) recordSuccessReceipt(ctx context.Context, opts Options, batchID string) {
	// The batch endpoint does not return per-request token usage to this
	// client, so cost is always estimated at 0 here; a future pricing
	// table keyed on result size could improve this without changing the
	// receipt shape.
	m.metrics.RecordReceipt(ctx, opts.Model, 0, true)
	if m.receipts == nil {
		return
	}
	m.receipts.Record(ctx, receipts.Receipt{
		RunID:         opts.RunID,
		BatchID:       batchID,
		StepKey:       "C",
		Model:         opts.Model,
		Mode:          "C",
		Project:       opts.Project,
		CostEstimated: true,
		RecordedAt:    m.nowFunc().UTC(),
	})
}

// recordFailureReceipt records a zero-token receipt flagged
// cost_estimated when a batch fails: pricing cannot be applied to a
// batch that produced no usage record.
func (m *Monitor) recordFailureReceipt(ctx context.Context, opts Options, batchID string) {
	m.metrics.RecordReceipt(ctx, opts.Model, 0, true)
	if m.receipts == nil {
		return
	}
	m.receipts.Record(ctx, receipts.Receipt{
		RunID:         opts.RunID,
		BatchID:       batchID,
		StepKey:       "C",
		Model:         opts.Model,
		Mode:          "C",
		Project:       opts.Project,
		CostEstimated: true,
		RecordedAt:    m.nowFunc().UTC(),
	})
}

// ListOpen reports every batch id from ids whose last known status is
// not one of completed/failed/cancelled/expired.
func (m *Monitor) ListOpen(ctx context.Context, ids []string) ([]string, error) {
	var open []string
	for _, id := range ids {
		status, err := m.client.GetBatch(ctx, id)
		if err != nil {
			return nil, err
		}
		switch status.Status {
		case "completed", "failed", "cancelled", "expired":
		default:
			open = append(open, id)
		}
	}
	return open, nil
}

// Cancel requests cancellation of an in-flight batch.
func (m *Monitor) Cancel(ctx context.Context, batchID string) error {
	return m.client.CancelBatch(ctx, batchID)
}

func batchInstructions() string {
	return `Respond with exactly one JSON object and nothing else: no markdown code fences, no prose. ` +
		`The object's top-level "contract" field must be the literal string "C_FILES_ALL". ` +
		`Required fields: "contract", "files" (an array of {"path": <relative path>, "content": <full file content>}). Every path must be unique.`
}

func batchInputReminder() string {
	return `Output contract reminder: respond with exactly one JSON object whose "contract" field is "C_FILES_ALL".`
}
