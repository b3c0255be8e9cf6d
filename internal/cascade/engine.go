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

package cascade

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/capability"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/chunker"
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

// defaultMaxConcurrency bounds the A3/B3 chunk-loop worker pool when a
// RunRequest doesn't specify one.
const defaultMaxConcurrency = 4

// Deps is everything the Engine needs to drive a run. The Run
// Supervisor constructs one Deps per run and hands it to Run.
type Deps struct {
	Client      *providerclient.Client
	Logger      *runlog.Logger
	Receipts    *receipts.Store
	Snapshotter *versioning.Snapshotter
	CapStore    *capability.Store
	Pricing     *pricing.Table
	Metrics     *metrics.Collector
	NowFunc     func() time.Time
}

// Engine drives one run's state machine to completion.
type Engine struct {
	deps Deps
}

// New builds an Engine over deps.
func New(deps Deps) *Engine {
	if deps.NowFunc == nil {
		deps.NowFunc = time.Now
	}
	return &Engine{deps: deps}
}

func (e *Engine) now() time.Time { return e.deps.NowFunc() }

// checkCancel polls the suspension-point cancellation flag checked at
// every HTTP call, disk write, and sleep.
func checkCancel(req RunRequest) error {
	if req.CancelCheck != nil && req.CancelCheck() {
		return apperrors.CancelledError("", req.RunID)
	}
	return nil
}

// persistState snapshots the cascade's current position to
// run_state.json so a crash can resume from the last completed step.
func (e *Engine) persistState(req RunRequest, state State, lastStep string, extra map[string]interface{}) {
	e.deps.Logger.WriteJSON("run_state.json", runlog.RunState{
		RunID:        req.RunID,
		Mode:         string(req.Mode),
		CurrentState: string(state),
		LastStep:     lastStep,
		UpdatedAt:    e.now().UTC().Format(time.RFC3339Nano),
		Extra:        extra,
	})
}

func (e *Engine) emit(step, kind string, data interface{}) {
	e.deps.Logger.AppendEvent(runlog.Event{Step: step, Level: "info", Kind: kind, Data: data})
}

// temperaturePtr returns nil when the model doesn't support temperature
// (CapabilityDowngrade) or the fixed value for c otherwise.
func temperaturePtr(req RunRequest, c contract.Name) *float64 {
	if !req.SupportsTemperature {
		return nil
	}
	t := temperatureFor(c)
	return &t
}

// inputSegments builds the redundant input parts every request carries:
// the restated contract text plus the prompt/guidance text, followed by
// one input_file segment per attached file id, even when file_search
// is available.
func inputSegments(c contract.Name, text string, files []AttachedFile) []providerclient.InputSegment {
	segs := []providerclient.InputSegment{
		{Text: restatedInput(c)},
		{Text: text},
	}
	for _, f := range files {
		segs = append(segs, providerclient.InputSegment{FileID: f.FileID})
	}
	return segs
}

// fileSearchTool returns the file_search tool descriptor when the
// capability is available and a vector store exists, or nil otherwise
// (CapabilityDowngrade: the request is simply built without the tool).
func fileSearchTool(req RunRequest) *providerclient.FileSearchTool {
	if !req.SupportsFileSearch || req.VectorStoreID == "" {
		return nil
	}
	return &providerclient.FileSearchTool{VectorStoreIDs: []string{req.VectorStoreID}}
}

// call issues one chained request, logging the sanitized request and
// response artifacts and recording a receipt when usage is present.
func (e *Engine) call(ctx context.Context, req RunRequest, stepKey string, c contract.Name, text string, previousResponseID string) (providerclient.ResponseEnvelope, interface{}, error) {
	if err := checkCancel(req); err != nil {
		return providerclient.ResponseEnvelope{}, nil, err
	}

	wire := providerclient.ResponsesRequest{
		Model:              req.Model,
		Instructions:       instructionsFor(c, req.AttachedFiles),
		Input:              inputSegments(c, text, req.AttachedFiles),
		FileSearch:         fileSearchTool(req),
		Temperature:        temperaturePtr(req, c),
		RunID:              req.RunID,
		StepKey:            stepKey,
	}
	if req.SupportsChaining {
		wire.PreviousResponseID = previousResponseID
	}

	e.deps.Logger.WriteJSON(filepath.Join("requests", stepKey+".json"), wire)

	resp, err := e.deps.Client.CreateResponse(ctx, wire)
	if err != nil {
		e.emit(stepKey, "request_failed", map[string]interface{}{"error": err.Error()})
		return providerclient.ResponseEnvelope{}, nil, err
	}
	e.deps.Logger.WriteJSON(filepath.Join("responses", stepKey+".json"), resp)

	parsed, perr := contract.Parse(stepKey, req.RunID, []byte(resp.OutputText))
	if perr != nil {
		e.quarantine(req, stepKey, resp.OutputText)
		return resp, nil, perr
	}

	if resp.InputTokens > 0 || resp.OutputTokens > 0 {
		e.recordReceipt(ctx, req, resp, stepKey, false)
	}

	return resp, parsed, nil
}

// quarantine writes a raw response that failed contract validation
// under OUT/_invalid/<step>.json so the run can continue for other
// paths without losing the evidence.
func (e *Engine) quarantine(req RunRequest, step, raw string) {
	if req.OutputRoot == "" {
		return
	}
	dir := filepath.Join(req.OutputRoot, "_invalid")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(dir, step+".json"), []byte(raw), 0o644)
}

func (e *Engine) recordReceipt(ctx context.Context, req RunRequest, resp providerclient.ResponseEnvelope, stepKey string, estimated bool) {
	var costUSD float64
	if e.deps.Pricing != nil {
		var costEstimated bool
		costUSD, costEstimated = e.deps.Pricing.Cost(req.Model, resp.InputTokens, resp.OutputTokens, false)
		estimated = estimated || costEstimated
	} else {
		estimated = true
	}
	e.deps.Metrics.RecordReceipt(ctx, req.Model, costUSD, estimated)

	if e.deps.Receipts == nil {
		return
	}
	_ = e.deps.Receipts.Record(ctx, receipts.Receipt{
		RunID:         req.RunID,
		ResponseID:    resp.ResponseID,
		StepKey:       stepKey,
		Model:         req.Model,
		Mode:          string(req.Mode),
		Project:       req.Project,
		InputTokens:   resp.InputTokens,
		OutputTokens:  resp.OutputTokens,
		ToolUsage:     resp.ToolUsage,
		CostUSD:       costUSD,
		CostEstimated: estimated,
		RecordedAt:    e.now().UTC(),
	})
}

// writeFile runs the path through the versioning gate and path safety
// before writing, and reports PathPolicyError rather than writing
// anything for a path the model hands back that escapes the output root.
func (e *Engine) writeFile(req RunRequest, relPath, content string) error {
	if req.OutputRoot == "" {
		return nil
	}
	if _, err := pathsafety.ValidateRelative(relPath); err != nil {
		return apperrors.PathPolicyError("", req.RunID, relPath, err.Error())
	}

	if e.deps.Snapshotter != nil {
		if _, err := e.deps.Snapshotter.EnsureSnapshot(req.OutputRoot); err != nil {
			return apperrors.StorageError("", req.RunID, "snapshot failed", err)
		}
	}

	abs, err := pathsafety.SafeJoin(req.OutputRoot, relPath)
	if err != nil {
		return apperrors.PathPolicyError("", req.RunID, relPath, err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return apperrors.StorageError("", req.RunID, "mkdir", err)
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

// runChunkLoop drives the A3/B3 chunk loop for one path to completion,
// chaining previous_response_id across chunks, and returns the
// assembled file content.
func (e *Engine) runChunkLoop(ctx context.Context, req RunRequest, c contract.Name, path, seedPrevResponseID string) (string, error) {
	assembler := chunker.New(req.RunID)
	prevResponseID := seedPrevResponseID
	chunkIndex := 0

	for {
		if err := checkCancel(req); err != nil {
			return "", err
		}

		stepKey := fmt.Sprintf("%s:%s:chunk%d", c, path, chunkIndex)
		text := fmt.Sprintf("Produce content for file %q. CHUNK_INDEX=%d.", path, chunkIndex)

		resp, parsed, err := e.call(ctx, req, stepKey, c, text, prevResponseID)
		if err != nil {
			return "", err
		}
		fc, ok := parsed.(contract.FileChunkResult)
		if !ok {
			return "", apperrors.NewContractError(stepKey, req.RunID, string(c), "$", "expected a file-chunk response")
		}

		content, complete, aerr := assembler.Accept(stepKey, fc.Path, chunker.Chunk{
			ChunkIndex: fc.Chunking.ChunkIndex,
			ChunkCount: fc.Chunking.ChunkCount,
			HasMore:    fc.Chunking.HasMore,
			Content:    fc.Content,
		})
		if aerr != nil {
			return "", aerr
		}
		if complete {
			return content, nil
		}

		prevResponseID = resp.ResponseID // chain: next chunk request carries this chunk's response id
		if fc.Chunking.NextChunkIndex != nil {
			chunkIndex = *fc.Chunking.NextChunkIndex
		} else {
			chunkIndex++
		}
	}
}

// ingest runs the A0 prompt-chunking phase when req.Prompt exceeds the
// threshold, returning the previous_response_id to chain the first real
// cascade step from (empty if no ingest was needed).
func (e *Engine) ingest(ctx context.Context, req RunRequest, c contract.Name) (string, error) {
	pieces := chunkPrompt(req.Prompt)
	if len(pieces) <= 1 {
		return "", nil
	}

	var prevID string
	for i, piece := range pieces {
		if err := checkCancel(req); err != nil {
			return "", err
		}
		stepKey := fmt.Sprintf("A0:%d", i)
		resp, err := e.deps.Client.CreateResponse(ctx, providerclient.ResponsesRequest{
			Model:              req.Model,
			Instructions:       "Acknowledge receipt of this prompt fragment; no JSON contract response is required for ingest fragments.",
			Input:              []providerclient.InputSegment{{Text: piece}},
			Temperature:        temperaturePtr(req, c),
			PreviousResponseID: prevID,
			RunID:              req.RunID,
			StepKey:            stepKey,
		})
		if err != nil {
			return "", err
		}
		if resp.InputTokens > 0 || resp.OutputTokens > 0 {
			e.recordReceipt(ctx, req, resp, stepKey, false)
		}
		prevID = resp.ResponseID
	}
	return prevID, nil
}

// Run drives req's mode to completion (or, for MODIFY with DryRun, to
// its AWAITING_CONTINUE halt after B2). Cooling-down errors pause rather
// than fail: the caller (Supervisor) is expected to retry Run after the
// breaker has had a chance to recover, since Run itself does not sleep
// across a cooling-down signal.
func (e *Engine) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	switch req.Mode {
	case ModeGenerate:
		return e.runGenerate(ctx, req)
	case ModeModify:
		return e.runModify(ctx, req)
	case ModeQA:
		return e.runQA(ctx, req)
	default:
		return RunResult{}, apperrors.ConfigurationError(fmt.Sprintf("unknown mode %q", req.Mode))
	}
}

func (e *Engine) runGenerate(ctx context.Context, req RunRequest) (RunResult, error) {
	if req.InputRoot != "" {
		return RunResult{}, apperrors.ConfigurationError("GENERATE does not accept an input root")
	}

	e.persistState(req, StateReady, "", nil)

	prevID, err := e.ingest(ctx, req, contract.A1Plan)
	if err != nil {
		return RunResult{}, e.fail(req, StateA1, err)
	}

	e.persistState(req, StateA1, "A1", nil)
	respA1, parsedPlan, err := e.call(ctx, req, "A1", contract.A1Plan, req.Prompt, prevID)
	if err != nil {
		return RunResult{}, e.fail(req, StateA1, err)
	}
	plan := parsedPlan.(contract.PlanResult)

	e.persistState(req, StateA2, "A2", nil)
	respA2, parsedStructure, err := e.call(ctx, req, "A2", contract.A2Structure, plan.Plan, respA1.ResponseID)
	if err != nil {
		return RunResult{}, e.fail(req, StateA2, err)
	}
	structure := parsedStructure.(contract.StructureResult)

	e.persistState(req, StateA3Loop, "A2", nil)
	files := e.writeAllPaths(ctx, req, contract.A3File, filePaths(structure.Files), respA2.ResponseID)

	e.persistState(req, StateDone, "A3_LOOP", nil)
	return RunResult{FinalState: StateDone, Plan: plan.Plan, Files: files}, nil
}

func (e *Engine) runModify(ctx context.Context, req RunRequest) (RunResult, error) {
	if req.InputRoot == "" {
		return RunResult{}, apperrors.ConfigurationError("MODIFY requires an input root")
	}

	e.persistState(req, StateIngest, "", nil)
	if req.CancelCheck != nil && req.CancelCheck() {
		return RunResult{}, apperrors.CancelledError("INGEST", req.RunID)
	}

	prevID, err := e.ingest(ctx, req, contract.B1Plan)
	if err != nil {
		return RunResult{}, e.fail(req, StateIngest, err)
	}

	e.persistState(req, StateB1, "B1", nil)
	respB1, parsedPlan, err := e.call(ctx, req, "B1", contract.B1Plan, req.Prompt, prevID)
	if err != nil {
		return RunResult{}, e.fail(req, StateB1, err)
	}
	plan := parsedPlan.(contract.PlanResult)

	e.persistState(req, StateB2, "B2", nil)
	respB2, parsedTouched, err := e.call(ctx, req, "B2", contract.B2Structure, plan.Plan, respB1.ResponseID)
	if err != nil {
		return RunResult{}, e.fail(req, StateB2, err)
	}
	touched := parsedTouched.(contract.TouchedFilesResult)

	if req.DryRun {
		e.persistState(req, StateAwaitingContinue, "B2", map[string]interface{}{"touched_files": touched.TouchedFiles})
		return RunResult{FinalState: StateAwaitingContinue, Plan: plan.Plan, TouchedFiles: touched.TouchedFiles, LastResponseID: respB2.ResponseID}, nil
	}

	e.persistState(req, StateB3Loop, "B2", nil)
	var toWrite []string
	for _, tf := range touched.TouchedFiles {
		if tf.Action != "delete" {
			toWrite = append(toWrite, tf.Path)
		}
	}
	files := e.writeAllPaths(ctx, req, contract.B3File, toWrite, respB2.ResponseID)
	for _, tf := range touched.TouchedFiles {
		if tf.Action == "delete" {
			files = append(files, e.deletePath(req, tf.Path))
		}
	}

	e.persistState(req, StateDone, "B3_LOOP", nil)
	return RunResult{FinalState: StateDone, Plan: plan.Plan, TouchedFiles: touched.TouchedFiles, Files: files}, nil
}

// ContinueAfterDryRun resumes a MODIFY run halted at B2 and drives B3 to
// completion, given the touched-file list already recorded at the halt.
func (e *Engine) ContinueAfterDryRun(ctx context.Context, req RunRequest, touched []contract.TouchedFile, lastResponseID string) (RunResult, error) {
	e.persistState(req, StateB3Loop, "B2", nil)
	var toWrite []string
	for _, tf := range touched {
		if tf.Action != "delete" {
			toWrite = append(toWrite, tf.Path)
		}
	}
	files := e.writeAllPaths(ctx, req, contract.B3File, toWrite, lastResponseID)
	for _, tf := range touched {
		if tf.Action == "delete" {
			files = append(files, e.deletePath(req, tf.Path))
		}
	}
	e.persistState(req, StateDone, "B3_LOOP", nil)
	return RunResult{FinalState: StateDone, TouchedFiles: touched, Files: files}, nil
}

func (e *Engine) runQA(ctx context.Context, req RunRequest) (RunResult, error) {
	if req.InputRoot != "" || req.OutputRoot != "" {
		return RunResult{}, apperrors.ConfigurationError("QA does not accept an input or output root")
	}

	e.persistState(req, StateQA, "QA", nil)
	_, parsed, err := e.call(ctx, req, "QA", contract.A1Plan, req.Prompt, "")
	if err != nil {
		return RunResult{}, e.fail(req, StateQA, err)
	}
	plan := parsed.(contract.PlanResult)

	e.persistState(req, StateDone, "QA", nil)
	return RunResult{FinalState: StateDone, QAAnswer: plan.Plan}, nil
}

// writeAllPaths drives the chunk loop for every path, in a worker pool
// bounded by req.MaxConcurrency, and writes each completed file through
// the versioning/path-safety gate. Results are reassembled in
// deterministic lexical order regardless of completion order, for
// reproducibility and trivial resume. A contract or assembly error is
// fatal only to its own path; cooperative cancellation is the one
// exception that stops every still-running path.
func (e *Engine) writeAllPaths(ctx context.Context, req RunRequest, c contract.Name, paths []string, seedResponseID string) []FileOutcome {
	sorted := append([]string{}, paths...)
	sort.Strings(sorted)

	limit := req.MaxConcurrency
	if limit <= 0 {
		limit = defaultMaxConcurrency
	}

	out := make([]FileOutcome, len(sorted))
	sem := semaphore.NewWeighted(int64(limit))
	g, gctx := errgroup.WithContext(ctx)
	var cancelled atomic.Bool

	for i, p := range sorted {
		if cancelled.Load() {
			break
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		i, p := i, p
		g.Go(func() error {
			defer sem.Release(1)
			if cancelled.Load() {
				return nil
			}
			content, err := e.runChunkLoop(gctx, req, c, p, seedResponseID)
			if err != nil {
				out[i] = FileOutcome{Path: p, Written: false, Err: err}
				if re, ok := err.(*apperrors.RunError); ok && re.Kind == "cancelled" {
					cancelled.Store(true)
				}
				return nil
			}
			if werr := e.writeFile(req, p, content); werr != nil {
				out[i] = FileOutcome{Path: p, Written: false, Err: werr}
				return nil
			}
			out[i] = FileOutcome{Path: p, Written: true}
			return nil
		})
	}
	g.Wait()

	for i, p := range sorted {
		if out[i].Path == "" {
			out[i] = FileOutcome{Path: p, Written: false, Err: apperrors.CancelledError(string(c), req.RunID)}
		}
	}
	return out
}

func (e *Engine) deletePath(req RunRequest, relPath string) FileOutcome {
	abs, err := pathsafety.SafeJoin(req.OutputRoot, relPath)
	if err != nil {
		return FileOutcome{Path: relPath, Written: false, Err: apperrors.PathPolicyError("", req.RunID, relPath, err.Error())}
	}
	if e.deps.Snapshotter != nil {
		e.deps.Snapshotter.EnsureSnapshot(req.OutputRoot)
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return FileOutcome{Path: relPath, Written: false, Err: apperrors.StorageError("", req.RunID, "delete", err)}
	}
	return FileOutcome{Path: relPath, Written: true}
}

func filePaths(files []contract.FileSpec) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

// fail records the FAILED terminal state and returns err unchanged so
// the caller (Supervisor) gets the original typed error.
func (e *Engine) fail(req RunRequest, step State, err error) error {
	e.persistState(req, StateFailed, string(step), map[string]interface{}{"error": err.Error()})
	e.emit(string(step), "run_failed", map[string]interface{}{"error": err.Error()})
	return err
}
