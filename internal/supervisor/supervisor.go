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

// Package supervisor implements the Run Supervisor: it owns one
// run's lifecycle at a time, publishes a causally-ordered event stream,
// drives cooperative cancellation, and decides whether a discovered
// run directory should be offered for resume.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/batch"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/capability"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/cascade"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/contract"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/metrics"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/mirror"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/pricing"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/providerclient"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/receipts"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/runlog"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/secretscrub"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/transport"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/versioning"
	apperrors "github.com/karelmartinek-a11y/aegis-cascade/pkg/errors"
)

// stallWarning is the heartbeat threshold: if no event has been emitted
// for this long, the Supervisor logs a stall warning.
const stallWarning = 5 * time.Minute

// ModeBatch is the asynchronous mode C: one batched C_FILES_ALL request
// driven by the Batch Monitor instead of the interactive cascade.
const ModeBatch cascade.Mode = "batch"

// coolingDownRetry is how long a cooling-down pause waits before
// replaying the cascade against the (possibly half-open) breaker.
const coolingDownRetry = 5 * time.Second

// isCoolingDown reports whether err is the transport's breaker-open
// fail-fast signal.
func isCoolingDown(err error) bool {
	var pe *transport.ProviderError
	return errors.As(err, &pe) && pe.Kind == transport.KindCoolingDown
}

// isCancelled reports whether err carries the cooperative-cancellation
// kind.
func isCancelled(err error) bool {
	var re *apperrors.RunError
	return errors.As(err, &re) && re.Kind == "cancelled"
}

// StartRequest is the Run API's single input: everything a run needs
// before it starts.
type StartRequest struct {
	Mode       cascade.Mode
	Project    string
	Model      string
	Prompt     string
	InputRoot  string
	OutputRoot string
	DryRun     bool
	Versioning bool

	SupportsChaining    bool
	SupportsTemperature bool
	SupportsFileSearch  bool

	DenyGlobs   []string
	MaxFileSize int64

	// MaxConcurrency bounds the cascade's A3/B3 chunk-loop worker pool.
	// Zero falls back to the cascade package's own default.
	MaxConcurrency int
}

// Validate rejects a structurally invalid RunRequest before any run
// starts, per the ConfigurationError taxonomy entry.
func (r StartRequest) Validate() error {
	switch r.Mode {
	case cascade.ModeGenerate:
		if r.InputRoot != "" {
			return apperrors.ConfigurationError("GENERATE does not accept an input root")
		}
	case cascade.ModeModify:
		if r.InputRoot == "" {
			return apperrors.ConfigurationError("MODIFY requires an input root")
		}
	case cascade.ModeQA:
		if r.InputRoot != "" || r.OutputRoot != "" {
			return apperrors.ConfigurationError("QA does not accept an input or output root")
		}
	case ModeBatch:
		if r.OutputRoot == "" {
			return apperrors.ConfigurationError("batch mode requires an output root")
		}
	default:
		return apperrors.ConfigurationError(fmt.Sprintf("unknown mode %q", r.Mode))
	}
	if r.Model == "" {
		return apperrors.ConfigurationError("model is required")
	}
	return nil
}

// RunHandle is returned by Start/Resume: the caller's handle onto one
// in-flight or completed run.
type RunHandle struct {
	RunID string
}

// RunEvent is the wire shape of the Supervisor's event stream.
type RunEvent struct {
	RunID     string         `json:"run_id"`
	Seq       uint64         `json:"seq"`
	Step      string         `json:"step"`
	Percent   int            `json:"percent"`
	ETA       *time.Duration `json:"eta,omitempty"`
	Message   string         `json:"message"`
	Kind      string         `json:"kind"`
	Timestamp time.Time      `json:"ts"`
}

// RunSummary is one entry of list_runs().
type RunSummary struct {
	RunID     string
	Mode      string
	Status    string
	UpdatedAt time.Time
}

// run tracks one run's live state: its cancellation flag, subscriber
// list, and sequence counter.
type run struct {
	id        string
	mode      cascade.Mode
	startedAt time.Time
	metrics   *metrics.Collector
	cancel    atomic.Bool
	seq       atomic.Uint64
	lastSeen  atomic.Int64 // unix nanos of the last event, for stall detection

	mu   sync.Mutex
	subs map[int]chan RunEvent
	next int
	// abort cancels the run's context so in-flight HTTP requests (and
	// their retry/Retry-After sleeps) return immediately on Cancel.
	abort context.CancelFunc

	status atomic.Value // string

	// continuation is set when a MODIFY dry run halts at
	// AWAITING_CONTINUE: everything ContinueDryRun needs to drive B3.
	contMu       sync.Mutex
	continuation *dryRunContinuation
}

// dryRunContinuation captures the halted engine and its run request so
// an explicit continue signal can finish B3 without replanning.
type dryRunContinuation struct {
	engine         *cascade.Engine
	runReq         cascade.RunRequest
	touched        []contract.TouchedFile
	lastResponseID string
	logger         *runlog.Logger
}

func (r *run) setStatus(s string) { r.status.Store(s) }
func (r *run) getStatus() string {
	v, _ := r.status.Load().(string)
	if v == "" {
		return "pending"
	}
	return v
}

func (r *run) publish(ev RunEvent) {
	ev.RunID = r.id
	ev.Seq = r.seq.Add(1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	r.lastSeen.Store(ev.Timestamp.UnixNano())
	r.metrics.RecordStep(context.Background(), ev.Step, ev.Kind)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default: // a slow subscriber never blocks the run
		}
	}
}

func (r *run) subscribe() (<-chan RunEvent, func()) {
	ch := make(chan RunEvent, 64)
	r.mu.Lock()
	id := r.next
	r.next++
	r.subs[id] = ch
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(c)
		}
	}
}

// Deps bundles the already-constructed shared collaborators every run
// drives: the Provider client, the receipt ledger, and the capability
// cache. One Deps is shared across every run a process supervises;
// per-run state (the log directory, the chunk assembler) is built
// fresh inside Start.
type Deps struct {
	Client   *providerclient.Client
	Receipts *receipts.Store
	CapStore *capability.Store
	Prober   *capability.Prober
	Pricing  *pricing.Table
	Metrics  *metrics.Collector
	Log      *slog.Logger
	BaseDir  string // workspace root: LOG/, capability cache, etc. live under here
	NowFunc  func() time.Time
}

// Supervisor owns at most one in-flight run at a time, per process.
type Supervisor struct {
	deps Deps

	mu   sync.Mutex
	busy bool
	runs map[string]*run
}

// New builds a Supervisor over deps.
func New(deps Deps) *Supervisor {
	if deps.NowFunc == nil {
		deps.NowFunc = time.Now
	}
	if deps.Log == nil {
		deps.Log = slog.New(slog.DiscardHandler)
	}
	return &Supervisor{deps: deps, runs: make(map[string]*run)}
}

func newRunID(now time.Time) string {
	suffix := uuid.New().String()[:4]
	return fmt.Sprintf("RUN_%s_%s", now.Format("020120061504"), suffix)
}

// resolveCapabilities overlays a fresh (non-stale) cached capability
// record onto req's Supports* flags, so a run picks up what an earlier
// run already learned about the model without the caller needing to
// pass it explicitly every time. When no fresh record exists and a
// Prober is wired, the model is probed first; a missing record with no
// Prober leaves the caller's own flags untouched.
func (s *Supervisor) resolveCapabilities(ctx context.Context, req StartRequest) StartRequest {
	if s.deps.CapStore == nil {
		return req
	}
	rec, found, stale := s.deps.CapStore.Get(req.Model)
	if !found || stale {
		if s.deps.Prober == nil {
			return req
		}
		probed, err := s.deps.Prober.ProbeModel(ctx, req.Model, false)
		if err != nil {
			s.deps.Log.Warn("capability probe failed; keeping caller flags", "model", req.Model, "error", err)
			return req
		}
		if probed.ProbedAt.IsZero() {
			// Every probe came back inconclusive; nothing was learned,
			// so the caller's flags stand.
			return req
		}
		rec = probed
	}
	req.SupportsChaining = rec.SupportsPreviousResponse
	req.SupportsTemperature = rec.SupportsTemperature
	req.SupportsFileSearch = rec.SupportsFileSearch
	return req
}

// Start validates req, allocates a run id and log directory, and
// launches the cascade (or batch, for mode "batch") asynchronously.
// Start returns as soon as the run is registered; progress is observed
// through Events.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) (RunHandle, error) {
	if err := req.Validate(); err != nil {
		return RunHandle{}, err
	}
	req = s.resolveCapabilities(ctx, req)

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return RunHandle{}, apperrors.ConfigurationError("a run is already in progress; this process supervises one run at a time")
	}
	s.busy = true
	s.mu.Unlock()

	now := s.deps.NowFunc()
	runID := newRunID(now)

	scrubber := secretscrub.New()
	logger, err := runlog.NewLogger(s.deps.BaseDir, runID, scrubber)
	if err != nil {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
		return RunHandle{}, fmt.Errorf("supervisor: open run logger: %w", err)
	}
	logger.WriteJSON("run_request.json", req)

	r := &run{id: runID, mode: req.Mode, startedAt: now, metrics: s.deps.Metrics, subs: make(map[int]chan RunEvent)}
	r.setStatus("running")
	runCtx, abort := context.WithCancel(ctx)
	r.mu.Lock()
	r.abort = abort
	r.mu.Unlock()
	s.mu.Lock()
	s.runs[runID] = r
	s.mu.Unlock()

	go s.drive(runCtx, r, logger, req)

	return RunHandle{RunID: runID}, nil
}

// drive runs the cascade/batch to completion and records the terminal
// status. It releases the single-run slot on return — except when a
// MODIFY dry run halts at AWAITING_CONTINUE, where the slot and the
// run logger stay held for ContinueDryRun.
func (s *Supervisor) drive(ctx context.Context, r *run, logger *runlog.Logger, req StartRequest) {
	halted := false
	defer func() {
		if halted {
			return
		}
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
		logger.Close()
	}()

	stop := s.watchStall(r)
	defer stop()

	cancelCheck := func() bool { return r.cancel.Load() }

	s.deps.Metrics.RecordRunStart(ctx, string(req.Mode))
	s.deps.Log.Info("run started", "run_id", r.id, "mode", string(req.Mode), "model", req.Model)
	r.publish(RunEvent{Step: "READY", Percent: 0, Kind: "started", Message: "run started"})

	if req.Mode == ModeBatch {
		s.driveBatch(ctx, r, logger, req, cancelCheck)
		return
	}
	halted = s.driveCascade(ctx, r, logger, req, cancelCheck)
}

// driveCascade reports whether the run halted at AWAITING_CONTINUE
// (keeping the single-run slot and logger alive for ContinueDryRun).
func (s *Supervisor) driveCascade(ctx context.Context, r *run, logger *runlog.Logger, req StartRequest, cancelCheck func() bool) bool {
	var snapshotter *versioning.Snapshotter
	if req.Versioning {
		snapshotter = versioning.New(s.deps.NowFunc)
	}
	var attached []cascade.AttachedFile
	var vectorStoreID string

	if req.InputRoot != "" {
		uploader := mirror.New(s.deps.Client, logger)
		res, err := uploader.Run(ctx, mirror.Options{
			RunID:              r.id,
			Project:            req.Project,
			InputRoot:          req.InputRoot,
			Policy:             mirror.Policy{DenyGlobs: req.DenyGlobs, MaxFileSize: req.MaxFileSize},
			SupportsFileSearch: req.SupportsFileSearch,
			NowFunc:            s.deps.NowFunc,
		})
		if err != nil {
			s.finish(r, "failed", err)
			return false
		}
		for _, id := range res.UploadedFiles {
			attached = append(attached, cascade.AttachedFile{FileID: id})
		}
		vectorStoreID = res.VectorStoreID
		r.publish(RunEvent{Step: "INGEST", Percent: 10, Kind: "mirror_complete", Message: fmt.Sprintf("%d files mirrored", len(res.UploadedFiles))})
	}

	engine := cascade.New(cascade.Deps{
		Client:      s.deps.Client,
		Logger:      logger,
		Receipts:    s.deps.Receipts,
		Snapshotter: snapshotter,
		CapStore:    s.deps.CapStore,
		Pricing:     s.deps.Pricing,
		Metrics:     s.deps.Metrics,
		NowFunc:     s.deps.NowFunc,
	})

	runReq := cascade.RunRequest{
		RunID:               r.id,
		Mode:                req.Mode,
		Model:               req.Model,
		Project:             req.Project,
		Prompt:              req.Prompt,
		InputRoot:           req.InputRoot,
		OutputRoot:          req.OutputRoot,
		DryRun:              req.DryRun,
		SupportsChaining:    req.SupportsChaining,
		SupportsTemperature: req.SupportsTemperature,
		SupportsFileSearch:  req.SupportsFileSearch,
		VectorStoreID:       vectorStoreID,
		AttachedFiles:       attached,
		MaxConcurrency:      req.MaxConcurrency,
		CancelCheck:         cancelCheck,
	}

	// Cooling-down pauses the run rather than failing it: wait out the
	// breaker and replay from the top. Idempotency tokens make the
	// replayed already-completed steps safe.
	var result cascade.RunResult
	var err error
	for {
		result, err = engine.Run(ctx, runReq)
		if err == nil || !isCoolingDown(err) || cancelCheck() {
			break
		}
		r.publish(RunEvent{Step: "-", Kind: "cooling_down", Message: "provider circuit breaker open; pausing"})
		select {
		case <-ctx.Done():
			if cancelCheck() {
				s.finish(r, "cancelled", ctx.Err())
			} else {
				s.finish(r, "failed", ctx.Err())
			}
			return false
		case <-time.After(coolingDownRetry):
		}
	}
	if err != nil {
		if cancelCheck() || isCancelled(err) {
			s.finish(r, "cancelled", err)
			return false
		}
		s.finish(r, "failed", err)
		return false
	}

	if result.FinalState == cascade.StateAwaitingContinue {
		r.contMu.Lock()
		r.continuation = &dryRunContinuation{
			engine:         engine,
			runReq:         runReq,
			touched:        result.TouchedFiles,
			lastResponseID: result.LastResponseID,
			logger:         logger,
		}
		r.contMu.Unlock()
		r.setStatus("awaiting_continue")
		r.publish(RunEvent{Step: "B2", Percent: 50, Kind: "awaiting_continue", Message: "dry-run halt: awaiting continue signal"})
		return true
	}

	s.finish(r, "done", nil)
	return false
}

func (s *Supervisor) driveBatch(ctx context.Context, r *run, logger *runlog.Logger, req StartRequest, cancelCheck func() bool) {
	snapshotter := versioning.New(s.deps.NowFunc)
	monitor := batch.New(s.deps.Client, logger, s.deps.Receipts, snapshotter, s.deps.NowFunc).
		WithPricing(s.deps.Pricing).WithMetrics(s.deps.Metrics)

	_, err := monitor.Run(ctx, batch.Options{
		RunID:               r.id,
		Project:             req.Project,
		Model:               req.Model,
		OutputRoot:          req.OutputRoot,
		Prompt:              req.Prompt,
		Versioning:          req.Versioning,
		SupportsTemperature: req.SupportsTemperature,
		CancelCheck:         cancelCheck,
	})
	if err != nil {
		if cancelCheck() || isCancelled(err) {
			s.finish(r, "cancelled", err)
			return
		}
		s.finish(r, "failed", err)
		return
	}
	s.finish(r, "done", nil)
}

func (s *Supervisor) finish(r *run, status string, err error) {
	r.setStatus(status)
	msg := status
	if err != nil {
		msg = err.Error()
		s.deps.Log.Error("run finished", "run_id", r.id, "status", status, "error", err)
	} else {
		s.deps.Log.Info("run finished", "run_id", r.id, "status", status)
	}
	s.deps.Metrics.RecordRunComplete(context.Background(), string(r.mode), status, time.Since(r.startedAt))
	r.publish(RunEvent{Step: "DONE", Percent: 100, Kind: status, Message: msg})
}

// watchStall emits a stall warning event if no event has been observed
// for stallWarning; it stops when the returned func is called.
func (s *Supervisor) watchStall(r *run) func() {
	ticker := time.NewTicker(time.Minute)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				ticker.Stop()
				return
			case <-ticker.C:
				last := time.Unix(0, r.lastSeen.Load())
				if time.Since(last) > stallWarning {
					r.publish(RunEvent{Step: "-", Kind: "stall_warning", Message: "no event for over 5 minutes"})
				}
			}
		}
	}()
	return func() { close(done) }
}

// Status reports a live run's current status: pending, running,
// awaiting_continue, done, failed, or cancelled.
func (s *Supervisor) Status(handle RunHandle) (string, error) {
	s.mu.Lock()
	r, ok := s.runs[handle.RunID]
	s.mu.Unlock()
	if !ok {
		return "", apperrors.ConfigurationError("unknown run id " + handle.RunID)
	}
	return r.getStatus(), nil
}

// Cancel cooperatively cancels an in-flight run: it flips the
// observable flag every suspension point checks, and aborts the run's
// context so an in-flight HTTP request or retry sleep returns
// immediately instead of running out its timeout.
func (s *Supervisor) Cancel(handle RunHandle) error {
	s.mu.Lock()
	r, ok := s.runs[handle.RunID]
	s.mu.Unlock()
	if !ok {
		return apperrors.ConfigurationError("unknown run id " + handle.RunID)
	}
	r.cancel.Store(true)
	r.mu.Lock()
	abort := r.abort
	r.mu.Unlock()
	if abort != nil {
		abort()
	}
	return nil
}

// Events subscribes to handle's event stream. The returned unsubscribe
// func must be called when the caller is done listening.
func (s *Supervisor) Events(handle RunHandle) (<-chan RunEvent, func(), error) {
	s.mu.Lock()
	r, ok := s.runs[handle.RunID]
	s.mu.Unlock()
	if !ok {
		return nil, nil, apperrors.ConfigurationError("unknown run id " + handle.RunID)
	}
	ch, unsub := r.subscribe()
	return ch, unsub, nil
}

// ListRuns scans LOG/ for every run directory's persisted state.
func (s *Supervisor) ListRuns() ([]RunSummary, error) {
	logDir := filepath.Join(s.deps.BaseDir, "LOG")
	entries, err := os.ReadDir(logDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("supervisor: list runs: %w", err)
	}

	var out []RunSummary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		state, _, err := runlog.LoadRunState(filepath.Join(logDir, e.Name()))
		if err != nil || state == nil {
			continue
		}
		updated, _ := time.Parse(time.RFC3339Nano, state.UpdatedAt)
		out = append(out, RunSummary{RunID: state.RunID, Mode: state.Mode, Status: state.CurrentState, UpdatedAt: updated})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// terminalStates are the CurrentState values Resume refuses to restart.
var terminalStates = map[string]bool{"DONE": true, "FAILED": true, "CANCELLED": true}

// Resume offers to continue a run whose last persisted state is
// non-terminal: it replays the originally-recorded StartRequest. Every
// Provider call the cascade issues carries an idempotency token derived
// from (run_id, step_key), so replaying already-completed steps is safe
// even though this implementation does not skip them outright (see
// DESIGN.md's Resume note).
func (s *Supervisor) Resume(ctx context.Context, runID string) (RunHandle, error) {
	dir := filepath.Join(s.deps.BaseDir, "LOG", runID)
	state, _, err := runlog.LoadRunState(dir)
	if err != nil {
		return RunHandle{}, fmt.Errorf("supervisor: load run state: %w", err)
	}
	if state == nil {
		return RunHandle{}, apperrors.ConfigurationError("no run state found for " + runID)
	}
	if terminalStates[state.CurrentState] {
		return RunHandle{}, apperrors.ConfigurationError(runID + " already reached a terminal state: " + state.CurrentState)
	}

	data, err := os.ReadFile(filepath.Join(dir, "run_request.json"))
	if err != nil {
		return RunHandle{}, fmt.Errorf("supervisor: read original request: %w", err)
	}
	var req StartRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return RunHandle{}, fmt.Errorf("supervisor: decode original request: %w", err)
	}
	req = s.resolveCapabilities(ctx, req)

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return RunHandle{}, apperrors.ConfigurationError("a run is already in progress; this process supervises one run at a time")
	}
	s.busy = true
	s.mu.Unlock()

	scrubber := secretscrub.New()
	logger, err := runlog.NewLogger(s.deps.BaseDir, runID, scrubber)
	if err != nil {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
		return RunHandle{}, fmt.Errorf("supervisor: reopen run logger: %w", err)
	}

	r := &run{id: runID, mode: req.Mode, startedAt: s.deps.NowFunc(), metrics: s.deps.Metrics, subs: make(map[int]chan RunEvent)}
	r.setStatus("running")
	runCtx, abort := context.WithCancel(ctx)
	r.mu.Lock()
	r.abort = abort
	r.mu.Unlock()
	s.mu.Lock()
	s.runs[runID] = r
	s.mu.Unlock()

	r.publish(RunEvent{Step: state.LastStep, Percent: 0, Kind: "resumed", Message: "resuming from " + state.CurrentState})
	go s.drive(runCtx, r, logger, req)

	return RunHandle{RunID: runID}, nil
}

// ContinueDryRun sends the explicit continue signal a MODIFY dry-run
// halt is waiting on: the retained engine drives B3 to completion from
// the touched-file list and B2 response id recorded at the halt.
func (s *Supervisor) ContinueDryRun(ctx context.Context, handle RunHandle) error {
	s.mu.Lock()
	r, ok := s.runs[handle.RunID]
	s.mu.Unlock()
	if !ok {
		return apperrors.ConfigurationError("unknown run id " + handle.RunID)
	}
	if r.getStatus() != "awaiting_continue" {
		return apperrors.ConfigurationError(handle.RunID + " is not awaiting continue")
	}

	r.contMu.Lock()
	cont := r.continuation
	r.continuation = nil
	r.contMu.Unlock()
	if cont == nil {
		return apperrors.ConfigurationError(handle.RunID + " has no retained continuation")
	}

	r.setStatus("running")
	r.publish(RunEvent{Step: "B3_LOOP", Percent: 50, Kind: "continued", Message: "continue signal received"})

	contCtx, abort := context.WithCancel(ctx)
	r.mu.Lock()
	r.abort = abort
	r.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
			cont.logger.Close()
		}()

		_, err := cont.engine.ContinueAfterDryRun(contCtx, cont.runReq, cont.touched, cont.lastResponseID)
		if err != nil {
			if r.cancel.Load() || isCancelled(err) {
				s.finish(r, "cancelled", err)
				return
			}
			s.finish(r, "failed", err)
			return
		}
		s.finish(r, "done", nil)
	}()
	return nil
}
