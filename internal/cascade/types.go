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

// Package cascade implements the Cascade Engine: the GENERATE,
// MODIFY, and QA state machines that drive chained Responses-API
// requests through the strict contract parser and chunk assembler, and
// write the resulting files back through the path-safe, versioned
// output tree.
package cascade

import (
	"github.com/karelmartinek-a11y/aegis-cascade/internal/contract"
)

// Mode selects which state machine Run drives.
type Mode string

const (
	ModeGenerate Mode = "generate"
	ModeModify   Mode = "modify"
	ModeQA       Mode = "qa"
)

// State names the cascade's current position, mirrored into the run's
// persisted RunState for resume.
type State string

const (
	StateReady     State = "READY"
	StateIngest    State = "INGEST"
	StateA1        State = "A1"
	StateA2        State = "A2"
	StateA3Loop    State = "A3_LOOP"
	StateB1        State = "B1"
	StateB2        State = "B2"
	StateB3Loop    State = "B3_LOOP"
	StateQA        State = "QA"
	StateDone      State = "DONE"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
	// StateAwaitingContinue is the dry-run MODIFY halt point: B2 has
	// completed and the touched-file list is available, but B3 will not
	// run until the Supervisor sends an explicit continue signal.
	StateAwaitingContinue State = "AWAITING_CONTINUE"
)

// AttachedFile is one Provider file id the request builder lists in
// both instructions and input. The redundancy is deliberate: a model
// that ignores one channel still sees the other.
type AttachedFile struct {
	FileID       string
	OriginalName string
}

// RunRequest is Run's single input: everything the cascade needs to
// drive one mode to completion (or to its dry-run halt).
type RunRequest struct {
	RunID               string
	Mode                Mode
	Model               string
	Project             string
	Prompt              string
	InputRoot           string
	OutputRoot          string
	DryRun              bool
	SupportsChaining    bool
	SupportsTemperature bool
	SupportsFileSearch  bool
	VectorStoreID       string
	AttachedFiles       []AttachedFile
	// MaxConcurrency bounds how many A3/B3 file chunk loops run at
	// once. Zero falls back to defaultMaxConcurrency.
	MaxConcurrency int
	// CancelCheck is polled at every suspension point; when it returns
	// true the cascade stops and returns a CancelledError.
	CancelCheck func() bool
}

// FileOutcome records one output path's result: either written content
// or a quarantined failure that does not abort the rest of the run.
type FileOutcome struct {
	Path    string
	Written bool
	Err     error
}

// RunResult is Run's terminal summary. LastResponseID is only set on a
// dry-run halt: it is the B2 response id the continued B3 loop chains
// from.
type RunResult struct {
	FinalState     State
	Plan           string
	TouchedFiles   []contract.TouchedFile
	Files          []FileOutcome
	QAAnswer       string
	LastResponseID string
}

// contentTemperature is used for every step that produces file content
// (A3, B3, each Batch-C request); planTemperature is used everywhere
// else, including A1/A2/B1/B2/QA.
const (
	contentTemperature = 0.0
	planTemperature    = 0.2
)

// ingestCharThreshold and ingestChunkSize drive the A0 ingest phase:
// prompts longer than the threshold are chained in chunks of this size
// via previous_response_id before A1/B1 ever runs.
const (
	ingestCharThreshold = 150_000
	ingestChunkSize     = 20_000
)
