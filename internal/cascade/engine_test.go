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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/contract"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/providerclient"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/runlog"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/secretscrub"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/transport"
	apperrors "github.com/karelmartinek-a11y/aegis-cascade/pkg/errors"
)

// fakeProvider scripts /v1/responses by step key (the suffix of the
// Idempotency-Key header after "<run_id>:"). Unscripted steps get 500.
type fakeProvider struct {
	t *testing.T

	mu       sync.Mutex
	replies  map[string]string // step key -> output_text
	requests []recordedRequest
	seq      int
}

type recordedRequest struct {
	StepKey string
	Body    map[string]interface{}
}

func newFakeProvider(t *testing.T) *fakeProvider {
	return &fakeProvider{t: t, replies: make(map[string]string)}
}

func (f *fakeProvider) reply(stepKey, outputText string) { f.replies[stepKey] = outputText }

func (f *fakeProvider) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/responses" {
			http.NotFound(w, r)
			return
		}
		key := r.Header.Get("Idempotency-Key")
		stepKey := key
		if i := strings.Index(key, ":"); i >= 0 {
			stepKey = key[i+1:]
		}

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.seq++
		id := fmt.Sprintf("resp_%d", f.seq)
		f.requests = append(f.requests, recordedRequest{StepKey: stepKey, Body: body})
		out, ok := f.replies[stepKey]
		f.mu.Unlock()

		if !ok {
			http.Error(w, `{"error":"unscripted step `+stepKey+`"}`, http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          id,
			"output_text": out,
			"usage":       map[string]interface{}{"input_tokens": 10, "output_tokens": 20},
		})
	})
}

func (f *fakeProvider) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest{}, f.requests...)
}

func testEngine(t *testing.T, fake *fakeProvider) (*Engine, string) {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	cfg := transport.DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.MaxAttempts = 1
	tc, err := transport.New(cfg, nil)
	require.NoError(t, err)

	baseDir := t.TempDir()
	logger, err := runlog.NewLogger(baseDir, "RUN_TEST", secretscrub.New())
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })

	engine := New(Deps{
		Client: providerclient.New(tc, srv.URL, "test-key"),
		Logger: logger,
	})
	return engine, baseDir
}

func baseRequest(out string) RunRequest {
	return RunRequest{
		RunID:               "RUN_TEST",
		Mode:                ModeGenerate,
		Model:               "model-x",
		Prompt:              "make a one-file script",
		OutputRoot:          out,
		SupportsChaining:    true,
		SupportsTemperature: true,
		MaxConcurrency:      1,
	}
}

func chunkJSON(c contract.Name, path, content string, index, count int, hasMore bool) string {
	chunking := map[string]interface{}{
		"max_lines":   500,
		"chunk_index": index,
		"chunk_count": count,
		"has_more":    hasMore,
	}
	if hasMore {
		chunking["next_chunk_index"] = index + 1
	}
	b, _ := json.Marshal(map[string]interface{}{
		"contract": string(c),
		"path":     path,
		"content":  content,
		"chunking": chunking,
	})
	return string(b)
}

func TestGenerateHappyPath(t *testing.T) {
	fake := newFakeProvider(t)
	fake.reply("A1", `{"contract":"A1_PLAN","plan":"one python file"}`)
	fake.reply("A2", `{"contract":"A2_STRUCTURE","files":[{"path":"main.py"}]}`)
	fake.reply("A3_FILE:main.py:chunk0", chunkJSON(contract.A3File, "main.py", "print('hi')\n", 0, 1, false))

	out := t.TempDir()
	engine, _ := testEngine(t, fake)

	result, err := engine.Run(context.Background(), baseRequest(out))
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.FinalState)
	assert.Equal(t, "one python file", result.Plan)
	require.Len(t, result.Files, 1)
	assert.True(t, result.Files[0].Written)

	data, err := os.ReadFile(filepath.Join(out, "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(data))
}

func TestGenerateChainsResponseIDs(t *testing.T) {
	fake := newFakeProvider(t)
	fake.reply("A1", `{"contract":"A1_PLAN","plan":"p"}`)
	fake.reply("A2", `{"contract":"A2_STRUCTURE","files":[{"path":"a.txt"}]}`)
	fake.reply("A3_FILE:a.txt:chunk0", chunkJSON(contract.A3File, "a.txt", "x", 0, 1, false))

	engine, _ := testEngine(t, fake)
	_, err := engine.Run(context.Background(), baseRequest(t.TempDir()))
	require.NoError(t, err)

	byStep := map[string]recordedRequest{}
	for _, r := range fake.recorded() {
		byStep[r.StepKey] = r
	}
	// A2 chains from A1's actual response id, not a step label.
	assert.Equal(t, "resp_1", byStep["A2"].Body["previous_response_id"])
	assert.Equal(t, "resp_2", byStep["A3_FILE:a.txt:chunk0"].Body["previous_response_id"])
}

func TestChunkedFileReassembledAcrossChain(t *testing.T) {
	fake := newFakeProvider(t)
	fake.reply("A1", `{"contract":"A1_PLAN","plan":"p"}`)
	fake.reply("A2", `{"contract":"A2_STRUCTURE","files":[{"path":"big.txt"}]}`)
	fake.reply("A3_FILE:big.txt:chunk0", chunkJSON(contract.A3File, "big.txt", "first half, ", 0, 2, true))
	fake.reply("A3_FILE:big.txt:chunk1", chunkJSON(contract.A3File, "big.txt", "second half", 1, 2, false))

	out := t.TempDir()
	engine, _ := testEngine(t, fake)
	result, err := engine.Run(context.Background(), baseRequest(out))
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.FinalState)

	data, err := os.ReadFile(filepath.Join(out, "big.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first half, second half", string(data))

	// The second chunk's request must chain from the first chunk's
	// response id.
	var chunk1Prev interface{}
	for _, r := range fake.recorded() {
		if r.StepKey == "A3_FILE:big.txt:chunk1" {
			chunk1Prev = r.Body["previous_response_id"]
		}
	}
	assert.Equal(t, "resp_3", chunk1Prev)
}

func TestContractViolationQuarantinesPathOnly(t *testing.T) {
	fake := newFakeProvider(t)
	fake.reply("A1", `{"contract":"A1_PLAN","plan":"p"}`)
	fake.reply("A2", `{"contract":"A2_STRUCTURE","files":[{"path":"bad.py"},{"path":"good.py"}]}`)
	// bad.py's response is missing the contract field entirely.
	fake.reply("A3_FILE:bad.py:chunk0", `{"path":"bad.py","content":"oops"}`)
	fake.reply("A3_FILE:good.py:chunk0", chunkJSON(contract.A3File, "good.py", "fine\n", 0, 1, false))

	out := t.TempDir()
	engine, _ := testEngine(t, fake)
	result, err := engine.Run(context.Background(), baseRequest(out))
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.FinalState)

	outcomes := map[string]FileOutcome{}
	for _, f := range result.Files {
		outcomes[f.Path] = f
	}
	assert.False(t, outcomes["bad.py"].Written)
	require.Error(t, outcomes["bad.py"].Err)
	var cerr *apperrors.ContractError
	assert.ErrorAs(t, outcomes["bad.py"].Err, &cerr)
	assert.True(t, outcomes["good.py"].Written)

	// The good path still landed; the bad one was quarantined raw.
	_, err = os.Stat(filepath.Join(out, "good.py"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "_invalid", "A3_FILE:bad.py:chunk0.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "bad.py"))
	assert.True(t, os.IsNotExist(err))
}

func TestModifyDryRunHaltsAfterB2(t *testing.T) {
	fake := newFakeProvider(t)
	fake.reply("B1", `{"contract":"B1_PLAN","plan":"touch one file"}`)
	fake.reply("B2", `{"contract":"B2_STRUCTURE","touched_files":[{"path":"a.txt","action":"modify"}]}`)

	engine, _ := testEngine(t, fake)
	req := baseRequest(t.TempDir())
	req.Mode = ModeModify
	req.InputRoot = t.TempDir()
	req.DryRun = true

	result, err := engine.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingContinue, result.FinalState)
	require.Len(t, result.TouchedFiles, 1)
	assert.Equal(t, "a.txt", result.TouchedFiles[0].Path)
	assert.Equal(t, "resp_2", result.LastResponseID)

	// No B3 content request was ever issued.
	for _, r := range fake.recorded() {
		assert.NotContains(t, r.StepKey, "B3_FILE")
	}
}

func TestContinueAfterDryRunDrivesB3(t *testing.T) {
	fake := newFakeProvider(t)
	fake.reply("B3_FILE:a.txt:chunk0", chunkJSON(contract.B3File, "a.txt", "xx", 0, 1, false))

	out := t.TempDir()
	engine, _ := testEngine(t, fake)
	req := baseRequest(out)
	req.Mode = ModeModify
	req.InputRoot = t.TempDir()

	result, err := engine.ContinueAfterDryRun(context.Background(), req,
		[]contract.TouchedFile{{Path: "a.txt", Action: "modify"}}, "resp_b2")
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.FinalState)

	data, err := os.ReadFile(filepath.Join(out, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "xx", string(data))
}

func TestQAMode(t *testing.T) {
	fake := newFakeProvider(t)
	fake.reply("QA", `{"contract":"A1_PLAN","plan":"the answer is 42"}`)

	engine, _ := testEngine(t, fake)
	req := baseRequest("")
	req.Mode = ModeQA

	result, err := engine.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.FinalState)
	assert.Equal(t, "the answer is 42", result.QAAnswer)
}

func TestCancellationStopsRun(t *testing.T) {
	fake := newFakeProvider(t)
	engine, _ := testEngine(t, fake)

	req := baseRequest(t.TempDir())
	req.CancelCheck = func() bool { return true }

	_, err := engine.Run(context.Background(), req)
	require.Error(t, err)
	var re *apperrors.RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "cancelled", re.Kind)
	assert.Empty(t, fake.recorded(), "no request may be issued after cancellation")
}

func TestCapabilityDowngradesShapeRequest(t *testing.T) {
	fake := newFakeProvider(t)
	fake.reply("QA", `{"contract":"A1_PLAN","plan":"ok"}`)

	engine, _ := testEngine(t, fake)
	req := baseRequest("")
	req.Mode = ModeQA
	req.SupportsTemperature = false
	req.SupportsChaining = false

	_, err := engine.Run(context.Background(), req)
	require.NoError(t, err)

	recorded := fake.recorded()
	require.Len(t, recorded, 1)
	_, hasTemp := recorded[0].Body["temperature"]
	assert.False(t, hasTemp, "temperature must be omitted for models without it")
	_, hasPrev := recorded[0].Body["previous_response_id"]
	assert.False(t, hasPrev)
}

func TestGenerateRejectsInputRoot(t *testing.T) {
	engine, _ := testEngine(t, newFakeProvider(t))
	req := baseRequest(t.TempDir())
	req.InputRoot = t.TempDir()

	_, err := engine.Run(context.Background(), req)
	var re *apperrors.RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "configuration", re.Kind)
}

func TestChunkPromptBoundary(t *testing.T) {
	exact := strings.Repeat("x", ingestCharThreshold)
	assert.Len(t, chunkPrompt(exact), 1, "exactly the threshold must not trigger ingest")

	over := exact + "y"
	chunks := chunkPrompt(over)
	assert.Greater(t, len(chunks), 1, "threshold+1 must chunk")
	var total int
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), ingestChunkSize)
		total += len(c)
	}
	assert.Equal(t, len(over), total)
}

func TestTemperaturePolicy(t *testing.T) {
	assert.Equal(t, contentTemperature, temperatureFor(contract.A3File))
	assert.Equal(t, contentTemperature, temperatureFor(contract.B3File))
	assert.Equal(t, contentTemperature, temperatureFor(contract.CFilesAll))
	assert.Equal(t, planTemperature, temperatureFor(contract.A1Plan))
	assert.Equal(t, planTemperature, temperatureFor(contract.B2Structure))
}
