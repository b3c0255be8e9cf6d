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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordAndQueryRoundTrip(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	r := Receipt{
		RunID:        "run-1",
		ResponseID:   "resp-1",
		StepKey:      "a1",
		Model:        "gpt-5",
		Mode:         "GENERATE",
		InputTokens:  100,
		OutputTokens: 50,
		PromptDigest: "sha256:abc",
		RecordedAt:   time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Record(ctx, r))

	got, err := s.Query(ctx, Filters{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "resp-1", got[0].ResponseID)
	require.Equal(t, int64(100), got[0].InputTokens)
}

func TestRecordDuplicateKeyIgnored(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	r := Receipt{RunID: "run-2", ResponseID: "resp-2", StepKey: "a1", Model: "gpt-5", Mode: "GENERATE", InputTokens: 10}
	require.NoError(t, s.Record(ctx, r))

	// Same key, different token counts: must be ignored, not error, not overwrite.
	dup := r
	dup.InputTokens = 999
	require.NoError(t, s.Record(ctx, dup))

	got, err := s.Query(ctx, Filters{RunID: "run-2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(10), got[0].InputTokens)
}

func TestRecordDistinguishesResponseAndBatchKeys(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Record(ctx, Receipt{RunID: "run-3", ResponseID: "resp-3", StepKey: "c", Model: "gpt-5", Mode: "BATCH"}))
	require.NoError(t, s.Record(ctx, Receipt{RunID: "run-3", BatchID: "batch-3", StepKey: "c", Model: "gpt-5", Mode: "BATCH"}))

	got, err := s.Query(ctx, Filters{RunID: "run-3"})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestQueryFiltersBySinceTime(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, Receipt{RunID: "run-4", ResponseID: "r1", StepKey: "a", Model: "gpt-5", Mode: "QA", RecordedAt: old}))
	require.NoError(t, s.Record(ctx, Receipt{RunID: "run-4", ResponseID: "r2", StepKey: "b", Model: "gpt-4", Mode: "QA", RecordedAt: recent}))

	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := s.Query(ctx, Filters{RunID: "run-4", Since: &since})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "gpt-4", got[0].Model)
}

func TestRecordFlagsCostEstimated(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Record(ctx, Receipt{
		RunID: "run-5", BatchID: "batch-5", StepKey: "c", Model: "gpt-5", Mode: "BATCH",
		CostEstimated: true,
	}))

	got, err := s.Query(ctx, Filters{RunID: "run-5"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, got[0].CostEstimated)
}
