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

package providerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/transport"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	cfg := transport.DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.BaseBackoff = time.Millisecond
	tc, err := transport.New(cfg, nil)
	require.NoError(t, err)
	return New(tc, srv.URL, "test-key"), srv
}

func TestListModels(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/models", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []ModelInfo{{ID: "gpt-5", DisplayName: "GPT-5"}},
		})
	})
	defer srv.Close()

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, "gpt-5", models[0].ID)
}

func TestCreateResponse(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/responses", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "run-1:a1", r.Header.Get("Idempotency-Key"))

		var body responsesWireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "gpt-5", body.Model)

		_ = json.NewEncoder(w).Encode(responsesWireResponse{
			ID:         "resp-1",
			OutputText: `{"contract":"A1_PLAN"}`,
		})
	})
	defer srv.Close()

	resp, err := c.CreateResponse(context.Background(), ResponsesRequest{
		Model:        "gpt-5",
		Instructions: "do the thing",
		Input:        []InputSegment{{Text: "hello"}},
		RunID:        "run-1",
		StepKey:      "a1",
	})
	require.NoError(t, err)
	require.Equal(t, "resp-1", resp.ResponseID)
}

func TestUploadFile(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/files", r.URL.Path)
		require.Contains(t, r.Header.Get("Content-Type"), "multipart/form-data")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "file-abc"})
	})
	defer srv.Close()

	id, err := c.UploadFile(context.Background(), "a.txt", []byte("hello"), "assistants", "run-1", "upload-a")
	require.NoError(t, err)
	require.Equal(t, "file-abc", id)
}

func TestBatchLifecycle(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/batches":
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "batch-1"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/batches/batch-1":
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "completed", "output_file_id": "file-out"})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/batches/batch-1/cancel":
			w.WriteHeader(http.StatusOK)
		}
	})
	defer srv.Close()

	id, err := c.CreateBatch(context.Background(), "file-jsonl", "run-1", "c")
	require.NoError(t, err)
	require.Equal(t, "batch-1", id)

	status, err := c.GetBatch(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Equal(t, "completed", status.Status)
	require.Equal(t, "file-out", status.OutputFileID)

	require.NoError(t, c.CancelBatch(context.Background(), "batch-1"))
}
