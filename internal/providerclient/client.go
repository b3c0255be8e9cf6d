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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/transport"
)

// Client is the narrow Provider API surface the Cascade Engine drives.
type Client struct {
	t       *transport.Client
	baseURL string
	apiKey  string
}

// New builds a Client over an already-configured transport.Client.
func New(t *transport.Client, baseURL, apiKey string) *Client {
	return &Client{t: t, baseURL: baseURL, apiKey: apiKey}
}

func (c *Client) authHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"Content-Type":  "application/json",
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, runID, stepKey string, body interface{}, out interface{}) error {
	var reader func() io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("providerclient: marshal request: %w", err)
		}
		reader = func() io.Reader { return bytes.NewReader(data) }
	}

	resp, err := c.t.Do(ctx, transport.RequestSpec{
		Method:  method,
		URL:     c.baseURL + path,
		Headers: c.authHeaders(),
		Body:    reader,
		RunID:   runID,
		StepKey: stepKey,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("providerclient: decode response: %w", err)
	}
	return nil
}

// ListModels returns every model the Provider exposes.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var out struct {
		Data []ModelInfo `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/models", "", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ResponsesWireInput is the exported body of a single /responses
// request, used by the Batch Monitor to build the one JSONL line a
// batch submits. It carries the same model, instructions, previous
// response id and temperature as a CreateResponse call, but its shape
// differs: Input segments are encoded with their Go field names (Text,
// FileID) rather than as typed input_text/input_file segments, and
// vector store ids sit at the top level rather than in a file_search
// tool entry. Temperature is a pointer
// for the same reason it is on ResponsesRequest: a nil value omits the
// field entirely for models that don't support the parameter.
type ResponsesWireInput struct {
	Model              string         `json:"model"`
	Instructions       string         `json:"instructions"`
	Input              []InputSegment `json:"input"`
	VectorStoreIDs     []string       `json:"vector_store_ids,omitempty"`
	PreviousResponseID string         `json:"previous_response_id,omitempty"`
	Temperature        *float64       `json:"temperature,omitempty"`
}

type responsesWireRequest struct {
	Model              string        `json:"model"`
	Instructions       string        `json:"instructions"`
	Input              []wireSegment `json:"input"`
	Tools              []wireTool    `json:"tools,omitempty"`
	PreviousResponseID string        `json:"previous_response_id,omitempty"`
	Temperature        *float64      `json:"temperature,omitempty"`
}

type wireSegment struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	FileID string `json:"file_id,omitempty"`
}

type wireTool struct {
	Type           string   `json:"type"`
	VectorStoreIDs []string `json:"vector_store_ids,omitempty"`
}

type responsesWireResponse struct {
	ID         string `json:"id"`
	OutputText string `json:"output_text"`
	Usage      struct {
		InputTokens  int64            `json:"input_tokens"`
		OutputTokens int64            `json:"output_tokens"`
		ToolUsage    map[string]int64 `json:"tool_usage"`
	} `json:"usage"`
}

// CreateResponse issues a single chained Responses-API call.
func (c *Client) CreateResponse(ctx context.Context, req ResponsesRequest) (ResponseEnvelope, error) {
	wire := responsesWireRequest{
		Model:              req.Model,
		Instructions:       req.Instructions,
		PreviousResponseID: req.PreviousResponseID,
		Temperature:        req.Temperature,
	}
	for _, seg := range req.Input {
		if seg.FileID != "" {
			wire.Input = append(wire.Input, wireSegment{Type: "input_file", FileID: seg.FileID})
		} else {
			wire.Input = append(wire.Input, wireSegment{Type: "input_text", Text: seg.Text})
		}
	}
	if req.FileSearch != nil {
		wire.Tools = append(wire.Tools, wireTool{Type: "file_search", VectorStoreIDs: req.FileSearch.VectorStoreIDs})
	}

	var out responsesWireResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/responses", req.RunID, req.StepKey, wire, &out); err != nil {
		return ResponseEnvelope{}, err
	}
	return ResponseEnvelope{
		ResponseID:   out.ID,
		OutputText:   out.OutputText,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
		ToolUsage:    out.Usage.ToolUsage,
	}, nil
}

// UploadFile uploads content under filename for purpose (e.g.
// "assistants", "batch") and returns the Provider's file id.
func (c *Client) UploadFile(ctx context.Context, filename string, content []byte, purpose, runID, stepKey string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("purpose", purpose); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(content); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"Content-Type":  w.FormDataContentType(),
	}
	body := buf.Bytes()

	resp, err := c.t.Do(ctx, transport.RequestSpec{
		Method:  http.MethodPost,
		URL:     c.baseURL + "/v1/files",
		Headers: headers,
		Body:    func() io.Reader { return bytes.NewReader(body) },
		RunID:   runID,
		StepKey: stepKey,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("providerclient: decode upload response: %w", err)
	}
	return out.ID, nil
}

// ListFiles returns every file the Provider currently holds.
func (c *Client) ListFiles(ctx context.Context) ([]ProviderFile, error) {
	var out struct {
		Data []ProviderFile `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/files", "", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// DeleteFile removes a previously uploaded file.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/files/"+fileID, "", "", nil, nil)
}

// DownloadFile fetches the raw bytes of a previously uploaded or
// Provider-generated file (used by the Batch Monitor to retrieve a
// completed batch's output/error file).
func (c *Client) DownloadFile(ctx context.Context, fileID, runID, stepKey string) ([]byte, error) {
	resp, err := c.t.Do(ctx, transport.RequestSpec{
		Method:  http.MethodGet,
		URL:     c.baseURL + "/v1/files/" + fileID + "/content",
		Headers: map[string]string{"Authorization": "Bearer " + c.apiKey},
		RunID:   runID,
		StepKey: stepKey,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// CreateVectorStore creates a named vector store and returns its id.
func (c *Client) CreateVectorStore(ctx context.Context, name string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/vector_stores", "", "", map[string]string{"name": name}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// ListVectorStores returns the Provider's vector stores.
func (c *Client) ListVectorStores(ctx context.Context) ([]VectorStoreInfo, error) {
	var out struct {
		Data []VectorStoreInfo `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/vector_stores", "", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// AddFileToVectorStore attaches an uploaded file to a vector store with
// optional per-file attributes.
func (c *Client) AddFileToVectorStore(ctx context.Context, vsID string, file VectorStoreFile) error {
	body := map[string]interface{}{"file_id": file.FileID}
	if len(file.Attributes) > 0 {
		body["attributes"] = file.Attributes
	}
	return c.doJSON(ctx, http.MethodPost, "/v1/vector_stores/"+vsID+"/files", "", "", body, nil)
}

// RemoveFileFromVectorStore detaches a file from a vector store.
func (c *Client) RemoveFileFromVectorStore(ctx context.Context, vsID, fileID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/vector_stores/"+vsID+"/files/"+fileID, "", "", nil, nil)
}

// SetVectorStoreExpiration sets or clears a vector store's expiration policy.
func (c *Client) SetVectorStoreExpiration(ctx context.Context, vsID string, expiresAfterDays int) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/vector_stores/"+vsID, "", "",
		map[string]interface{}{"expires_after": map[string]int{"days": expiresAfterDays}}, nil)
}

// DeleteVectorStore removes a vector store.
func (c *Client) DeleteVectorStore(ctx context.Context, vsID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/vector_stores/"+vsID, "", "", nil, nil)
}

// CreateBatch submits a JSONL file of requests for async processing.
func (c *Client) CreateBatch(ctx context.Context, jsonlFileID, runID, stepKey string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]string{"input_file_id": jsonlFileID, "endpoint": "/v1/responses", "completion_window": "24h"}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/batches", runID, stepKey, body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// GetBatch polls a batch's current status.
func (c *Client) GetBatch(ctx context.Context, batchID string) (BatchStatus, error) {
	var out struct {
		Status       string `json:"status"`
		OutputFileID string `json:"output_file_id"`
		ErrorFileID  string `json:"error_file_id"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/batches/"+batchID, "", "", nil, &out); err != nil {
		return BatchStatus{}, err
	}
	return BatchStatus{Status: out.Status, OutputFileID: out.OutputFileID, ErrorFileID: out.ErrorFileID}, nil
}

// CancelBatch requests cancellation of an in-flight batch.
func (c *Client) CancelBatch(ctx context.Context, batchID string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/batches/"+batchID+"/cancel", "", "", nil, nil)
}
