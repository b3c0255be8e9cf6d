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

// Package providerclient implements the narrow, typed Provider Client
// the operations the Cascade Engine needs against the stateful
// Responses-style API, each built from the Provider Transport.
package providerclient

// ModelInfo is one entry returned by ListModels.
type ModelInfo struct {
	ID          string
	DisplayName string
}

// InputSegment is one piece of a ResponsesRequest's input: either
// literal text or a reference to an already-uploaded file.
type InputSegment struct {
	Text   string
	FileID string
}

// FileSearchTool requests the file_search tool scoped to vector stores.
type FileSearchTool struct {
	VectorStoreIDs []string
}

// ResponsesRequest is the wire shape sent to create_response.
type ResponsesRequest struct {
	Model               string
	Instructions        string
	Input               []InputSegment
	FileSearch          *FileSearchTool
	PreviousResponseID  string
	// Temperature is omitted from the wire request entirely when nil,
	// for models the Capability Probe has marked as not supporting it.
	Temperature         *float64
	RunID               string
	StepKey             string // combined with RunID for the idempotency token
}

// ResponseEnvelope is what create_response returns.
type ResponseEnvelope struct {
	ResponseID   string
	OutputText   string
	InputTokens  int64
	OutputTokens int64
	ToolUsage    map[string]int64
}

// ProviderFile is one entry of ListFiles: a file the Provider holds,
// whose lifecycle the Provider owns.
type ProviderFile struct {
	FileID    string `json:"id"`
	Purpose   string `json:"purpose"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
}

// VectorStoreInfo is one entry of ListVectorStores.
type VectorStoreInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BatchStatus is the terminal/non-terminal state of a batch job.
type BatchStatus struct {
	Status       string // queued, in_progress, completed, failed, cancelled
	OutputFileID string
	ErrorFileID  string
}

// VectorStoreFile attaches a file to a vector store with optional
// key/value attributes (surfaced in file_search results).
type VectorStoreFile struct {
	FileID     string
	Attributes map[string]string
}
