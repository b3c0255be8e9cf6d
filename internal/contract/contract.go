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

// Package contract implements the strict Contract Parser: every
// Provider response is expected to be exactly one JSON object carrying
// a fixed top-level `contract` field, and nothing else is tolerated —
// no markdown fences, no prose, no comments.
package contract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/pathsafety"
	apperrors "github.com/karelmartinek-a11y/aegis-cascade/pkg/errors"
)

// Name enumerates the fixed set of contracts a response may declare.
type Name string

const (
	A1Plan       Name = "A1_PLAN"
	A2Structure  Name = "A2_STRUCTURE"
	A3File       Name = "A3_FILE"
	B1Plan       Name = "B1_PLAN"
	B2Structure  Name = "B2_STRUCTURE"
	B3File       Name = "B3_FILE"
	CFilesAll    Name = "C_FILES_ALL"
)

// Chunking is the sub-object A3_FILE/B3_FILE carry to drive the Chunk
// Assembler's reassembly loop.
type Chunking struct {
	MaxLines       int  `json:"max_lines"`
	ChunkIndex     int  `json:"chunk_index"`
	ChunkCount     int  `json:"chunk_count"`
	HasMore        bool `json:"has_more"`
	NextChunkIndex *int `json:"next_chunk_index,omitempty"`
}

// PlanResult is A1_PLAN/B1_PLAN's shape: a free-form natural-language
// plan the cascade logs but does not otherwise interpret.
type PlanResult struct {
	Contract Name   `json:"contract"`
	Plan     string `json:"plan"`
}

// FileSpec is one entry of A2_STRUCTURE.files or C_FILES_ALL.files.
type FileSpec struct {
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"` // C_FILES_ALL only
}

// StructureResult is A2_STRUCTURE's shape: the set of files the
// cascade must now request content for, one chunk loop per path.
type StructureResult struct {
	Contract Name       `json:"contract"`
	Files    []FileSpec `json:"files"`
}

// TouchedFile is one entry of B2_STRUCTURE.touched_files.
type TouchedFile struct {
	Path   string `json:"path"`
	Action string `json:"action"` // create, modify, delete
}

// TouchedFilesResult is B2_STRUCTURE's shape.
type TouchedFilesResult struct {
	Contract     Name          `json:"contract"`
	TouchedFiles []TouchedFile `json:"touched_files"`
}

// FileChunkResult is A3_FILE/B3_FILE's shape: one chunk of one file.
type FileChunkResult struct {
	Contract Name     `json:"contract"`
	Path     string   `json:"path"`
	Content  string   `json:"content"`
	Chunking Chunking `json:"chunking"`
}

// FilesAllResult is C_FILES_ALL's shape: every output file in one shot.
type FilesAllResult struct {
	Contract Name       `json:"contract"`
	Files    []FileSpec `json:"files"`
}

// Parse validates raw against the contract its own `contract` field
// names, returning one of the typed *Result structs above as `interface{}`.
// Parse never tolerates code fences or surrounding prose: if raw is not
// itself a pure JSON object, it attempts to extract the first balanced
// `{...}` substring and parses only that; anything else is a ContractError.
func Parse(step, runID string, raw []byte) (interface{}, error) {
	obj, err := extractObject(raw)
	if err != nil {
		return nil, apperrors.NewContractError(step, runID, "unknown", "$", err.Error())
	}

	var head struct {
		Contract Name `json:"contract"`
	}
	if err := json.Unmarshal(obj, &head); err != nil {
		return nil, apperrors.NewContractError(step, runID, "unknown", "$.contract", "not a JSON object: "+err.Error())
	}
	if head.Contract == "" {
		return nil, apperrors.NewContractError(step, runID, "unknown", "$.contract", "missing required field")
	}

	switch head.Contract {
	case A1Plan, B1Plan:
		var r PlanResult
		if err := json.Unmarshal(obj, &r); err != nil {
			return nil, apperrors.NewContractError(step, runID, string(head.Contract), "$", err.Error())
		}
		if r.Plan == "" {
			return nil, apperrors.NewContractError(step, runID, string(head.Contract), "$.plan", "missing required field")
		}
		return r, nil

	case A2Structure:
		var r StructureResult
		if err := json.Unmarshal(obj, &r); err != nil {
			return nil, apperrors.NewContractError(step, runID, string(head.Contract), "$", err.Error())
		}
		if err := validateFiles(r.Files); err != nil {
			return nil, apperrors.NewContractError(step, runID, string(head.Contract), "$.files", err.Error())
		}
		return r, nil

	case CFilesAll:
		var r FilesAllResult
		if err := json.Unmarshal(obj, &r); err != nil {
			return nil, apperrors.NewContractError(step, runID, string(head.Contract), "$", err.Error())
		}
		if err := validateFiles(r.Files); err != nil {
			return nil, apperrors.NewContractError(step, runID, string(head.Contract), "$.files", err.Error())
		}
		return r, nil

	case B2Structure:
		var r TouchedFilesResult
		if err := json.Unmarshal(obj, &r); err != nil {
			return nil, apperrors.NewContractError(step, runID, string(head.Contract), "$", err.Error())
		}
		seen := make(map[string]bool, len(r.TouchedFiles))
		for i, tf := range r.TouchedFiles {
			if _, err := pathsafety.ValidateRelative(tf.Path); err != nil {
				return nil, apperrors.NewContractError(step, runID, string(head.Contract),
					fmt.Sprintf("$.touched_files[%d].path", i), err.Error())
			}
			if seen[tf.Path] {
				return nil, apperrors.NewContractError(step, runID, string(head.Contract),
					fmt.Sprintf("$.touched_files[%d].path", i), "duplicate path")
			}
			seen[tf.Path] = true
			switch tf.Action {
			case "create", "modify", "delete":
			default:
				return nil, apperrors.NewContractError(step, runID, string(head.Contract),
					fmt.Sprintf("$.touched_files[%d].action", i), "invalid action "+tf.Action)
			}
		}
		return r, nil

	case A3File, B3File:
		var r FileChunkResult
		if err := json.Unmarshal(obj, &r); err != nil {
			return nil, apperrors.NewContractError(step, runID, string(head.Contract), "$", err.Error())
		}
		if _, err := pathsafety.ValidateRelative(r.Path); err != nil {
			return nil, apperrors.NewContractError(step, runID, string(head.Contract), "$.path", err.Error())
		}
		if err := validateChunking(r.Chunking); err != nil {
			return nil, apperrors.NewContractError(step, runID, string(head.Contract), "$.chunking", err.Error())
		}
		if n := lineCount(r.Content); n > maxChunkLines {
			return nil, apperrors.NewContractError(step, runID, string(head.Contract), "$.content",
				fmt.Sprintf("chunk holds %d lines, max is %d", n, maxChunkLines))
		}
		return r, nil

	default:
		return nil, apperrors.NewContractError(step, runID, string(head.Contract), "$.contract", "unrecognized contract")
	}
}

func validateFiles(files []FileSpec) error {
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		cleaned, err := pathsafety.ValidateRelative(f.Path)
		if err != nil {
			return fmt.Errorf("path %q: %w", f.Path, err)
		}
		if seen[cleaned] {
			return fmt.Errorf("duplicate path %q", cleaned)
		}
		seen[cleaned] = true
	}
	return nil
}

// maxChunkLines is the logical size cap on one chunk's content.
const maxChunkLines = 500

// lineCount counts logical lines: a trailing newline does not start an
// extra line, so a file of exactly 500 "\n"-terminated lines passes.
func lineCount(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}

func validateChunking(c Chunking) error {
	if c.ChunkCount < 1 {
		return fmt.Errorf("chunk_count must be >= 1, got %d", c.ChunkCount)
	}
	if c.ChunkIndex < 0 || c.ChunkIndex >= c.ChunkCount {
		return fmt.Errorf("chunk_index %d out of range [0, %d)", c.ChunkIndex, c.ChunkCount)
	}
	wantHasMore := c.ChunkIndex+1 < c.ChunkCount
	if c.HasMore != wantHasMore {
		return fmt.Errorf("has_more=%v inconsistent with chunk_index=%d chunk_count=%d", c.HasMore, c.ChunkIndex, c.ChunkCount)
	}
	if c.HasMore {
		if c.NextChunkIndex == nil {
			return fmt.Errorf("has_more=true but next_chunk_index missing")
		}
		if *c.NextChunkIndex != c.ChunkIndex+1 {
			return fmt.Errorf("next_chunk_index %d does not follow chunk_index %d", *c.NextChunkIndex, c.ChunkIndex)
		}
	}
	return nil
}

// extractObject returns raw trimmed to its first balanced {...}
// substring, rejecting any input that isn't pure JSON and isn't
// extractable. There is no code-fence or comment tolerance.
func extractObject(raw []byte) ([]byte, error) {
	trimmed := trimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var probe json.RawMessage
		if json.Unmarshal(trimmed, &probe) == nil {
			return trimmed, nil
		}
	}

	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, b := range raw {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					return raw[start : i+1], nil
				}
			}
		}
	}
	return nil, fmt.Errorf("no balanced JSON object found in response")
}

func trimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && isSpace(b[i]) {
		i++
	}
	for j > i && isSpace(b[j-1]) {
		j--
	}
	return b[i:j]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
