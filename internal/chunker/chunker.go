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

// Package chunker implements the Chunk Assembler: it stitches a
// sequence of per-path file chunks, received one contract response at
// a time, into a whole file, byte-for-byte, and rejects any sequence
// that contradicts its own chunk_count/chunk_index/has_more fields.
package chunker

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/karelmartinek-a11y/aegis-cascade/pkg/errors"
)

// Chunk is one piece of a file, as validated by internal/contract.
type Chunk struct {
	ChunkIndex int
	ChunkCount int
	HasMore    bool
	Content    string
}

// pathState tracks the chunks received so far for one (run_id, path) pair.
type pathState struct {
	chunkCount int
	chunks     map[int]string
	done       bool
}

// Assembler accumulates chunks per path within a single run and
// produces the concatenated file content once the sequence completes.
type Assembler struct {
	runID string

	mu    sync.Mutex
	paths map[string]*pathState
}

// New creates an Assembler scoped to a single run. Chunk state is kept
// only in memory and is lost when the Assembler is discarded; nothing
// replays earlier chunks into a new Assembler.
func New(runID string) *Assembler {
	return &Assembler{runID: runID, paths: make(map[string]*pathState)}
}

// Accept folds one chunk into path's buffer. It returns (content, true,
// nil) once the path's final chunk has been accepted and the full file
// is available; otherwise it returns ("", false, nil) while more chunks
// are still expected. Any invariant violation returns an AssemblyError;
// the rejected chunk is not stored, and the path is not marked failed,
// so later consistent chunks for it are still accepted.
func (a *Assembler) Accept(step, path string, c Chunk) (content string, complete bool, err error) {
	if c.ChunkCount < 1 {
		return "", false, apperrors.AssemblyError(step, a.runID, path,
			fmt.Sprintf("chunk_count must be >= 1, got %d", c.ChunkCount))
	}
	if c.ChunkIndex < 0 || c.ChunkIndex >= c.ChunkCount {
		return "", false, apperrors.AssemblyError(step, a.runID, path,
			fmt.Sprintf("chunk_index %d out of range [0, %d)", c.ChunkIndex, c.ChunkCount))
	}
	wantHasMore := c.ChunkIndex+1 < c.ChunkCount
	if c.HasMore != wantHasMore {
		return "", false, apperrors.AssemblyError(step, a.runID, path,
			fmt.Sprintf("has_more=%v inconsistent with chunk_index=%d chunk_count=%d", c.HasMore, c.ChunkIndex, c.ChunkCount))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.paths[path]
	if !ok {
		st = &pathState{chunkCount: c.ChunkCount, chunks: make(map[int]string)}
		a.paths[path] = st
	}
	if st.done {
		return "", false, apperrors.AssemblyError(step, a.runID, path, "chunk received after assembly already completed")
	}
	if st.chunkCount != c.ChunkCount {
		return "", false, apperrors.AssemblyError(step, a.runID, path,
			fmt.Sprintf("chunk_count changed mid-sequence: had %d, got %d", st.chunkCount, c.ChunkCount))
	}
	if _, dup := st.chunks[c.ChunkIndex]; dup {
		return "", false, apperrors.AssemblyError(step, a.runID, path,
			fmt.Sprintf("duplicate chunk_index %d", c.ChunkIndex))
	}

	st.chunks[c.ChunkIndex] = c.Content

	if len(st.chunks) < st.chunkCount {
		return "", false, nil
	}

	// every index 0..chunkCount-1 must be present exactly once; len
	// equality plus no-duplicate inserts above already guarantees this,
	// but walking in order also lets us build the final content.
	indices := make([]int, 0, len(st.chunks))
	for idx := range st.chunks {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var b strings.Builder
	for i, idx := range indices {
		if idx != i {
			return "", false, apperrors.AssemblyError(step, a.runID, path,
				fmt.Sprintf("missing chunk_index %d", i))
		}
		b.WriteString(st.chunks[idx])
	}

	st.done = true
	st.chunks = nil // free the buffer; the done marker stays so a late chunk is rejected
	return b.String(), true, nil
}

// Pending reports the paths with an in-progress (incomplete) chunk
// sequence, in deterministic lexical order.
func (a *Assembler) Pending() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, 0, len(a.paths))
	for p, st := range a.paths {
		if !st.done {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
