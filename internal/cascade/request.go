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
	"fmt"
	"strings"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/contract"
)

// buildInstructions renders the dual-specified output contract that
// every cascade request carries: the same rule restated in both
// `instructions` and `input`, so a model that only reads one of the two
// still sees it. Neither copy tolerates markdown fences, prose, or any
// character outside the single JSON object.
func buildInstructions(c contract.Name, guidance string, files []AttachedFile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Respond with exactly one JSON object and nothing else: ")
	fmt.Fprintf(&b, "no markdown code fences, no prose before or after it, no trailing commentary. ")
	fmt.Fprintf(&b, "The object's top-level \"contract\" field must be the literal string %q. ", string(c))
	b.WriteString(guidance)
	if len(files) > 0 {
		b.WriteString(" The following file ids are attached and available as input: ")
		for i, f := range files {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s (%s)", f.FileID, f.OriginalName)
		}
		b.WriteString(".")
	}
	return b.String()
}

// contractGuidance is the per-contract field-level restatement carried
// in both instructions and input.
func contractGuidance(c contract.Name) string {
	switch c {
	case contract.A1Plan, contract.B1Plan:
		return `Required fields: "contract", "plan" (a short natural-language description of your approach).`
	case contract.A2Structure:
		return `Required fields: "contract", "files" (an array of {"path": <relative path, no ".." segments, no leading slash>, "description": <optional>}). Every path must be unique.`
	case contract.B2Structure:
		return `Required fields: "contract", "touched_files" (an array of {"path": <relative path>, "action": one of "create", "modify", "delete"}). Every path must be unique.`
	case contract.A3File, contract.B3File:
		return `Required fields: "contract", "path", "content", "chunking": {"max_lines": 500, "chunk_index": <int>, "chunk_count": <int>, "has_more": <bool>, "next_chunk_index": <int, required iff has_more>}. Content chunks must not exceed 500 lines; if the file fits in one chunk, set chunk_index=0, chunk_count=1, has_more=false.`
	case contract.CFilesAll:
		return `Required fields: "contract", "files" (an array of {"path": <relative path>, "content": <full file content>}). Every path must be unique.`
	default:
		return ""
	}
}

// instructionsFor is the convenience wrapper Run's steps call directly.
func instructionsFor(c contract.Name, files []AttachedFile) string {
	return buildInstructions(c, contractGuidance(c), files)
}

// restatedInput is the second copy of the same contract rule, placed
// in the input segment itself.
func restatedInput(c contract.Name) string {
	return fmt.Sprintf("Output contract reminder: respond with exactly one JSON object whose \"contract\" field is %q. %s",
		string(c), contractGuidance(c))
}

// temperatureFor implements the fixed per-step temperature policy.
func temperatureFor(c contract.Name) float64 {
	switch c {
	case contract.A3File, contract.B3File, contract.CFilesAll:
		return contentTemperature
	default:
		return planTemperature
	}
}

// chunkPrompt splits prompt into ingestChunkSize-character pieces for
// the A0 ingest phase, used only when prompt exceeds ingestCharThreshold.
func chunkPrompt(prompt string) []string {
	if len(prompt) <= ingestCharThreshold {
		return []string{prompt}
	}

	var chunks []string
	runes := []rune(prompt)
	for i := 0; i < len(runes); i += ingestChunkSize {
		end := i + ingestChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
