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

package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := NewRootCommand("test")

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{
		"run", "resume", "runs", "continue", "cancel",
		"receipts", "batch", "capabilities", "models", "files",
		"vector-stores", "version",
	} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCommand("1.2.3")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "1.2.3")
}

func TestRunCommandFlags(t *testing.T) {
	root := NewRootCommand("test")
	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)

	for _, flag := range []string{"mode", "model", "prompt", "prompt-file", "in", "out", "dry-run", "versioning", "concurrency", "interactive", "project"} {
		assert.NotNil(t, run.Flags().Lookup(flag), "missing flag %s", flag)
	}
}
