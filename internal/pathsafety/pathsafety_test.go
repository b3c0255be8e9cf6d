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

package pathsafety

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeJoinRejectsTraversal(t *testing.T) {
	root := t.TempDir()

	cases := []string{
		"..",
		"../escape.txt",
		"a/../../escape.txt",
		`a\b.txt`,
		"/etc/passwd",
		"",
	}
	for _, rel := range cases {
		_, err := SafeJoin(root, rel)
		require.Error(t, err, "expected rejection for %q", rel)
	}
}

func TestSafeJoinAllowsNormalPaths(t *testing.T) {
	root := t.TempDir()
	got, err := SafeJoin(root, "sub/dir/file.txt")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "sub", "dir", "file.txt"), got)
}

func TestWalkExcludesVenvAndLog(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "venv", "lib"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "LOG"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "venv", "lib", "x.py"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "LOG", "run.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.py"), []byte("print(1)"), 0o644))

	var seen []string
	err := Walk(root, WalkOptions{ComputeHash: true}, func(e Entry) error {
		seen = append(seen, e.RelPath)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"keep.py"}, seen)
}

func TestWalkHonorsDenyGlobs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.pem"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("x"), 0o644))

	var seen []string
	err := Walk(root, WalkOptions{DenyGlobs: []string{"**/*.pem"}}, func(e Entry) error {
		seen = append(seen, e.RelPath)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"main.go"}, seen)
}

func TestWalkExcludesSnapshotDirs(t *testing.T) {
	root := t.TempDir()
	snap := filepath.Join(root, "myroot010120260000")
	require.NoError(t, os.MkdirAll(snap, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(snap, "old.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.txt"), []byte("y"), 0o644))

	var seen []string
	err := Walk(root, WalkOptions{
		SnapshotExclude: func(name string) bool { return name == "myroot010120260000" },
	}, func(e Entry) error {
		seen = append(seen, e.RelPath)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"new.txt"}, seen)
}
