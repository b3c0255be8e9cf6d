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

package versioning

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
}

func TestEnsureSnapshotCopiesTreeOnce(t *testing.T) {
	root := t.TempDir()
	outputRoot := filepath.Join(root, "myproject")
	require.NoError(t, os.MkdirAll(filepath.Join(outputRoot, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outputRoot, "src", "main.go"), []byte("package main"), 0o644))

	s := New(fixedNow)

	snap1, err := s.EnsureSnapshot(outputRoot)
	require.NoError(t, err)
	require.NotEmpty(t, snap1)

	data, err := os.ReadFile(filepath.Join(snap1, "src", "main.go"))
	require.NoError(t, err)
	require.Equal(t, "package main", string(data))

	// Second call is a no-op: no new snapshot, done flag already set.
	snap2, err := s.EnsureSnapshot(outputRoot)
	require.NoError(t, err)
	require.Empty(t, snap2)
	require.True(t, s.Done(outputRoot))
}

func TestIsSnapshotDir(t *testing.T) {
	require.True(t, IsSnapshotDir("myproject", "myproject020120260304"))
	require.False(t, IsSnapshotDir("myproject", "myproject"))
	require.False(t, IsSnapshotDir("myproject", "other020120260304"))
	require.False(t, IsSnapshotDir("myproject", "myprojectXYZ"))
}

func TestEnsureSnapshotSkipsMissingRoot(t *testing.T) {
	root := t.TempDir()
	missing := filepath.Join(root, "does-not-exist")

	s := New(fixedNow)
	snap, err := s.EnsureSnapshot(missing)
	require.NoError(t, err)
	require.Empty(t, snap)
	require.True(t, s.Done(missing))
}

func TestEnsureSnapshotExcludesPriorSnapshotDirs(t *testing.T) {
	root := t.TempDir()
	outputRoot := filepath.Join(root, "myproject")
	require.NoError(t, os.MkdirAll(outputRoot, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outputRoot, "a.txt"), []byte("a"), 0o644))

	priorSnap := filepath.Join(outputRoot, "myproject010120260000")
	require.NoError(t, os.MkdirAll(priorSnap, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(priorSnap, "old.txt"), []byte("old"), 0o644))

	s := New(fixedNow)
	snap, err := s.EnsureSnapshot(outputRoot)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(snap, "a.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(snap, "myproject010120260000"))
	require.True(t, os.IsNotExist(err))
}
