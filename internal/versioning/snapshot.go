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

// Package versioning implements lazy copy-on-write output snapshots.
//
// A snapshot is taken at most once per run: the first time a run is
// about to perform a destructive write under a versioned output root,
// the entire pivot tree is copied into a dated subdirectory of it before
// the write proceeds. The snapshot directory itself is named so that
// later walks (and later snapshots) recognize and skip it.
package versioning

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/pathsafety"
)

// snapshotSuffix matches exactly 12 trailing digits: DDMMYYYYHHMM.
var snapshotSuffix = regexp.MustCompile(`^(.*?)(\d{12})$`)

// IsSnapshotDir reports whether dirName is rootName concatenated with a
// 12-digit DDMMYYYYHHMM timestamp.
func IsSnapshotDir(rootName, dirName string) bool {
	m := snapshotSuffix.FindStringSubmatch(dirName)
	if m == nil {
		return false
	}
	return m[1] == rootName
}

// AnySnapshotDir reports whether dirName matches the snapshot pattern for
// any root name (used when the root name being snapshotted is unknown to
// the caller, e.g. during a generic mirror walk).
func AnySnapshotDir(dirName string) bool {
	return snapshotSuffix.MatchString(dirName) && len(dirName) > 12
}

// Snapshotter lazily creates one dated copy of the output tree per run,
// on the first call to EnsureSnapshot.
type Snapshotter struct {
	mu      sync.Mutex
	done    map[string]bool // outputRoot -> already snapshotted this run
	nowFunc func() time.Time
}

// New creates a Snapshotter. nowFunc defaults to time.Now; tests may
// override it for deterministic timestamps.
func New(nowFunc func() time.Time) *Snapshotter {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Snapshotter{done: make(map[string]bool), nowFunc: nowFunc}
}

// EnsureSnapshot copies outputRoot into a dated subdirectory of it the
// first time it is called for that root; subsequent calls for the same
// root within the Snapshotter's lifetime are no-ops. Returns the
// snapshot directory path (empty if no snapshot was needed/taken).
func (s *Snapshotter) EnsureSnapshot(outputRoot string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done[outputRoot] {
		return "", nil
	}

	rootName := filepath.Base(outputRoot)
	stamp := s.nowFunc().Format("020120061504")
	snapDir := filepath.Join(outputRoot, rootName+stamp)

	if _, err := os.Stat(outputRoot); os.IsNotExist(err) {
		// Nothing to snapshot yet; mark done so we don't try again.
		s.done[outputRoot] = true
		return "", nil
	}

	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	err := pathsafety.Walk(outputRoot, pathsafety.WalkOptions{
		SnapshotExclude: func(name string) bool { return IsSnapshotDir(rootName, name) },
	}, func(e pathsafety.Entry) error {
		dst := filepath.Join(snapDir, e.RelPath)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return copyFile(e.AbsPath, dst)
	})
	if err != nil {
		return "", fmt.Errorf("copy pivot tree: %w", err)
	}

	s.done[outputRoot] = true
	return snapDir, nil
}

// Done reports whether a snapshot has already been created for outputRoot.
func (s *Snapshotter) Done(outputRoot string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done[outputRoot]
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
