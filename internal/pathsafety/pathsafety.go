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

// Package pathsafety provides safe path joining and a recursive mirror
// walker for trees that get uploaded to the Provider or written back to
// from model output.
//
// The join logic is adapted from the file-action path resolver: every
// candidate path is cleaned, resolved against its root, and rejected if
// it escapes that root, is absolute, or contains a backslash.
package pathsafety

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultExcludeNames are directory names never walked, case-insensitively.
var defaultExcludeNames = map[string]bool{
	"venv":  true,
	".venv": true,
	"log":   true,
}

// SafeJoin joins root and relPath, rejecting traversal outside root.
// relPath must be relative, must not contain ".." segments, and must not
// contain a backslash (callers expect posix-style relative paths even
// on Windows, since these paths round-trip through Provider JSON).
func SafeJoin(root, relPath string) (string, error) {
	cleaned, err := ValidateRelative(relPath)
	if err != nil {
		return "", err
	}

	joined := filepath.Join(root, cleaned)
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absRoot, absJoined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", &PathError{Path: relPath, Reason: "escapes root"}
	}
	return absJoined, nil
}

// ValidateRelative checks that relPath is a well-formed, root-relative
// POSIX-style path — non-empty, no backslash, not absolute, and with no
// ".." segment — without resolving it against any particular root.
// Used by the Contract Parser to validate `path` fields in
// A2_STRUCTURE/C_FILES_ALL responses before a root even exists.
func ValidateRelative(relPath string) (string, error) {
	if relPath == "" {
		return "", &PathError{Path: relPath, Reason: "empty path"}
	}
	if strings.ContainsRune(relPath, '\\') {
		return "", &PathError{Path: relPath, Reason: "contains backslash"}
	}
	if filepath.IsAbs(relPath) {
		return "", &PathError{Path: relPath, Reason: "absolute path not allowed"}
	}
	cleaned := filepath.Clean(relPath)
	if cleaned == "." {
		return "", &PathError{Path: relPath, Reason: "empty path"}
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", &PathError{Path: relPath, Reason: "escapes root"}
	}
	return cleaned, nil
}

// PathError reports why a candidate relative path was rejected.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return "unsafe path " + e.Path + ": " + e.Reason
}

// Entry is one file discovered by Walk.
type Entry struct {
	AbsPath  string
	RelPath  string
	Size     int64
	SHA256   string
}

// WalkOptions configures Walk's exclusion and sizing rules.
type WalkOptions struct {
	// DenyGlobs are doublestar patterns (matched against the POSIX-style
	// relative path) that exclude a file from the walk entirely.
	DenyGlobs []string

	// SnapshotExclude, if non-nil, reports whether a directory basename
	// should be excluded (used to skip prior versioning snapshots).
	SnapshotExclude func(dirName string) bool

	// MaxFileSize is not applied by Walk: every file is yielded with its
	// Size, and the caller decides what to do with files larger than this.
	MaxFileSize int64

	// ComputeHash controls whether SHA256 is computed per file (costly
	// for very large trees; callers that only need sizes can disable it).
	ComputeHash bool
}

// Walk performs a depth-first scan of root, yielding each eligible file
// to fn. Excluded directories (venv, .venv, LOG, versioning snapshots)
// are pruned before descent, not merely filtered after the fact. Files
// that are symlinks leaving root, or whose relative path matches a deny
// glob, are skipped one by one; deny globs are not matched against
// directories.
func Walk(root string, opts WalkOptions, fn func(Entry) error) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	return filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == absRoot {
			return nil
		}

		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return relErr
		}
		relPosix := filepath.ToSlash(rel)

		if d.IsDir() {
			name := strings.ToLower(d.Name())
			if defaultExcludeNames[name] {
				return fs.SkipDir
			}
			if opts.SnapshotExclude != nil && opts.SnapshotExclude(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(path)
			if err != nil {
				return nil // unresolvable symlink: skip silently
			}
			if rel, err := filepath.Rel(absRoot, target); err != nil || strings.HasPrefix(rel, "..") {
				return nil // symlink leaves root: skip
			}
		}

		for _, glob := range opts.DenyGlobs {
			if matched, _ := doublestar.Match(glob, relPosix); matched {
				return nil
			}
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		entry := Entry{AbsPath: path, RelPath: relPosix, Size: info.Size()}
		if opts.ComputeHash {
			sum, err := hashFile(path)
			if err != nil {
				return err
			}
			entry.SHA256 = sum
		}

		return fn(entry)
	})
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
