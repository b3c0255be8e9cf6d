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

// Package mirror implements the Mirror Uploader: it walks an
// input tree, partitions files into upload-eligible, skipped-by-policy,
// and skipped-as-secret, uploads the eligible ones to the Provider,
// writes and re-uploads a Manifest, and — when the active model
// supports it — creates a vector store wired for file_search.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/pathsafety"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/providerclient"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/runlog"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/secretscrub"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/versioning"
)

// classifyHeadBytes is how much of a file's prefix ClassifyFile inspects.
const classifyHeadBytes = 4096

// uploadWorkers bounds how many file uploads run concurrently.
const uploadWorkers = 4

// vectorStoreExpireDays is the expiration set on each run's vector
// store so abandoned mirrors don't accumulate server-side.
const vectorStoreExpireDays = 7

// Policy configures which files the walk considers eligible at all,
// independent of secret classification.
type Policy struct {
	DenyGlobs   []string
	MaxFileSize int64
}

// Options carries per-run parameters for Run.
type Options struct {
	RunID              string
	Project            string
	InputRoot          string
	Policy             Policy
	SupportsFileSearch bool
	NowFunc            func() time.Time
}

// Uploader drives the walk/upload/manifest/vector-store sequence.
type Uploader struct {
	client *providerclient.Client
	logger *runlog.Logger
}

// New builds an Uploader over an already-configured Provider client and
// run logger.
func New(client *providerclient.Client, logger *runlog.Logger) *Uploader {
	return &Uploader{client: client, logger: logger}
}

// Result is what Run hands back to the Cascade Engine: the file ids
// every request must list redundantly, plus the vector store id (if
// one was created) for the file_search tool.
type Result struct {
	Manifest      Manifest
	UploadedFiles []string // Provider file ids, manifest file id included last
	VectorStoreID string
}

// Run performs the full walk/upload/manifest/vector-store sequence.
// Per-file upload failures are
// tolerated (the entry is marked uploaded:false, skip_reason:
// upload_failed) and do not abort the run.
func (u *Uploader) Run(ctx context.Context, opts Options) (Result, error) {
	now := opts.NowFunc
	if now == nil {
		now = time.Now
	}

	entries, err := walkAndClassify(opts.InputRoot, opts.Policy)
	if err != nil {
		return Result{}, fmt.Errorf("mirror: walk: %w", err)
	}

	manifest := Manifest{
		RunID:     opts.RunID,
		Project:   opts.Project,
		InputRoot: opts.InputRoot,
	}

	// Uploads run in a bounded worker pool; each worker owns exactly one
	// entry index, so no locking is needed around the entry mutations.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadWorkers)
	for i := range entries {
		if entries[i].SkipReason != "" {
			continue
		}
		e := &entries[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(e.AbsPath)
			if err != nil {
				e.SkipReason = "upload_failed"
				return nil
			}
			fileID, err := u.client.UploadFile(gctx, filepath.Base(e.Path), data, "assistants", opts.RunID, "mirror:"+e.Path)
			if err != nil {
				e.SkipReason = "upload_failed"
				return nil
			}
			e.Uploaded = true
			e.FileID = fileID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var uploadedIDs []string
	for _, e := range entries {
		if e.Uploaded {
			uploadedIDs = append(uploadedIDs, e.FileID)
		}
	}
	manifest.Entries = entries

	if err := u.logger.WriteJSON(filepath.Join("manifests", "manifest.json"), manifest); err != nil {
		return Result{}, fmt.Errorf("mirror: write manifest: %w", err)
	}

	manifestBytes, err := manifestJSON(manifest)
	if err != nil {
		return Result{}, fmt.Errorf("mirror: encode manifest: %w", err)
	}
	manifestFileID, err := u.client.UploadFile(ctx, "manifest.json", manifestBytes, "assistants", opts.RunID, "mirror:manifest")
	if err != nil {
		return Result{}, fmt.Errorf("mirror: upload manifest: %w", err)
	}
	manifest.ManifestFile = manifestFileID
	allFileIDs := append(append([]string{}, uploadedIDs...), manifestFileID)

	var vsID string
	if opts.SupportsFileSearch {
		vsName := fmt.Sprintf("%s%s", opts.Project, now().Format("020120061504"))
		vsID, err = u.client.CreateVectorStore(ctx, vsName)
		if err != nil {
			return Result{}, fmt.Errorf("mirror: create vector store: %w", err)
		}
		manifest.VectorStoreName = vsName
		// Stores are per-run; let the Provider reclaim them rather than
		// accumulating mirrors forever.
		if err := u.client.SetVectorStoreExpiration(ctx, vsID, vectorStoreExpireDays); err != nil {
			return Result{}, fmt.Errorf("mirror: set vector store expiration: %w", err)
		}
		for _, e := range manifest.Entries {
			if !e.Uploaded {
				continue
			}
			if err := u.client.AddFileToVectorStore(ctx, vsID, providerclient.VectorStoreFile{
				FileID:     e.FileID,
				Attributes: map[string]string{"original_path": e.AbsPath},
			}); err != nil {
				return Result{}, fmt.Errorf("mirror: attach %s to vector store: %w", e.Path, err)
			}
		}
		if err := u.client.AddFileToVectorStore(ctx, vsID, providerclient.VectorStoreFile{
			FileID:     manifestFileID,
			Attributes: map[string]string{"original_path": "manifest.json"},
		}); err != nil {
			return Result{}, fmt.Errorf("mirror: attach manifest to vector store: %w", err)
		}
		manifest.VectorStore = vsID
	}

	return Result{Manifest: manifest, UploadedFiles: allFileIDs, VectorStoreID: vsID}, nil
}

// walkAndClassify walks root once, producing one ManifestEntry per
// discovered file with Uploaded/SkipReason left for Run to fill in for
// the upload-eligible subset.
func walkAndClassify(root string, policy Policy) ([]ManifestEntry, error) {
	var entries []ManifestEntry

	err := pathsafety.Walk(root, pathsafety.WalkOptions{
		DenyGlobs:       policy.DenyGlobs,
		MaxFileSize:     policy.MaxFileSize,
		ComputeHash:     true,
		SnapshotExclude: versioning.AnySnapshotDir,
	}, func(e pathsafety.Entry) error {
		entry := ManifestEntry{Path: e.RelPath, AbsPath: e.AbsPath, SHA256: e.SHA256, Size: e.Size}

		if policy.MaxFileSize > 0 && e.Size > policy.MaxFileSize {
			entry.SkipReason = "skipped_by_policy"
			entries = append(entries, entry)
			return nil
		}

		head := make([]byte, classifyHeadBytes)
		f, err := os.Open(e.AbsPath)
		if err != nil {
			entry.SkipReason = "upload_failed"
			entries = append(entries, entry)
			return nil
		}
		n, _ := f.Read(head)
		f.Close()

		if cls := secretscrub.ClassifyFile(e.RelPath, head[:n]); cls.Sensitive {
			entry.SkipReason = "skipped_as_secret"
			entries = append(entries, entry)
			return nil
		}

		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func manifestJSON(m Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
