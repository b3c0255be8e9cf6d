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

package secretscrub

import (
	"math"
	"path/filepath"
	"regexp"
	"strings"
)

// FileClass describes why a file is being treated as a likely secret
// carrier (or that it isn't).
type FileClass struct {
	Sensitive bool
	Reason    string
}

var (
	envNameRe     = regexp.MustCompile(`(?i)^\.env(\..+)?$`)
	pemHeaderRe   = regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)
	highEntropyRe = regexp.MustCompile(`[A-Za-z0-9_\-/+=]{40,}`)
)

// ClassifyFile inspects a candidate file's path and a small head-of-file
// sample and reports whether the Mirror Uploader should skip it as a
// likely secret rather than upload it to the Provider.
func ClassifyFile(path string, head []byte) FileClass {
	base := filepath.Base(path)
	if envNameRe.MatchString(base) {
		return FileClass{Sensitive: true, Reason: "dotenv-style filename"}
	}

	ext := strings.ToLower(filepath.Ext(base))
	switch ext {
	case ".pem", ".key", ".p12", ".pfx":
		return FileClass{Sensitive: true, Reason: "credential file extension"}
	}

	if pemHeaderRe.Match(head) {
		return FileClass{Sensitive: true, Reason: "PEM private key header"}
	}

	if tok, ok := highestEntropyToken(head); ok {
		return FileClass{Sensitive: true, Reason: "high-entropy token: " + tok[:8] + "..."}
	}

	return FileClass{Sensitive: false}
}

// highestEntropyToken scans head for a long token-like substring whose
// Shannon entropy exceeds a threshold consistent with a random secret
// rather than natural-language or source-code text.
func highestEntropyToken(head []byte) (string, bool) {
	for _, m := range highEntropyRe.FindAllString(string(head), -1) {
		if shannonEntropy(m) >= 4.0 {
			return m, true
		}
	}
	return "", false
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	n := float64(len(s))
	var entropy float64
	for _, c := range counts {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}
