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

// Package log configures the process-wide structured logger. Run
// artifacts have their own logger (internal/runlog); this one carries
// the ambient operational stream to stderr.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the handler encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config holds the logging configuration.
type Config struct {
	// Level is the minimum level: debug, info, warn, error. Default info.
	Level string

	// Format is json or text. Default text (this is a desktop tool; the
	// operational stream is read by a human unless redirected).
	Format Format

	// Output defaults to os.Stderr.
	Output io.Writer

	// AddSource adds source file:line to every record.
	AddSource bool
}

// FromEnv builds a Config from AEGIS_DEBUG, AEGIS_LOG_LEVEL, and
// AEGIS_LOG_FORMAT.
func FromEnv() *Config {
	cfg := &Config{Level: "info", Format: FormatText, Output: os.Stderr}

	if v := os.Getenv("AEGIS_DEBUG"); v == "1" || v == "true" {
		cfg.Level = "debug"
		cfg.AddSource = true
	} else if v := os.Getenv("AEGIS_LOG_LEVEL"); v != "" {
		cfg.Level = strings.ToLower(v)
	}
	if v := os.Getenv("AEGIS_LOG_FORMAT"); v != "" {
		cfg.Format = Format(strings.ToLower(v))
	}
	return cfg
}

// New creates a structured logger from cfg.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = FromEnv()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.Format == FormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun scopes a logger to one run's id.
func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With(slog.String("run_id", runID))
}

// WithComponent names the subsystem a record came from.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}
