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
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// isTTY reports whether stdout should carry styled output. NO_COLOR and
// a dumb TERM both disable styling, matching common CLI conventions.
func isTTY() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if t := os.Getenv("TERM"); t == "dumb" || t == "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

var (
	stepColor    = lipgloss.Color("12")
	successColor = lipgloss.Color("10")
	failColor    = lipgloss.Color("9")
	dimColor     = lipgloss.Color("8")
)

func stepStyle() lipgloss.Style    { return lipgloss.NewStyle().Foreground(stepColor).Bold(true) }
func successStyle() lipgloss.Style { return lipgloss.NewStyle().Foreground(successColor) }
func errorStyle() lipgloss.Style   { return lipgloss.NewStyle().Foreground(failColor).Bold(true) }
func dimStyle() lipgloss.Style     { return lipgloss.NewStyle().Foreground(dimColor) }

// render applies style only on a real terminal (and never with --plain).
func render(plain bool, style lipgloss.Style, s string) string {
	if plain || !isTTY() {
		return s
	}
	return style.Render(s)
}
