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

// Package cli assembles the headless Run API into a cobra command tree.
// The CLI is one consumer of the core; a GUI would drive the same
// supervisor surface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the aegis command tree.
func NewRootCommand(version string) *cobra.Command {
	app := &appContext{version: version}

	cmd := &cobra.Command{
		Use:   "aegis",
		Short: "Aegis Cascade - cascade orchestrator for a Responses-style Provider",
		Long: `Aegis Cascade mirrors a local input tree into a remote text-generation
Provider, drives a multi-step cascade of chained requests, reconstructs
files from strictly-formatted JSON responses, and records per-run
artifacts and cost receipts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.baseDir, "base-dir", ".", "Workspace root for LOG/, receipts, and the capability cache")
	flags.StringVar(&app.providerURL, "provider-url", "", "Provider API base URL (default $AEGIS_PROVIDER_BASE_URL)")
	flags.StringVar(&app.pricingPath, "pricing", "", "Path to the pricing table (yaml or json)")
	flags.StringVar(&app.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	flags.StringVar(&app.traceExporter, "trace-exporter", "none", "Span exporter: none, console, otlp, otlp-http")
	flags.StringVar(&app.traceEndpoint, "trace-endpoint", "", "OTLP receiver endpoint")
	flags.BoolVar(&app.plain, "plain", false, "Disable styled terminal output")

	cmd.AddCommand(
		newRunCommand(app),
		newResumeCommand(app),
		newRunsCommand(app),
		newContinueCommand(app),
		newCancelCommand(app),
		newReceiptsCommand(app),
		newBatchCommand(app),
		newCapabilitiesCommand(app),
		newModelsCommand(app),
		newFilesCommand(app),
		newVectorStoresCommand(app),
		newVersionCommand(app),
	)
	return cmd
}

// Execute runs the CLI and exits non-zero on error.
func Execute(version string) {
	if err := NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle().Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func newVersionCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "aegis "+app.version)
		},
	}
}
