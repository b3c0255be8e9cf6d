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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/capability"
)

func newCapabilitiesCommand(app *appContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Inspect or refresh per-model capability records",
	}

	var force bool
	probe := &cobra.Command{
		Use:   "probe <model>",
		Short: "Probe a model's optional features (chaining, temperature, file_search)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := app.build(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()

			rec, err := built.Prober.ProbeModel(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			printRecord(cmd, args[0], rec)
			return nil
		},
	}
	probe.Flags().BoolVar(&force, "force", false, "Ignore the cache TTL and re-probe")
	cmd.AddCommand(probe)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <model>",
		Short: "Show the cached capability record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := app.build(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()

			rec, found, stale := built.CapStore.Get(args[0])
			if !found {
				return fmt.Errorf("no cached record for %s; run `aegis capabilities probe %s`", args[0], args[0])
			}
			printRecord(cmd, args[0], rec)
			if stale {
				fmt.Fprintln(cmd.OutOrStdout(), render(app.plain, dimStyle(), "record is past its TTL; a run will re-probe"))
			}
			return nil
		},
	})

	return cmd
}

func printRecord(cmd *cobra.Command, model string, rec capability.Record) {
	yes := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n  previous_response: %s\n  temperature:       %s\n  file_search:       %s\n  probed_at:         %s\n",
		model, yes(rec.SupportsPreviousResponse), yes(rec.SupportsTemperature), yes(rec.SupportsFileSearch),
		rec.ProbedAt.Format("2006-01-02 15:04:05"))
}
