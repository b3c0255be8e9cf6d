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
)

func newRunsCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List known runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := app.build(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()

			runs, err := built.Supervisor.ListRuns()
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}
			for _, r := range runs {
				line := fmt.Sprintf("%-28s %-10s %-18s %s",
					r.RunID, r.Mode, r.Status, r.UpdatedAt.Local().Format("02.01.2006 15:04"))
				style := stepStyle()
				switch r.Status {
				case "DONE":
					style = successStyle()
				case "FAILED", "CANCELLED":
					style = errorStyle()
				}
				fmt.Fprintln(cmd.OutOrStdout(), render(app.plain, style, line))
			}
			return nil
		},
	}
}

func newResumeCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a run whose last persisted state is non-terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := app.build(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()

			handle, err := built.Supervisor.Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), render(app.plain, dimStyle(), "resuming "+handle.RunID))
			return app.followRun(cmd.Context(), built, handle)
		},
	}
}
