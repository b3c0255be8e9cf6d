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
	"time"

	"github.com/spf13/cobra"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/receipts"
)

func newReceiptsCommand(app *appContext) *cobra.Command {
	var (
		runID   string
		model   string
		mode    string
		project string
		since   string
		until   string
	)

	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "Query the usage/cost receipt ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := app.build(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()

			filters := receipts.Filters{RunID: runID, Model: model, Mode: mode, Project: project}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("--since must be YYYY-MM-DD: %w", err)
				}
				filters.Since = &t
			}
			if until != "" {
				t, err := time.Parse("2006-01-02", until)
				if err != nil {
					return fmt.Errorf("--until must be YYYY-MM-DD: %w", err)
				}
				filters.Until = &t
			}

			rows, err := built.Receipts.Query(cmd.Context(), filters)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no receipts match")
				return nil
			}

			var totalCost float64
			var totalIn, totalOut int64
			for _, r := range rows {
				id := r.ResponseID
				if id == "" {
					id = r.BatchID
				}
				flag := ""
				if r.CostEstimated {
					flag = " (est)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-28s %-24s %-10s %8d in %8d out  $%.6f%s\n",
					r.RunID, id, r.StepKey, r.InputTokens, r.OutputTokens, r.CostUSD, flag)
				totalCost += r.CostUSD
				totalIn += r.InputTokens
				totalOut += r.OutputTokens
			}
			fmt.Fprintln(cmd.OutOrStdout(), render(app.plain, dimStyle(),
				fmt.Sprintf("%d receipts, %d in / %d out tokens, $%.6f total", len(rows), totalIn, totalOut, totalCost)))
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Filter by run id")
	cmd.Flags().StringVar(&model, "model", "", "Filter by model id")
	cmd.Flags().StringVar(&mode, "mode", "", "Filter by run mode")
	cmd.Flags().StringVar(&project, "project", "", "Filter by project")
	cmd.Flags().StringVar(&since, "since", "", "Only receipts on/after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&until, "until", "", "Only receipts on/before this date (YYYY-MM-DD)")
	return cmd
}
