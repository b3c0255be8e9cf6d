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

func newBatchCommand(app *appContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Inspect and cancel Provider batches",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status <batch-id>",
		Short: "Fetch a batch's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := app.build(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()

			status, err := built.Client.GetBatch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], status.Status)
			if status.OutputFileID != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "output file: "+status.OutputFileID)
			}
			if status.ErrorFileID != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "error file: "+status.ErrorFileID)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Request cancellation of an in-flight batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := app.build(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()
			return built.Client.CancelBatch(cmd.Context(), args[0])
		},
	})

	return cmd
}

func newModelsCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models the Provider exposes",
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := app.build(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()

			models, err := built.Client.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range models {
				fmt.Fprintln(cmd.OutOrStdout(), m.ID)
			}
			return nil
		},
	}
}
