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
)

func newFilesCommand(app *appContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List or delete files held by the Provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := app.build(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()

			files, err := built.Client.ListFiles(cmd.Context())
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no provider files")
				return nil
			}
			for _, f := range files {
				created := time.Unix(f.CreatedAt, 0).UTC().Format("2006-01-02 15:04")
				fmt.Fprintf(cmd.OutOrStdout(), "%-32s %-12s %10d bytes  %s\n", f.FileID, f.Purpose, f.Bytes, created)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <file-id>",
		Short: "Delete a Provider file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := app.build(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()
			return built.Client.DeleteFile(cmd.Context(), args[0])
		},
	})

	return cmd
}

func newVectorStoresCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "vector-stores",
		Short: "List the Provider's vector stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := app.build(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()

			stores, err := built.Client.ListVectorStores(cmd.Context())
			if err != nil {
				return err
			}
			if len(stores) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no vector stores")
				return nil
			}
			for _, vs := range stores {
				fmt.Fprintf(cmd.OutOrStdout(), "%-32s %s\n", vs.ID, vs.Name)
			}
			return nil
		},
	}
}
