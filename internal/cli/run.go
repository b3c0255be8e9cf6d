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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/karelmartinek-a11y/aegis-cascade/internal/cascade"
	"github.com/karelmartinek-a11y/aegis-cascade/internal/supervisor"
)

func newRunCommand(app *appContext) *cobra.Command {
	var (
		mode        string
		project     string
		model       string
		prompt      string
		promptFile  string
		inputRoot   string
		outputRoot  string
		dryRun      bool
		versioning  bool
		concurrency int
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a cascade (generate, modify, qa) or batch run",
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := app.build(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()

			if interactive {
				if err := runForm(&mode, &project, &model, &prompt, &inputRoot, &outputRoot, &dryRun, &versioning); err != nil {
					return err
				}
			}
			if promptFile != "" {
				data, err := os.ReadFile(promptFile)
				if err != nil {
					return err
				}
				prompt = string(data)
			}

			req := supervisor.StartRequest{
				Mode:       cascade.Mode(mode),
				Project:    project,
				Model:      model,
				Prompt:     prompt,
				InputRoot:  inputRoot,
				OutputRoot: outputRoot,
				DryRun:     dryRun,
				Versioning: versioning,

				// Optimistic defaults; the capability cache/probe
				// overrides them before the run starts.
				SupportsChaining:    true,
				SupportsTemperature: true,
				SupportsFileSearch:  true,

				MaxConcurrency: concurrency,
			}

			handle, err := built.Supervisor.Start(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), render(app.plain, dimStyle(), "run "+handle.RunID))

			return app.followRun(cmd.Context(), built, handle)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "generate", "Run mode: generate, modify, qa, batch")
	cmd.Flags().StringVar(&project, "project", "", "Project name (used in vector store and receipt records)")
	cmd.Flags().StringVar(&model, "model", "", "Provider model id")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompt text")
	cmd.Flags().StringVar(&promptFile, "prompt-file", "", "Read the prompt from a file")
	cmd.Flags().StringVar(&inputRoot, "in", "", "Input root to mirror (modify mode)")
	cmd.Flags().StringVar(&outputRoot, "out", "", "Output root to write files under")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Modify mode: halt after planning with the touched-file list")
	cmd.Flags().BoolVar(&versioning, "versioning", false, "Snapshot the output tree before the first write")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Max concurrent per-file chunk loops (default 4)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Configure the run through an interactive form")
	return cmd
}

// runForm collects the run parameters interactively.
func runForm(mode, project, model, prompt, inputRoot, outputRoot *string, dryRun, versioning *bool) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Mode").
				Options(
					huh.NewOption("Generate a project from scratch", "generate"),
					huh.NewOption("Modify an existing tree", "modify"),
					huh.NewOption("QA (text only)", "qa"),
					huh.NewOption("Batch (async, single C request)", "batch"),
				).
				Value(mode),
			huh.NewInput().Title("Project name").Value(project),
			huh.NewInput().Title("Model id").Value(model),
			huh.NewText().Title("Prompt").Value(prompt),
		),
		huh.NewGroup(
			huh.NewInput().Title("Input root (modify only)").Value(inputRoot),
			huh.NewInput().Title("Output root").Value(outputRoot),
			huh.NewConfirm().Title("Dry run (halt after planning)?").Value(dryRun),
			huh.NewConfirm().Title("Versioning snapshot before first write?").Value(versioning),
		),
	).Run()
}

// followRun streams events to the terminal until the run terminates,
// prompting for the explicit continue signal on a dry-run halt. Ctrl-C
// cancels cooperatively and waits for the terminal state.
func (a *appContext) followRun(ctx context.Context, built *builtApp, handle supervisor.RunHandle) error {
	events, unsub, err := built.Supervisor.Events(handle)
	if err != nil {
		return err
	}
	defer unsub()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	// askContinue handles the dry-run halt: confirm, then either send
	// the continue signal or leave the run halted for a later
	// `aegis continue`.
	prompted := false
	askContinue := func() (stop bool, err error) {
		if prompted {
			return false, nil
		}
		prompted = true
		proceed := false
		prompt := &survey.Confirm{Message: "Dry-run halt: apply the planned changes?"}
		if err := survey.AskOne(prompt, &proceed); err != nil {
			return true, err
		}
		if !proceed {
			fmt.Println(render(a.plain, dimStyle(),
				"left halted; `aegis continue "+handle.RunID+"` applies the changes later"))
			return true, nil
		}
		return false, built.Supervisor.ContinueDryRun(ctx, handle)
	}

	// The subscription races the run's first events; the ticker catches
	// a state whose event fired before we subscribed.
	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-sigs:
			fmt.Println(render(a.plain, dimStyle(), "cancelling..."))
			built.Supervisor.Cancel(handle)
		case <-poll.C:
			status, err := built.Supervisor.Status(handle)
			if err != nil {
				return err
			}
			switch status {
			case "done":
				return nil
			case "failed":
				return fmt.Errorf("run %s failed; see LOG/%s", handle.RunID, handle.RunID)
			case "cancelled":
				return fmt.Errorf("run %s cancelled", handle.RunID)
			case "awaiting_continue":
				if stop, err := askContinue(); stop || err != nil {
					return err
				}
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			a.printEvent(ev)

			switch ev.Kind {
			case "done":
				return nil
			case "failed":
				return fmt.Errorf("run %s failed: %s", handle.RunID, ev.Message)
			case "cancelled":
				return fmt.Errorf("run %s cancelled", handle.RunID)
			case "awaiting_continue":
				if stop, err := askContinue(); stop || err != nil {
					return err
				}
			}
		}
	}
}

func (a *appContext) printEvent(ev supervisor.RunEvent) {
	label := fmt.Sprintf("[%3d%%] %s", ev.Percent, ev.Step)
	switch ev.Kind {
	case "done":
		fmt.Printf("%s %s\n", render(a.plain, successStyle(), label), ev.Message)
	case "failed", "cancelled", "stall_warning":
		fmt.Printf("%s %s\n", render(a.plain, errorStyle(), label), ev.Message)
	default:
		fmt.Printf("%s %s\n", render(a.plain, stepStyle(), label), ev.Message)
	}
}

func newContinueCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "continue <run-id>",
		Short: "Send the continue signal to a dry-run halted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := app.build(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()
			return built.Supervisor.ContinueDryRun(cmd.Context(), supervisor.RunHandle{RunID: args[0]})
		},
	}
}

func newCancelCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cooperatively cancel an in-flight run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			built, err := app.build(cmd.Context())
			if err != nil {
				return err
			}
			defer built.Close()
			return built.Supervisor.Cancel(supervisor.RunHandle{RunID: args[0]})
		},
	}
}
