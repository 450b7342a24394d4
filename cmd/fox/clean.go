package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/misty-step/foxglove/internal/confirm"
	"github.com/misty-step/foxglove/internal/store"
	"github.com/misty-step/foxglove/internal/teardown"
)

type cleanOptions struct {
	Project string
	Force   bool
	DryRun  bool
	Token   string
}

type cleanDeps struct {
	gate        func() (*confirm.Gate, error)
	vm          func(name string) (store.VMRecord, error)
	clean       func(ctx context.Context, name string) (teardown.Summary, error)
	interactive func() bool
}

func defaultCleanDeps() cleanDeps {
	var cached *app
	getApp := func() (*app, error) {
		if cached != nil {
			return cached, nil
		}
		a, err := buildApp(os.Stdout)
		if err != nil {
			return nil, err
		}
		cached = a
		return a, nil
	}

	return cleanDeps{
		gate: func() (*confirm.Gate, error) {
			a, err := getApp()
			if err != nil {
				return nil, err
			}
			return a.Gate, nil
		},
		vm: func(name string) (store.VMRecord, error) {
			a, err := getApp()
			if err != nil {
				return store.VMRecord{}, err
			}
			return a.Store.VM(name)
		},
		clean: func(ctx context.Context, name string) (teardown.Summary, error) {
			a, err := getApp()
			if err != nil {
				return teardown.Summary{}, err
			}
			return a.Teardown.CleanVM(ctx, name)
		},
		interactive: stdinIsInteractive,
	}
}

func newCleanCmd() *cobra.Command {
	return newCleanCmdWithDeps(defaultCleanDeps())
}

func newCleanCmdWithDeps(deps cleanDeps) *cobra.Command {
	var opts cleanOptions

	command := &cobra.Command{
		Use:   "clean <vm-name>",
		Short: "Tear down a feature VM and its branch-scoped resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("exactly one VM name is required")
			}
			if opts.Project == "" {
				return errors.New("--project is required")
			}
			name := args[0]
			out := cmd.OutOrStdout()

			vm, err := deps.vm(name)
			if err != nil {
				return err
			}

			gate, err := deps.gate()
			if err != nil {
				return err
			}
			decision, err := gate.Require(confirm.Request{
				Command: "clean " + name,
				Args:    map[string]string{"project": opts.Project},
				Summary: fmt.Sprintf("delete VM %q, branch %s, and its backend environment", name, vm.Branch),
				Details: func(w io.Writer) {
					fmt.Fprintf(w, "  VM:      %s (%s)\n", vm.Name, vm.SSHHost)
					fmt.Fprintf(w, "  branch:  %s\n", vm.Branch)
					if id := vm.Backend.IDs["branch"]; id != "" {
						fmt.Fprintf(w, "  backend: %s environment %s\n", vm.Backend.Provider, id)
					}
				},
				DryRun:      opts.DryRun,
				Token:       opts.Token,
				Force:       opts.Force,
				Interactive: deps.interactive(),
				Out:         out,
			})
			if err != nil {
				return err
			}
			if !decision.Proceed {
				return nil
			}
			if decision.Prompt != "" {
				fmt.Fprintf(out, "approved with note: %s\n", decision.Prompt)
			}

			summary, err := deps.clean(cmd.Context(), name)
			if err != nil {
				return err
			}
			printTeardownSummary(out, summary)
			return nil
		},
	}

	command.Flags().StringVarP(&opts.Project, "project", "p", "", "project the VM belongs to")
	command.Flags().BoolVar(&opts.Force, "force", false, "skip the confirmation token (interactive terminals only)")
	command.Flags().BoolVar(&opts.DryRun, "dry-run", false, "show what would be deleted and issue a confirmation token")
	command.Flags().StringVar(&opts.Token, "confirm", "", "confirmation token from a prior --dry-run")
	return command
}

func printTeardownSummary(out io.Writer, summary teardown.Summary) {
	for _, step := range summary.Steps {
		if step.Err != nil {
			fmt.Fprintf(out, "  %-28s failed: %v\n", step.Name, step.Err)
			continue
		}
		fmt.Fprintf(out, "  %-28s done\n", step.Name)
	}
	failed := summary.Failed()
	if len(failed) > 0 {
		fmt.Fprintln(out, "\nfinish cleanup by hand:")
		for _, step := range failed {
			if step.Manual != "" {
				fmt.Fprintf(out, "  %s\n", step.Manual)
			}
		}
	}
	for _, note := range summary.Notes {
		fmt.Fprintf(out, "note: %s\n", note)
	}
	if summary.Clean() {
		fmt.Fprintf(out, "%s cleaned up\n", summary.Target)
	}
}
