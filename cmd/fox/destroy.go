package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/misty-step/foxglove/internal/confirm"
	"github.com/misty-step/foxglove/internal/lib"
	"github.com/misty-step/foxglove/internal/teardown"
)

type destroyOptions struct {
	Force  bool
	DryRun bool
	Token  string
}

type destroyDeps struct {
	gate        func() (*confirm.Gate, error)
	destroy     func(ctx context.Context, name string) (teardown.Summary, error)
	interactive func() bool
}

func defaultDestroyDeps() destroyDeps {
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

	return destroyDeps{
		gate: func() (*confirm.Gate, error) {
			a, err := getApp()
			if err != nil {
				return nil, err
			}
			return a.Gate, nil
		},
		destroy: func(ctx context.Context, name string) (teardown.Summary, error) {
			a, err := getApp()
			if err != nil {
				return teardown.Summary{}, err
			}
			return a.Teardown.DestroyProject(ctx, name)
		},
		interactive: stdinIsInteractive,
	}
}

func newDestroyCmd() *cobra.Command {
	return newDestroyCmdWithDeps(defaultDestroyDeps())
}

func newDestroyCmdWithDeps(deps destroyDeps) *cobra.Command {
	var opts destroyOptions

	command := &cobra.Command{
		Use:   "destroy <project>",
		Short: "Remove a project after all of its feature VMs are gone",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("exactly one project name is required")
			}
			name := args[0]
			out := cmd.OutOrStdout()

			switch {
			case opts.DryRun, opts.Token != "", opts.Force:
				gate, err := deps.gate()
				if err != nil {
					return err
				}
				decision, err := gate.Require(confirm.Request{
					Command:     "destroy " + name,
					Args:        map[string]string{"project": name},
					Summary:     fmt.Sprintf("remove project %q and forget its registration", name),
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
			case deps.interactive():
				confirmed, err := confirmTypedName(cmd, name)
				if err != nil {
					return err
				}
				if !confirmed {
					return lib.ErrCancelled
				}
			default:
				return fmt.Errorf("refusing to destroy %q without confirmation: re-run with --dry-run to obtain a token", name)
			}

			summary, err := deps.destroy(cmd.Context(), name)
			if err != nil {
				return err
			}
			printTeardownSummary(out, summary)
			return nil
		},
	}

	command.Flags().BoolVar(&opts.Force, "force", false, "skip the confirmation token (interactive terminals only)")
	command.Flags().BoolVar(&opts.DryRun, "dry-run", false, "issue a confirmation token without destroying anything")
	command.Flags().StringVar(&opts.Token, "confirm", "", "confirmation token from a prior --dry-run")
	return command
}

// confirmTypedName requires the exact project name typed back. Anything else,
// including EOF, declines.
func confirmTypedName(cmd *cobra.Command, name string) (bool, error) {
	fmt.Fprintf(cmd.OutOrStdout(), "Type the project name %q to confirm: ", name)
	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return false, err
		}
		return false, nil
	}
	return strings.TrimSpace(scanner.Text()) == name, nil
}
