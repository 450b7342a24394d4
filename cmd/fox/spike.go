package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/misty-step/foxglove/internal/spike"
)

type spikeOptions struct {
	Project    string
	Prompt     string
	ContinueVM string
	Wait       bool
	TimeoutMin int
	JSON       bool
}

type spikeDeps struct {
	start  func(ctx context.Context, feature, project, prompt string, opts spike.Opts, out io.Writer) (spike.RunResult, error)
	resume func(ctx context.Context, vmName, prompt string, opts spike.Opts, out io.Writer) (spike.RunResult, error)
}

func defaultSpikeDeps() spikeDeps {
	return spikeDeps{
		start: func(ctx context.Context, feature, project, prompt string, opts spike.Opts, out io.Writer) (spike.RunResult, error) {
			a, err := buildApp(out)
			if err != nil {
				return spike.RunResult{}, err
			}
			return a.Spike.Start(ctx, feature, project, prompt, opts)
		},
		resume: func(ctx context.Context, vmName, prompt string, opts spike.Opts, out io.Writer) (spike.RunResult, error) {
			a, err := buildApp(out)
			if err != nil {
				return spike.RunResult{}, err
			}
			return a.Spike.Continue(ctx, vmName, prompt, opts)
		},
	}
}

func newSpikeCmd() *cobra.Command {
	return newSpikeCmdWithDeps(defaultSpikeDeps())
}

func newSpikeCmdWithDeps(deps spikeDeps) *cobra.Command {
	var opts spikeOptions

	command := &cobra.Command{
		Use:   "spike <name>",
		Short: "Run an unattended agent session on a feature VM",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Prompt == "" {
				return errors.New("--prompt is required")
			}

			runOpts := spike.Opts{
				Wait:    opts.Wait,
				Timeout: time.Duration(opts.TimeoutMin) * time.Minute,
			}
			out := cmd.OutOrStdout()

			var result spike.RunResult
			var err error
			switch {
			case opts.ContinueVM != "":
				result, err = deps.resume(cmd.Context(), opts.ContinueVM, opts.Prompt, runOpts, out)
			default:
				if len(args) != 1 {
					return errors.New("exactly one spike name is required")
				}
				if opts.Project == "" {
					return errors.New("--project is required")
				}
				result, err = deps.start(cmd.Context(), args[0], opts.Project, opts.Prompt, runOpts, out)
			}

			// A failed run still carries a reportable result; print it
			// before surfacing the error.
			if result.VM != "" || result.Outcome != "" {
				if printErr := printSpikeResult(out, result, opts.JSON); printErr != nil && err == nil {
					err = printErr
				}
			}
			return err
		},
	}

	command.Flags().StringVarP(&opts.Project, "project", "p", "", "project the spike belongs to")
	command.Flags().StringVar(&opts.Prompt, "prompt", "", "task prompt for the agent")
	command.Flags().StringVar(&opts.ContinueVM, "continue", "", "resume a completed spike on this VM")
	command.Flags().BoolVar(&opts.Wait, "wait", false, "block until the agent finishes")
	command.Flags().IntVar(&opts.TimeoutMin, "timeout", 0, "completion timeout in minutes (0 selects the mode default)")
	command.Flags().BoolVar(&opts.JSON, "json", false, "emit the result as JSON")
	return command
}

func printSpikeResult(out io.Writer, result spike.RunResult, asJSON bool) error {
	if asJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	fmt.Fprintf(out, "\nspike %s on %s (iteration %d)\n", result.Outcome, result.VM, result.Iterations)
	if result.ReviewURL != "" {
		fmt.Fprintf(out, "  review:  %s\n", result.ReviewURL)
	}
	if result.Cost.TotalUSD > 0 {
		fmt.Fprintf(out, "  cost:    $%.2f (%d in / %d out tokens)\n",
			result.Cost.TotalUSD, result.Cost.InputTokens, result.Cost.OutputTokens)
	}
	if result.Error != "" {
		fmt.Fprintf(out, "  error:   %s\n", result.Error)
	}
	if len(result.Monitor) > 0 {
		fmt.Fprintln(out, "  monitor:")
		for _, cmd := range result.Monitor {
			fmt.Fprintf(out, "    %s\n", cmd)
		}
	}
	return nil
}
