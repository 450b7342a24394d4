package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/misty-step/foxglove/internal/lib"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type exitError struct {
	Code int
	Err  error
}

func (e *exitError) Error() string {
	if e == nil || e.Err == nil {
		return "command failed"
	}
	return e.Err.Error()
}

func (e *exitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func main() {
	root := &cobra.Command{
		Use:           "fox",
		Short:         "Foxglove — ephemeral feature VMs and agent spikes",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.AddCommand(
		newVersionCmd(),
		newFeatureCmd(),
		newSpikeCmd(),
		newCleanCmd(),
		newDestroyCmd(),
		newStatusCmd(),
	)

	if err := root.Execute(); err != nil {
		if errors.Is(err, lib.ErrCancelled) {
			_, _ = fmt.Fprintln(os.Stderr, "operation cancelled")
			os.Exit(0)
		}
		var coded *exitError
		if errors.As(err, &coded) {
			if coded.Err != nil {
				_, _ = fmt.Fprintln(os.Stderr, coded.Err)
			}
			os.Exit(coded.Code)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print fox version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "fox %s (%s, %s)\n", version, commit, date)
			return err
		},
	}
}
