package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/misty-step/foxglove/internal/provision"
)

type featureOptions struct {
	Project string
}

type featureDeps struct {
	provision func(ctx context.Context, project, feature string, out io.Writer) (provision.Result, error)
}

func defaultFeatureDeps() featureDeps {
	return featureDeps{
		provision: func(ctx context.Context, project, feature string, out io.Writer) (provision.Result, error) {
			a, err := buildApp(out)
			if err != nil {
				return provision.Result{}, err
			}
			return a.Provisioner.Provision(ctx, provision.Request{Project: project, Feature: feature})
		},
	}
}

func newFeatureCmd() *cobra.Command {
	return newFeatureCmdWithDeps(defaultFeatureDeps())
}

func newFeatureCmdWithDeps(deps featureDeps) *cobra.Command {
	var opts featureOptions

	command := &cobra.Command{
		Use:   "feature <name>",
		Short: "Provision a feature VM with a branch and isolated backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("exactly one feature name is required")
			}
			if opts.Project == "" {
				return errors.New("--project is required")
			}

			out := cmd.OutOrStdout()
			result, err := deps.provision(cmd.Context(), opts.Project, args[0], out)
			if err != nil {
				return err
			}

			vm := result.VM
			fmt.Fprintf(out, "\nVM %s is ready\n", vm.Name)
			fmt.Fprintf(out, "  branch:  %s\n", vm.Branch)
			if vm.Backend.URL != "" {
				fmt.Fprintf(out, "  backend: %s (%s)\n", vm.Backend.Provider, vm.Backend.URL)
			}
			fmt.Fprintf(out, "  connect: ssh dev@%s\n", vm.SSHHost)
			for _, warning := range result.Warnings {
				fmt.Fprintf(out, "warning: %s\n", warning)
			}
			return nil
		},
	}

	command.Flags().StringVarP(&opts.Project, "project", "p", "", "project the feature belongs to")
	return command
}
