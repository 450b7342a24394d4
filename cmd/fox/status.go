package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/misty-step/foxglove/internal/store"
)

type statusDeps struct {
	vms func() ([]store.VMRecord, error)
	vm  func(name string) (store.VMRecord, error)
}

func defaultStatusDeps() statusDeps {
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

	return statusDeps{
		vms: func() ([]store.VMRecord, error) {
			a, err := getApp()
			if err != nil {
				return nil, err
			}
			return a.Store.VMs()
		},
		vm: func(name string) (store.VMRecord, error) {
			a, err := getApp()
			if err != nil {
				return store.VMRecord{}, err
			}
			return a.Store.VM(name)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return newStatusCmdWithDeps(defaultStatusDeps())
}

func newStatusCmdWithDeps(deps statusDeps) *cobra.Command {
	var asJSON bool

	command := &cobra.Command{
		Use:   "status [vm-name]",
		Short: "Show provisioned VMs and their spike state",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch len(args) {
			case 0:
				vms, err := deps.vms()
				if err != nil {
					return err
				}
				if asJSON {
					return encodeJSON(out, vms)
				}
				if len(vms) == 0 {
					fmt.Fprintln(out, "no VMs provisioned")
					return nil
				}
				printVMTable(out, vms)
				return nil
			case 1:
				vm, err := deps.vm(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return encodeJSON(out, vm)
				}
				printVMDetail(out, vm)
				return nil
			default:
				return errors.New("at most one VM name is allowed")
			}
		},
	}

	command.Flags().BoolVar(&asJSON, "json", false, "emit records as JSON")
	return command
}

func encodeJSON(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printVMTable(out io.Writer, vms []store.VMRecord) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPROJECT\tFEATURE\tSPIKE\tITER\tCOST")
	for _, vm := range vms {
		spikeStatus := string(vm.SpikeStatus)
		if spikeStatus == "" {
			spikeStatus = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t$%.2f\n",
			vm.Name, vm.Project, vm.Feature, spikeStatus, vm.SpikeIterations, vm.Cost.TotalUSD)
	}
	_ = w.Flush()
}

func printVMDetail(out io.Writer, vm store.VMRecord) {
	fmt.Fprintf(out, "%s (%s)\n", vm.Name, vm.SSHHost)
	fmt.Fprintf(out, "  project:  %s\n", vm.Project)
	fmt.Fprintf(out, "  feature:  %s\n", vm.Feature)
	fmt.Fprintf(out, "  branch:   %s\n", vm.Branch)
	fmt.Fprintf(out, "  created:  %s\n", vm.CreatedAt.Format("2006-01-02 15:04 MST"))
	if vm.SpikeStatus != store.SpikeStatusNone {
		fmt.Fprintf(out, "  spike:    %s (iteration %d)\n", vm.SpikeStatus, vm.SpikeIterations)
		fmt.Fprintf(out, "  cost:     $%.2f (%d in / %d out tokens)\n",
			vm.Cost.TotalUSD, vm.Cost.InputTokens, vm.Cost.OutputTokens)
	}
	if vm.ReviewURL != "" {
		fmt.Fprintf(out, "  review:   %s\n", vm.ReviewURL)
	}
	if vm.Backend.Provider != "" {
		fmt.Fprintf(out, "  backend:  %s", vm.Backend.Provider)
		if id := vm.Backend.IDs["branch"]; id != "" {
			fmt.Fprintf(out, " environment %s", id)
		}
		fmt.Fprintln(out)
	}
}
