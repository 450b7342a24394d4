// Package teardown deletes the resources behind a feature VM or a whole
// project: backend environment, remote branch, machine, local record. Steps
// are isolated so one failure never blocks the rest; whatever could not be
// deleted is reported with the exact command to finish the job by hand.
package teardown

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/misty-step/foxglove/internal/config"
	"github.com/misty-step/foxglove/internal/lib"
	"github.com/misty-step/foxglove/internal/provider"
	"github.com/misty-step/foxglove/internal/remote"
	"github.com/misty-step/foxglove/internal/store"
)

// StepResult is one isolated teardown step. Manual holds the command to run
// by hand when the step failed.
type StepResult struct {
	Name   string
	Err    error
	Manual string
}

// Summary reports every attempted step of one teardown.
type Summary struct {
	Target string
	Steps  []StepResult
	Notes  []string // resources deliberately left in place
}

// Failed returns the steps that did not complete.
func (s Summary) Failed() []StepResult {
	var failed []StepResult
	for _, step := range s.Steps {
		if step.Err != nil {
			failed = append(failed, step)
		}
	}
	return failed
}

// Clean reports whether every step completed and nothing was left behind.
func (s Summary) Clean() bool {
	return len(s.Failed()) == 0 && len(s.Notes) == 0
}

// Service is the teardown controller.
type Service struct {
	Logger  *slog.Logger
	Store   *store.Store
	Gateway remote.Gateway
	VMs     provider.VMProvider
	Backend provider.BackendProvider
	Config  config.Config
}

func NewService(logger *slog.Logger, st *store.Store, gateway remote.Gateway, vms provider.VMProvider, backend provider.BackendProvider, cfg config.Config) *Service {
	return &Service{
		Logger:  logger,
		Store:   st,
		Gateway: gateway,
		VMs:     vms,
		Backend: backend,
		Config:  cfg,
	}
}

// CleanVM tears down one feature VM: backend environment, remote branch, the
// machine itself, then the local record. The record is removed even when
// earlier steps fail, so stale entries never accumulate; the summary carries
// the manual commands for anything left behind.
func (s *Service) CleanVM(ctx context.Context, name string) (Summary, error) {
	vm, err := s.Store.VM(name)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Target: vm.Name}
	run := func(stepName, manual string, fn func() error) {
		err := fn()
		if err != nil && s.Logger != nil {
			s.Logger.WarnContext(ctx, "teardown step failed", "vm", vm.Name, "step", stepName, "error", err)
		}
		summary.Steps = append(summary.Steps, StepResult{Name: stepName, Err: err, Manual: manual})
	}

	if id := vm.Backend.IDs["branch"]; id != "" {
		run("delete backend environment",
			fmt.Sprintf("%s branches delete %s --force", s.Config.Backend.Bin, id),
			func() error { return s.Backend.DeleteIsolatedEnvironment(ctx, id) })
	}

	if vm.Branch != "" {
		run("delete remote branch",
			fmt.Sprintf("git push origin --delete %s", vm.Branch),
			func() error { return s.deleteRemoteBranch(ctx, vm) })
	}

	run("destroy VM",
		fmt.Sprintf("%s machines destroy %s --force", s.Config.VM.ProviderBin, vm.Name),
		func() error { return s.VMs.Remove(ctx, vm.Name) })

	run("remove local record",
		fmt.Sprintf("fox clean %s --project %s", vm.Name, vm.Project),
		func() error { return s.Store.RemoveVM(vm.Name) })

	return summary, nil
}

// DestroyProject removes a project record. It refuses outright while any
// feature VM still references the project; those are listed, never
// auto-deleted. Backend resources registered at the project level are left
// in place and reported as manual cleanup.
func (s *Service) DestroyProject(ctx context.Context, name string) (Summary, error) {
	project, err := s.Store.Project(name)
	if err != nil {
		return Summary{}, err
	}
	vms, err := s.Store.ProjectVMs(name)
	if err != nil {
		return Summary{}, err
	}
	if len(vms) > 0 {
		names := make([]string, 0, len(vms))
		for _, vm := range vms {
			names = append(names, vm.Name)
		}
		return Summary{}, fmt.Errorf("project %q still has feature VMs: %s; run fox clean on each first",
			name, strings.Join(names, ", "))
	}

	summary := Summary{Target: project.Name}
	kinds := make([]string, 0, len(project.Backend.IDs))
	for kind := range project.Backend.IDs {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		id := project.Backend.IDs[kind]
		summary.Notes = append(summary.Notes, fmt.Sprintf("%s %s %q left in place; remove with: %s %ss delete %s --force",
			project.Backend.Provider, kind, id, s.Config.Backend.Bin, kind, id))
	}

	removeErr := s.Store.RemoveProject(project.Name)
	if removeErr != nil && s.Logger != nil {
		s.Logger.WarnContext(ctx, "teardown step failed", "project", project.Name, "step", "remove project record", "error", removeErr)
	}
	summary.Steps = append(summary.Steps, StepResult{
		Name:   "remove project record",
		Err:    removeErr,
		Manual: fmt.Sprintf("fox destroy %s", project.Name),
	})
	return summary, nil
}

func (s *Service) deleteRemoteBranch(ctx context.Context, vm store.VMRecord) error {
	repo := path.Join(lib.DefaultWorkspace, "repo")
	cmd := fmt.Sprintf("cd %s && git push origin --delete %s", lib.Quote(repo), lib.Quote(vm.Branch))
	_, err := s.Gateway.Exec(ctx, vm.SSHHost, cmd, remote.ExecOpts{})
	return err
}
