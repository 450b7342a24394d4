// Package provision creates feature VMs: an ordered step sequence with a
// per-step fatal/best-effort policy and best-effort rollback of the created
// VM and backend resources when a fatal step fails.
package provision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/misty-step/foxglove/internal/config"
	"github.com/misty-step/foxglove/internal/lib"
	"github.com/misty-step/foxglove/internal/provider"
	"github.com/misty-step/foxglove/internal/remote"
	"github.com/misty-step/foxglove/internal/store"
)

// defaultInstallScript bootstraps the VM workspace when no custom script is
// present under the state root.
const defaultInstallScript = `#!/bin/bash
set -euo pipefail

REPO_URL="$1"
WORKSPACE="$2"

mkdir -p "$WORKSPACE"
cd "$WORKSPACE"
if [ ! -d repo/.git ]; then
  git clone "$REPO_URL" repo
fi
cd repo
git fetch origin

command -v node >/dev/null 2>&1 || sudo apt-get install -y nodejs npm
if [ -f package.json ]; then npm install; fi
echo INSTALL_OK
`

// PlatformProber checks that the VM platform is reachable before any
// resource is created.
type PlatformProber interface {
	PlatformProbe(ctx context.Context) error
}

// Service runs the provisioning sequence.
type Service struct {
	Logger  *slog.Logger
	Store   *store.Store
	Gateway remote.Gateway
	VMs     provider.VMProvider
	Backend provider.BackendProvider
	Creds   provider.CredentialSource
	Probe   PlatformProber
	Config  config.Config
	Paths   lib.Paths
	Out     io.Writer

	now   func() time.Time
	sleep func(time.Duration)
}

// Option customizes service dependencies, primarily for tests.
type Option func(*Service)

// WithClock overrides the time source and sleep used by readiness polling.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

func NewService(logger *slog.Logger, st *store.Store, gateway remote.Gateway, vms provider.VMProvider, backend provider.BackendProvider, creds provider.CredentialSource, probe PlatformProber, cfg config.Config, paths lib.Paths, out io.Writer, opts ...Option) *Service {
	s := &Service{
		Logger:  logger,
		Store:   st,
		Gateway: gateway,
		VMs:     vms,
		Backend: backend,
		Creds:   creds,
		Probe:   probe,
		Config:  cfg,
		Paths:   paths,
		Out:     out,
		now:     time.Now,
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request describes one provisioning run.
type Request struct {
	Project string
	Feature string
	// Launch starts the long-running work process, detached from the
	// session, after the VM record is persisted. Optional.
	Launch func(ctx context.Context, vm store.VMRecord) error
}

// Result reports the provisioned VM and any best-effort step warnings.
type Result struct {
	VM       store.VMRecord
	Warnings []string
}

// Provision runs the ordered sequence. A fatal failure after VM creation
// rolls back the VM and any isolated backend environment; rollback errors
// are logged, never returned. Best-effort failures never roll back.
func (s *Service) Provision(ctx context.Context, req Request) (Result, error) {
	if err := lib.ValidateName("feature", req.Feature); err != nil {
		return Result{}, err
	}

	project, err := s.Store.Project(req.Project)
	if err != nil {
		return Result{}, err
	}

	if err := s.probePlatform(ctx); err != nil {
		return Result{}, fmt.Errorf("platform unreachable: %w (check your network and provider status, then retry)", err)
	}

	if _, err := s.Creds.Resolve(ctx); err != nil {
		return Result{}, err
	}

	vm, err := s.VMs.Create(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("create VM: %w", err)
	}

	branch := "feature/" + req.Feature
	record := store.VMRecord{
		Name:    vm.Name,
		SSHHost: vm.SSHHost,
		Project: project.Name,
		Feature: req.Feature,
		Branch:  branch,
	}
	// Persist immediately so a crash mid-run leaves a recoverable record.
	if err := s.Store.PutVM(record); err != nil {
		s.rollback(ctx, vm, provider.IsolatedEnvironment{}, false)
		return Result{}, err
	}

	var env provider.IsolatedEnvironment
	backendCreated := false
	workspace := lib.DefaultWorkspace
	repoDir := path.Join(workspace, "repo")

	steps := []Step{
		{Name: "wait for VM", Policy: Fatal, Run: func(ctx context.Context) error {
			return remote.WaitReady(ctx, s.Gateway, vm.SSHHost, s.Config.ReadyTimeout(), 5*time.Second, s.now, s.sleep)
		}},
		{Name: "configure dev port", Policy: BestEffort, Run: func(ctx context.Context) error {
			return s.VMs.ConfigurePort(ctx, vm.Name, s.Config.VM.DevPort)
		}},
		{Name: "install tooling", Policy: Fatal, Run: func(ctx context.Context) error {
			return s.installTooling(ctx, vm.SSHHost, project.Repo, workspace)
		}},
		{Name: "create branch", Policy: Fatal, Run: func(ctx context.Context) error {
			cmd := fmt.Sprintf("cd %s && git checkout -B %s origin/HEAD", lib.Quote(repoDir), lib.Quote(branch))
			_, err := s.Gateway.Exec(ctx, vm.SSHHost, cmd, remote.ExecOpts{})
			return err
		}},
		{Name: "create backend environment", Policy: Fatal, Run: func(ctx context.Context) error {
			created, err := s.Backend.CreateIsolatedEnvironment(ctx, project.Name, branch)
			if err != nil {
				return err
			}
			env = created
			backendCreated = true
			return nil
		}},
		{Name: "seed backend environment", Policy: BestEffort, Run: func(ctx context.Context) error {
			return s.Backend.SeedEnvironment(ctx, env.IDs["branch"])
		}},
		{Name: "populate backend env vars", Policy: BestEffort, Run: func(ctx context.Context) error {
			return s.Backend.PopulateEnv(ctx, env, vm.SSHHost)
		}},
		{Name: "push branch", Policy: Fatal, Run: func(ctx context.Context) error {
			cmd := fmt.Sprintf("cd %s && git push -u origin %s", lib.Quote(repoDir), lib.Quote(branch))
			_, err := s.Gateway.Exec(ctx, vm.SSHHost, cmd, remote.ExecOpts{})
			return err
		}},
		{Name: "record backend resources", Policy: Fatal, Run: func(ctx context.Context) error {
			backend := store.Backend{Provider: s.Backend.Name(), IDs: env.IDs, URL: env.URL}
			updated, err := s.Store.UpdateVM(vm.Name, store.VMUpdate{Backend: &backend})
			if err != nil {
				return err
			}
			record = updated
			return nil
		}},
	}

	warnings, err := runSteps(ctx, s.Logger, steps)
	if err != nil {
		s.rollback(ctx, vm, env, backendCreated)
		return Result{Warnings: warnings}, err
	}

	if req.Launch != nil {
		// The record is already persisted: a crash here leaves the VM
		// recoverable by name.
		if err := req.Launch(ctx, record); err != nil {
			s.rollback(ctx, vm, env, backendCreated)
			return Result{Warnings: warnings}, fmt.Errorf("launch work process: %w", err)
		}
	}

	if s.Out != nil && len(warnings) > 0 {
		fmt.Fprintf(s.Out, "provisioned %s with %d warning(s)\n", vm.Name, len(warnings))
	}
	return Result{VM: record, Warnings: warnings}, nil
}

func (s *Service) probePlatform(ctx context.Context) error {
	if s.Probe == nil {
		return nil
	}
	return s.Probe.PlatformProbe(ctx)
}

// installTooling copies the install script (custom when present under the
// state root, built-in otherwise) and runs it with a generous timeout,
// streaming output.
func (s *Service) installTooling(ctx context.Context, host, repo, workspace string) error {
	scriptPath := s.Paths.BootstrapFile
	if _, err := os.Stat(scriptPath); err != nil {
		tmp, err := os.CreateTemp("", "fox-install-*.sh")
		if err != nil {
			return fmt.Errorf("create temp install script: %w", err)
		}
		defer func() { _ = os.Remove(tmp.Name()) }()
		if _, err := tmp.WriteString(defaultInstallScript); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write temp install script: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("flush temp install script: %w", err)
		}
		scriptPath = tmp.Name()
	}

	if err := s.Gateway.CopyFile(ctx, scriptPath, host, "/tmp/fox-install.sh"); err != nil {
		return err
	}

	repoURL := repo
	if !strings.Contains(repoURL, "://") && !strings.HasPrefix(repoURL, "git@") {
		repoURL = "https://github.com/" + repoURL + ".git"
	}
	cmd := fmt.Sprintf("bash /tmp/fox-install.sh %s %s", lib.Quote(repoURL), lib.Quote(workspace))
	result, err := s.Gateway.Exec(ctx, host, cmd, remote.ExecOpts{
		Timeout: s.Config.InstallTimeout(),
		Stream:  s.Out,
	})
	if err != nil {
		return err
	}
	if !strings.Contains(result.Stdout, "INSTALL_OK") {
		return fmt.Errorf("install script did not complete on %s", host)
	}
	return nil
}

// rollback deletes the created VM, any isolated backend environment, and the
// VM record. Failures are logged and swallowed: rollback must never mask the
// original error.
func (s *Service) rollback(ctx context.Context, vm provider.VM, env provider.IsolatedEnvironment, backendCreated bool) {
	if backendCreated {
		if err := s.Backend.DeleteIsolatedEnvironment(ctx, env.IDs["branch"]); err != nil && s.Logger != nil {
			s.Logger.WarnContext(ctx, "rollback: backend environment not deleted", "id", env.IDs["branch"], "error", err)
		}
	}
	if err := s.VMs.Remove(ctx, vm.Name); err != nil && s.Logger != nil {
		s.Logger.WarnContext(ctx, "rollback: VM not deleted", "vm", vm.Name, "error", err)
	}
	if err := s.Store.RemoveVM(vm.Name); err != nil && s.Logger != nil {
		s.Logger.WarnContext(ctx, "rollback: record not removed", "vm", vm.Name, "error", err)
	}
}
