// Package provider wraps the VM provider and backend provider CLIs behind
// narrow interfaces. Orchestration code never sees provider payloads, only
// these results.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/misty-step/foxglove/internal/lib"
)

// VM is the result of creating one machine.
type VM struct {
	Name    string `json:"name"`
	SSHHost string `json:"ssh_host"`
}

// VMProvider creates and destroys ephemeral machines.
type VMProvider interface {
	Create(ctx context.Context) (VM, error)
	Remove(ctx context.Context, name string) error
	ConfigurePort(ctx context.Context, name string, port int) error
}

// IsolatedEnvironment is a branch-scoped backend resource set.
type IsolatedEnvironment struct {
	IDs       map[string]string `json:"ids"`
	DeployKey string            `json:"deploy_key,omitempty"`
	URL       string            `json:"url,omitempty"`
}

// BackendProvider manages branch-scoped backend resources. Only
// CreateIsolatedEnvironment and DeleteIsolatedEnvironment are load-bearing;
// Seed and PopulateEnv failures are treated as warnings by callers.
type BackendProvider interface {
	Name() string
	CreateIsolatedEnvironment(ctx context.Context, project, branch string) (IsolatedEnvironment, error)
	DeleteIsolatedEnvironment(ctx context.Context, id string) error
	SeedEnvironment(ctx context.Context, id string) error
	PopulateEnv(ctx context.Context, env IsolatedEnvironment, host string) error
}

// CLIVMProvider shells out to a machine-provider CLI that speaks JSON.
type CLIVMProvider struct {
	Runner lib.Runner
	Bin    string
	Image  string
	Region string
}

func NewCLIVMProvider(runner lib.Runner, binary string) *CLIVMProvider {
	if strings.TrimSpace(binary) == "" {
		binary = "fly"
	}
	return &CLIVMProvider{Runner: runner, Bin: binary}
}

type machineCreateResponse struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	SSHHost string `json:"ssh_host"`
	Host    string `json:"host"`
}

func (p *CLIVMProvider) Create(ctx context.Context) (VM, error) {
	args := []string{"machines", "create", "--json"}
	if p.Image != "" {
		args = append(args, "--image", p.Image)
	}
	if p.Region != "" {
		args = append(args, "--region", p.Region)
	}
	result, err := p.Runner.Run(ctx, lib.RunRequest{Cmd: p.Bin, Args: args})
	if err != nil {
		return VM{}, fmt.Errorf("create VM: %w", err)
	}

	var decoded machineCreateResponse
	if err := json.Unmarshal([]byte(result.Stdout), &decoded); err != nil {
		return VM{}, fmt.Errorf("decode VM create response: %w", err)
	}
	vm := VM{Name: decoded.Name, SSHHost: decoded.SSHHost}
	if vm.Name == "" {
		vm.Name = decoded.ID
	}
	if vm.SSHHost == "" {
		vm.SSHHost = decoded.Host
	}
	if vm.Name == "" || vm.SSHHost == "" {
		return VM{}, fmt.Errorf("VM create response missing name or ssh host: %q", strings.TrimSpace(result.Stdout))
	}
	return vm, nil
}

// PlatformProbe checks provider API reachability without creating anything.
func (p *CLIVMProvider) PlatformProbe(ctx context.Context) error {
	_, err := p.Runner.Run(ctx, lib.RunRequest{Cmd: p.Bin, Args: []string{"status"}})
	return err
}

func (p *CLIVMProvider) Remove(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return &lib.ValidationError{Field: "vm", Message: "name is required"}
	}
	_, err := p.Runner.Run(ctx, lib.RunRequest{Cmd: p.Bin, Args: []string{"machines", "destroy", name, "--force"}})
	return err
}

func (p *CLIVMProvider) ConfigurePort(ctx context.Context, name string, port int) error {
	if port <= 0 {
		return &lib.ValidationError{Field: "port", Message: "must be positive"}
	}
	_, err := p.Runner.Run(ctx, lib.RunRequest{Cmd: p.Bin, Args: []string{"machines", "ports", "allow", name, fmt.Sprintf("%d", port)}})
	return err
}

// CLIBackendProvider shells out to a database-branching CLI.
type CLIBackendProvider struct {
	Runner   lib.Runner
	Bin      string
	Provider string
}

func NewCLIBackendProvider(runner lib.Runner, binary, providerName string) *CLIBackendProvider {
	if strings.TrimSpace(binary) == "" {
		binary = "neonctl"
	}
	if strings.TrimSpace(providerName) == "" {
		providerName = "neon"
	}
	return &CLIBackendProvider{Runner: runner, Bin: binary, Provider: providerName}
}

func (b *CLIBackendProvider) Name() string {
	return b.Provider
}

type backendCreateResponse struct {
	ID        string `json:"id"`
	BranchID  string `json:"branch_id"`
	DeployKey string `json:"deploy_key"`
	URL       string `json:"connection_uri"`
}

func (b *CLIBackendProvider) CreateIsolatedEnvironment(ctx context.Context, project, branch string) (IsolatedEnvironment, error) {
	result, err := b.Runner.Run(ctx, lib.RunRequest{
		Cmd:  b.Bin,
		Args: []string{"branches", "create", "--project", project, "--name", branch, "--output", "json"},
	})
	if err != nil {
		return IsolatedEnvironment{}, fmt.Errorf("create isolated %s environment: %w", b.Provider, err)
	}
	var decoded backendCreateResponse
	if err := json.Unmarshal([]byte(result.Stdout), &decoded); err != nil {
		return IsolatedEnvironment{}, fmt.Errorf("decode %s branch response: %w", b.Provider, err)
	}
	id := decoded.BranchID
	if id == "" {
		id = decoded.ID
	}
	if id == "" {
		return IsolatedEnvironment{}, fmt.Errorf("%s branch response missing identifier", b.Provider)
	}
	return IsolatedEnvironment{
		IDs:       map[string]string{"branch": id},
		DeployKey: decoded.DeployKey,
		URL:       decoded.URL,
	}, nil
}

func (b *CLIBackendProvider) DeleteIsolatedEnvironment(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return &lib.ValidationError{Field: "backend", Message: "environment id is required"}
	}
	_, err := b.Runner.Run(ctx, lib.RunRequest{Cmd: b.Bin, Args: []string{"branches", "delete", id, "--force"}})
	return err
}

func (b *CLIBackendProvider) SeedEnvironment(ctx context.Context, id string) error {
	_, err := b.Runner.Run(ctx, lib.RunRequest{Cmd: b.Bin, Args: []string{"branches", "seed", id}})
	return err
}

func (b *CLIBackendProvider) PopulateEnv(ctx context.Context, env IsolatedEnvironment, host string) error {
	if env.URL == "" {
		return fmt.Errorf("no connection URL to populate")
	}
	_, err := b.Runner.Run(ctx, lib.RunRequest{
		Cmd:  b.Bin,
		Args: []string{"env", "push", "--target", host, "--url", env.URL},
	})
	return err
}
