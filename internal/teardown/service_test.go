package teardown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/misty-step/foxglove/internal/config"
	"github.com/misty-step/foxglove/internal/lib"
	"github.com/misty-step/foxglove/internal/provider"
	"github.com/misty-step/foxglove/internal/remote"
	"github.com/misty-step/foxglove/internal/store"
)

type fakeGateway struct {
	execErr  error
	commands []string
}

func (g *fakeGateway) Exec(_ context.Context, _, cmd string, _ remote.ExecOpts) (remote.ExecResult, error) {
	g.commands = append(g.commands, cmd)
	return remote.ExecResult{}, g.execErr
}

func (g *fakeGateway) CopyFile(context.Context, string, string, string) error { return nil }
func (g *fakeGateway) Probe(context.Context, string) error                    { return nil }

type fakeVMProvider struct {
	removeErr error
	removed   []string
}

func (p *fakeVMProvider) Create(context.Context) (provider.VM, error) {
	return provider.VM{}, errors.New("not used")
}

func (p *fakeVMProvider) Remove(_ context.Context, name string) error {
	p.removed = append(p.removed, name)
	return p.removeErr
}

func (p *fakeVMProvider) ConfigurePort(context.Context, string, int) error { return nil }

type fakeBackend struct {
	deleteErr error
	deleted   []string
}

func (b *fakeBackend) Name() string { return "neon" }

func (b *fakeBackend) CreateIsolatedEnvironment(context.Context, string, string) (provider.IsolatedEnvironment, error) {
	return provider.IsolatedEnvironment{}, errors.New("not used")
}

func (b *fakeBackend) DeleteIsolatedEnvironment(_ context.Context, id string) error {
	b.deleted = append(b.deleted, id)
	return b.deleteErr
}

func (b *fakeBackend) SeedEnvironment(context.Context, string) error { return nil }

func (b *fakeBackend) PopulateEnv(context.Context, provider.IsolatedEnvironment, string) error {
	return nil
}

type fixture struct {
	service *Service
	store   *store.Store
	gateway *fakeGateway
	vms     *fakeVMProvider
	backend *fakeBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	paths, err := lib.NewPaths(t.TempDir())
	if err != nil {
		t.Fatalf("NewPaths: %v", err)
	}
	st := store.New(paths)
	if err := st.PutProject(store.ProjectRecord{Name: "app", Repo: "misty-step/app"}); err != nil {
		t.Fatalf("PutProject: %v", err)
	}

	gateway := &fakeGateway{}
	vms := &fakeVMProvider{}
	backend := &fakeBackend{}
	svc := NewService(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		st, gateway, vms, backend, config.Default(),
	)
	return &fixture{service: svc, store: st, gateway: gateway, vms: vms, backend: backend}
}

func (f *fixture) seedVM(t *testing.T, vm store.VMRecord) {
	t.Helper()
	if vm.Name == "" {
		vm.Name = "fern-01"
	}
	if vm.SSHHost == "" {
		vm.SSHHost = "fern-01.example.net"
	}
	if vm.Project == "" {
		vm.Project = "app"
	}
	if vm.Feature == "" {
		vm.Feature = "checkout-flow"
	}
	if err := f.store.PutVM(vm); err != nil {
		t.Fatalf("PutVM: %v", err)
	}
}

func TestCleanVMRemovesEverything(t *testing.T) {
	f := newFixture(t)
	f.seedVM(t, store.VMRecord{
		Branch:  "feature/checkout-flow",
		Backend: store.Backend{Provider: "neon", IDs: map[string]string{"branch": "br-123"}},
	})

	summary, err := f.service.CleanVM(context.Background(), "fern-01")
	if err != nil {
		t.Fatalf("CleanVM: %v", err)
	}
	if !summary.Clean() {
		t.Fatalf("expected clean summary, got failed steps %v", summary.Failed())
	}
	if len(f.backend.deleted) != 1 || f.backend.deleted[0] != "br-123" {
		t.Fatalf("backend deletions = %v", f.backend.deleted)
	}
	if len(f.vms.removed) != 1 || f.vms.removed[0] != "fern-01" {
		t.Fatalf("vm removals = %v", f.vms.removed)
	}
	if len(f.gateway.commands) != 1 || !strings.Contains(f.gateway.commands[0], "git push origin --delete") {
		t.Fatalf("remote commands = %v", f.gateway.commands)
	}
	if _, err := f.store.VM("fern-01"); !lib.IsNotFound(err) {
		t.Fatalf("expected record removed, got %v", err)
	}
}

func TestCleanVMContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.seedVM(t, store.VMRecord{
		Branch:  "feature/checkout-flow",
		Backend: store.Backend{Provider: "neon", IDs: map[string]string{"branch": "br-123"}},
	})
	f.backend.deleteErr = errors.New("branch is protected")
	f.vms.removeErr = errors.New("api unavailable")

	summary, err := f.service.CleanVM(context.Background(), "fern-01")
	if err != nil {
		t.Fatalf("CleanVM: %v", err)
	}

	failed := summary.Failed()
	if len(failed) != 2 {
		t.Fatalf("failed steps = %d, want 2: %v", len(failed), failed)
	}
	manuals := make([]string, 0, len(failed))
	for _, step := range failed {
		manuals = append(manuals, step.Manual)
	}
	joined := strings.Join(manuals, "\n")
	if !strings.Contains(joined, "neonctl branches delete br-123 --force") {
		t.Fatalf("missing backend manual command in %q", joined)
	}
	if !strings.Contains(joined, "fly machines destroy fern-01 --force") {
		t.Fatalf("missing vm manual command in %q", joined)
	}

	// Later steps still ran.
	if len(f.gateway.commands) != 1 {
		t.Fatalf("branch deletion skipped: %v", f.gateway.commands)
	}
	if _, err := f.store.VM("fern-01"); !lib.IsNotFound(err) {
		t.Fatalf("expected record removed despite failures, got %v", err)
	}
}

func TestCleanVMSkipsAbsentResources(t *testing.T) {
	f := newFixture(t)
	f.seedVM(t, store.VMRecord{})

	summary, err := f.service.CleanVM(context.Background(), "fern-01")
	if err != nil {
		t.Fatalf("CleanVM: %v", err)
	}
	if len(summary.Steps) != 2 {
		t.Fatalf("steps = %d, want destroy VM and remove record only: %+v", len(summary.Steps), summary.Steps)
	}
	if len(f.backend.deleted) != 0 || len(f.gateway.commands) != 0 {
		t.Fatalf("unexpected backend or remote calls: %v %v", f.backend.deleted, f.gateway.commands)
	}
}

func TestCleanVMUnknownName(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.CleanVM(context.Background(), "ghost")
	if !lib.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDestroyProjectBlockedByFeatureVMs(t *testing.T) {
	f := newFixture(t)
	f.seedVM(t, store.VMRecord{})

	_, err := f.service.DestroyProject(context.Background(), "app")
	if err == nil || !strings.Contains(err.Error(), "fern-01") {
		t.Fatalf("expected blocking error listing VMs, got %v", err)
	}
	if _, err := f.store.Project("app"); err != nil {
		t.Fatalf("project record should survive: %v", err)
	}
}

func TestDestroyProjectReportsBackendLeftovers(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.UpdateProject("app", store.ProjectUpdate{
		Backend: &store.Backend{Provider: "neon", IDs: map[string]string{"project": "prj-9"}},
	}); err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}

	summary, err := f.service.DestroyProject(context.Background(), "app")
	if err != nil {
		t.Fatalf("DestroyProject: %v", err)
	}
	if len(summary.Notes) != 1 || !strings.Contains(summary.Notes[0], "neonctl projects delete prj-9 --force") {
		t.Fatalf("notes = %v", summary.Notes)
	}
	if _, err := f.store.Project("app"); !lib.IsNotFound(err) {
		t.Fatalf("expected project removed, got %v", err)
	}
}

func TestDestroyProjectUnknownName(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.DestroyProject(context.Background(), "ghost")
	if !lib.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
