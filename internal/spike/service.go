// Package spike runs resumable background-agent sessions on feature VMs:
// launch detached, track status and iteration count in the record store,
// and poll a completion marker until done or deadline.
package spike

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/misty-step/foxglove/internal/config"
	"github.com/misty-step/foxglove/internal/lib"
	"github.com/misty-step/foxglove/internal/provider"
	"github.com/misty-step/foxglove/internal/provision"
	"github.com/misty-step/foxglove/internal/remote"
	"github.com/misty-step/foxglove/internal/store"
)

const (
	markerFile = "SPIKE_COMPLETE"
	resultFile = ".spike-result.json"
	promptFile = "PROMPT.md"
	logFile    = "spike.log"
)

// Outcome is the typed result of one spike invocation.
type Outcome string

const (
	OutcomeStarted   Outcome = "started"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// RunResult reports one spike invocation. Every path produces one; there is
// no silent exit.
type RunResult struct {
	Outcome    Outcome    `json:"outcome"`
	VM         string     `json:"vm"`
	Iterations int        `json:"iterations"`
	ReviewURL  string     `json:"review_url,omitempty"`
	Cost       store.Cost `json:"cost"`
	Error      string     `json:"error,omitempty"`
	Monitor    []string   `json:"monitor,omitempty"` // follow-up commands for fire-and-forget
}

// Opts configures one spike invocation.
type Opts struct {
	Wait    bool
	Timeout time.Duration // poll deadline; zero selects the mode default
}

// Service is the spike agent controller.
type Service struct {
	Logger      *slog.Logger
	Store       *store.Store
	Gateway     remote.Gateway
	Provisioner *provision.Service
	Creds       provider.CredentialSource
	Config      config.Config

	now   func() time.Time
	sleep func(time.Duration)
}

// Option customizes service dependencies, primarily for tests.
type Option func(*Service)

// WithClock overrides the time source and sleep used by completion polling.
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

func NewService(logger *slog.Logger, st *store.Store, gateway remote.Gateway, provisioner *provision.Service, creds provider.CredentialSource, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		Logger:      logger,
		Store:       st,
		Gateway:     gateway,
		Provisioner: provisioner,
		Creds:       creds,
		Config:      cfg,
		now:         time.Now,
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start provisions a VM and launches the agent detached. In wait mode it
// blocks on the completion poll; otherwise it returns immediately with
// monitoring commands.
func (s *Service) Start(ctx context.Context, feature, project, prompt string, opts Opts) (RunResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return RunResult{}, &lib.ValidationError{Field: "prompt", Message: "is required"}
	}

	result, err := s.Provisioner.Provision(ctx, provision.Request{
		Project: project,
		Feature: feature,
		Launch: func(ctx context.Context, vm store.VMRecord) error {
			return s.launchAgent(ctx, vm.SSHHost, prompt)
		},
	})
	if err != nil {
		return RunResult{Outcome: OutcomeFailed, Error: err.Error()}, err
	}
	vm := result.VM

	status := store.SpikeStatusRunning
	iterations := 1
	if _, err := s.Store.UpdateVM(vm.Name, store.VMUpdate{
		SpikeStatus:     &status,
		SpikeIterations: &iterations,
		OriginalPrompt:  &prompt,
	}); err != nil {
		return RunResult{Outcome: OutcomeFailed, VM: vm.Name, Error: err.Error()}, err
	}

	if !opts.Wait {
		return RunResult{
			Outcome:    OutcomeStarted,
			VM:         vm.Name,
			Iterations: iterations,
			Monitor:    s.monitorCommands(vm),
		}, nil
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.Config.StartTimeout()
	}
	return s.Watch(ctx, vm.Name, timeout)
}

// Continue resumes a completed spike on an existing VM: same working tree,
// so new work lands on the same review branch.
func (s *Service) Continue(ctx context.Context, vmName, prompt string, opts Opts) (RunResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return RunResult{}, &lib.ValidationError{Field: "prompt", Message: "is required"}
	}
	vm, err := s.Store.VM(vmName)
	if err != nil {
		return RunResult{}, err
	}

	if vm.SpikeStatus == store.SpikeStatusRunning {
		return RunResult{}, fmt.Errorf("spike on %q is still running; wait for it or watch it with --wait", vmName)
	}
	if _, err := advanceState(stateOf(vm.SpikeStatus), EventResumed); err != nil {
		return RunResult{}, fmt.Errorf("can only continue a completed spike (status is %q)", vm.SpikeStatus)
	}

	if err := s.Gateway.Probe(ctx, vm.SSHHost); err != nil {
		return RunResult{}, fmt.Errorf("VM %s is unreachable: %w (it may have been stopped; run fox clean and start over)", vm.SSHHost, err)
	}

	cred, err := s.Creds.Resolve(ctx)
	if err != nil {
		return RunResult{}, err
	}
	if err := s.uploadCredentials(ctx, vm.SSHHost, cred); err != nil {
		return RunResult{}, err
	}

	if err := s.clearCompletionMarkers(ctx, vm.SSHHost); err != nil {
		return RunResult{}, fmt.Errorf("clear prior run markers: %w", err)
	}

	status := store.SpikeStatusRunning
	iterations := vm.SpikeIterations + 1
	if _, err := s.Store.UpdateVM(vm.Name, store.VMUpdate{
		SpikeStatus:     &status,
		SpikeIterations: &iterations,
	}); err != nil {
		return RunResult{}, err
	}

	if err := s.launchAgent(ctx, vm.SSHHost, prompt); err != nil {
		failed := store.SpikeStatusFailed
		_, _ = s.Store.UpdateVM(vm.Name, store.VMUpdate{SpikeStatus: &failed})
		return RunResult{Outcome: OutcomeFailed, VM: vm.Name, Error: err.Error()}, err
	}

	if !opts.Wait {
		return RunResult{
			Outcome:    OutcomeStarted,
			VM:         vm.Name,
			Iterations: iterations,
			Monitor:    s.monitorCommands(vm),
		}, nil
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.Config.WaitTimeout()
	}
	return s.Watch(ctx, vm.Name, timeout)
}

// Watch polls the completion marker until the agent finishes or the deadline
// passes. Transient exec errors are swallowed and retried; only the deadline
// is fatal, and it forces the record to failed.
func (s *Service) Watch(ctx context.Context, vmName string, timeout time.Duration) (RunResult, error) {
	vm, err := s.Store.VM(vmName)
	if err != nil {
		return RunResult{}, err
	}
	if timeout <= 0 {
		timeout = s.Config.WaitTimeout()
	}
	interval := s.Config.PollInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}

	deadline := s.now().Add(timeout)
	for {
		done, probeErr := s.markerPresent(ctx, vm.SSHHost)
		if probeErr != nil && s.Logger != nil {
			s.Logger.DebugContext(ctx, "poll error, retrying", "vm", vm.Name, "error", probeErr)
		}
		if probeErr == nil && done {
			return s.collectResult(ctx, vm)
		}
		if !s.now().Add(interval).Before(deadline) {
			failed := store.SpikeStatusFailed
			_, _ = s.Store.UpdateVM(vm.Name, store.VMUpdate{SpikeStatus: &failed})
			timeoutErr := &lib.TimeoutError{Op: "waiting for spike completion", Subject: vm.Name, Limit: timeout.String()}
			return RunResult{
				Outcome:    OutcomeFailed,
				VM:         vm.Name,
				Iterations: vm.SpikeIterations,
				Error:      timeoutErr.Error(),
			}, timeoutErr
		}
		s.sleep(interval)
	}
}

func (s *Service) markerPresent(ctx context.Context, host string) (bool, error) {
	cmd := fmt.Sprintf("test -f %s && echo yes || echo no", lib.Quote(path.Join(lib.DefaultWorkspace, markerFile)))
	result, err := s.Gateway.Exec(ctx, host, cmd, remote.ExecOpts{})
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(result.Stdout), "yes"), nil
}

// collectResult reads the structured agent result and folds it into the VM
// record: terminal status, cumulative cost, review URL.
func (s *Service) collectResult(ctx context.Context, vm store.VMRecord) (RunResult, error) {
	raw, err := s.Gateway.Exec(ctx, vm.SSHHost, "cat "+lib.Quote(path.Join(lib.DefaultWorkspace, resultFile)), remote.ExecOpts{})
	if err != nil {
		return RunResult{}, fmt.Errorf("read agent result from %s: %w", vm.Name, err)
	}
	parsed, err := parseAgentResult(raw.Stdout)
	if err != nil {
		return RunResult{}, err
	}

	event := EventCompleted
	status := store.SpikeStatusCompleted
	outcome := OutcomeCompleted
	if parsed.Status == "failed" {
		event = EventFailed
		status = store.SpikeStatusFailed
		outcome = OutcomeFailed
	}
	if _, err := advanceState(stateOf(vm.SpikeStatus), event); err != nil {
		return RunResult{}, err
	}

	cumulative := vm.Cost.Add(parsed.runCost())
	update := store.VMUpdate{
		SpikeStatus: &status,
		Cost:        &cumulative,
	}
	if parsed.SessionID != "" {
		update.AgentSessionID = &parsed.SessionID
	}
	if parsed.ReviewURL != "" {
		update.ReviewURL = &parsed.ReviewURL
	}
	updated, err := s.Store.UpdateVM(vm.Name, update)
	if err != nil {
		return RunResult{}, err
	}

	return RunResult{
		Outcome:    outcome,
		VM:         updated.Name,
		Iterations: updated.SpikeIterations,
		ReviewURL:  updated.ReviewURL,
		Cost:       updated.Cost,
	}, nil
}

// launchAgent uploads the prompt and starts the agent under nohup so it
// survives session disconnect. The agent writes its structured result and
// then the completion marker.
func (s *Service) launchAgent(ctx context.Context, host, prompt string) error {
	tmp, err := os.CreateTemp("", "fox-spike-prompt-*.md")
	if err != nil {
		return fmt.Errorf("create temp prompt file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if _, err := tmp.WriteString(prompt); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp prompt file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("flush temp prompt file: %w", err)
	}

	workspace := lib.DefaultWorkspace
	remotePrompt := path.Join(workspace, promptFile)
	if err := s.Gateway.CopyFile(ctx, tmpPath, host, remotePrompt); err != nil {
		return err
	}

	launch := strings.Join([]string{
		"cd " + lib.Quote(path.Join(workspace, "repo")),
		fmt.Sprintf("rm -f ../%s ../%s", markerFile, resultFile),
		fmt.Sprintf("nohup bash -c 'claude -p \"$(cat ../%s)\" --permission-mode bypassPermissions --output-format json > ../%s 2> ../%s; echo done > ../%s' > /dev/null 2>&1 &",
			promptFile, resultFile, logFile, markerFile),
		"echo $! > ../spike.pid",
	}, " && ")
	_, err = s.Gateway.Exec(ctx, host, launch, remote.ExecOpts{})
	return err
}

func (s *Service) clearCompletionMarkers(ctx context.Context, host string) error {
	cmd := fmt.Sprintf("cd %s && rm -f %s %s", lib.Quote(lib.DefaultWorkspace), markerFile, resultFile)
	_, err := s.Gateway.Exec(ctx, host, cmd, remote.ExecOpts{})
	return err
}

func (s *Service) uploadCredentials(ctx context.Context, host string, cred provider.Credential) error {
	cmd := fmt.Sprintf("umask 077 && printf '%%s\\n' %s > %s", lib.Quote(cred.Token), lib.Quote(path.Join(lib.DefaultRemoteHome, ".fox-token")))
	_, err := s.Gateway.Exec(ctx, host, cmd, remote.ExecOpts{})
	return err
}

func (s *Service) monitorCommands(vm store.VMRecord) []string {
	return []string{
		fmt.Sprintf("fox status %s", vm.Name),
		fmt.Sprintf("ssh dev@%s tail -f %s", vm.SSHHost, path.Join(lib.DefaultWorkspace, logFile)),
	}
}
