// Package remote is the execution gateway to provisioned VMs: SSH command
// execution with timeouts and optional streaming, file copy, and a
// connectivity probe.
package remote

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/misty-step/foxglove/internal/lib"
)

const (
	DefaultExecTimeout  = 60 * time.Second
	DefaultProbeTimeout = 10 * time.Second
)

// ExecOpts controls one remote command execution.
type ExecOpts struct {
	Timeout time.Duration
	Stream  io.Writer // mirror combined output as it arrives
}

// ExecResult captures remote command output.
type ExecResult struct {
	Stdout string
	Stderr string
}

// Gateway executes commands on remote hosts.
type Gateway interface {
	Exec(ctx context.Context, host, command string, opts ExecOpts) (ExecResult, error)
	CopyFile(ctx context.Context, localPath, host, remotePath string) error
	Probe(ctx context.Context, host string) error
}

// SSHGateway shells out to ssh/scp through a Runner.
type SSHGateway struct {
	Runner  lib.Runner
	User    string
	SSHBin  string
	SCPBin  string
	SSHOpts []string
}

func NewSSHGateway(runner lib.Runner, user string) *SSHGateway {
	if strings.TrimSpace(user) == "" {
		user = "dev"
	}
	return &SSHGateway{
		Runner: runner,
		User:   user,
		SSHBin: "ssh",
		SCPBin: "scp",
		SSHOpts: []string{
			"-o", "BatchMode=yes",
			"-o", "StrictHostKeyChecking=accept-new",
			"-o", "ConnectTimeout=10",
		},
	}
}

func (g *SSHGateway) ensureRunner() error {
	if g == nil || g.Runner == nil {
		return fmt.Errorf("remote gateway runner is not configured")
	}
	return nil
}

func (g *SSHGateway) target(host string) string {
	if g.User == "" {
		return host
	}
	return g.User + "@" + host
}

// Exec runs one shell command on the host, bounded by opts.Timeout.
func (g *SSHGateway) Exec(ctx context.Context, host, command string, opts ExecOpts) (ExecResult, error) {
	if err := g.ensureRunner(); err != nil {
		return ExecResult{}, err
	}
	if strings.TrimSpace(host) == "" {
		return ExecResult{}, &lib.ValidationError{Field: "host", Message: "is required"}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string(nil), g.SSHOpts...), g.target(host), command)
	result, err := g.Runner.Run(runCtx, lib.RunRequest{
		Cmd:    g.SSHBin,
		Args:   args,
		Stream: opts.Stream,
	})
	if err != nil {
		return ExecResult{Stdout: result.Stdout, Stderr: result.Stderr}, err
	}
	return ExecResult{Stdout: result.Stdout, Stderr: result.Stderr}, nil
}

// CopyFile uploads a local file to the host via scp.
func (g *SSHGateway) CopyFile(ctx context.Context, localPath, host, remotePath string) error {
	if err := g.ensureRunner(); err != nil {
		return err
	}
	if strings.TrimSpace(localPath) == "" || strings.TrimSpace(remotePath) == "" {
		return &lib.ValidationError{Field: "path", Message: "local and remote paths are required"}
	}
	args := append(append([]string(nil), g.SSHOpts...), localPath, fmt.Sprintf("%s:%s", g.target(host), remotePath))
	_, err := g.Runner.Run(ctx, lib.RunRequest{Cmd: g.SCPBin, Args: args})
	return err
}

// Probe checks that the host accepts SSH connections.
func (g *SSHGateway) Probe(ctx context.Context, host string) error {
	_, err := g.Exec(ctx, host, "true", ExecOpts{Timeout: DefaultProbeTimeout})
	return err
}

// WaitReady polls Probe until the host accepts connections or the deadline
// passes. Sleep is injectable so tests simulate time.
func WaitReady(ctx context.Context, gateway Gateway, host string, timeout, interval time.Duration, now func() time.Time, sleep func(time.Duration)) error {
	if now == nil {
		now = time.Now
	}
	if sleep == nil {
		sleep = time.Sleep
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := now().Add(timeout)
	for {
		if err := gateway.Probe(ctx, host); err == nil {
			return nil
		}
		if !now().Add(interval).Before(deadline) {
			return &lib.TimeoutError{Op: "waiting for VM to accept connections", Subject: host, Limit: timeout.String()}
		}
		sleep(interval)
	}
}
