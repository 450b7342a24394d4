package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/misty-step/foxglove/internal/confirm"
	"github.com/misty-step/foxglove/internal/lib"
	"github.com/misty-step/foxglove/internal/teardown"
)

func testDestroyDeps(gate *confirm.Gate, interactive bool, destroyed *[]string) destroyDeps {
	return destroyDeps{
		gate: func() (*confirm.Gate, error) { return gate, nil },
		destroy: func(_ context.Context, name string) (teardown.Summary, error) {
			if destroyed != nil {
				*destroyed = append(*destroyed, name)
			}
			return teardown.Summary{
				Target: name,
				Steps:  []teardown.StepResult{{Name: "remove project record"}},
			}, nil
		},
		interactive: func() bool { return interactive },
	}
}

func TestDestroyCmdTypedNameMatch(t *testing.T) {
	t.Parallel()

	var destroyed []string
	clock := &gateClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cmd := newDestroyCmdWithDeps(testDestroyDeps(testGate(t, clock), true, &destroyed))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader("app\n"))
	cmd.SetArgs([]string{"app"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("cmd.Execute() error = %v", err)
	}
	if len(destroyed) != 1 || destroyed[0] != "app" {
		t.Fatalf("destroy calls = %v", destroyed)
	}
	if !strings.Contains(out.String(), `Type the project name "app" to confirm`) {
		t.Fatalf("missing typed-name prompt:\n%s", out.String())
	}
}

func TestDestroyCmdTypedNameMismatchCancels(t *testing.T) {
	t.Parallel()

	var destroyed []string
	clock := &gateClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cmd := newDestroyCmdWithDeps(testDestroyDeps(testGate(t, clock), true, &destroyed))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader("apps\n"))
	cmd.SetArgs([]string{"app"})

	err := cmd.Execute()
	if !errors.Is(err, lib.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(destroyed) != 0 {
		t.Fatalf("mismatch ran destroy: %v", destroyed)
	}
}

func TestDestroyCmdNonInteractiveRefusesWithoutToken(t *testing.T) {
	t.Parallel()

	var destroyed []string
	clock := &gateClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cmd := newDestroyCmdWithDeps(testDestroyDeps(testGate(t, clock), false, &destroyed))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"app"})

	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "--dry-run") {
		t.Fatalf("expected refusal pointing at --dry-run, got %v", err)
	}
	if len(destroyed) != 0 {
		t.Fatalf("refusal ran destroy: %v", destroyed)
	}
}

func TestDestroyCmdTokenFlow(t *testing.T) {
	t.Parallel()

	clock := &gateClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	gate := testGate(t, clock)

	var destroyed []string
	issue := newDestroyCmdWithDeps(testDestroyDeps(gate, false, &destroyed))
	var out bytes.Buffer
	issue.SetOut(&out)
	issue.SetErr(&out)
	issue.SetArgs([]string{"app", "--dry-run"})
	if err := issue.Execute(); err != nil {
		t.Fatalf("dry run error = %v", err)
	}
	if !strings.Contains(out.String(), "--confirm deadbeef") {
		t.Fatalf("missing token instruction:\n%s", out.String())
	}
	if len(destroyed) != 0 {
		t.Fatalf("dry run ran destroy: %v", destroyed)
	}

	clock.t = clock.t.Add(11 * time.Second)

	redeem := newDestroyCmdWithDeps(testDestroyDeps(gate, false, &destroyed))
	redeem.SetOut(io.Discard)
	redeem.SetErr(io.Discard)
	redeem.SetArgs([]string{"app", "--confirm", "deadbeef"})
	if err := redeem.Execute(); err != nil {
		t.Fatalf("redeem error = %v", err)
	}
	if len(destroyed) != 1 {
		t.Fatalf("destroy calls = %v", destroyed)
	}
}

func TestDestroyCmdForceInteractive(t *testing.T) {
	t.Parallel()

	var destroyed []string
	clock := &gateClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cmd := newDestroyCmdWithDeps(testDestroyDeps(testGate(t, clock), true, &destroyed))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"app", "--force"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("cmd.Execute() error = %v", err)
	}
	if len(destroyed) != 1 {
		t.Fatalf("destroy calls = %v", destroyed)
	}
}
