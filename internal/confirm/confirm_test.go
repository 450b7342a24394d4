package confirm

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestGate(t *testing.T, opts ...Option) (*Gate, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := &now
	base := []Option{WithClock(func() time.Time { return *current })}
	path := filepath.Join(t.TempDir(), "confirmations.json")
	return NewGate(path, append(base, opts...)...), current
}

func TestCommandHashDeterministicAndKeyOrderInvariant(t *testing.T) {
	a := CommandHash("clean feat", map[string]string{"project": "app", "name": "feat"})
	b := CommandHash("clean feat", map[string]string{"name": "feat", "project": "app"})
	if a != b {
		t.Fatalf("hash should be key-order invariant: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", a)
	}
	if c := CommandHash("clean feat", map[string]string{"project": "other", "name": "feat"}); c == a {
		t.Fatalf("changed value should change hash")
	}
	if c := CommandHash("clean feat", map[string]string{"proj": "app", "name": "feat"}); c == a {
		t.Fatalf("changed key should change hash")
	}
	if c := CommandHash("destroy", map[string]string{"project": "app", "name": "feat"}); c == a {
		t.Fatalf("changed command should change hash")
	}
}

func TestTokenValidatesExactlyOnce(t *testing.T) {
	gate, now := newTestGate(t)
	args := map[string]string{"project": "app"}

	token, err := gate.Store(StoreRequest{Command: "clean feat", Args: args, Prompt: "payload"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	*now = now.Add(11 * time.Second)
	result, err := gate.ValidateAndConsume("clean feat", args, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Outcome != OutcomeOK {
		t.Fatalf("expected OK after min age, got %v", result.Outcome)
	}
	if result.Prompt != "payload" {
		t.Fatalf("expected stored prompt, got %q", result.Prompt)
	}

	// Immediate retry fails: consumed.
	result, err = gate.ValidateAndConsume("clean feat", args, token)
	if err != nil {
		t.Fatalf("second validate: %v", err)
	}
	if result.Outcome != OutcomeNotFound {
		t.Fatalf("expected not found on replay, got %v", result.Outcome)
	}
}

func TestTokenTooYoungIsDistinguished(t *testing.T) {
	gate, now := newTestGate(t)
	args := map[string]string{"project": "app"}
	token, err := gate.Store(StoreRequest{Command: "clean feat", Args: args})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	*now = now.Add(3 * time.Second)
	result, err := gate.ValidateAndConsume("clean feat", args, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Outcome != OutcomeTooYoung {
		t.Fatalf("expected too-young before min age, got %v", result.Outcome)
	}
	if result.Wait != 7*time.Second {
		t.Fatalf("expected 7s remaining, got %v", result.Wait)
	}

	// Not consumed: still redeemable after aging.
	*now = now.Add(8 * time.Second)
	result, err = gate.ValidateAndConsume("clean feat", args, token)
	if err != nil {
		t.Fatalf("validate after aging: %v", err)
	}
	if result.Outcome != OutcomeOK {
		t.Fatalf("expected OK after aging, got %v", result.Outcome)
	}
}

func TestMismatchedArgsReturnNotFound(t *testing.T) {
	gate, now := newTestGate(t)
	token, err := gate.Store(StoreRequest{Command: "clean feat", Args: map[string]string{"project": "app"}})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	*now = now.Add(time.Minute)
	result, err := gate.ValidateAndConsume("clean feat", map[string]string{"project": "other"}, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Outcome != OutcomeNotFound {
		t.Fatalf("expected not found for mismatched args, got %v", result.Outcome)
	}
}

func TestExpiredTokenReturnsNotFound(t *testing.T) {
	gate, now := newTestGate(t)
	args := map[string]string{"project": "app"}
	token, err := gate.Store(StoreRequest{Command: "clean feat", Args: args})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	*now = now.Add(6 * time.Minute)
	result, err := gate.ValidateAndConsume("clean feat", args, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Outcome != OutcomeNotFound {
		t.Fatalf("expected not found after expiry, got %v", result.Outcome)
	}
}

func TestRequireWithoutAnyGateFails(t *testing.T) {
	gate, _ := newTestGate(t)
	var out bytes.Buffer
	_, err := gate.Require(Request{
		Command: "clean feat",
		Args:    map[string]string{"project": "app"},
		Summary: "delete VM feat",
		Out:     &out,
	})
	if err == nil {
		t.Fatalf("expected error with no gate satisfied")
	}
	if !strings.Contains(err.Error(), "--dry-run") {
		t.Fatalf("error should instruct dry-run, got %q", err)
	}
	// No token was issued.
	if _, statErr := os.Stat(gate.Path); !os.IsNotExist(statErr) {
		t.Fatalf("no side effects expected, but confirmations file exists")
	}
}

func TestRequireDryRunIssuesTokenAndStops(t *testing.T) {
	gate, _ := newTestGate(t, WithTokenSource(func() (string, error) { return "deadbeef", nil }))
	var out bytes.Buffer
	detailed := false
	decision, err := gate.Require(Request{
		Command: "clean feat",
		Args:    map[string]string{"project": "app"},
		Summary: "delete VM feat",
		Details: func(io.Writer) { detailed = true },
		DryRun:  true,
		Out:     &out,
	})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if decision.Proceed {
		t.Fatalf("dry run must not proceed")
	}
	if !detailed {
		t.Fatalf("details callback not invoked")
	}
	if !strings.Contains(out.String(), "deadbeef") {
		t.Fatalf("token not printed: %q", out.String())
	}
}

func TestRequireForceNeedsInteractiveTerminal(t *testing.T) {
	gate, _ := newTestGate(t)
	_, err := gate.Require(Request{Command: "destroy", Force: true, Interactive: false})
	if err == nil || !strings.Contains(err.Error(), "interactive") {
		t.Fatalf("expected interactive-terminal rejection, got %v", err)
	}

	decision, err := gate.Require(Request{Command: "destroy", Force: true, Interactive: true})
	if err != nil {
		t.Fatalf("interactive force: %v", err)
	}
	if !decision.Proceed {
		t.Fatalf("interactive force should proceed")
	}
}

func TestRequireWithTokenSurfacesPrompt(t *testing.T) {
	gate, now := newTestGate(t)
	args := map[string]string{"project": "app"}
	token, err := gate.Store(StoreRequest{Command: "spike feat", Args: args, Prompt: "build checkout"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	*now = now.Add(time.Minute)
	decision, err := gate.Require(Request{Command: "spike feat", Args: args, Token: token})
	if err != nil {
		t.Fatalf("require: %v", err)
	}
	if !decision.Proceed || decision.Prompt != "build checkout" {
		t.Fatalf("expected proceed with stored prompt, got %+v", decision)
	}
}

func TestRequireTooYoungMessageNamesWait(t *testing.T) {
	gate, now := newTestGate(t)
	args := map[string]string{"project": "app"}
	token, err := gate.Store(StoreRequest{Command: "clean feat", Args: args})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	*now = now.Add(2 * time.Second)
	_, err = gate.Require(Request{Command: "clean feat", Args: args, Token: token})
	if err == nil || !strings.Contains(err.Error(), "wait") {
		t.Fatalf("expected wait instruction, got %v", err)
	}
}

func TestSavePrunesConsumedAndExpired(t *testing.T) {
	gate, now := newTestGate(t)
	args := map[string]string{"project": "app"}
	stale, err := gate.Store(StoreRequest{Command: "clean a", Args: args})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	*now = now.Add(6 * time.Minute) // stale expires

	if _, err := gate.Store(StoreRequest{Command: "clean b", Args: args}); err != nil {
		t.Fatalf("second store: %v", err)
	}

	raw, err := os.ReadFile(gate.Path)
	if err != nil {
		t.Fatalf("read confirmations: %v", err)
	}
	if strings.Contains(string(raw), stale) {
		t.Fatalf("expired token should be pruned from the document")
	}
}
