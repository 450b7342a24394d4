package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/misty-step/foxglove/internal/lib"
)

// refreshWindow is how close to expiry a credential may come before it is
// refreshed transparently.
const refreshWindow = 5 * time.Minute

// Credential is a resolved platform token with its expiry, when known.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// CredentialSource resolves and refreshes platform credentials.
type CredentialSource interface {
	// Resolve returns a credential, refreshing it first when it is absent
	// or within the refresh window of expiry. Check-then-refresh is not
	// atomic; refresh failure is fatal wherever fresh credentials are
	// required.
	Resolve(ctx context.Context) (Credential, error)
}

// CLICredentialSource resolves tokens from the platform CLI's auth command,
// matching how operators already authenticate.
type CLICredentialSource struct {
	Runner lib.Runner
	Bin    string
	now    func() time.Time

	cached Credential
}

func NewCLICredentialSource(runner lib.Runner, binary string) *CLICredentialSource {
	if strings.TrimSpace(binary) == "" {
		binary = "fly"
	}
	return &CLICredentialSource{Runner: runner, Bin: binary, now: time.Now}
}

// WithCredentialClock overrides the time source, for tests.
func (c *CLICredentialSource) WithCredentialClock(now func() time.Time) *CLICredentialSource {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *CLICredentialSource) Resolve(ctx context.Context) (Credential, error) {
	if c.cached.Token != "" && (c.cached.ExpiresAt.IsZero() || c.now().Add(refreshWindow).Before(c.cached.ExpiresAt)) {
		return c.cached, nil
	}
	result, err := c.Runner.Run(ctx, lib.RunRequest{Cmd: c.Bin, Args: []string{"auth", "token"}})
	if err != nil {
		return Credential{}, fmt.Errorf("refresh platform credentials: %w (run `%s auth login` and retry)", err, c.Bin)
	}
	token := strings.TrimSpace(result.Stdout)
	if token == "" {
		return Credential{}, &lib.ValidationError{Field: "credentials", Message: fmt.Sprintf("%s auth token returned nothing; run `%s auth login`", c.Bin, c.Bin)}
	}
	c.cached = Credential{Token: token, ExpiresAt: c.now().Add(time.Hour)}
	return c.cached, nil
}
