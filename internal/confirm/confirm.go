// Package confirm gates irreversible operations behind a two-phase flow: a
// dry run issues a single-use token bound to the exact command and args, and
// the destructive run redeems it after a minimum age.
//
// The minimum-age check is a process nudge against unattended automation,
// not access control.
package confirm

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	DefaultTTL    = 5 * time.Minute
	DefaultMinAge = 10 * time.Second

	documentVersion = 1
)

// Record is one issued confirmation token.
type Record struct {
	Token       string     `json:"token"`
	CommandHash string     `json:"command_hash"`
	Summary     string     `json:"summary,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
	Prompt      string     `json:"prompt,omitempty"`
}

type document struct {
	Version       int      `json:"version"`
	Confirmations []Record `json:"confirmations"`
}

// Gate issues and redeems confirmation tokens against a flat JSON document.
type Gate struct {
	Path   string
	TTL    time.Duration
	MinAge time.Duration

	now      func() time.Time
	newToken func() (string, error)
}

// Option customizes gate dependencies, primarily for tests.
type Option func(*Gate)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithTokenSource overrides token generation.
func WithTokenSource(fn func() (string, error)) Option {
	return func(g *Gate) {
		if fn != nil {
			g.newToken = fn
		}
	}
}

func NewGate(path string, opts ...Option) *Gate {
	g := &Gate{
		Path:     path,
		TTL:      DefaultTTL,
		MinAge:   DefaultMinAge,
		now:      time.Now,
		newToken: randomToken,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func randomToken() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate confirmation token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CommandHash derives a 16-hex-char hash from a command name and its
// canonicalized args. Identical input yields an identical hash; any changed
// key or value yields a different one.
func CommandHash(command string, args map[string]string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(command)
	for _, k := range keys {
		b.WriteByte('\n')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(args[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// StoreRequest describes a confirmation to issue.
type StoreRequest struct {
	Command string
	Args    map[string]string
	Summary string
	Prompt  string
}

// Store issues a token bound to the request's command hash and persists it.
func (g *Gate) Store(req StoreRequest) (string, error) {
	token, err := g.newToken()
	if err != nil {
		return "", err
	}

	doc, err := g.load()
	if err != nil {
		return "", err
	}
	now := g.now().UTC()
	doc.Confirmations = append(doc.Confirmations, Record{
		Token:       token,
		CommandHash: CommandHash(req.Command, req.Args),
		Summary:     req.Summary,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.TTL),
		Prompt:      req.Prompt,
	})
	if err := g.save(doc); err != nil {
		return "", err
	}
	return token, nil
}

// Outcome classifies a redemption attempt.
type Outcome int

const (
	// OutcomeNotFound covers absent, already consumed, expired, and
	// command-hash-mismatched tokens alike.
	OutcomeNotFound Outcome = iota
	// OutcomeTooYoung means the token exists but has not aged past MinAge.
	OutcomeTooYoung
	OutcomeOK
)

// ValidateResult reports the redemption outcome and, on success, the stored
// prompt payload.
type ValidateResult struct {
	Outcome Outcome
	Prompt  string
	Wait    time.Duration // remaining age for OutcomeTooYoung
}

// ValidateAndConsume redeems a token for the given command and args. On
// success the record is marked consumed and written back before returning,
// so a token validates at most once.
func (g *Gate) ValidateAndConsume(command string, args map[string]string, token string) (ValidateResult, error) {
	doc, err := g.load()
	if err != nil {
		return ValidateResult{}, err
	}

	hash := CommandHash(command, args)
	now := g.now().UTC()
	for i := range doc.Confirmations {
		rec := &doc.Confirmations[i]
		if rec.Token != token || rec.CommandHash != hash {
			continue
		}
		if rec.ConsumedAt != nil {
			return ValidateResult{Outcome: OutcomeNotFound}, nil
		}
		if !now.Before(rec.ExpiresAt) {
			return ValidateResult{Outcome: OutcomeNotFound}, nil
		}
		if age := now.Sub(rec.CreatedAt); age < g.MinAge {
			return ValidateResult{Outcome: OutcomeTooYoung, Wait: g.MinAge - age}, nil
		}
		consumed := now
		rec.ConsumedAt = &consumed
		prompt := rec.Prompt
		if err := g.save(doc); err != nil {
			return ValidateResult{}, err
		}
		return ValidateResult{Outcome: OutcomeOK, Prompt: prompt}, nil
	}
	return ValidateResult{Outcome: OutcomeNotFound}, nil
}

// Request is one call to Require.
type Request struct {
	Command string
	Args    map[string]string
	Summary string
	Details func(w io.Writer) // extra context printed before issuing a token
	Prompt  string

	DryRun      bool
	Token       string
	Force       bool
	Interactive bool // whether stdin is a terminal; required for Force

	Out io.Writer
}

// Decision reports whether the destructive operation may run. A dry run
// returns Proceed=false with a nil error: the caller exits 0 having caused
// no side effects.
type Decision struct {
	Proceed bool
	Prompt  string
}

// Require is the single entry point for destructive commands. Exactly one of
// dry-run, a valid aged token, or interactive --force must be satisfied;
// every rejection carries a distinct message.
func (g *Gate) Require(req Request) (Decision, error) {
	out := req.Out
	if out == nil {
		out = io.Discard
	}

	switch {
	case req.DryRun:
		fmt.Fprintf(out, "DRY RUN: %s\n", req.Summary)
		if req.Details != nil {
			req.Details(out)
		}
		token, err := g.Store(StoreRequest{
			Command: req.Command,
			Args:    req.Args,
			Summary: req.Summary,
			Prompt:  req.Prompt,
		})
		if err != nil {
			return Decision{}, err
		}
		fmt.Fprintf(out, "\nTo proceed, re-run with --confirm %s (valid for %s, usable after %s)\n",
			token, g.TTL, g.MinAge)
		return Decision{Proceed: false}, nil

	case req.Token != "":
		result, err := g.ValidateAndConsume(req.Command, req.Args, req.Token)
		if err != nil {
			return Decision{}, err
		}
		switch result.Outcome {
		case OutcomeOK:
			return Decision{Proceed: true, Prompt: result.Prompt}, nil
		case OutcomeTooYoung:
			return Decision{}, fmt.Errorf("confirmation token is too new: wait %s and retry", result.Wait.Round(time.Second))
		default:
			return Decision{}, fmt.Errorf("confirmation token is invalid or expired: re-run with --dry-run for a fresh token")
		}

	case req.Force:
		if !req.Interactive {
			return Decision{}, fmt.Errorf("--force requires an interactive terminal; use --dry-run and --confirm instead")
		}
		return Decision{Proceed: true}, nil

	default:
		return Decision{}, fmt.Errorf("refusing to run %q without confirmation: re-run with --dry-run to obtain a token", req.Command)
	}
}

func (g *Gate) load() (document, error) {
	doc := document{Version: documentVersion}
	raw, err := os.ReadFile(g.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("reading confirmations %s: %w", g.Path, err)
	}
	var parsed document
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Version != documentVersion {
		// Corrupt confirmation state must never brick the gate; stale
		// tokens simply stop validating.
		return doc, nil
	}
	return parsed, nil
}

// save writes the document, lazily pruning consumed and expired records.
func (g *Gate) save(doc document) error {
	now := g.now().UTC()
	kept := doc.Confirmations[:0]
	for _, rec := range doc.Confirmations {
		if rec.ConsumedAt != nil || !now.Before(rec.ExpiresAt) {
			continue
		}
		kept = append(kept, rec)
	}
	doc.Confirmations = kept
	doc.Version = documentVersion

	dir := filepath.Dir(g.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating confirmations dir %q: %w", dir, err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding confirmations: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, "confirmations.*")
	if err != nil {
		return fmt.Errorf("creating temp confirmations file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("writing confirmations: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp confirmations file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp confirmations file: %w", err)
	}
	if err := os.Rename(tmpName, g.Path); err != nil {
		cleanup()
		return fmt.Errorf("replacing confirmations %s: %w", g.Path, err)
	}
	return nil
}
