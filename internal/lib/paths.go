package lib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultRemoteHome = "/home/dev"
	DefaultWorkspace  = "/home/dev/workspace"
)

// Paths centralizes the local state locations used by fox.
type Paths struct {
	Root          string // state root, default ~/.config/fox
	ProjectsFile  string
	VMsFile       string
	ConfirmsFile  string
	ScriptsDir    string
	BootstrapFile string
}

// DefaultRoot returns the default state root: ~/.config/fox.
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "fox")
	}
	return filepath.Join(home, ".config", "fox")
}

func NewPaths(root string) (Paths, error) {
	candidate := strings.TrimSpace(root)
	if candidate == "" {
		candidate = DefaultRoot()
	}
	resolved, err := filepath.Abs(candidate)
	if err != nil {
		return Paths{}, fmt.Errorf("resolve state root %q: %w", candidate, err)
	}
	return Paths{
		Root:          resolved,
		ProjectsFile:  filepath.Join(resolved, "projects.json"),
		VMsFile:       filepath.Join(resolved, "vms.json"),
		ConfirmsFile:  filepath.Join(resolved, "confirmations.json"),
		ScriptsDir:    filepath.Join(resolved, "scripts"),
		BootstrapFile: filepath.Join(resolved, "scripts", "vm-bootstrap.sh"),
	}, nil
}
