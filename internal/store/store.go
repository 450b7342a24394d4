// Package store is the flat-document record store for projects and VMs.
//
// Two JSON documents, rewritten in full on every mutation via a temp file
// and rename. Unreadable or wrong-version content loads as empty rather
// than failing: a corrupt store should never block teardown.
//
// There is no file locking. Concurrent invocations against the same store
// can race on read-modify-write; accepted for single-operator use.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/misty-step/foxglove/internal/lib"
)

const documentVersion = 1

type projectsDocument struct {
	Version  int             `json:"version"`
	Projects []ProjectRecord `json:"projects"`
}

type vmsDocument struct {
	Version int        `json:"version"`
	VMs     []VMRecord `json:"vms"`
}

// Store reads and writes the project and VM documents.
type Store struct {
	Paths lib.Paths
	now   func() time.Time
}

// Option customizes store dependencies, primarily for tests.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(paths lib.Paths, opts ...Option) *Store {
	s := &Store{Paths: paths, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Projects returns all project records sorted by name.
func (s *Store) Projects() ([]ProjectRecord, error) {
	doc, err := s.loadProjects()
	if err != nil {
		return nil, err
	}
	sort.Slice(doc.Projects, func(i, j int) bool {
		return doc.Projects[i].Name < doc.Projects[j].Name
	})
	return doc.Projects, nil
}

// Project returns one project record by name.
func (s *Store) Project(name string) (ProjectRecord, error) {
	doc, err := s.loadProjects()
	if err != nil {
		return ProjectRecord{}, err
	}
	for _, p := range doc.Projects {
		if p.Name == name {
			return p, nil
		}
	}
	return ProjectRecord{}, &lib.NotFoundError{Kind: "project", Name: name}
}

// PutProject inserts a project record. The name must be unused.
func (s *Store) PutProject(record ProjectRecord) error {
	if err := lib.ValidateName("project", record.Name); err != nil {
		return err
	}
	doc, err := s.loadProjects()
	if err != nil {
		return err
	}
	for _, p := range doc.Projects {
		if p.Name == record.Name {
			return &lib.ValidationError{Field: "project", Message: fmt.Sprintf("%q already exists", record.Name)}
		}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().UTC()
	}
	doc.Projects = append(doc.Projects, record)
	return s.saveProjects(doc)
}

// UpdateProject merges non-nil fields into an existing project record.
func (s *Store) UpdateProject(name string, update ProjectUpdate) (ProjectRecord, error) {
	doc, err := s.loadProjects()
	if err != nil {
		return ProjectRecord{}, err
	}
	for i := range doc.Projects {
		if doc.Projects[i].Name != name {
			continue
		}
		p := &doc.Projects[i]
		if update.Repo != nil {
			p.Repo = *update.Repo
		}
		if update.DeployTarget != nil {
			p.DeployTarget = *update.DeployTarget
		}
		if update.Backend != nil {
			p.Backend = *update.Backend
		}
		if err := s.saveProjects(doc); err != nil {
			return ProjectRecord{}, err
		}
		return *p, nil
	}
	return ProjectRecord{}, &lib.NotFoundError{Kind: "project", Name: name}
}

// RemoveProject deletes a project record. Removing a missing project is not
// an error: teardown retries must converge.
func (s *Store) RemoveProject(name string) error {
	doc, err := s.loadProjects()
	if err != nil {
		return err
	}
	kept := doc.Projects[:0]
	for _, p := range doc.Projects {
		if p.Name != name {
			kept = append(kept, p)
		}
	}
	doc.Projects = kept
	return s.saveProjects(doc)
}

// VMs returns all VM records sorted by name.
func (s *Store) VMs() ([]VMRecord, error) {
	doc, err := s.loadVMs()
	if err != nil {
		return nil, err
	}
	sort.Slice(doc.VMs, func(i, j int) bool {
		return doc.VMs[i].Name < doc.VMs[j].Name
	})
	return doc.VMs, nil
}

// ProjectVMs returns all VM records referencing the named project.
func (s *Store) ProjectVMs(project string) ([]VMRecord, error) {
	all, err := s.VMs()
	if err != nil {
		return nil, err
	}
	var matched []VMRecord
	for _, vm := range all {
		if vm.Project == project {
			matched = append(matched, vm)
		}
	}
	return matched, nil
}

// VM returns one VM record by name.
func (s *Store) VM(name string) (VMRecord, error) {
	doc, err := s.loadVMs()
	if err != nil {
		return VMRecord{}, err
	}
	for _, vm := range doc.VMs {
		if vm.Name == name {
			return vm, nil
		}
	}
	return VMRecord{}, &lib.NotFoundError{Kind: "vm", Name: name}
}

// PutVM inserts a VM record. The name must be unused.
func (s *Store) PutVM(record VMRecord) error {
	if record.Name == "" {
		return &lib.ValidationError{Field: "vm", Message: "name is required"}
	}
	doc, err := s.loadVMs()
	if err != nil {
		return err
	}
	for _, vm := range doc.VMs {
		if vm.Name == record.Name {
			return &lib.ValidationError{Field: "vm", Message: fmt.Sprintf("%q already exists", record.Name)}
		}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().UTC()
	}
	doc.VMs = append(doc.VMs, record)
	return s.saveVMs(doc)
}

// UpdateVM merges non-nil fields into an existing VM record, leaving
// unspecified fields intact.
func (s *Store) UpdateVM(name string, update VMUpdate) (VMRecord, error) {
	doc, err := s.loadVMs()
	if err != nil {
		return VMRecord{}, err
	}
	for i := range doc.VMs {
		if doc.VMs[i].Name != name {
			continue
		}
		vm := &doc.VMs[i]
		if update.SpikeStatus != nil {
			vm.SpikeStatus = *update.SpikeStatus
		}
		if update.SpikeIterations != nil {
			vm.SpikeIterations = *update.SpikeIterations
		}
		if update.OriginalPrompt != nil {
			vm.OriginalPrompt = *update.OriginalPrompt
		}
		if update.Cost != nil {
			vm.Cost = *update.Cost
		}
		if update.AgentSessionID != nil {
			vm.AgentSessionID = *update.AgentSessionID
		}
		if update.ReviewURL != nil {
			vm.ReviewURL = *update.ReviewURL
		}
		if update.Backend != nil {
			vm.Backend = *update.Backend
		}
		if update.Branch != nil {
			vm.Branch = *update.Branch
		}
		if err := s.saveVMs(doc); err != nil {
			return VMRecord{}, err
		}
		return *vm, nil
	}
	return VMRecord{}, &lib.NotFoundError{Kind: "vm", Name: name}
}

// RemoveVM deletes a VM record. Removing a missing VM is not an error.
func (s *Store) RemoveVM(name string) error {
	doc, err := s.loadVMs()
	if err != nil {
		return err
	}
	kept := doc.VMs[:0]
	for _, vm := range doc.VMs {
		if vm.Name != name {
			kept = append(kept, vm)
		}
	}
	doc.VMs = kept
	return s.saveVMs(doc)
}

func (s *Store) loadProjects() (projectsDocument, error) {
	doc := projectsDocument{Version: documentVersion}
	raw, err := os.ReadFile(s.Paths.ProjectsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("reading %s: %w", s.Paths.ProjectsFile, err)
	}
	var parsed projectsDocument
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Version != documentVersion {
		// Unreadable or wrong-version content is treated as empty.
		return doc, nil
	}
	return parsed, nil
}

func (s *Store) saveProjects(doc projectsDocument) error {
	doc.Version = documentVersion
	return writeDocument(s.Paths.ProjectsFile, doc)
}

func (s *Store) loadVMs() (vmsDocument, error) {
	doc := vmsDocument{Version: documentVersion}
	raw, err := os.ReadFile(s.Paths.VMsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("reading %s: %w", s.Paths.VMsFile, err)
	}
	var parsed vmsDocument
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Version != documentVersion {
		return doc, nil
	}
	return parsed, nil
}

func (s *Store) saveVMs(doc vmsDocument) error {
	doc.Version = documentVersion
	return writeDocument(s.Paths.VMsFile, doc)
}

// writeDocument rewrites a store document in full, via temp file + rename so
// a crash never leaves a half-written document behind.
func writeDocument(path string, doc any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating store dir %q: %w", dir, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp store file in %q: %w", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp store file %q: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp store file %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
