package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/specforge/internal/errors"
)

// Status is the lifecycle stage of a spec
type Status string

const (
	StatusDraft      Status = "draft"
	StatusReviewed   Status = "reviewed"
	StatusDecomposed Status = "decomposed"
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
)

var statusOrder = map[Status]int{
	StatusDraft:      0,
	StatusReviewed:   1,
	StatusDecomposed: 2,
	StatusActive:     3,
	StatusCompleted:  4,
}

// ParseStatus validates a status name
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := statusOrder[st]; !ok {
		return "", errors.NewValidationError(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown status %q", s))
	}
	return st, nil
}

// Metadata tracks a spec's lifecycle
type Metadata struct {
	Name        string    `json:"name"`
	SpecPath    string    `json:"specPath"`
	Status      Status    `json:"status"`
	LastVerdict string    `json:"lastVerdict,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// LoadMetadata reads a spec's metadata. A spec without metadata is a not-found error.
func (s *Store) LoadMetadata(name string) (*Metadata, error) {
	var md Metadata
	ok, err := s.readJSON(name, MetadataFile, &md)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewFileNotFoundError(s.path(name, MetadataFile)).
			WithSuggestion("Run 'specforge review <doc>' or 'specforge decompose <doc>' first")
	}
	return &md, nil
}

// EnsureMetadata returns existing metadata for name, creating a draft record for specPath if needed
func (s *Store) EnsureMetadata(name, specPath string) (*Metadata, error) {
	l := s.lock(name + "/metadata")
	l.Lock()
	defer l.Unlock()

	var md Metadata
	ok, err := s.readJSON(name, MetadataFile, &md)
	if err != nil {
		return nil, err
	}
	if ok {
		return &md, nil
	}

	if abs, err := filepath.Abs(specPath); err == nil {
		specPath = abs
	}
	now := s.now().UTC()
	md = Metadata{Name: name, SpecPath: specPath, Status: StatusDraft, CreatedAt: now, UpdatedAt: now}
	if err := s.writeJSON(name, MetadataFile, &md); err != nil {
		return nil, err
	}
	s.logger.Info("registered spec", "spec", name, "path", specPath)
	return &md, nil
}

// AdvanceStatus moves the spec forward to status and records the verdict. Moving to the same
// or an earlier status only updates the verdict and returns a StateConflict, which callers
// treat as non-fatal.
func (s *Store) AdvanceStatus(name string, status Status, verdict string) (*Metadata, error) {
	l := s.lock(name + "/metadata")
	l.Lock()
	defer l.Unlock()

	var md Metadata
	ok, err := s.readJSON(name, MetadataFile, &md)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewFileNotFoundError(s.path(name, MetadataFile))
	}

	var conflict error
	if statusOrder[status] > statusOrder[md.Status] {
		md.Status = status
	} else {
		conflict = errors.NewStateConflict(errors.ErrCodeStatusRegression,
			fmt.Sprintf("spec %s is already %s", name, md.Status))
	}
	if verdict != "" {
		md.LastVerdict = verdict
	}
	md.UpdatedAt = s.now().UTC()
	if err := s.writeJSON(name, MetadataFile, &md); err != nil {
		return nil, err
	}
	return &md, conflict
}

// DocumentPath returns the spec document registered for name
func (s *Store) DocumentPath(name string) (string, error) {
	md, err := s.LoadMetadata(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(md.SpecPath); err != nil {
		return "", errors.NewFileNotFoundError(md.SpecPath)
	}
	return md.SpecPath, nil
}
