// Package workspace owns the on-disk layout under .specforge/.
package workspace

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/log"
	"github.com/felixgeelhaar/specforge/internal/review"
	"github.com/felixgeelhaar/specforge/internal/task"
)

// Layout names
const (
	DirName          = ".specforge"
	SpecsDir         = "specs"
	LogsDir          = "logs"
	MetadataFile     = "metadata.json"
	TasksFile        = "tasks.json"
	SessionFile      = "session.json"
	ProgressFile     = "decompose_progress.json"
	ReviewFile       = "review.json"
	ConfigFile       = "config.yaml"
	SequenceDatabase = "sequence.db"
)

// ErrVersionConflict is returned when a conditional write finds a newer version on disk
var ErrVersionConflict = errors.NewStateConflict(errors.ErrCodeVersionConflict, "session was modified by another writer").
	WithSuggestion("Reload the session and retry the action")

// Store reads and writes per-spec state. Every write replaces the whole file atomically.
type Store struct {
	root   string
	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open returns a store rooted at the project directory. Nothing is created until the first write.
func Open(projectRoot string, logger *log.Logger) *Store {
	if projectRoot == "" {
		projectRoot = "."
	}
	return &Store{
		root:   projectRoot,
		logger: log.OrDefault(logger).Component("workspace"),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Root is the project directory
func (s *Store) Root() string { return s.root }

// Dir is the .specforge directory
func (s *Store) Dir() string { return filepath.Join(s.root, DirName) }

// ConfigPath is the project config file
func (s *Store) ConfigPath() string { return filepath.Join(s.Dir(), ConfigFile) }

// SequencePath is the sqlite task id sequence
func (s *Store) SequencePath() string { return filepath.Join(s.Dir(), SequenceDatabase) }

// SpecDir is the state directory for one spec
func (s *Store) SpecDir(name string) string { return filepath.Join(s.Dir(), SpecsDir, name) }

// LogDir receives raw assistant transcripts for one spec
func (s *Store) LogDir(name string) string { return filepath.Join(s.SpecDir(name), LogsDir) }

var unsafeName = regexp.MustCompile(`[^a-z0-9._-]+`)

// NameFor derives a spec name from a document path
func NameFor(docPath string) string {
	base := strings.TrimSuffix(filepath.Base(docPath), filepath.Ext(docPath))
	name := strings.Trim(unsafeName.ReplaceAllString(strings.ToLower(base), "-"), "-.")
	if name == "" {
		return "spec"
	}
	return name
}

// Names lists every spec with a state directory
func (s *Store) Names() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.Dir(), SpecsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, errors.NewIOError(errors.ErrCodeFileReadFailed, "failed to list specs", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (s *Store) lock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *Store) path(name, file string) string {
	return filepath.Join(s.SpecDir(name), file)
}

// readJSON decodes a spec file into v. It reports false when the file does not exist.
func (s *Store) readJSON(name, file string, v any) (bool, error) {
	path := s.path(name, file)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.NewIOError(errors.ErrCodeFileReadFailed, fmt.Sprintf("failed to read %s", path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errors.NewFileUnmarshalError(path, "JSON", err)
	}
	return true, nil
}

func (s *Store) writeJSON(name, file string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.NewIOError(errors.ErrCodeFileWriteFailed, fmt.Sprintf("failed to encode %s", file), err)
	}
	path := s.path(name, file)
	if err := WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return errors.NewIOError(errors.ErrCodeFileWriteFailed, fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}

func (s *Store) remove(name, file string) error {
	if err := os.Remove(s.path(name, file)); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError(errors.ErrCodeFileWriteFailed, fmt.Sprintf("failed to remove %s", file), err)
	}
	return nil
}

// LoadTasks returns the current task list, or nil when none was generated yet
func (s *Store) LoadTasks(name string) (*task.List, error) {
	var list task.List
	ok, err := s.readJSON(name, TasksFile, &list)
	if err != nil || !ok {
		return nil, err
	}
	return &list, nil
}

// SaveTasks overwrites the task list
func (s *Store) SaveTasks(name string, list *task.List) error {
	return s.writeJSON(name, TasksFile, list)
}

// SaveProgress overwrites the decompose progress snapshot
func (s *Store) SaveProgress(name string, state any) error {
	return s.writeJSON(name, ProgressFile, state)
}

// LoadProgress reads the decompose progress snapshot into state
func (s *Store) LoadProgress(name string, state any) (bool, error) {
	return s.readJSON(name, ProgressFile, state)
}

// SaveReview stores the last aggregated review
func (s *Store) SaveReview(name string, result *review.AggregatedReviewResult) error {
	return s.writeJSON(name, ReviewFile, result)
}

// LoadReview returns the last aggregated review, or nil
func (s *Store) LoadReview(name string) (*review.AggregatedReviewResult, error) {
	var result review.AggregatedReviewResult
	ok, err := s.readJSON(name, ReviewFile, &result)
	if err != nil || !ok {
		return nil, err
	}
	return &result, nil
}

// LoadSession reads the session snapshot into v
func (s *Store) LoadSession(name string, v any) (bool, error) {
	return s.readJSON(name, SessionFile, v)
}

type versioned struct {
	Version int `json:"version"`
}

// SaveSession writes v only if the version on disk still equals expected.
// A missing file counts as version 0.
func (s *Store) SaveSession(name string, v any, expected int) error {
	l := s.lock(name)
	l.Lock()
	defer l.Unlock()

	var current versioned
	if _, err := s.readJSON(name, SessionFile, &current); err != nil {
		return err
	}
	if current.Version != expected {
		s.logger.Warn("session version conflict", "spec", name, "expected", expected, "found", current.Version)
		return ErrVersionConflict
	}
	return s.writeJSON(name, SessionFile, v)
}

// ClearDecompose removes the task draft, the progress snapshot, and decompose transcripts
func (s *Store) ClearDecompose(name string) error {
	if err := s.remove(name, TasksFile); err != nil {
		return err
	}
	if err := s.remove(name, ProgressFile); err != nil {
		return err
	}
	matches, err := filepath.Glob(filepath.Join(s.LogDir(name), "*-decompose.*"))
	if err != nil {
		return errors.NewIOError(errors.ErrCodeFileReadFailed, "failed to list decompose logs", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !stderrors.Is(err, os.ErrNotExist) {
			return errors.NewIOError(errors.ErrCodeFileWriteFailed, fmt.Sprintf("failed to remove %s", m), err)
		}
	}
	s.logger.Info("cleared decompose state", "spec", name, "logs_removed", len(matches))
	return nil
}
