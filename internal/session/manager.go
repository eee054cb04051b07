package session

import (
	stderrors "errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/events"
	"github.com/felixgeelhaar/specforge/internal/log"
	"github.com/felixgeelhaar/specforge/internal/metrics"
	"github.com/felixgeelhaar/specforge/internal/workspace"
)

// Manager loads and saves sessions. Mutations of one session are serialised in-process and
// checked against the persisted version so concurrent writers from other processes are detected.
type Manager struct {
	store     *workspace.Store
	logger    *log.Logger
	metrics   *metrics.Metrics
	publisher events.Publisher

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now   func() time.Time
	newID func() string
}

// NewManager creates a manager over a workspace store
func NewManager(store *workspace.Store, logger *log.Logger, m *metrics.Metrics, pub events.Publisher) *Manager {
	return &Manager{
		store:     store,
		logger:    log.OrDefault(logger).Component("session"),
		metrics:   metrics.OrDefault(m),
		publisher: pub,
		locks:     make(map[string]*sync.Mutex),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (m *Manager) lock(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

// Load returns the session file for name
func (m *Manager) Load(name string) (*File, error) {
	var f File
	ok, err := m.store.LoadSession(name, &f)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, m.notFound(name)
	}
	return &f, nil
}

func (m *Manager) notFound(name string) error {
	return errors.NewFileNotFoundError(filepath.Join(m.store.SpecDir(name), workspace.SessionFile)).
		WithSuggestion("Run 'specforge review' on the document first")
}

// Update runs fn against an existing session and saves the result
func (m *Manager) Update(name string, fn func(*Session) error) (*File, error) {
	return m.mutate(name, "", false, fn)
}

// Upsert is Update that creates the session for specPath when none exists yet
func (m *Manager) Upsert(name, specPath string, fn func(*Session) error) (*File, error) {
	return m.mutate(name, specPath, true, fn)
}

func (m *Manager) mutate(name, specPath string, create bool, fn func(*Session) error) (*File, error) {
	l := m.lock(name)
	l.Lock()
	defer l.Unlock()

	var f File
	ok, err := m.store.LoadSession(name, &f)
	if err != nil {
		return nil, err
	}
	if !ok {
		if !create {
			return nil, m.notFound(name)
		}
		if abs, err := filepath.Abs(specPath); err == nil {
			specPath = abs
		}
		now := m.now().UTC()
		f = File{SessionID: m.newID(), SpecFilePath: specPath, Status: StatusCompleted, CreatedAt: now, UpdatedAt: now}
	}

	doc := &journaledDocument{Document: NewFileDocument(f.SpecFilePath)}
	s := New(&f, doc, Options{Name: name, Logger: m.logger, Metrics: m.metrics, Publisher: m.publisher})
	s.now = m.now
	s.newID = m.newID
	if err := fn(s); err != nil {
		m.rollback(name, doc)
		return nil, err
	}

	expected := f.Version
	f.Version++
	if err := m.store.SaveSession(name, &f, expected); err != nil {
		m.rollback(name, doc)
		if stderrors.Is(err, workspace.ErrVersionConflict) {
			m.metrics.SessionConflicts.Inc()
			return nil, errors.Wrap(errors.ErrCodeVersionConflict, errors.KindStateConflict,
				"session was modified concurrently", err).
				WithSuggestion("Reload the session and retry")
		}
		return nil, err
	}
	return &f, nil
}

// rollback undoes document writes made by a mutation whose change records were not persisted
func (m *Manager) rollback(name string, doc *journaledDocument) {
	if err := doc.restore(); err != nil {
		m.logger.WithError(err).Error("failed to restore document after unsaved session change",
			"spec", name, "path", doc.Path())
	}
}

// LinkSplit records child documents on the parent session and the parent on each child.
// children maps session names to document paths.
func (m *Manager) LinkSplit(parentName, parentPath string, children map[string]string) error {
	paths := make([]string, 0, len(children))
	for _, p := range children {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if _, err := m.Upsert(parentName, parentPath, func(s *Session) error {
		s.file.SplitSpecs = union(s.file.SplitSpecs, paths)
		s.touch()
		return nil
	}); err != nil {
		return err
	}

	parentAbs := parentPath
	if abs, err := filepath.Abs(parentPath); err == nil {
		parentAbs = abs
	}
	for name, path := range children {
		if _, err := m.Upsert(name, path, func(s *Session) error {
			s.file.ParentSpecPath = parentAbs
			s.touch()
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
