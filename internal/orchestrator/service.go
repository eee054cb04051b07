// Package orchestrator ties the review, decompose, god-spec, and session components to the
// workspace and runs them in the foreground or as background runs.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/specforge/internal/decompose"
	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/events"
	"github.com/felixgeelhaar/specforge/internal/godspec"
	"github.com/felixgeelhaar/specforge/internal/log"
	"github.com/felixgeelhaar/specforge/internal/metrics"
	"github.com/felixgeelhaar/specforge/internal/review"
	"github.com/felixgeelhaar/specforge/internal/session"
	"github.com/felixgeelhaar/specforge/internal/telemetry"
	"github.com/felixgeelhaar/specforge/internal/workspace"
)

// Config wires a Service
type Config struct {
	Store          *workspace.Store
	Reviewer       *review.Executor
	Decomposer     *decompose.Loop
	Sessions       *session.Manager
	Publisher      events.Publisher
	Logger         *log.Logger
	Metrics        *metrics.Metrics
	Model          string
	ProjectContext string
}

// Service is the application layer shared by the CLI and the HTTP API
type Service struct {
	store          *workspace.Store
	reviewer       *review.Executor
	decomposer     *decompose.Loop
	sessions       *session.Manager
	publisher      events.Publisher
	logger         *log.Logger
	metrics        *metrics.Metrics
	model          string
	projectContext string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]*Run
	runs     map[string]*Run

	now   func() time.Time
	newID func() string
}

// New creates a service. Background runs live until Close.
func New(cfg Config) *Service {
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:          cfg.Store,
		reviewer:       cfg.Reviewer,
		decomposer:     cfg.Decomposer,
		sessions:       cfg.Sessions,
		publisher:      cfg.Publisher,
		logger:         log.OrDefault(cfg.Logger).Component("orchestrator"),
		metrics:        metrics.OrDefault(cfg.Metrics),
		model:          cfg.Model,
		projectContext: cfg.ProjectContext,
		ctx:            ctx,
		cancel:         cancel,
		inflight:       make(map[string]*Run),
		runs:           make(map[string]*Run),
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// Store returns the workspace store
func (s *Service) Store() *workspace.Store { return s.store }

// Sessions returns the session manager
func (s *Service) Sessions() *session.Manager { return s.sessions }

// ReviewOutcome is the result of reviewing one document
type ReviewOutcome struct {
	Name    string                         `json:"name"`
	Result  *review.AggregatedReviewResult `json:"result"`
	Session *session.File                  `json:"session,omitempty"`
}

func readDocument(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NewFileNotFoundError(path)
		}
		return "", errors.NewIOError(errors.ErrCodeFileReadFailed, fmt.Sprintf("failed to read %s", path), err)
	}
	return string(data), nil
}

// Review runs the spec-review catalog over a document, persists the aggregate, loads its
// suggestions into the document's session, and advances the document status.
func (s *Service) Review(ctx context.Context, docPath string) (out *ReviewOutcome, err error) {
	if abs, err := filepath.Abs(docPath); err == nil {
		docPath = abs
	}
	ctx, span := telemetry.Start(ctx, "orchestrator.review", attribute.String("document", docPath))
	defer func() {
		if out != nil && out.Result != nil {
			span.SetAttributes(attribute.String("verdict", string(out.Result.Verdict)))
		}
		telemetry.End(span, err)
	}()

	content, err := readDocument(docPath)
	if err != nil {
		return nil, err
	}
	name := workspace.NameFor(docPath)
	if _, err := s.store.EnsureMetadata(name, docPath); err != nil {
		return nil, err
	}

	result, err := s.reviewer.Run(ctx, review.Input{
		Name:           name,
		DocumentPath:   docPath,
		Content:        content,
		ProjectContext: s.projectContext,
		WorkingDir:     filepath.Dir(docPath),
		LogDir:         s.store.LogDir(name),
		Model:          s.model,
	})
	if err != nil {
		return &ReviewOutcome{Name: name, Result: result}, err
	}

	if err := s.store.SaveReview(name, result); err != nil {
		return nil, err
	}
	file, err := s.sessions.Upsert(name, docPath, func(sess *session.Session) error {
		sess.LoadReview(result)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.advance(name, workspace.StatusReviewed, string(result.Verdict))
	return &ReviewOutcome{Name: name, Result: result, Session: file}, nil
}

// Decompose runs the decompose loop for a document
func (s *Service) Decompose(ctx context.Context, docPath string, opts decompose.Options) (state *decompose.State, err error) {
	if abs, err := filepath.Abs(docPath); err == nil {
		docPath = abs
	}
	opts.DocumentPath = docPath
	if opts.Name == "" {
		opts.Name = workspace.NameFor(docPath)
	}
	ctx, span := telemetry.Start(ctx, "orchestrator.decompose",
		attribute.String("spec", opts.Name),
		attribute.Int("max_attempts", opts.MaxReviewAttempts))
	defer func() {
		if state != nil {
			span.SetAttributes(attribute.String("verdict", string(state.Verdict)), attribute.Int("attempts", state.Attempt))
		}
		telemetry.End(span, err)
	}()
	return s.decomposer.Run(ctx, opts)
}

// GodSpecReport is the detector output with an optional split proposal
type GodSpecReport struct {
	Indicators godspec.Indicators     `json:"indicators"`
	Proposal   *godspec.SplitProposal `json:"proposal,omitempty"`
	Written    []string               `json:"written,omitempty"`
}

// GodSpec runs the detector over a document. With propose set, a split proposal is built even
// when the document is not a god spec; with write set, the proposal is materialised and the
// new documents are linked to the original's session.
func (s *Service) GodSpec(docPath string, propose, write, overwrite bool) (*GodSpecReport, error) {
	if abs, err := filepath.Abs(docPath); err == nil {
		docPath = abs
	}
	content, err := readDocument(docPath)
	if err != nil {
		return nil, err
	}

	report := &GodSpecReport{Indicators: godspec.Detect(content)}
	s.metrics.GodSpecChecks.WithLabelValues(metrics.Bool(report.Indicators.IsGodSpec)).Inc()
	s.logger.Info("god spec check", "document", docPath, "god_spec", report.Indicators.IsGodSpec,
		"stories", report.Indicators.EstimatedStories)

	if !propose && !write {
		return report, nil
	}
	proposal := godspec.BuildSplitProposal(docPath, content)
	report.Proposal = &proposal
	if !write {
		return report, nil
	}

	paths, err := godspec.WriteSplit(proposal, content, overwrite)
	report.Written = paths
	if err != nil {
		return report, err
	}

	children := make(map[string]string, len(paths))
	for _, p := range paths {
		name := workspace.NameFor(p)
		children[name] = p
		if _, err := s.store.EnsureMetadata(name, p); err != nil {
			return report, err
		}
	}
	if err := s.sessions.LinkSplit(workspace.NameFor(docPath), docPath, children); err != nil {
		return report, err
	}
	for _, p := range paths {
		events.ForSpec(s.publisher, workspace.NameFor(docPath)).Emit(events.FileChanged, map[string]any{"path": p, "created": true})
	}
	return report, nil
}

func (s *Service) advance(name string, status workspace.Status, verdict string) {
	if _, err := s.store.AdvanceStatus(name, status, verdict); err != nil {
		if errors.IsKind(err, errors.KindStateConflict) {
			s.logger.Debug("metadata status unchanged", "spec", name, "reason", err.Error())
			return
		}
		s.logger.WithError(err).Warn("failed to update metadata", "spec", name)
	}
}
