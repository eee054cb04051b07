package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/felixgeelhaar/specforge/internal/decompose"
	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/workspace"
)

// RunKind names what a background run does
type RunKind string

const (
	RunReview    RunKind = "review"
	RunDecompose RunKind = "decompose"
)

// RunStatus is the lifecycle of a background run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run is a snapshot of one background run
type Run struct {
	ID         string     `json:"id"`
	Spec       string     `json:"spec"`
	Kind       RunKind    `json:"kind"`
	Status     RunStatus  `json:"status"`
	Verdict    string     `json:"verdict,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	cancel context.CancelFunc
	done   chan struct{}
}

// StartReview reviews a document in the background
func (s *Service) StartReview(docPath string) (Run, error) {
	return s.start(workspace.NameFor(docPath), RunReview, func(ctx context.Context) (string, error) {
		out, err := s.Review(ctx, docPath)
		if out != nil && out.Result != nil {
			return string(out.Result.Verdict), err
		}
		return "", err
	})
}

// StartDecompose decomposes a document in the background
func (s *Service) StartDecompose(docPath string, opts decompose.Options) (Run, error) {
	name := opts.Name
	if name == "" {
		name = workspace.NameFor(docPath)
	}
	opts.Name = name
	return s.start(name, RunDecompose, func(ctx context.Context) (string, error) {
		state, err := s.Decompose(ctx, docPath, opts)
		if state != nil {
			return string(state.Verdict), err
		}
		return "", err
	})
}

// start launches fn under the service context. At most one run per spec is in flight.
func (s *Service) start(spec string, kind RunKind, fn func(context.Context) (string, error)) (Run, error) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return Run{}, errors.NewStateConflict(errors.ErrCodeRunInFlight, "service is shutting down")
	}
	if cur, ok := s.inflight[spec]; ok {
		s.mu.Unlock()
		return Run{}, errors.NewStateConflict(errors.ErrCodeRunInFlight,
			fmt.Sprintf("a %s run is already in progress for %s", cur.Kind, spec)).
			WithSuggestion("Wait for it to finish or cancel it first")
	}

	ctx, cancel := context.WithCancel(s.ctx)
	run := &Run{
		ID:        s.newID(),
		Spec:      spec,
		Kind:      kind,
		Status:    RunRunning,
		StartedAt: s.now().UTC(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.inflight[spec] = run
	s.runs[run.ID] = run
	snapshot := *run
	s.wg.Add(1)
	s.mu.Unlock()

	logger := s.logger.With("run", run.ID, "spec", spec, "kind", kind)
	logger.Info("background run started")

	go func() {
		defer s.wg.Done()
		defer cancel()
		verdict, err := fn(ctx)

		s.mu.Lock()
		finished := s.now().UTC()
		run.FinishedAt = &finished
		run.Verdict = verdict
		switch {
		case err == nil:
			run.Status = RunSucceeded
		case ctx.Err() != nil:
			run.Status = RunCancelled
			run.Error = err.Error()
		default:
			run.Status = RunFailed
			run.Error = err.Error()
		}
		delete(s.inflight, spec)
		close(run.done)
		s.mu.Unlock()

		if err != nil {
			logger.WithError(err).Warn("background run ended", "status", run.Status)
		} else {
			logger.Info("background run finished", "verdict", verdict)
		}
	}()
	return snapshot, nil
}

// Cancel stops the in-flight run for a spec. It reports whether one was running.
func (s *Service) Cancel(spec string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.inflight[spec]
	if ok {
		run.cancel()
	}
	return ok
}

// Get returns a snapshot of a run
func (s *Service) Get(id string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// Runs returns snapshots of every run, oldest first
func (s *Service) Runs() []Run {
	s.mu.Lock()
	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, *r)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Wait blocks until the run finishes or ctx is done
func (s *Service) Wait(ctx context.Context, id string) (Run, error) {
	s.mu.Lock()
	run, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return Run{}, errors.NewValidationError(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown run %q", id))
	}
	select {
	case <-run.done:
	case <-ctx.Done():
		return Run{}, ctx.Err()
	}
	r, _ := s.Get(id)
	return r, nil
}

// Close cancels every in-flight run and waits for them to stop or for ctx to expire
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
