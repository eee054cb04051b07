package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/specforge/internal/assistant"
	"github.com/felixgeelhaar/specforge/internal/decompose"
	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/events"
	"github.com/felixgeelhaar/specforge/internal/log"
	"github.com/felixgeelhaar/specforge/internal/metrics"
	"github.com/felixgeelhaar/specforge/internal/review"
	"github.com/felixgeelhaar/specforge/internal/session"
	"github.com/felixgeelhaar/specforge/internal/task"
	"github.com/felixgeelhaar/specforge/internal/workspace"
)

// gatedRunner answers by label. While gated, review calls block until released or cancelled.
type gatedRunner struct {
	mu      sync.Mutex
	gate    chan struct{}
	answers map[string]string
}

func (r *gatedRunner) Run(ctx context.Context, req assistant.Request) (*assistant.Result, error) {
	r.mu.Lock()
	gate := r.gate
	out, ok := r.answers[req.Label]
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, errors.Wrap(errors.ErrCodeBackendCancelled, errors.KindBackendFailure, "cancelled", ctx.Err())
		}
	}
	if !ok {
		out = `{"verdict": "PASS", "issues": [], "suggestions": []}`
	}
	return &assistant.Result{Success: true, Output: out}, nil
}

const doc = "# Auth\n\n## Login\n\nUsers log in with a password.\n"

type fixture struct {
	svc    *Service
	runner *gatedRunner
	store  *workspace.Store
	doc    string
	bus    *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "auth.md")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	store := workspace.Open(root, log.Discard())
	seq, err := task.OpenSQLite(context.Background(), store.SequencePath())
	require.NoError(t, err)
	t.Cleanup(func() { _ = seq.Close() })

	_, m := metrics.NewRegistry()
	bus := events.NewBus()
	runner := &gatedRunner{answers: map[string]string{}}
	reviewer := review.NewExecutor(runner, review.Options{Timeout: 10 * time.Second, Logger: log.Discard(), Metrics: m, Publisher: bus})

	svc := New(Config{
		Store:    store,
		Reviewer: reviewer,
		Decomposer: decompose.New(decompose.Config{
			Runner: runner, Reviewer: reviewer, Store: store, Sequence: seq,
			Logger: log.Discard(), Metrics: m, Publisher: bus,
		}),
		Sessions:  session.NewManager(store, log.Discard(), m, bus),
		Publisher: bus,
		Logger:    log.Discard(),
		Metrics:   m,
	})
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return &fixture{svc: svc, runner: runner, store: store, doc: path, bus: bus}
}

func TestReviewPersistsAndLoadsSession(t *testing.T) {
	f := newFixture(t)
	f.runner.answers["review.clarity"] = `{"verdict": "NEEDS_IMPROVEMENT", "suggestions": [
		{"severity": "warning", "section": "Login", "lineStart": 5, "textSnippet": "a password", "suggestedFix": "a password or passkey", "issue": "passkeys not mentioned"}
	]}`
	f.runner.answers["review.scope"] = "no json here"

	out, err := f.svc.Review(context.Background(), f.doc)
	require.NoError(t, err)
	assert.Equal(t, "auth", out.Name)
	assert.Equal(t, review.VerdictFail, out.Result.Verdict, "a degraded category counts as FAIL")
	assert.Equal(t, []string{"scope"}, out.Result.FailedCategories)

	saved, err := f.store.LoadReview("auth")
	require.NoError(t, err)
	assert.Equal(t, out.Result.Verdict, saved.Verdict)

	require.NotNil(t, out.Session)
	require.Len(t, out.Session.Suggestions, 1)
	assert.Equal(t, session.StatusInProgress, out.Session.Status)

	md, err := f.store.LoadMetadata("auth")
	require.NoError(t, err)
	assert.Equal(t, workspace.StatusReviewed, md.Status)

	id := out.Session.Suggestions[0].ID
	_, err = f.svc.Sessions().Update("auth", func(s *session.Session) error {
		_, err := s.Approve(id)
		return err
	})
	require.NoError(t, err)
	data, err := os.ReadFile(f.doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), "a password or passkey")

	file, err := f.svc.Sessions().Load("auth")
	require.NoError(t, err)
	assert.Equal(t, session.StatusNeedsAttention, file.Status)
}

func TestReviewMissingDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Review(context.Background(), filepath.Join(t.TempDir(), "missing.md"))
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.CodeOf(err))
}

func TestOneRunInFlightPerSpec(t *testing.T) {
	f := newFixture(t)
	f.runner.gate = make(chan struct{})

	run, err := f.svc.StartReview(f.doc)
	require.NoError(t, err)
	assert.Equal(t, RunRunning, run.Status)

	_, err = f.svc.StartDecompose(f.doc, decompose.Options{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeRunInFlight, errors.CodeOf(err))

	assert.True(t, f.svc.Cancel("auth"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done, err := f.svc.Wait(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunCancelled, done.Status)
	assert.NotNil(t, done.FinishedAt)
	assert.False(t, f.svc.Cancel("auth"))

	f.runner.mu.Lock()
	f.runner.gate = nil
	f.runner.mu.Unlock()

	again, err := f.svc.StartReview(f.doc)
	require.NoError(t, err)
	finished, err := f.svc.Wait(ctx, again.ID)
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, finished.Status)
	assert.Equal(t, "PASS", finished.Verdict)
	assert.Len(t, f.svc.Runs(), 2)
}

func TestCloseCancelsRuns(t *testing.T) {
	f := newFixture(t)
	f.runner.gate = make(chan struct{})

	run, err := f.svc.StartReview(f.doc)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Close(ctx))

	got, ok := f.svc.Get(run.ID)
	require.True(t, ok)
	assert.Equal(t, RunCancelled, got.Status)

	_, err = f.svc.StartReview(f.doc)
	assert.Equal(t, errors.ErrCodeRunInFlight, errors.CodeOf(err))
}

const sprawling = `# Platform

## User Authentication

Login with email and password.

As a customer, I want to log in so that I can see my orders.

## Admin Dashboard

As an admin, I want to see metrics.

## Billing

Invoices are sent monthly.

## Reporting

Weekly reports for managers.
`

func TestGodSpecWriteLinksSessions(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(filepath.Dir(f.doc), "platform.md")
	require.NoError(t, os.WriteFile(path, []byte(sprawling), 0o644))

	report, err := f.svc.GodSpec(path, false, false, false)
	require.NoError(t, err)
	assert.Nil(t, report.Proposal)

	report, err = f.svc.GodSpec(path, true, true, false)
	require.NoError(t, err)
	require.NotNil(t, report.Proposal)
	require.NotEmpty(t, report.Written)

	parent, err := f.svc.Sessions().Load("platform")
	require.NoError(t, err)
	assert.ElementsMatch(t, report.Written, parent.SplitSpecs)

	for _, p := range report.Written {
		assert.True(t, strings.HasPrefix(filepath.Base(p), "platform."))
		child, err := f.svc.Sessions().Load(workspace.NameFor(p))
		require.NoError(t, err)
		assert.Equal(t, path, child.ParentSpecPath)
	}

	_, err = f.svc.GodSpec(path, true, true, false)
	assert.True(t, errors.IsKind(err, errors.KindStateConflict))
}
