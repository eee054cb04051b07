package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/specforge/internal/assistant"
	"github.com/felixgeelhaar/specforge/internal/decompose"
	"github.com/felixgeelhaar/specforge/internal/events"
	"github.com/felixgeelhaar/specforge/internal/health"
	"github.com/felixgeelhaar/specforge/internal/log"
	"github.com/felixgeelhaar/specforge/internal/metrics"
	"github.com/felixgeelhaar/specforge/internal/orchestrator"
	"github.com/felixgeelhaar/specforge/internal/review"
	"github.com/felixgeelhaar/specforge/internal/session"
	"github.com/felixgeelhaar/specforge/internal/task"
	"github.com/felixgeelhaar/specforge/internal/workspace"
)

const doc = "# Auth\n\n## Login\n\nUsers log in with a password.\n"

const clarityAnswer = `{"verdict": "NEEDS_IMPROVEMENT", "suggestions": [
	{"severity": "warning", "kind": "change", "section": "Login", "lineStart": 5,
	 "textSnippet": "a password", "suggestedFix": "a password or passkey", "issue": "passkeys not mentioned"}
]}`

type fixture struct {
	srv    *Server
	svc    *orchestrator.Service
	bus    *events.Bus
	probes *health.Probes
	doc    string
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

	reg, m := metrics.NewRegistry()
	bus := events.NewBus()
	runner := assistant.RunnerFunc(func(ctx context.Context, req assistant.Request) (*assistant.Result, error) {
		out := `{"verdict": "PASS", "issues": [], "suggestions": []}`
		if req.Label == "review.clarity" {
			out = clarityAnswer
		}
		return &assistant.Result{Success: true, Output: out}, nil
	})
	reviewer := review.NewExecutor(runner, review.Options{Timeout: 10 * time.Second, Logger: log.Discard(), Metrics: m, Publisher: bus})
	svc := orchestrator.New(orchestrator.Config{
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

	probes := health.NewProbes("test", health.NewManager(health.Workspace(store.Dir())))
	srv := New(Config{
		Address:  "127.0.0.1:0",
		Version:  "test",
		Service:  svc,
		Bus:      bus,
		Probes:   probes,
		Gatherer: reg,
		Logger:   log.Discard(),
	})
	return &fixture{srv: srv, svc: svc, bus: bus, probes: probes, doc: path}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewDefaults(t *testing.T) {
	srv := New(Config{Address: ":0", Logger: log.Discard()})
	assert.Equal(t, 30*time.Second, srv.shutdownTimeout)
	assert.Equal(t, 10*time.Second, srv.httpServer.ReadTimeout)
	assert.Equal(t, 60*time.Second, srv.httpServer.IdleTimeout)
	assert.Zero(t, srv.httpServer.WriteTimeout, "event streams are long-lived")
	assert.False(t, srv.IsShuttingDown())
}

func TestHealthProbes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health/startup", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f.probes.MarkInitialized()
	rec = f.do(t, http.MethodGet, "/health/startup", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	ready := decode[health.ProbeResult](t, rec)
	assert.Equal(t, health.StatusHealthy, ready.Status)
	assert.Contains(t, ready.Checks, "workspace")

	require.NoError(t, f.srv.Shutdown(context.Background()))
	assert.True(t, f.srv.IsShuttingDown())

	rec = f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = f.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, health.StatusDegraded, decode[health.ProbeResult](t, rec).Status)
}

func TestReviewApproveRevertOverAPI(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/reviews", map[string]any{"path": f.doc})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	run := decode[orchestrator.Run](t, rec)
	assert.Equal(t, "auth", run.Spec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done, err := f.svc.Wait(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, orchestrator.RunSucceeded, done.Status, done.Error)

	rec = f.do(t, http.MethodGet, "/api/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NEEDS_IMPROVEMENT", decode[orchestrator.Run](t, rec).Verdict)

	rec = f.do(t, http.MethodGet, "/api/specs/auth/session", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	file := decode[session.File](t, rec)
	require.Len(t, file.Suggestions, 1)
	id := file.Suggestions[0].ID

	rec = f.do(t, http.MethodPost, "/api/specs/auth/suggestions/"+id+"/approve", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[changeResult](t, rec)
	require.NotNil(t, result.Change)
	assert.Equal(t, review.StatusApproved, result.Session.Suggestions[0].Status)

	data, err := os.ReadFile(f.doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), "a password or passkey")

	rec = f.do(t, http.MethodPost, "/api/specs/auth/changes/"+result.Change.ID+"/revert", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data, err = os.ReadFile(f.doc)
	require.NoError(t, err)
	assert.Equal(t, doc, string(data))

	rec = f.do(t, http.MethodPost, "/api/specs/auth/changes/"+result.Change.ID+"/revert", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	apiErr := decode[apiError](t, rec)
	assert.Equal(t, "STATE-001", apiErr.Code)
	assert.Equal(t, "state_conflict", apiErr.Kind)

	rec = f.do(t, http.MethodGet, "/api/specs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	specs := decode[[]workspace.Metadata](t, rec)
	require.Len(t, specs, 1)
	assert.Equal(t, workspace.StatusReviewed, specs[0].Status)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Review(context.Background(), f.doc)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown session", http.MethodGet, "/api/specs/nope/session", nil, http.StatusNotFound, "IO-001"},
		{"unknown suggestion", http.MethodPost, "/api/specs/auth/suggestions/missing/reject", map[string]any{}, http.StatusBadRequest, "VALIDATION-003"},
		{"unknown change", http.MethodPost, "/api/specs/auth/changes/missing/revert", nil, http.StatusBadRequest, "VALIDATION-004"},
		{"missing document", http.MethodPost, "/api/godspec", map[string]any{"path": "/does/not/exist.md"}, http.StatusNotFound, "IO-001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[apiError](t, rec).Code)
		})
	}

	rec := f.do(t, http.MethodGet, "/api/specs/auth/session", nil)
	id := decode[session.File](t, rec).Suggestions[0].ID
	rec = f.do(t, http.MethodPost, "/api/specs/auth/suggestions/"+id+"/edit", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION-001", decode[apiError](t, rec).Code)

	rec = f.do(t, http.MethodGet, "/api/runs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Review(context.Background(), f.doc)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "specforge_")
}

func TestEventStreamFiltersBySpec(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events?spec=auth", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line, "subscription is registered before the first flush")

	events.ForSpec(f.bus, "other").Emit(events.FileChanged, nil)
	events.ForSpec(f.bus, "auth").Emit(events.SessionUpdated, map[string]any{"pending": 1})

	var got []string
	for len(got) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if line != "" {
			got = append(got, line)
		}
	}
	assert.Equal(t, "event: session.updated", got[0])
	assert.True(t, strings.HasPrefix(got[1], "data: "))
	assert.Contains(t, got[1], `"spec":"auth"`)
}
