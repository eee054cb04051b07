package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/specforge/internal/assistant"
	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/log"
	"github.com/felixgeelhaar/specforge/internal/metrics"
	"github.com/felixgeelhaar/specforge/internal/review"
	"github.com/felixgeelhaar/specforge/internal/workspace"
)

const document = "# Auth\n\nthe quick fox\nTBD\nUsers log in.\nTBD\n"

func intp(i int) *int { return &i }

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readDoc(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func suggestions() []review.SuggestionCard {
	return []review.SuggestionCard{
		{ID: "s1", Category: "clarity", Severity: review.SeverityWarning, Kind: review.KindChange, LineStart: intp(3), TextSnippet: "quick fox", SuggestedFix: "slow fox", Issue: "tone", Status: review.StatusPending},
		{ID: "s2", Category: "completeness", Severity: review.SeverityCritical, Kind: review.KindComment, Issue: "missing logout", Status: review.StatusPending},
		{ID: "s3", Category: "testability", Severity: review.SeverityInfo, Kind: review.KindChange, LineStart: intp(6), TextSnippet: "TBD", SuggestedFix: "42", Issue: "placeholder", Status: review.StatusPending},
	}
}

func newSession(t *testing.T) (*Session, string) {
	t.Helper()
	path := writeDoc(t, document)
	_, m := metrics.NewRegistry()
	f := &File{SessionID: "sess", SpecFilePath: path, Suggestions: suggestions()}
	s := New(f, NewFileDocument(path), Options{Name: "auth", Logger: log.Discard(), Metrics: m})
	n := 0
	s.newID = func() string { n++; return fmt.Sprintf("id-%d", n) }
	return s, path
}

func statusOf(s *Session, id string) review.Status {
	sg, _ := s.find(id)
	return sg.Status
}

func TestApproveChangeCommitsSnippetAndRevertsOnce(t *testing.T) {
	s, path := newSession(t)

	rec, err := s.Approve("s1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "# Auth\n\nthe slow fox\nTBD\nUsers log in.\nTBD\n", readDoc(t, path))
	assert.Equal(t, document, rec.BeforeContent)
	assert.Equal(t, Hash(document), rec.BeforeHash)
	assert.Equal(t, Hash(rec.AfterContent), rec.AfterHash)
	assert.NotEmpty(t, rec.Patch)
	assert.Equal(t, "s1", rec.SuggestionID)

	sg, _ := s.find("s1")
	assert.Equal(t, review.StatusApproved, sg.Status)
	require.NotNil(t, sg.ReviewedAt)

	_, err = s.Revert(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, document, readDoc(t, path))
	assert.True(t, s.Changes()[0].Reverted)

	require.NoError(t, os.WriteFile(path, []byte("edited by hand\n"), 0o644))
	_, err = s.Revert(rec.ID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAlreadyReverted, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "already reverted")
	assert.Equal(t, "edited by hand\n", readDoc(t, path), "second revert leaves the document alone")
}

func TestApproveLeavesOtherSuggestionsAlone(t *testing.T) {
	s, path := newSession(t)

	rec, err := s.Approve("s2")
	require.NoError(t, err)
	assert.Nil(t, rec, "comments only change status")
	assert.Equal(t, document, readDoc(t, path))

	assert.Equal(t, review.StatusApproved, statusOf(s, "s2"))
	for _, id := range []string{"s1", "s3"} {
		sg, _ := s.find(id)
		assert.Equal(t, review.StatusPending, sg.Status)
		assert.Nil(t, sg.ReviewedAt)
	}
	assert.Equal(t, StatusInProgress, s.File().Status)
}

func TestEditRequiresUserVersion(t *testing.T) {
	s, path := newSession(t)

	_, err := s.Edit("s1", "  ")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUserVersionRequired, errors.CodeOf(err))
	assert.True(t, errors.IsKind(err, errors.KindValidation))
	assert.Equal(t, review.StatusPending, statusOf(s, "s1"))
	assert.Equal(t, document, readDoc(t, path))

	rec, err := s.Edit("s1", "lazy dog")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Contains(t, readDoc(t, path), "the lazy dog\n")
	sg, _ := s.find("s1")
	assert.Equal(t, review.StatusEdited, sg.Status)
	assert.Equal(t, "lazy dog", sg.UserVersion)
}

func TestDiffModeUsesLineHint(t *testing.T) {
	s, path := newSession(t)

	staged, err := s.EnterDiffMode("s3", "TBD", "42", intp(6))
	require.NoError(t, err)
	assert.Equal(t, "s3", staged.SuggestionID)
	assert.Equal(t, document, readDoc(t, path), "staging never touches the document")

	rec, err := s.Approve("s3")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "# Auth\n\nthe quick fox\nTBD\nUsers log in.\n42\n", readDoc(t, path))
	assert.Nil(t, s.File().PendingEdit)
}

func TestRejectDiscardsStagedEdit(t *testing.T) {
	s, path := newSession(t)

	_, err := s.EnterDiffMode("s1", "quick fox", "fast fox", nil)
	require.NoError(t, err)
	require.NoError(t, s.Reject("s1"))

	assert.Equal(t, document, readDoc(t, path))
	assert.Nil(t, s.File().PendingEdit)
	assert.Equal(t, review.StatusRejected, statusOf(s, "s1"))
	assert.Empty(t, s.Changes())
}

func TestClosedSuggestionsRejectTransitions(t *testing.T) {
	s, _ := newSession(t)
	require.NoError(t, s.Dismiss("s2"))

	for _, action := range []Action{ActionApprove, ActionReject, ActionDismiss, ActionResolve} {
		_, err := s.Apply(action, "s2", "")
		require.Error(t, err, action)
		assert.Equal(t, errors.ErrCodeSuggestionClosed, errors.CodeOf(err), action)
	}
	_, err := s.EnterDiffMode("s2", "a", "b", nil)
	assert.Equal(t, errors.ErrCodeSuggestionClosed, errors.CodeOf(err))
	assert.Equal(t, review.StatusDismissed, statusOf(s, "s2"))

	_, err = s.Apply(ActionApprove, "nope", "")
	assert.Equal(t, errors.ErrCodeUnknownSuggestion, errors.CodeOf(err))
	_, err = s.Apply(Action("merge"), "s1", "")
	assert.Equal(t, errors.ErrCodeUnknownAction, errors.CodeOf(err))
	_, err = s.Revert("missing")
	assert.Equal(t, errors.ErrCodeUnknownChange, errors.CodeOf(err))
}

func TestApproveFailsWhenSnippetIsGone(t *testing.T) {
	s, path := newSession(t)
	require.NoError(t, os.WriteFile(path, []byte("line one\nend\n"), 0o644))
	s.file.Suggestions[0].TextSnippet = "qqqqxxxx"

	_, err := s.Approve("s1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodePatchNotApplied, errors.CodeOf(err))
	assert.Equal(t, review.StatusPending, statusOf(s, "s1"))
	assert.Equal(t, "line one\nend\n", readDoc(t, path))
}

func TestSessionStatus(t *testing.T) {
	s, _ := newSession(t)
	s.file.ReviewResult = &review.AggregatedReviewResult{Verdict: review.VerdictFail, FailedCategories: []string{"scope"}}

	require.NoError(t, s.Dismiss("s1"))
	require.NoError(t, s.Resolve("s2"))
	assert.Equal(t, StatusInProgress, s.File().Status)
	require.NoError(t, s.Reject("s3"))
	assert.Equal(t, StatusNeedsAttention, s.File().Status)

	s.file.ReviewResult = &review.AggregatedReviewResult{Verdict: review.VerdictPass}
	assert.Equal(t, StatusCompleted, s.File().ComputeStatus())
}

func TestLoadReviewKeepsDecidedSuggestions(t *testing.T) {
	s, _ := newSession(t)
	require.NoError(t, s.Reject("s2"))

	n := s.LoadReview(&review.AggregatedReviewResult{
		Verdict: review.VerdictNeedsImprovement,
		Suggestions: []review.SuggestionCard{
			{ID: "s2", Category: "clarity", Issue: "collides with a decided id"},
			{ID: "s9", Category: "scope", Issue: "fresh"},
		},
	})
	assert.Equal(t, 2, n)

	ids := make([]string, 0)
	for _, sg := range s.File().Suggestions {
		ids = append(ids, sg.ID)
	}
	assert.Equal(t, []string{"s2", "id-1", "s9"}, ids)
	assert.Equal(t, review.StatusRejected, statusOf(s, "s2"))
	assert.Equal(t, review.StatusPending, statusOf(s, "s9"))
}

type chatRunner struct {
	requests []assistant.Request
	fail     bool
}

func (r *chatRunner) Run(_ context.Context, req assistant.Request) (*assistant.Result, error) {
	r.requests = append(r.requests, req)
	if r.fail {
		return nil, errors.NewBackendFailure(req.Label, fmt.Errorf("boom"))
	}
	return &assistant.Result{Success: true, Output: fmt.Sprintf(" reply %d \n", len(r.requests))}, nil
}

func TestChatResumesBackendSession(t *testing.T) {
	s, _ := newSession(t)
	runner := &chatRunner{}
	ctx := context.Background()

	reply, err := s.Chat(ctx, runner, "Is logout covered?", ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "reply 1", reply)

	_, err = s.Chat(ctx, runner, "Thanks", ChatOptions{})
	require.NoError(t, err)

	require.Len(t, runner.requests, 2)
	assert.False(t, runner.requests[0].Resume)
	assert.Contains(t, runner.requests[0].Prompt, "the quick fox")
	assert.Contains(t, runner.requests[0].Prompt, "missing logout")
	assert.True(t, runner.requests[1].Resume)
	assert.Equal(t, runner.requests[0].SessionID, runner.requests[1].SessionID)
	assert.Len(t, s.File().ChatMessages, 4)

	runner.fail = true
	_, err = s.Chat(ctx, runner, "again", ChatOptions{})
	require.Error(t, err)
	assert.Len(t, s.File().ChatMessages, 4)

	_, err = s.Chat(ctx, runner, " ", ChatOptions{})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}

func newManager(t *testing.T) (*Manager, *workspace.Store, *metrics.Metrics) {
	t.Helper()
	store := workspace.Open(t.TempDir(), log.Discard())
	_, m := metrics.NewRegistry()
	return NewManager(store, log.Discard(), m, nil), store, m
}

func TestManagerPersistsAndVersions(t *testing.T) {
	mgr, _, _ := newManager(t)
	path := writeDoc(t, document)

	_, err := mgr.Update("auth", func(*Session) error { return nil })
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.CodeOf(err))

	f, err := mgr.Upsert("auth", path, func(s *Session) error {
		s.LoadReview(&review.AggregatedReviewResult{Verdict: review.VerdictFail, Suggestions: suggestions()})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.Version)
	assert.Equal(t, StatusInProgress, f.Status)

	f, err = mgr.Update("auth", func(s *Session) error {
		_, err := s.Approve("s1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, f.Version)

	loaded, err := mgr.Load("auth")
	require.NoError(t, err)
	assert.Equal(t, review.StatusApproved, loaded.Suggestions[0].Status)
	require.Len(t, loaded.ChangeHistory, 1)
	assert.Contains(t, readDoc(t, path), "slow fox")

	_, err = mgr.Update("auth", func(s *Session) error {
		_, err := s.Approve("s1")
		return err
	})
	assert.Equal(t, errors.ErrCodeSuggestionClosed, errors.CodeOf(err))
	loaded, err = mgr.Load("auth")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version, "failed mutations are not saved")
}

func TestManagerDetectsConcurrentWriter(t *testing.T) {
	mgr, store, m := newManager(t)
	path := writeDoc(t, document)
	_, err := mgr.Upsert("auth", path, func(*Session) error { return nil })
	require.NoError(t, err)

	_, err = mgr.Update("auth", func(s *Session) error {
		// another process saves in between
		return store.SaveSession("auth", map[string]any{"version": 7}, 1)
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeVersionConflict, errors.CodeOf(err))
	assert.True(t, errors.IsKind(err, errors.KindStateConflict))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionConflicts))
}

func TestManagerRestoresDocumentWhenSaveConflicts(t *testing.T) {
	mgr, store, _ := newManager(t)
	path := writeDoc(t, document)
	_, err := mgr.Upsert("auth", path, func(s *Session) error {
		s.file.Suggestions = suggestions()
		return nil
	})
	require.NoError(t, err)

	_, err = mgr.Update("auth", func(s *Session) error {
		require.NoError(t, store.SaveSession("auth", map[string]any{"version": 7}, 1))
		_, err := s.Approve("s1")
		return err
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeVersionConflict, errors.CodeOf(err))
	assert.Equal(t, document, readDoc(t, path), "unsaved change is rolled back")
}

func TestManagerRestoresDocumentWhenMutationFails(t *testing.T) {
	mgr, _, _ := newManager(t)
	path := writeDoc(t, document)
	_, err := mgr.Upsert("auth", path, func(s *Session) error {
		s.file.Suggestions = suggestions()
		return nil
	})
	require.NoError(t, err)

	_, err = mgr.Update("auth", func(s *Session) error {
		if _, err := s.Approve("s1"); err != nil {
			return err
		}
		return s.Reject("missing")
	})
	require.Error(t, err)
	assert.Equal(t, document, readDoc(t, path))

	f, err := mgr.Load("auth")
	require.NoError(t, err)
	assert.Empty(t, f.ChangeHistory)
	assert.Equal(t, review.StatusPending, f.Suggestions[0].Status)
}

func TestLinkSplit(t *testing.T) {
	mgr, _, _ := newManager(t)
	parent := writeDoc(t, document)
	dir := filepath.Dir(parent)
	children := map[string]string{
		"auth.login": filepath.Join(dir, "auth.login.md"),
		"auth.admin": filepath.Join(dir, "auth.admin.md"),
	}
	require.NoError(t, mgr.LinkSplit("auth", parent, children))

	p, err := mgr.Load("auth")
	require.NoError(t, err)
	assert.Equal(t, []string{children["auth.admin"], children["auth.login"]}, p.SplitSpecs)

	for name := range children {
		c, err := mgr.Load(name)
		require.NoError(t, err)
		assert.Equal(t, parent, c.ParentSpecPath)
	}

	require.NoError(t, mgr.LinkSplit("auth", parent, children))
	p, err = mgr.Load("auth")
	require.NoError(t, err)
	assert.Len(t, p.SplitSpecs, 2, "linking twice does not duplicate")
}

func TestLocate(t *testing.T) {
	doc := "a\nTBD\nb\nTBD\n"
	tests := []struct {
		name     string
		original string
		hint     *int
		want     int
		found    bool
	}{
		{"first match without hint", "TBD", nil, 2, true},
		{"hint on the match", "TBD", intp(2), 2, true},
		{"hint picks later match", "TBD", intp(4), 8, true},
		{"hint past the end falls back", "TBD", intp(99), 8, true},
		{"empty original inserts at hint", "", intp(3), 6, true},
		{"missing text", "zzz", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := locate(doc, tt.original, tt.hint)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, len(doc), lineOffset(doc, 99))
}
