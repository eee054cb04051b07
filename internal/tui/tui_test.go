package tui

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/specforge/internal/decompose"
	"github.com/felixgeelhaar/specforge/internal/godspec"
	"github.com/felixgeelhaar/specforge/internal/review"
	"github.com/felixgeelhaar/specforge/internal/session"
	"github.com/felixgeelhaar/specforge/internal/task"
)

func line(n int) *int { return &n }

func cards() []review.SuggestionCard {
	return []review.SuggestionCard{
		{ID: "aaaaaaaa-1111", Category: "clarity", Severity: review.SeverityCritical, Kind: review.KindChange, Section: "Login", LineStart: line(5), LineEnd: line(7), TextSnippet: "a password", SuggestedFix: "a password or passkey", Issue: "passkeys not mentioned", Status: review.StatusPending},
		{ID: "bbbbbbbb-2222", Category: "scope", Severity: review.SeverityInfo, Kind: review.KindComment, Issue: "consider splitting billing", Status: review.StatusPending},
		{ID: "cccccccc-3333", Category: "testability", Severity: review.SeverityWarning, Kind: review.KindChange, TextSnippet: "fast", SuggestedFix: "under 200ms", Issue: "unmeasurable", Status: review.StatusPending},
	}
}

func TestReviewView(t *testing.T) {
	var buf bytes.Buffer
	agg := &review.AggregatedReviewResult{
		Verdict: review.VerdictFail,
		Categories: map[string]review.CategoryResult{
			"clarity": {Category: "clarity", Verdict: review.VerdictNeedsImprovement, Issues: []string{"vague"}, Suggestions: cards()[:1], DurationMs: 1200},
			"scope":   {Category: "scope", Verdict: review.VerdictFail, Error: "no JSON in output"},
		},
		Suggestions: cards()[:1],
		DurationMs:  2500,
		TimeoutInfo: &review.TimeoutInfo{TimeoutMs: 60000, CompletedPrompts: 4, TotalPrompts: 5},
	}
	NewView(&buf).Review("auth", agg)

	out := buf.String()
	assert.Contains(t, out, "Review auth")
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "no JSON in output")
	assert.Contains(t, out, "4 of 5 categories finished")
	assert.Contains(t, out, "aaaaaaaa", "ids are shortened")
	assert.NotContains(t, out, "aaaaaaaa-1111")
	assert.Contains(t, out, "Login L5-7")
}

func TestSessionView(t *testing.T) {
	var buf bytes.Buffer
	f := &session.File{
		SpecFilePath: "/work/auth.md",
		Status:       session.StatusInProgress,
		Suggestions:  cards(),
		SplitSpecs:   []string{"/work/auth-login.md"},
		ChangeHistory: []session.ChangeRecord{
			{ID: "dddddddd-4444", Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Description: "Approved suggestion", SuggestionID: "aaaaaaaa-1111"},
		},
	}
	NewView(&buf).Session("auth", f)

	out := buf.String()
	assert.Contains(t, out, "pending 3")
	assert.Contains(t, out, "split into /work/auth-login.md")
	assert.Contains(t, out, "dddddddd")
	assert.Contains(t, out, "Approved suggestion")
}

func TestDecomposeAndGodSpecViews(t *testing.T) {
	var buf bytes.Buffer
	v := NewView(&buf)
	v.Decompose("auth", &decompose.State{
		Status: decompose.StatusCompleted, Verdict: review.VerdictPass, Attempt: 1, MaxAttempts: 3,
	}, &task.List{Tasks: []task.Task{
		{ID: "US-001", Type: task.TypeStory, Title: "Log in", Dependencies: []string{"TS-001"}},
		{ID: "TS-001", Type: task.TypeTechnical, Title: "Session store"},
	}})
	v.GodSpec(godspec.Indicators{IsGodSpec: true, WordCount: 4200, EstimatedStories: 18, Indicators: []string{"18 user stories"}},
		&godspec.SplitProposal{Reason: "too broad", ProposedSpecs: []godspec.ProposedSpec{{Filename: "auth-login.md", EstimatedStories: 6}}}, nil)

	out := buf.String()
	assert.Contains(t, out, "attempt 1/3")
	assert.Contains(t, out, "US-001")
	assert.Contains(t, out, "TS-001")
	assert.Contains(t, out, "God spec detected")
	assert.Contains(t, out, "auth-login.md")
}

func TestCard(t *testing.T) {
	out := NewView(&bytes.Buffer{}).Card(cards()[0], 1, 3)
	assert.Contains(t, out, "[1/3]")
	assert.Contains(t, out, "CRITICAL")
	assert.Contains(t, out, "a password or passkey")
}

func TestChoicesForKind(t *testing.T) {
	assert.Len(t, choicesFor(cards()[0]), 6)
	assert.Len(t, choicesFor(cards()[1]), 4, "comments resolve or dismiss")
}

type applied struct {
	id          string
	action      session.Action
	userVersion string
}

func TestTriage(t *testing.T) {
	script := []Decision{
		{Choice: ChoiceEdit, UserVersion: "a password or WebAuthn passkey"},
		{Choice: ChoiceSkip},
		{Choice: ChoiceApprove},
	}
	var calls []applied
	var failures []string
	sum, err := Triage(cards(),
		DeciderFunc(func(card review.SuggestionCard, index, total int) (Decision, error) {
			assert.Equal(t, 3, total)
			return script[index-1], nil
		}),
		func(id string, action session.Action, userVersion string) error {
			calls = append(calls, applied{id, action, userVersion})
			if id == "cccccccc-3333" {
				return fmt.Errorf("snippet no longer present")
			}
			return nil
		},
		func(card review.SuggestionCard, err error) { failures = append(failures, card.ID) },
	)
	require.NoError(t, err)
	assert.Equal(t, TriageSummary{Decided: 1, Skipped: 1, Failed: 1}, sum)
	assert.Equal(t, []applied{
		{"aaaaaaaa-1111", session.ActionEdit, "a password or WebAuthn passkey"},
		{"cccccccc-3333", session.ActionApprove, ""},
	}, calls)
	assert.Equal(t, []string{"cccccccc-3333"}, failures)
}

func TestTriageQuit(t *testing.T) {
	sum, err := Triage(cards(),
		DeciderFunc(func(review.SuggestionCard, int, int) (Decision, error) { return Decision{Choice: ChoiceQuit}, nil }),
		func(string, session.Action, string) error { t.Fatal("nothing applied after quit"); return nil },
		nil,
	)
	require.NoError(t, err)
	assert.True(t, sum.Quit)
	assert.Equal(t, 3, sum.Skipped)
}
