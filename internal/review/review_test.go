package review

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/specforge/internal/assistant"
	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/events"
	"github.com/felixgeelhaar/specforge/internal/log"
	"github.com/felixgeelhaar/specforge/internal/metrics"
)

// scriptedRunner answers by label. A missing label blocks until ctx is done.
type scriptedRunner struct {
	mu      sync.Mutex
	outputs map[string]string
	errs    map[string]error
	calls   []assistant.Request
}

func (r *scriptedRunner) Run(ctx context.Context, req assistant.Request) (*assistant.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	out, ok := r.outputs[req.Label]
	err := r.errs[req.Label]
	r.mu.Unlock()

	if err != nil {
		return &assistant.Result{}, err
	}
	if !ok {
		<-ctx.Done()
		return &assistant.Result{}, errors.Wrap(errors.ErrCodeBackendCancelled, errors.KindTimeout, "deadline", ctx.Err())
	}
	if req.OnChunk != nil {
		req.OnChunk("chunk")
	}
	return &assistant.Result{Success: true, Output: out, DurationMs: 1}, nil
}

func fenced(verdict string, suggestions ...string) string {
	return fmt.Sprintf("Here is my review.\n```json\n{\"verdict\": %q, \"issues\": [], \"suggestions\": [%s]}\n```\nThanks!", verdict, strings.Join(suggestions, ","))
}

func intp(n int) *int { return &n }

func newTestExecutor(r assistant.Runner, timeout time.Duration, pub events.Publisher) *Executor {
	_, m := metrics.NewRegistry()
	return NewExecutor(r, Options{Timeout: timeout, Logger: log.Discard(), Metrics: m, Publisher: pub})
}

func TestAggregatePrecedence(t *testing.T) {
	tests := []struct {
		name     string
		verdicts []Verdict
		want     Verdict
	}{
		{"split dominates", []Verdict{VerdictPass, VerdictNeedsImprovement, VerdictSplitRecommended}, VerdictSplitRecommended},
		{"fail over pass", []Verdict{VerdictPass, VerdictFail}, VerdictFail},
		{"fail over needs improvement", []Verdict{VerdictNeedsImprovement, VerdictFail}, VerdictFail},
		{"needs improvement over pass", []Verdict{VerdictPass, VerdictNeedsImprovement}, VerdictNeedsImprovement},
		{"all pass", []Verdict{VerdictPass, VerdictPass}, VerdictPass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var results []CategoryResult
			for i, v := range tt.verdicts {
				results = append(results, CategoryResult{Category: fmt.Sprintf("c%d", i), Verdict: v})
			}
			assert.Equal(t, tt.want, Aggregate(results, AggregateOptions{}).Verdict)
		})
	}
}

func TestAggregateEmpty(t *testing.T) {
	agg := Aggregate(nil, AggregateOptions{})
	assert.Equal(t, VerdictPass, agg.Verdict)
	assert.Empty(t, agg.Suggestions)
}

func TestAggregateSortsAndDedupes(t *testing.T) {
	results := []CategoryResult{
		{
			Category: "clarity",
			Verdict:  VerdictNeedsImprovement,
			Suggestions: []SuggestionCard{
				{Severity: SeverityInfo, Issue: "info no line"},
				{Severity: SeverityWarning, Issue: "warn no line"},
				{Severity: SeverityWarning, Issue: "warn line 20", LineStart: intp(20)},
				{Severity: SeverityCritical, Issue: "crit line 9", LineStart: intp(9), Section: "Auth"},
			},
		},
		{
			Category: "completeness",
			Verdict:  VerdictFail,
			Suggestions: []SuggestionCard{
				{Severity: SeverityWarning, Issue: "warn line 3", LineStart: intp(3)},
				{Severity: SeverityCritical, Issue: "Crit  line 9.", LineStart: intp(9), Section: "auth"},
				{Severity: SeverityCritical, Issue: "crit line 2", LineStart: intp(2)},
			},
		},
	}

	agg := Aggregate(results, AggregateOptions{})
	require.Len(t, agg.Suggestions, 6)

	var issues []string
	for _, s := range agg.Suggestions {
		issues = append(issues, s.Issue)
		assert.NotEmpty(t, s.ID)
		assert.Equal(t, StatusPending, s.Status)
	}
	assert.Equal(t, []string{
		"crit line 2",
		"crit line 9",
		"warn line 3",
		"warn line 20",
		"warn no line",
		"info no line",
	}, issues)
	assert.Equal(t, VerdictFail, agg.Verdict)
}

func TestAggregateAssignsUniqueIDs(t *testing.T) {
	results := []CategoryResult{{
		Category: "clarity",
		Verdict:  VerdictPass,
		Suggestions: []SuggestionCard{
			{ID: "taken", Issue: "a"},
			{ID: "keep", Issue: "b"},
			{ID: "keep", Issue: "c"},
			{Issue: "d"},
		},
	}}

	n := 0
	agg := Aggregate(results, AggregateOptions{
		ExistingIDs: []string{"taken"},
		NewID: func() string {
			n++
			return fmt.Sprintf("gen-%d", n)
		},
	})

	ids := map[string]bool{}
	for _, s := range agg.Suggestions {
		assert.False(t, ids[s.ID], "duplicate id %s", s.ID)
		ids[s.ID] = true
		assert.NotEqual(t, "taken", s.ID)
		assert.Equal(t, "clarity", s.Category)
	}
	assert.True(t, ids["keep"])
	assert.Len(t, ids, 4)
}

func TestParseCategory(t *testing.T) {
	scope := Prompt{Name: "spec-scope", Category: "scope", AllowSplit: true}
	clarity := Prompt{Name: "spec-clarity", Category: "clarity"}

	t.Run("split allowed for scope", func(t *testing.T) {
		cr, err := ParseCategory(scope, fenced("split_recommended"))
		require.NoError(t, err)
		assert.Equal(t, VerdictSplitRecommended, cr.Verdict)
		assert.Equal(t, "scope", cr.Category)
	})

	t.Run("split kept from any category", func(t *testing.T) {
		cr, err := ParseCategory(clarity, fenced("SPLIT_RECOMMENDED"))
		require.NoError(t, err)
		assert.Equal(t, VerdictSplitRecommended, cr.Verdict)
	})

	t.Run("missing verdict inferred from severities", func(t *testing.T) {
		cr, err := ParseCategory(clarity, `{"suggestions": [{"severity": "warning", "issue": "vague"}]}`)
		require.NoError(t, err)
		assert.Equal(t, VerdictNeedsImprovement, cr.Verdict)
		require.Len(t, cr.Suggestions, 1)
		assert.Equal(t, KindComment, cr.Suggestions[0].Kind)
		assert.Equal(t, StatusPending, cr.Suggestions[0].Status)
	})

	t.Run("change kind inferred from snippet and fix", func(t *testing.T) {
		cr, err := ParseCategory(clarity, fenced("FAIL", `{"severity": "bogus", "textSnippet": "fast", "suggestedFix": "under 200ms", "issue": "vague", "lineStart": 4}`))
		require.NoError(t, err)
		require.Len(t, cr.Suggestions, 1)
		s := cr.Suggestions[0]
		assert.Equal(t, KindChange, s.Kind)
		assert.Equal(t, SeverityWarning, s.Severity)
		require.NotNil(t, s.LineStart)
		assert.Equal(t, 4, *s.LineStart)
		assert.Nil(t, s.LineEnd)
	})

	t.Run("unknown verdict is an extraction failure", func(t *testing.T) {
		_, err := ParseCategory(clarity, fenced("MAYBE"))
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindExtractionFailure))
	})

	t.Run("prose only is an extraction failure", func(t *testing.T) {
		_, err := ParseCategory(clarity, "I could not review this document.")
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindExtractionFailure))
	})
}

func TestExecutorDegradesOnlyFailingCategory(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string]string{
			"review.clarity":      fenced("PASS"),
			"review.completeness": "no json here, sorry",
			"review.testability":  fenced("NEEDS_IMPROVEMENT", `{"severity": "warning", "issue": "no thresholds", "lineStart": 2}`),
			"review.scope":        fenced("PASS"),
		},
		errs: map[string]error{
			"review.consistency": errors.NewBackendFailure("review.consistency", fmt.Errorf("exit status 1")),
		},
	}
	bus := events.NewBus()
	sub, cancel := bus.Subscribe(256)
	defer cancel()

	exec := newTestExecutor(runner, 5*time.Second, bus)
	agg, err := exec.Run(context.Background(), Input{Name: "auth", DocumentPath: "specs/auth.md", Content: "# Auth\nLogin must be fast\n"})
	require.NoError(t, err)

	assert.Len(t, agg.Categories, 5)
	assert.Equal(t, []string{"completeness", "consistency"}, agg.FailedCategories)
	assert.Equal(t, VerdictFail, agg.Verdict)
	assert.Nil(t, agg.TimeoutInfo)
	assert.Equal(t, 3, agg.Succeeded())
	assert.True(t, agg.Categories["completeness"].Failed())
	assert.Contains(t, agg.Categories["consistency"].Error, "exit status 1")
	require.Len(t, agg.Suggestions, 1)
	assert.Equal(t, "testability", agg.Suggestions[0].Category)

	completed := 0
	for len(sub) > 0 {
		if e := <-sub; e.Type == events.ReviewCategoryCompleted {
			completed++
			assert.Equal(t, "auth", e.Spec)
		}
	}
	assert.Equal(t, 5, completed)
}

func TestExecutorSplitOutranksOtherVerdicts(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string]string{
			"review.clarity":      fenced("NEEDS_IMPROVEMENT"),
			"review.completeness": fenced("SPLIT_RECOMMENDED"),
			"review.testability":  fenced("PASS"),
			"review.consistency":  fenced("PASS"),
			"review.scope":        fenced("PASS"),
		},
	}

	agg, err := newTestExecutor(runner, 5*time.Second, nil).
		Run(context.Background(), Input{Name: "auth", DocumentPath: "specs/auth.md", Content: "# Auth\n"})
	require.NoError(t, err)

	assert.Equal(t, VerdictSplitRecommended, agg.Verdict)
	assert.Equal(t, VerdictSplitRecommended, agg.Categories["completeness"].Verdict)
	assert.Empty(t, agg.FailedCategories)
}

func TestExecutorPromptsCarryHeader(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]string{}}
	for _, p := range SpecCatalog() {
		runner.outputs["review."+p.Category] = fenced("PASS")
	}

	exec := newTestExecutor(runner, 5*time.Second, nil)
	_, err := exec.Run(context.Background(), Input{
		DocumentPath:   "specs/auth.md",
		Content:        "# Auth\nline two",
		ProjectContext: "Go service",
	})
	require.NoError(t, err)

	require.Len(t, runner.calls, 5)
	for _, call := range runner.calls {
		assert.Contains(t, call.Prompt, "Document path: specs/auth.md")
		assert.Contains(t, call.Prompt, "2 | line two")
		assert.Contains(t, call.Prompt, "Go service")
		assert.Empty(t, call.SessionID, "review calls are stateless")
	}
}

func TestExecutorTimeoutKeepsPartialResults(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]string{
		"review.clarity":      fenced("PASS"),
		"review.completeness": fenced("PASS"),
		"review.testability":  fenced("PASS"),
		"review.consistency":  fenced("NEEDS_IMPROVEMENT"),
		// scope never answers
	}}

	exec := newTestExecutor(runner, 150*time.Millisecond, nil)
	start := time.Now()
	agg, err := exec.Run(context.Background(), Input{Content: "# Doc"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	require.NotNil(t, agg.TimeoutInfo)
	assert.Equal(t, 4, agg.TimeoutInfo.CompletedPrompts)
	assert.Equal(t, 5, agg.TimeoutInfo.TotalPrompts)
	assert.Equal(t, int64(150), agg.TimeoutInfo.TimeoutMs)
	assert.Equal(t, []string{"spec-clarity", "spec-completeness", "spec-testability", "spec-consistency"}, agg.TimeoutInfo.CompletedPromptNames)
	assert.Equal(t, []string{"scope"}, agg.FailedCategories)
	assert.Equal(t, VerdictNeedsImprovement, agg.Categories["consistency"].Verdict)
	assert.True(t, agg.Degraded())
}

func TestExecutorParentCancellation(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]string{}}
	exec := newTestExecutor(runner, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	agg, err := exec.Run(ctx, Input{Content: "# Doc"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBackendCancelled, errors.CodeOf(err))
	require.NotNil(t, agg)
	assert.Equal(t, 0, agg.Succeeded())
}

func TestNumberLines(t *testing.T) {
	got := NumberLines(strings.Repeat("x\n", 10))
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	require.Len(t, lines, 10)
	assert.Equal(t, " 1 | x", lines[0])
	assert.Equal(t, "10 | x", lines[9])
}
