package review

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/specforge/internal/assistant"
	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/events"
	"github.com/felixgeelhaar/specforge/internal/extract"
	"github.com/felixgeelhaar/specforge/internal/log"
	"github.com/felixgeelhaar/specforge/internal/metrics"
)

const (
	// DefaultParallelism is the number of category prompts in flight at once
	DefaultParallelism = 3
	// DefaultTimeout is the overall review deadline
	DefaultTimeout = 10 * time.Minute
)

// Options configures an Executor
type Options struct {
	Catalog     []Prompt
	Parallelism int
	Timeout     time.Duration
	Logger      *log.Logger
	Metrics     *metrics.Metrics
	Publisher   events.Publisher
}

// Executor runs category prompts against a document through the assistant
type Executor struct {
	runner      assistant.Runner
	catalog     []Prompt
	parallelism int
	timeout     time.Duration
	logger      *log.Logger
	metrics     *metrics.Metrics
	publisher   events.Publisher
	now         func() time.Time
}

// NewExecutor creates an executor. Zero options fall back to the spec catalog and defaults.
func NewExecutor(runner assistant.Runner, opts Options) *Executor {
	if len(opts.Catalog) == 0 {
		opts.Catalog = SpecCatalog()
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	return &Executor{
		runner:      runner,
		catalog:     opts.Catalog,
		parallelism: opts.Parallelism,
		timeout:     opts.Timeout,
		logger:      log.OrDefault(opts.Logger).Component("review"),
		metrics:     metrics.OrDefault(opts.Metrics),
		publisher:   opts.Publisher,
		now:         time.Now,
	}
}

// Timeout returns the overall deadline applied to each run
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Job is one prepared prompt
type Job struct {
	Name     string
	Category string
	Prompt   string
	Label    string
}

// Outcome is what came back for one job
type Outcome struct {
	Job        Job
	Output     string
	Err        error
	DurationMs int64

	// Completed is false when the job was cut off by the deadline or never started
	Completed bool
}

// RunJobs executes jobs with bounded parallelism under the executor's deadline.
// onDone is called once per completed job, possibly concurrently. Outcomes are returned
// in job order; a non-nil TimeoutInfo means the deadline expired before every job finished.
// The error is non-nil only when ctx itself was cancelled.
func (e *Executor) RunJobs(ctx context.Context, in Input, jobs []Job, onDone func(Outcome)) ([]Outcome, *TimeoutInfo, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	scoped := events.ForSpec(e.publisher, in.Name)
	outcomes := make([]Outcome, len(jobs))
	for i, job := range jobs {
		outcomes[i] = Outcome{Job: job}
	}

	var (
		mu        sync.Mutex
		completed []string
	)

	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for i, job := range jobs {
		g.Go(func() error {
			if runCtx.Err() != nil {
				return nil
			}
			start := e.now()
			res, err := e.runner.Run(runCtx, assistant.Request{
				Prompt:     job.Prompt,
				WorkingDir: in.WorkingDir,
				LogDir:     in.LogDir,
				Label:      job.Label,
				Model:      in.Model,
				OnChunk: func(line string) {
					scoped.Emit(events.LogChunk, map[string]any{"label": job.Label, "line": line})
				},
			})

			out := Outcome{Job: job, Err: err, DurationMs: e.now().Sub(start).Milliseconds()}
			if res != nil {
				out.Output = res.Output
			}
			out.Completed = runCtx.Err() == nil && !errors.IsKind(err, errors.KindTimeout)

			mu.Lock()
			outcomes[i] = out
			if out.Completed {
				completed = append(completed, job.Name)
			}
			mu.Unlock()

			if out.Completed && onDone != nil {
				onDone(out)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return outcomes, nil, errors.Wrap(errors.ErrCodeBackendCancelled, errors.KindBackendFailure, "review cancelled", err)
	}
	if stderrors.Is(runCtx.Err(), context.DeadlineExceeded) && len(completed) < len(jobs) {
		return outcomes, &TimeoutInfo{
			TimeoutMs:            e.timeout.Milliseconds(),
			CompletedPrompts:     len(completed),
			TotalPrompts:         len(jobs),
			CompletedPromptNames: completedInOrder(jobs, completed),
		}, nil
	}
	return outcomes, nil, nil
}

func completedInOrder(jobs []Job, names []string) []string {
	done := make(map[string]bool, len(names))
	for _, n := range names {
		done[n] = true
	}
	ordered := make([]string, 0, len(names))
	for _, j := range jobs {
		if done[j.Name] {
			ordered = append(ordered, j.Name)
		}
	}
	return ordered
}

// Run reviews a document with the executor's catalog and aggregates the results.
// Partial results are returned on timeout with TimeoutInfo set.
func (e *Executor) Run(ctx context.Context, in Input) (*AggregatedReviewResult, error) {
	scoped := events.ForSpec(e.publisher, in.Name)
	logger := e.logger.With("spec", in.Name)
	start := e.now()

	prompts := make(map[string]Prompt, len(e.catalog))
	jobs := make([]Job, 0, len(e.catalog))
	for _, p := range e.catalog {
		prompts[p.Name] = p
		jobs = append(jobs, Job{
			Name:     p.Name,
			Category: p.Category,
			Prompt:   BuildPrompt(p, in),
			Label:    "review." + p.Category,
		})
	}

	scoped.Emit(events.ReviewStatus, map[string]any{"status": "running", "total": len(jobs)})
	logger.Info("review started", "categories", len(jobs), "parallelism", e.parallelism, "timeout", e.timeout.String())

	var (
		mu      sync.Mutex
		results = make(map[string]CategoryResult, len(jobs))
	)
	outcomes, timeout, runErr := e.RunJobs(ctx, in, jobs, func(o Outcome) {
		cr := e.toCategoryResult(prompts[o.Job.Name], o)
		mu.Lock()
		results[cr.Category] = cr
		mu.Unlock()

		e.metrics.CategoryDuration.WithLabelValues(cr.Category).Observe(float64(cr.DurationMs) / 1000)
		if cr.Failed() {
			kind := errors.KindOf(o.Err)
			if o.Err == nil {
				kind = errors.KindExtractionFailure
			}
			e.metrics.CategoryFailures.WithLabelValues(cr.Category, string(kind)).Inc()
			logger.Warn("category degraded", "category", cr.Category, "error", cr.Error)
		}
		scoped.Emit(events.ReviewCategoryCompleted, map[string]any{
			"prompt":     cr.PromptName,
			"category":   cr.Category,
			"verdict":    string(cr.Verdict),
			"error":      cr.Error,
			"durationMs": cr.DurationMs,
		})
	})

	// Jobs cut off by the deadline or by cancellation become failure markers too.
	for _, o := range outcomes {
		if o.Completed {
			continue
		}
		msg := "not completed before deadline"
		if o.Err != nil && !errors.IsKind(o.Err, errors.KindTimeout) {
			msg = o.Err.Error()
		}
		results[o.Job.Category] = CategoryResult{
			PromptName: o.Job.Name,
			Category:   o.Job.Category,
			Verdict:    VerdictFail,
			DurationMs: o.DurationMs,
			Error:      msg,
		}
	}

	list := make([]CategoryResult, 0, len(results))
	for _, j := range jobs {
		if cr, ok := results[j.Category]; ok {
			list = append(list, cr)
		}
	}
	agg := Aggregate(list, AggregateOptions{})
	agg.DurationMs = e.now().Sub(start).Milliseconds()
	agg.TimeoutInfo = timeout

	e.metrics.Reviews.WithLabelValues(string(agg.Verdict)).Inc()
	e.metrics.ReviewDuration.Observe(float64(agg.DurationMs) / 1000)

	if runErr != nil {
		scoped.Emit(events.ReviewStatus, map[string]any{"status": "cancelled"})
		logger.WithError(runErr).Warn("review cancelled")
		return agg, runErr
	}
	if timeout != nil {
		e.metrics.ReviewTimeouts.Inc()
		terr := errors.NewTimeoutError(errors.ErrCodeReviewTimeout, timeout.CompletedPrompts, timeout.TotalPrompts)
		logger.WithError(terr).Warn("review deadline reached", "completed", strings.Join(timeout.CompletedPromptNames, ","))
		scoped.Emit(events.ReviewStatus, map[string]any{"status": "timeout", "message": terr.Message})
	}

	scoped.Emit(events.ReviewCompleted, map[string]any{
		"verdict":     string(agg.Verdict),
		"suggestions": len(agg.Suggestions),
		"failed":      agg.FailedCategories,
		"durationMs":  agg.DurationMs,
	})
	logger.Info("review finished", "verdict", agg.Verdict, "suggestions", len(agg.Suggestions), "failed_categories", len(agg.FailedCategories))
	return agg, nil
}

func (e *Executor) toCategoryResult(p Prompt, o Outcome) CategoryResult {
	if p.Category == "" {
		p = Prompt{Name: o.Job.Name, Category: o.Job.Category}
	}
	if o.Err != nil {
		return CategoryResult{
			PromptName: p.Name,
			Category:   p.Category,
			Verdict:    VerdictFail,
			DurationMs: o.DurationMs,
			Error:      o.Err.Error(),
		}
	}
	cr, err := ParseCategory(p, o.Output)
	if err != nil {
		return CategoryResult{
			PromptName: p.Name,
			Category:   p.Category,
			Verdict:    VerdictFail,
			DurationMs: o.DurationMs,
			Error:      err.Error(),
		}
	}
	cr.DurationMs = o.DurationMs
	return cr
}

type rawCategory struct {
	Verdict     string          `json:"verdict"`
	Issues      []string        `json:"issues"`
	Suggestions []rawSuggestion `json:"suggestions"`
}

type rawSuggestion struct {
	ID           string `json:"id"`
	Severity     string `json:"severity"`
	Kind         string `json:"kind"`
	Section      string `json:"section"`
	LineStart    *int   `json:"lineStart"`
	LineEnd      *int   `json:"lineEnd"`
	TextSnippet  string `json:"textSnippet"`
	Issue        string `json:"issue"`
	SuggestedFix string `json:"suggestedFix"`
}

// ParseCategory extracts a CategoryResult from raw assistant output for prompt p
func ParseCategory(p Prompt, output string) (CategoryResult, error) {
	var raw rawCategory
	if err := extract.Into(output, &raw); err != nil {
		return CategoryResult{}, err
	}

	cr := CategoryResult{
		PromptName:  p.Name,
		Category:    p.Category,
		Issues:      raw.Issues,
		Suggestions: make([]SuggestionCard, 0, len(raw.Suggestions)),
	}
	if cr.Issues == nil {
		cr.Issues = []string{}
	}

	for _, s := range raw.Suggestions {
		cr.Suggestions = append(cr.Suggestions, normalizeSuggestion(p.Category, s))
	}

	verdict := Verdict(strings.ToUpper(strings.TrimSpace(raw.Verdict)))
	switch {
	case verdict == "":
		verdict = inferVerdict(cr.Suggestions)
	case !verdict.Valid():
		return CategoryResult{}, errors.NewExtractionFailure(errors.ErrCodeExtractShape,
			fmt.Sprintf("unknown verdict %q in %s output", raw.Verdict, p.Category), nil)
	}
	cr.Verdict = verdict
	return cr, nil
}

func inferVerdict(suggestions []SuggestionCard) Verdict {
	v := VerdictPass
	for _, s := range suggestions {
		switch s.Severity {
		case SeverityCritical:
			return VerdictFail
		case SeverityWarning:
			v = VerdictNeedsImprovement
		}
	}
	return v
}

func normalizeSuggestion(category string, s rawSuggestion) SuggestionCard {
	sev := Severity(strings.ToLower(strings.TrimSpace(s.Severity)))
	switch sev {
	case SeverityCritical, SeverityWarning, SeverityInfo:
	default:
		sev = SeverityWarning
	}

	kind := Kind(strings.ToLower(strings.TrimSpace(s.Kind)))
	if kind != KindChange && kind != KindComment {
		kind = KindComment
		if s.TextSnippet != "" && s.SuggestedFix != "" {
			kind = KindChange
		}
	}

	return SuggestionCard{
		ID:           strings.TrimSpace(s.ID),
		Category:     category,
		Severity:     sev,
		Kind:         kind,
		Section:      s.Section,
		LineStart:    s.LineStart,
		LineEnd:      s.LineEnd,
		TextSnippet:  s.TextSnippet,
		Issue:        s.Issue,
		SuggestedFix: s.SuggestedFix,
		Status:       StatusPending,
	}
}
