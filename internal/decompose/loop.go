package decompose

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/specforge/internal/assistant"
	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/events"
	"github.com/felixgeelhaar/specforge/internal/extract"
	"github.com/felixgeelhaar/specforge/internal/log"
	"github.com/felixgeelhaar/specforge/internal/metrics"
	"github.com/felixgeelhaar/specforge/internal/review"
	"github.com/felixgeelhaar/specforge/internal/task"
	"github.com/felixgeelhaar/specforge/internal/workspace"
)

// DefaultCallTimeout bounds a single generate or revise call
const DefaultCallTimeout = 10 * time.Minute

// Options for one decompose run
type Options struct {
	Name              string
	DocumentPath      string
	MaxReviewAttempts int
	Force             bool
	SkipReview        bool
}

// Config wires a Loop
type Config struct {
	Runner      assistant.Runner
	Reviewer    *review.Executor
	Store       *workspace.Store
	Sequence    task.Sequence
	Logger      *log.Logger
	Metrics     *metrics.Metrics
	Publisher   events.Publisher
	Model       string
	CallTimeout time.Duration
}

// Loop drives generate, review, and revise for one spec at a time
type Loop struct {
	runner      assistant.Runner
	reviewer    *review.Executor
	store       *workspace.Store
	seq         task.Sequence
	logger      *log.Logger
	metrics     *metrics.Metrics
	publisher   events.Publisher
	model       string
	callTimeout time.Duration
	newID       func() string
	now         func() time.Time
}

// New creates a loop. The reviewer runs the decompose-review prompts; when nil, one is built
// from the runner with default limits.
func New(cfg Config) *Loop {
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	m := metrics.OrDefault(cfg.Metrics)
	if cfg.Reviewer == nil {
		cfg.Reviewer = review.NewExecutor(cfg.Runner, review.Options{Logger: cfg.Logger, Metrics: m, Publisher: cfg.Publisher})
	}
	return &Loop{
		runner:      cfg.Runner,
		reviewer:    cfg.Reviewer,
		store:       cfg.Store,
		seq:         cfg.Sequence,
		logger:      log.OrDefault(cfg.Logger).Component("decompose"),
		metrics:     m,
		publisher:   cfg.Publisher,
		model:       cfg.Model,
		callTimeout: cfg.CallTimeout,
		newID:       uuid.NewString,
		now:         time.Now,
	}
}

// run carries the state of one Run call
type run struct {
	*Loop
	opts    Options
	state   *State
	content string
	logger  *log.Logger
	events  events.Scoped
	session string
	resume  bool
}

// Run executes the loop to a terminal state. The returned state is always non-nil. An error is
// returned only for ERROR outcomes; a failed review ends COMPLETED with verdict FAIL.
func (l *Loop) Run(ctx context.Context, opts Options) (*State, error) {
	if opts.MaxReviewAttempts <= 0 {
		opts.MaxReviewAttempts = 1
	}
	if opts.Name == "" {
		opts.Name = workspace.NameFor(opts.DocumentPath)
	}

	now := l.now()
	r := &run{
		Loop:   l,
		opts:   opts,
		state:  &State{StartedAt: now, UpdatedAt: now, MaxAttempts: opts.MaxReviewAttempts},
		logger: l.logger.With("spec", opts.Name),
		events: events.ForSpec(l.publisher, opts.Name),
	}
	state, err := r.execute(ctx)
	l.metrics.DecomposeRuns.WithLabelValues(string(state.Status), string(state.Verdict)).Inc()
	return state, err
}

func (r *run) execute(ctx context.Context) (*State, error) {
	data, err := os.ReadFile(r.opts.DocumentPath)
	if err != nil {
		r.logger.Debug("document unreadable", "error", err.Error())
		return r.fail(errors.NewFileNotFoundError(r.opts.DocumentPath))
	}
	r.content = string(data)

	if _, err := r.store.EnsureMetadata(r.opts.Name, r.opts.DocumentPath); err != nil {
		return r.fail(err)
	}

	var previous State
	hadPrevious, err := r.store.LoadProgress(r.opts.Name, &previous)
	if err != nil {
		r.logger.WithError(err).Warn("ignoring unreadable progress snapshot")
		hadPrevious = false
	}

	if r.opts.Force {
		if err := r.store.ClearDecompose(r.opts.Name); err != nil {
			return r.fail(err)
		}
		hadPrevious = false
	}
	if err := r.transition(StatusInitializing, "starting decomposition"); err != nil {
		return r.fail(err)
	}

	draft, err := r.store.LoadTasks(r.opts.Name)
	if err != nil {
		return r.fail(err)
	}

	if !draft.Empty() && !r.opts.Force {
		r.session = r.newID()
		if hadPrevious && previous.BackendSessionID != "" {
			r.session, r.resume = previous.BackendSessionID, true
		}
		r.state.BackendSessionID = r.session
		r.state.DraftFile = r.draftFile()
		if err := r.transition(StatusDecomposed, fmt.Sprintf("reusing existing draft with %d tasks", len(draft.Tasks))); err != nil {
			return r.fail(err)
		}
	} else {
		draft, err = r.generate(ctx)
		if err != nil {
			return r.fail(err)
		}
	}

	if r.opts.SkipReview {
		return r.complete("review skipped")
	}

	for {
		r.state.Feedback = nil
		if err := r.transition(StatusReviewing, fmt.Sprintf("reviewing %d tasks", len(draft.Tasks))); err != nil {
			return r.fail(err)
		}

		feedback, err := r.review(ctx, draft)
		if err != nil {
			return r.fail(err)
		}
		if feedback == nil {
			r.state.Verdict = review.VerdictFail
			return r.complete("decompose review produced no parseable results")
		}
		r.state.Verdict = feedback.Verdict
		r.state.Feedback = feedback

		if feedback.Verdict == review.VerdictPass {
			return r.complete("review passed")
		}
		if r.state.Attempt >= r.opts.MaxReviewAttempts {
			return r.complete(fmt.Sprintf("review failed after %d revision(s); keeping last draft", r.state.Attempt))
		}

		r.state.Attempt++
		if err := r.transition(StatusRevising, fmt.Sprintf("revision %d of %d: %d critical issue(s)", r.state.Attempt, r.opts.MaxReviewAttempts, feedback.Critical())); err != nil {
			return r.fail(err)
		}

		revised, err := r.revise(ctx, draft, feedback)
		if err != nil {
			r.state.Error = err.Error()
			r.logger.WithError(err).Warn("revision failed, keeping last draft", "attempt", r.state.Attempt)
			return r.complete("revision failed; keeping last draft")
		}
		draft = revised
		r.metrics.DecomposeRevisions.Inc()
	}
}

func (r *run) draftFile() string {
	return filepath.Join(r.store.SpecDir(r.opts.Name), workspace.TasksFile)
}

func (r *run) transition(status Status, message string) error {
	r.state.Status = status
	r.state.Message = message
	r.state.UpdatedAt = r.now()
	if err := r.store.SaveProgress(r.opts.Name, r.state); err != nil {
		return err
	}
	r.metrics.DecomposeTransitions.WithLabelValues(string(status)).Inc()
	r.events.Emit(events.DecomposeStatus, map[string]any{
		"status":      string(status),
		"message":     message,
		"attempt":     r.state.Attempt,
		"maxAttempts": r.state.MaxAttempts,
		"verdict":     string(r.state.Verdict),
	})
	r.logger.Info("decompose transition", "status", status, "message", message, "attempt", r.state.Attempt)
	return nil
}

func (r *run) complete(message string) (*State, error) {
	if err := r.transition(StatusCompleted, message); err != nil {
		return r.fail(err)
	}
	if _, err := r.store.AdvanceStatus(r.opts.Name, workspace.StatusDecomposed, string(r.state.Verdict)); err != nil {
		if errors.IsKind(err, errors.KindStateConflict) {
			r.logger.Debug("metadata status unchanged", "reason", err.Error())
		} else {
			r.logger.WithError(err).Warn("failed to update metadata")
		}
	}
	return r.state, nil
}

func (r *run) fail(cause error) (*State, error) {
	r.state.Status = StatusError
	r.state.Error = cause.Error()
	r.state.Message = "decomposition failed"
	r.state.UpdatedAt = r.now()
	if err := r.store.SaveProgress(r.opts.Name, r.state); err != nil {
		r.logger.WithError(err).Warn("failed to persist error state")
	}
	r.metrics.DecomposeTransitions.WithLabelValues(string(StatusError)).Inc()
	r.events.Emit(events.DecomposeStatus, map[string]any{"status": string(StatusError), "error": r.state.Error})
	r.logger.WithError(cause).Error("decompose failed")
	return r.state, cause
}

type taskPayload struct {
	Tasks []task.Task `json:"tasks"`
}

func (r *run) call(ctx context.Context, label, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	res, err := r.runner.Run(callCtx, assistant.Request{
		Prompt:     prompt,
		WorkingDir: filepath.Dir(r.opts.DocumentPath),
		LogDir:     r.store.LogDir(r.opts.Name),
		Label:      label,
		Model:      r.model,
		SessionID:  r.session,
		Resume:     r.resume,
		OnChunk: func(line string) {
			r.events.Emit(events.LogChunk, map[string]any{"label": label, "line": line})
		},
	})
	if err != nil {
		if errors.IsKind(err, errors.KindTimeout) {
			return "", errors.Wrap(errors.ErrCodeDecomposeTimeout, errors.KindTimeout,
				fmt.Sprintf("%s exceeded %s", label, r.callTimeout), err)
		}
		return "", err
	}
	return res.Output, nil
}

func (r *run) parseTasks(output string) ([]task.Task, error) {
	var payload taskPayload
	if err := extract.Into(output, &payload); err != nil {
		return nil, err
	}
	if len(payload.Tasks) == 0 {
		return nil, errors.NewExtractionFailure(errors.ErrCodeExtractShape, "assistant returned an empty task list", nil)
	}
	for i := range payload.Tasks {
		t := &payload.Tasks[i]
		for _, s := range []*[]string{&t.AcceptanceCriteria, &t.TestCases, &t.Dependencies} {
			if *s == nil {
				*s = []string{}
			}
		}
	}
	return payload.Tasks, nil
}

func (r *run) save(tasks []task.Task) (*task.List, error) {
	list := &task.List{SpecPath: r.opts.DocumentPath, GeneratedAt: r.now().UTC(), Tasks: tasks}
	if err := r.store.SaveTasks(r.opts.Name, list); err != nil {
		return nil, err
	}
	r.state.DraftFile = r.draftFile()
	return list, nil
}

func (r *run) generate(ctx context.Context) (*task.List, error) {
	r.session, r.resume = r.newID(), false
	r.state.BackendSessionID = r.session
	if err := r.transition(StatusDecomposing, "generating task list"); err != nil {
		return nil, err
	}

	output, err := r.call(ctx, "decompose.generate", buildGeneratePrompt(r.opts.DocumentPath, r.content))
	if err != nil {
		return nil, err
	}
	r.resume = true

	tasks, err := r.parseTasks(output)
	if err != nil {
		return nil, err
	}
	if err := task.AssignIDs(ctx, r.seq, tasks, nil); err != nil {
		return nil, err
	}
	list, err := r.save(tasks)
	if err != nil {
		return nil, err
	}
	if err := r.transition(StatusDecomposed, fmt.Sprintf("generated %d tasks", len(tasks))); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *run) revise(ctx context.Context, draft *task.List, feedback *Feedback) (*task.List, error) {
	output, err := r.call(ctx, "decompose.revise", buildRevisePrompt(r.opts.DocumentPath, r.content, draft.Tasks, feedback))
	if err != nil {
		return nil, err
	}
	r.resume = true

	tasks, err := r.parseTasks(output)
	if err != nil {
		return nil, err
	}

	keep := make(map[string]bool, len(draft.Tasks))
	for _, id := range draft.IDs() {
		keep[id] = true
	}
	if err := task.AssignIDs(ctx, r.seq, tasks, keep); err != nil {
		return nil, err
	}
	tasks = MergeGroupings(tasks, feedback.TaskGroupings)
	return r.save(tasks)
}

// review runs the decompose-review catalog statelessly. It returns nil feedback when no
// category produced a parseable result.
func (r *run) review(ctx context.Context, draft *task.List) (*Feedback, error) {
	catalog := reviewCatalog()
	jobs := make([]review.Job, 0, len(catalog))
	for _, p := range catalog {
		jobs = append(jobs, review.Job{
			Name:     "decompose-" + p.Category,
			Category: p.Category,
			Prompt:   buildReviewPrompt(p, r.opts.DocumentPath, r.content, draft.Tasks),
			Label:    "decompose.review." + p.Category,
		})
	}

	var (
		mu     sync.Mutex
		parts  []CategoryFeedback
		failed []string
	)
	in := review.Input{
		Name:       r.opts.Name,
		WorkingDir: filepath.Dir(r.opts.DocumentPath),
		LogDir:     r.store.LogDir(r.opts.Name),
		Model:      r.model,
	}
	_, timeout, err := r.reviewer.RunJobs(ctx, in, jobs, func(o review.Outcome) {
		var (
			cf   CategoryFeedback
			perr = o.Err
		)
		if perr == nil {
			cf, perr = ParseCategoryFeedback(o.Job.Category, o.Output)
		}

		mu.Lock()
		if perr != nil {
			failed = append(failed, o.Job.Category)
		} else {
			parts = append(parts, cf)
		}
		mu.Unlock()

		data := map[string]any{"stage": "decompose", "category": o.Job.Category, "durationMs": o.DurationMs}
		if perr != nil {
			data["error"] = perr.Error()
			r.logger.WithError(perr).Warn("decompose review category degraded", "category", o.Job.Category)
		} else {
			data["issues"] = len(cf.Issues)
		}
		r.events.Emit(events.ReviewCategoryCompleted, data)
	})
	if err != nil {
		return nil, err
	}
	if timeout != nil {
		terr := errors.NewTimeoutError(errors.ErrCodeDecomposeTimeout, timeout.CompletedPrompts, timeout.TotalPrompts)
		r.logger.WithError(terr).Warn("decompose review deadline reached")
		for _, j := range jobs {
			if !slices.Contains(timeout.CompletedPromptNames, j.Name) {
				failed = append(failed, j.Category)
			}
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}

	// category order is not deterministic under parallelism
	ordered := make([]CategoryFeedback, 0, len(parts))
	for _, p := range catalog {
		for _, cf := range parts {
			if cf.Category == p.Category {
				ordered = append(ordered, cf)
			}
		}
	}
	return AggregateFeedback(ordered, failed), nil
}
