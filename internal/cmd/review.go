package cmd

import (
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/events"
	"github.com/felixgeelhaar/specforge/internal/exitcode"
	"github.com/felixgeelhaar/specforge/internal/tui"
)

var reviewCmd = &cobra.Command{
	Use:   "review <doc>",
	Short: "Review a spec across quality categories",
	Long: `Run every review category (clarity, completeness, testability, consistency, scope)
against a spec document in parallel and merge the results into one verdict.

Suggestions are loaded into the document's session, where they can be approved, edited,
or rejected with 'specforge session'.

Exit codes:
  0  the spec passed
  1  the review finished with FAIL, NEEDS_IMPROVEMENT, or SPLIT_RECOMMENDED
  2  the review could not run (missing file, every category failed)

A category whose assistant call or output parsing fails counts as FAIL for that category,
so a review with at least one successful category exits 1 rather than 2.`,
	Args: cobra.ExactArgs(1),
	RunE: runReview,
}

var (
	reviewTimeout  time.Duration
	reviewParallel int
	reviewFormat   string
	reviewStream   bool
)

func init() {
	reviewCmd.Flags().DurationVar(&reviewTimeout, "timeout", 0, "overall review deadline (default from review.timeout)")
	reviewCmd.Flags().IntVar(&reviewParallel, "parallel", 0, "category prompts in flight at once (default from review.parallelism)")
	reviewCmd.Flags().StringVar(&reviewFormat, "format", formatText, "output format: text, json, or yaml")
	reviewCmd.Flags().BoolVar(&reviewStream, "stream", false, "print assistant output and progress to stderr")

	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	if err := validateFormat(reviewFormat); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{reviewTimeout: reviewTimeout, parallelism: reviewParallel})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	stop := maybeStream(cmd, a.bus, reviewStream)
	out, err := a.svc.Review(ctx, args[0])
	stop()
	if err != nil && (out == nil || out.Result == nil) {
		return err
	}

	if reviewFormat == formatText {
		tui.NewView(cmd.OutOrStdout()).Review(out.Name, out.Result)
	} else if werr := writeStructured(cmd.OutOrStdout(), reviewFormat, out); werr != nil {
		return werr
	}
	if err != nil {
		return err
	}
	if out.Result.Succeeded() == 0 {
		return errors.New(errors.ErrCodeBackendFailed, errors.KindBackendFailure, "every review category failed").
			WithSuggestion("Inspect the transcripts under " + a.store.LogDir(out.Name))
	}
	return exitcode.ForVerdict(out.Result.Verdict)
}

// maybeStream prints bus events to stderr while a command runs. The returned func stops the
// stream and waits for it to drain.
func maybeStream(cmd *cobra.Command, bus *events.Bus, enabled bool) func() {
	if !enabled {
		return func() {}
	}
	ch, cancel := bus.Subscribe(256)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		streamEvents(cmd.ErrOrStderr(), ch)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}
