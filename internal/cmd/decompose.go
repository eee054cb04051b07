package cmd

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/specforge/internal/decompose"
	"github.com/felixgeelhaar/specforge/internal/exitcode"
	"github.com/felixgeelhaar/specforge/internal/review"
	"github.com/felixgeelhaar/specforge/internal/tui"
)

var decomposeCmd = &cobra.Command{
	Use:   "decompose <doc>",
	Short: "Turn a spec into user stories and technical tasks",
	Long: `Generate a task list from a spec, review it for coverage, consistency, dependencies,
and duplication, and revise it until the review passes or attempts run out.

Task ids (US-001, TS-001) come from a project-wide sequence and are never reused.
An existing draft is reviewed again instead of regenerated unless --force is given.

Exit codes:
  0  the task list passed review
  1  the loop finished but the last review failed
  2  generation failed or the document is missing`,
	Args: cobra.ExactArgs(1),
	RunE: runDecompose,
}

var (
	decomposeMaxAttempts int
	decomposeForce       bool
	decomposeNoReview    bool
	decomposeFormat      string
	decomposeStream      bool
)

func init() {
	decomposeCmd.Flags().IntVar(&decomposeMaxAttempts, "max-attempts", 0, "review attempts before giving up (default from decompose.max_attempts)")
	decomposeCmd.Flags().BoolVar(&decomposeForce, "force", false, "discard the existing draft and generate a new one")
	decomposeCmd.Flags().BoolVar(&decomposeNoReview, "no-review", false, "stop after generation without reviewing")
	decomposeCmd.Flags().StringVar(&decomposeFormat, "format", formatText, "output format: text, json, or yaml")
	decomposeCmd.Flags().BoolVar(&decomposeStream, "stream", false, "print assistant output and progress to stderr")

	rootCmd.AddCommand(decomposeCmd)
}

func runDecompose(cmd *cobra.Command, args []string) error {
	if err := validateFormat(decomposeFormat); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{needSequence: true})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	attempts := decomposeMaxAttempts
	if attempts <= 0 {
		attempts = a.cfg.Decompose.MaxAttempts
	}

	stop := maybeStream(cmd, a.bus, decomposeStream)
	state, err := a.svc.Decompose(ctx, args[0], decompose.Options{
		MaxReviewAttempts: attempts,
		Force:             decomposeForce,
		SkipReview:        decomposeNoReview,
	})
	stop()
	if state == nil {
		return err
	}

	name := sessionName(args[0])
	list, lerr := a.store.LoadTasks(name)
	if lerr != nil {
		return lerr
	}
	if decomposeFormat == formatText {
		tui.NewView(cmd.OutOrStdout()).Decompose(name, state, list)
	} else if werr := writeStructured(cmd.OutOrStdout(), decomposeFormat, map[string]any{"state": state, "tasks": list}); werr != nil {
		return werr
	}
	if err != nil {
		return err
	}
	if decomposeNoReview {
		return nil
	}
	verdict := state.Verdict
	if verdict == "" {
		verdict = review.VerdictFail
	}
	return exitcode.ForVerdict(verdict)
}
