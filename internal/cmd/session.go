package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/review"
	"github.com/felixgeelhaar/specforge/internal/session"
	"github.com/felixgeelhaar/specforge/internal/tui"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Work through the suggestions from a review",
	Long: `Every reviewed document has a session holding its suggestions, the changes applied
to the document, and a chat with the assistant.

Suggestion and change ids may be abbreviated to any unique prefix.`,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <doc>",
	Short: "Show suggestions and change history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

var sessionEditCmd = &cobra.Command{
	Use:   "edit <doc> <suggestion-id>",
	Short: "Apply your own version of a suggestion",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionEdit,
}

var sessionDiffCmd = &cobra.Command{
	Use:   "diff <doc> <suggestion-id>",
	Short: "Stage an edit for a suggestion without writing the document",
	Long: `Stage a replacement of --original with --proposed. The staged edit is written on
'session approve' and discarded on 'session reject'. --line picks which occurrence to
replace when the original text appears more than once.`,
	Args: cobra.ExactArgs(2),
	RunE: runSessionDiff,
}

var sessionRevertCmd = &cobra.Command{
	Use:   "revert <doc> <change-id>",
	Short: "Restore the document as it was before a change",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionRevert,
}

var sessionChatCmd = &cobra.Command{
	Use:   "chat <doc> <message...>",
	Short: "Ask the assistant about the document and its open suggestions",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSessionChat,
}

var sessionTriageCmd = &cobra.Command{
	Use:   "triage <doc>",
	Short: "Decide on pending suggestions one at a time",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionTriage,
}

var (
	sessionFormat   string
	sessionText     string
	sessionTextFile string
	sessionOriginal string
	sessionProposed string
	sessionLine     int
)

func init() {
	sessionShowCmd.Flags().StringVar(&sessionFormat, "format", formatText, "output format: text, json, or yaml")

	sessionEditCmd.Flags().StringVar(&sessionText, "text", "", "replacement text")
	sessionEditCmd.Flags().StringVar(&sessionTextFile, "text-file", "", "read the replacement text from a file")

	sessionDiffCmd.Flags().StringVar(&sessionOriginal, "original", "", "text to replace (default: the suggestion's snippet)")
	sessionDiffCmd.Flags().StringVar(&sessionProposed, "proposed", "", "replacement text")
	sessionDiffCmd.Flags().IntVar(&sessionLine, "line", 0, "line near the occurrence to replace")
	_ = sessionDiffCmd.MarkFlagRequired("proposed")

	sessionCmd.AddCommand(sessionShowCmd)
	for _, action := range []session.Action{session.ActionApprove, session.ActionReject, session.ActionDismiss, session.ActionResolve} {
		sessionCmd.AddCommand(newDecisionCmd(action))
	}
	sessionCmd.AddCommand(sessionEditCmd, sessionDiffCmd, sessionRevertCmd, sessionChatCmd, sessionTriageCmd)
	rootCmd.AddCommand(sessionCmd)
}

var decisionHelp = map[session.Action]string{
	session.ActionApprove: "Apply a suggestion's fix, or a staged edit, to the document",
	session.ActionReject:  "Reject a suggestion and discard any staged edit",
	session.ActionDismiss: "Close a suggestion without acting on it",
	session.ActionResolve: "Mark a comment as addressed",
}

func newDecisionCmd(action session.Action) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " <doc> <suggestion-id>",
		Short: decisionHelp[action],
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decide(cmd, args[0], args[1], action, "")
		},
	}
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	if err := validateFormat(sessionFormat); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	name := sessionName(args[0])
	f, err := a.svc.Sessions().Load(name)
	if err != nil {
		return err
	}
	if sessionFormat != formatText {
		return writeStructured(cmd.OutOrStdout(), sessionFormat, f)
	}
	tui.NewView(cmd.OutOrStdout()).Session(name, f)
	return nil
}

func runSessionEdit(cmd *cobra.Command, args []string) error {
	text := sessionText
	if sessionTextFile != "" {
		data, err := os.ReadFile(sessionTextFile)
		if err != nil {
			return errors.NewIOError(errors.ErrCodeFileReadFailed, "failed to read "+sessionTextFile, err)
		}
		text = string(data)
	}
	if text == "" && tui.ShouldPrompt() {
		var err error
		if text, err = tui.PromptForText("Replacement text", ""); err != nil {
			return err
		}
	}
	return decide(cmd, args[0], args[1], session.ActionEdit, text)
}

// decide applies one action and prints the resulting change, if any
func decide(cmd *cobra.Command, doc, id string, action session.Action, userVersion string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	var rec *session.ChangeRecord
	var resolved string
	f, err := a.svc.Sessions().Update(sessionName(doc), func(s *session.Session) error {
		if resolved, err = resolveSuggestion(s.File(), id); err != nil {
			return err
		}
		rec, err = s.Apply(action, resolved, userVersion)
		return err
	})
	if err != nil {
		return err
	}
	printDecision(cmd, resolved, action, rec, f)
	return nil
}

func printDecision(cmd *cobra.Command, id string, action session.Action, rec *session.ChangeRecord, f *session.File) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", actionPast(action), id)
	if rec != nil {
		fmt.Fprintf(out, "change %s written to %s\n", rec.ID, rec.FilePath)
	}
	fmt.Fprintf(out, "%d pending, session %s\n", len(f.Pending()), f.Status)
}

func actionPast(a session.Action) string {
	switch a {
	case session.ActionApprove:
		return "approved"
	case session.ActionEdit:
		return "edited"
	default:
		return string(a) + "ed"
	}
}

func runSessionDiff(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	var hint *int
	if sessionLine > 0 {
		hint = &sessionLine
	}
	var staged *session.PendingEdit
	_, err = a.svc.Sessions().Update(sessionName(args[0]), func(s *session.Session) error {
		id, err := resolveSuggestion(s.File(), args[1])
		if err != nil {
			return err
		}
		original := sessionOriginal
		if original == "" {
			for _, sg := range s.File().Suggestions {
				if sg.ID == id {
					original = sg.TextSnippet
				}
			}
		}
		staged, err = s.EnterDiffMode(id, original, sessionProposed, hint)
		return err
	})
	if err != nil {
		return err
	}
	styles := tui.DefaultStyles()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "staged edit for %s\n", staged.SuggestionID)
	fmt.Fprintln(out, "- "+styles.Snippet.Render(staged.Original))
	fmt.Fprintln(out, "+ "+styles.Fix.Render(staged.Proposed))
	return nil
}

func runSessionRevert(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	var rec *session.ChangeRecord
	_, err = a.svc.Sessions().Update(sessionName(args[0]), func(s *session.Session) error {
		id, err := resolveChange(s.File(), args[1])
		if err != nil {
			return err
		}
		rec, err = s.Revert(id)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reverted change %s in %s\n", rec.ID, rec.FilePath)
	return nil
}

func runSessionChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	name := sessionName(args[0])
	message := strings.Join(args[1:], " ")
	var reply string
	_, err = a.svc.Sessions().Update(name, func(s *session.Session) error {
		reply, err = s.Chat(ctx, a.runner, message, session.ChatOptions{
			Model:  a.cfg.Assistant.Model,
			LogDir: a.store.LogDir(name),
		})
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply)
	return nil
}

func runSessionTriage(cmd *cobra.Command, args []string) error {
	if !tui.ShouldPrompt() {
		return errors.NewValidationError(errors.ErrCodeInvalidInput, "triage needs an interactive terminal").
			WithSuggestion("Use 'specforge session approve|reject|edit' in scripts")
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	name := sessionName(args[0])
	f, err := a.svc.Sessions().Load(name)
	if err != nil {
		return err
	}
	pending := f.Pending()
	out := cmd.OutOrStdout()
	if len(pending) == 0 {
		fmt.Fprintln(out, "no pending suggestions")
		return nil
	}

	view := tui.NewView(out)
	sum, err := tui.Triage(pending, tui.FormDecider{View: view, Out: out},
		func(id string, action session.Action, userVersion string) error {
			_, err := a.svc.Sessions().Update(name, func(s *session.Session) error {
				_, err := s.Apply(action, id, userVersion)
				return err
			})
			return err
		},
		func(card review.SuggestionCard, err error) {
			PrintError(cmd.ErrOrStderr(), fmt.Errorf("suggestion %s: %w", card.ID, err))
		},
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d decided, %d skipped, %d failed\n", sum.Decided, sum.Skipped, sum.Failed)
	return nil
}

// resolveSuggestion expands a unique id prefix
func resolveSuggestion(f *session.File, prefix string) (string, error) {
	ids := make([]string, 0, len(f.Suggestions))
	for _, s := range f.Suggestions {
		ids = append(ids, s.ID)
	}
	id, ok := resolvePrefix(ids, prefix)
	if !ok {
		return "", errors.NewValidationError(errors.ErrCodeUnknownSuggestion,
			fmt.Sprintf("no unique suggestion matches %q", prefix)).
			WithSuggestion("List suggestions with 'specforge session show <doc>'")
	}
	return id, nil
}

// resolveChange expands a unique change id prefix
func resolveChange(f *session.File, prefix string) (string, error) {
	ids := make([]string, 0, len(f.ChangeHistory))
	for _, c := range f.ChangeHistory {
		ids = append(ids, c.ID)
	}
	id, ok := resolvePrefix(ids, prefix)
	if !ok {
		return "", errors.NewValidationError(errors.ErrCodeUnknownChange,
			fmt.Sprintf("no unique change matches %q", prefix)).
			WithSuggestion("List changes with 'specforge session show <doc>'")
	}
	return id, nil
}

func resolvePrefix(ids []string, prefix string) (string, bool) {
	var match string
	for _, id := range ids {
		if id == prefix {
			return id, true
		}
		if prefix != "" && strings.HasPrefix(id, prefix) {
			if match != "" {
				return "", false
			}
			match = id
		}
	}
	return match, match != ""
}
