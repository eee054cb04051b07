package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/huh"

	"github.com/felixgeelhaar/specforge/internal/review"
	"github.com/felixgeelhaar/specforge/internal/session"
)

// Choice is what the user picked for one suggestion
type Choice string

const (
	ChoiceApprove Choice = "approve"
	ChoiceEdit    Choice = "edit"
	ChoiceReject  Choice = "reject"
	ChoiceDismiss Choice = "dismiss"
	ChoiceResolve Choice = "resolve"
	ChoiceSkip    Choice = "skip"
	ChoiceQuit    Choice = "quit"
)

// Decision is a choice plus the replacement text for edits
type Decision struct {
	Choice      Choice
	UserVersion string
}

// Decider asks for a decision on one suggestion
type Decider interface {
	Decide(card review.SuggestionCard, index, total int) (Decision, error)
}

// DeciderFunc adapts a function to Decider
type DeciderFunc func(card review.SuggestionCard, index, total int) (Decision, error)

// Decide implements Decider
func (f DeciderFunc) Decide(card review.SuggestionCard, index, total int) (Decision, error) {
	return f(card, index, total)
}

// FormDecider shows each card and asks with huh forms
type FormDecider struct {
	View *View
	Out  io.Writer
}

func choicesFor(card review.SuggestionCard) []huh.Option[Choice] {
	var opts []huh.Option[Choice]
	if card.Kind == review.KindComment {
		opts = append(opts, huh.NewOption("Resolve", ChoiceResolve), huh.NewOption("Dismiss", ChoiceDismiss))
	} else {
		opts = append(opts,
			huh.NewOption("Approve the suggested fix", ChoiceApprove),
			huh.NewOption("Edit the fix, then apply", ChoiceEdit),
			huh.NewOption("Reject", ChoiceReject),
			huh.NewOption("Dismiss", ChoiceDismiss),
		)
	}
	return append(opts, huh.NewOption("Skip for now", ChoiceSkip), huh.NewOption("Quit", ChoiceQuit))
}

// Decide implements Decider
func (d FormDecider) Decide(card review.SuggestionCard, index, total int) (Decision, error) {
	fmt.Fprintln(d.Out, d.View.Card(card, index, total))

	var choice Choice
	sel := huh.NewSelect[Choice]().
		Title("What should happen to this suggestion?").
		Options(choicesFor(card)...).
		Value(&choice)
	if err := huh.NewForm(huh.NewGroup(sel)).Run(); err != nil {
		return Decision{}, fmt.Errorf("prompt failed: %w", err)
	}
	if choice != ChoiceEdit {
		return Decision{Choice: choice}, nil
	}
	text, err := PromptForText("Replacement text", card.SuggestedFix)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Choice: ChoiceEdit, UserVersion: text}, nil
}

// TriageSummary counts what happened during a triage pass
type TriageSummary struct {
	Decided int
	Skipped int
	Failed  int
	Quit    bool
}

// Triage walks cards in order, asking d for each and passing decisions to apply. A failing
// apply is reported to onError and the walk continues.
func Triage(cards []review.SuggestionCard, d Decider, apply func(id string, action session.Action, userVersion string) error, onError func(review.SuggestionCard, error)) (TriageSummary, error) {
	var sum TriageSummary
	for i, card := range cards {
		dec, err := d.Decide(card, i+1, len(cards))
		if err != nil {
			return sum, err
		}
		switch dec.Choice {
		case ChoiceQuit:
			sum.Quit = true
			sum.Skipped += len(cards) - i
			return sum, nil
		case ChoiceSkip:
			sum.Skipped++
			continue
		}
		action, err := session.ParseAction(string(dec.Choice))
		if err != nil {
			return sum, err
		}
		if err := apply(card.ID, action, dec.UserVersion); err != nil {
			sum.Failed++
			if onError != nil {
				onError(card, err)
			}
			continue
		}
		sum.Decided++
	}
	return sum, nil
}
