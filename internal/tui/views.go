package tui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/felixgeelhaar/specforge/internal/decompose"
	"github.com/felixgeelhaar/specforge/internal/godspec"
	"github.com/felixgeelhaar/specforge/internal/health"
	"github.com/felixgeelhaar/specforge/internal/review"
	"github.com/felixgeelhaar/specforge/internal/session"
	"github.com/felixgeelhaar/specforge/internal/task"
	"github.com/felixgeelhaar/specforge/internal/workspace"
)

// View writes human-readable reports
type View struct {
	out    io.Writer
	styles Styles
}

// NewView creates a view writing to out
func NewView(out io.Writer) *View {
	return &View{out: out, styles: DefaultStyles()}
}

func (v *View) table() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(v.out)
	tw.SetStyle(table.StyleLight)
	return tw
}

// Banner renders a verdict in a rounded box
func (v *View) Banner(title string, verdict review.Verdict) string {
	label := v.styles.VerdictStyle(verdict).Render(string(verdict))
	return v.styles.Border.Render(v.styles.Title.Render(title) + "  " + label)
}

// Review writes the verdict, one row per category, and the suggestions
func (v *View) Review(name string, agg *review.AggregatedReviewResult) {
	fmt.Fprintln(v.out, v.Banner("Review "+name, agg.Verdict))

	names := make([]string, 0, len(agg.Categories))
	for c := range agg.Categories {
		names = append(names, c)
	}
	sort.Strings(names)

	tw := v.table()
	tw.AppendHeader(table.Row{"Category", "Verdict", "Issues", "Suggestions", "Duration"})
	for _, c := range names {
		r := agg.Categories[c]
		verdict := v.styles.VerdictStyle(r.Verdict).Render(string(r.Verdict))
		if r.Failed() {
			verdict += " " + v.styles.Muted.Render("("+r.Error+")")
		}
		tw.AppendRow(table.Row{c, verdict, len(r.Issues), len(r.Suggestions), duration(r.DurationMs)})
	}
	tw.AppendFooter(table.Row{"", "", "", len(agg.Suggestions), duration(agg.DurationMs)})
	tw.Render()

	if agg.TimeoutInfo != nil {
		fmt.Fprintln(v.out, v.styles.Warning.Render(fmt.Sprintf("Timed out after %s: %d of %d categories finished",
			duration(agg.TimeoutInfo.TimeoutMs), agg.TimeoutInfo.CompletedPrompts, agg.TimeoutInfo.TotalPrompts)))
	}
	if len(agg.Suggestions) > 0 {
		v.Suggestions(agg.Suggestions)
	}
}

// Suggestions writes a suggestion table
func (v *View) Suggestions(cards []review.SuggestionCard) {
	tw := v.table()
	tw.AppendHeader(table.Row{"ID", "Severity", "Category", "Location", "Issue", "Status"})
	for _, c := range cards {
		tw.AppendRow(table.Row{
			shortID(c.ID),
			v.styles.SeverityStyle(c.Severity).Render(string(c.Severity)),
			c.Category,
			location(c),
			truncate(c.Issue, 60),
			string(c.Status),
		})
	}
	tw.Render()
}

// Card renders one suggestion with its snippet and fix, for triage
func (v *View) Card(c review.SuggestionCard, index, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  %s\n",
		v.styles.Title.Render(fmt.Sprintf("[%d/%d]", index, total)),
		v.styles.SeverityStyle(c.Severity).Render(strings.ToUpper(string(c.Severity))),
		v.styles.Muted.Render(c.Category+" · "+location(c)))
	b.WriteString(c.Issue)
	if c.TextSnippet != "" {
		b.WriteString("\n\n- " + v.styles.Snippet.Render(c.TextSnippet))
	}
	if c.SuggestedFix != "" {
		b.WriteString("\n+ " + v.styles.Fix.Render(c.SuggestedFix))
	}
	return v.styles.Border.Render(b.String())
}

// Session writes a session summary, its suggestions, and its change history
func (v *View) Session(name string, f *session.File) {
	counts := f.Counts()
	fmt.Fprintf(v.out, "%s %s\n", v.styles.Title.Render("Session "+name), v.styles.Muted.Render(string(f.Status)))
	fmt.Fprintf(v.out, "%s  pending %d · approved %d · edited %d · rejected %d · dismissed %d · resolved %d\n",
		v.styles.Muted.Render(f.SpecFilePath),
		counts[review.StatusPending], counts[review.StatusApproved], counts[review.StatusEdited],
		counts[review.StatusRejected], counts[review.StatusDismissed], counts[review.StatusResolved])
	if f.ParentSpecPath != "" {
		fmt.Fprintf(v.out, "split from %s\n", f.ParentSpecPath)
	}
	if len(f.SplitSpecs) > 0 {
		fmt.Fprintf(v.out, "split into %s\n", strings.Join(f.SplitSpecs, ", "))
	}
	if f.PendingEdit != nil {
		fmt.Fprintln(v.out, v.styles.Warning.Render("staged edit for "+shortID(f.PendingEdit.SuggestionID)))
	}
	if len(f.Suggestions) > 0 {
		v.Suggestions(f.Suggestions)
	}
	if len(f.ChangeHistory) == 0 {
		return
	}
	tw := v.table()
	tw.AppendHeader(table.Row{"Change", "When", "Suggestion", "Description", "Reverted"})
	for _, c := range f.ChangeHistory {
		tw.AppendRow(table.Row{shortID(c.ID), c.Timestamp.Local().Format(time.DateTime), shortID(c.SuggestionID), truncate(c.Description, 50), c.Reverted})
	}
	tw.Render()
}

// Decompose writes the final loop state and the task list
func (v *View) Decompose(name string, state *decompose.State, list *task.List) {
	verdict := state.Verdict
	if verdict == "" {
		verdict = review.VerdictFail
	}
	fmt.Fprintln(v.out, v.Banner(fmt.Sprintf("Decompose %s (%s, attempt %d/%d)", name, state.Status, state.Attempt, state.MaxAttempts), verdict))
	if state.Message != "" {
		fmt.Fprintln(v.out, v.styles.Muted.Render(state.Message))
	}
	if state.Feedback != nil {
		for _, issue := range state.Feedback.Issues() {
			fmt.Fprintf(v.out, "  %s %s\n", v.styles.SeverityStyle(issue.Severity).Render(string(issue.Severity)), issue.Description)
		}
	}
	if list.Empty() {
		return
	}
	tw := v.table()
	tw.AppendHeader(table.Row{"ID", "Type", "Title", "Depends on", "Complexity"})
	for _, t := range list.Tasks {
		tw.AppendRow(table.Row{t.ID, t.Type, truncate(t.Title, 50), strings.Join(t.Dependencies, ", "), t.Complexity})
	}
	tw.Render()
}

// GodSpec writes the detector indicators and any split proposal
func (v *View) GodSpec(ind godspec.Indicators, proposal *godspec.SplitProposal, written []string) {
	if ind.IsGodSpec {
		fmt.Fprintln(v.out, v.styles.Warning.Render("God spec detected"))
	} else {
		fmt.Fprintln(v.out, v.styles.Success.Render("Scope looks focused"))
	}
	fmt.Fprintf(v.out, "%d words · ~%d stories · domains: %s\n", ind.WordCount, ind.EstimatedStories, strings.Join(ind.FeatureDomains, ", "))
	for _, i := range ind.Indicators {
		fmt.Fprintf(v.out, "  • %s\n", i)
	}
	if proposal != nil {
		fmt.Fprintln(v.out, v.styles.Muted.Render(proposal.Reason))
		tw := v.table()
		tw.AppendHeader(table.Row{"File", "Stories", "Sections", "Description"})
		for _, p := range proposal.ProposedSpecs {
			tw.AppendRow(table.Row{p.Filename, p.EstimatedStories, len(p.Sections), truncate(p.Description, 50)})
		}
		tw.Render()
	}
	for _, w := range written {
		fmt.Fprintf(v.out, "wrote %s\n", w)
	}
}

// SpecRow summarizes one spec for the status table
type SpecRow struct {
	Metadata workspace.Metadata `json:"metadata"`
	Pending  int                `json:"pending"`
	Tasks    int                `json:"tasks"`
}

// Status prints dependency checks followed by every known spec
func (v *View) Status(checks map[string]*health.Result, specs []SpecRow) {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := v.table()
	tw.AppendHeader(table.Row{"Check", "Status", "Message"})
	for _, name := range names {
		r := checks[name]
		st := v.styles.Success
		switch r.Status {
		case health.StatusDegraded:
			st = v.styles.Warning
		case health.StatusUnhealthy:
			st = v.styles.Error
		}
		tw.AppendRow(table.Row{name, st.Render(string(r.Status)), truncate(r.Message, 60)})
	}
	tw.Render()

	if len(specs) == 0 {
		fmt.Fprintln(v.out, v.styles.Muted.Render("no specs yet, run 'specforge review <doc>'"))
		return
	}
	tw = v.table()
	tw.AppendHeader(table.Row{"Spec", "Status", "Verdict", "Pending", "Tasks", "Updated"})
	for _, r := range specs {
		verdict := r.Metadata.LastVerdict
		if verdict != "" {
			verdict = v.styles.VerdictStyle(review.Verdict(verdict)).Render(verdict)
		}
		tw.AppendRow(table.Row{r.Metadata.Name, r.Metadata.Status, verdict, r.Pending, r.Tasks,
			r.Metadata.UpdatedAt.Local().Format(time.DateTime)})
	}
	tw.Render()
}

func location(c review.SuggestionCard) string {
	loc := c.Section
	if c.LineStart != nil {
		line := fmt.Sprintf("L%d", *c.LineStart)
		if c.LineEnd != nil && *c.LineEnd != *c.LineStart {
			line += fmt.Sprintf("-%d", *c.LineEnd)
		}
		if loc != "" {
			loc += " "
		}
		loc += line
	}
	return loc
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func duration(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(100 * time.Millisecond).String()
}
