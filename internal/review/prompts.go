package review

import (
	"fmt"
	"strings"
)

// Prompt is one category in a review catalog
type Prompt struct {
	// Name identifies the prompt in logs and TimeoutInfo
	Name string

	// Category is the evaluation dimension the prompt reports under
	Category string

	// Instructions describe what the assistant should look for
	Instructions string

	// AllowSplit offers SPLIT_RECOMMENDED in the prompt's verdict list. A split verdict from
	// any category is still honoured when parsed.
	AllowSplit bool
}

// Input is the document under review plus its surrounding context
type Input struct {
	// Name is the spec name used for events and the log directory
	Name string

	// DocumentPath is shown to the assistant and used as its working directory
	DocumentPath string

	// Content is the document text
	Content string

	// ProjectContext is free-form ambient context (other specs, conventions)
	ProjectContext string

	// WorkingDir is passed to the assistant
	WorkingDir string

	// LogDir receives raw prompts and outputs
	LogDir string

	// Model overrides the assistant's default model
	Model string
}

// SpecCatalog returns the fixed spec-review catalog
func SpecCatalog() []Prompt {
	return []Prompt{
		{
			Name:     "spec-clarity",
			Category: "clarity",
			Instructions: `Evaluate CLARITY. Flag ambiguous wording, undefined terms, vague quantities ("fast", "many", "soon"),
requirements that could be read two ways, and passive statements that hide who does what.`,
		},
		{
			Name:     "spec-completeness",
			Category: "completeness",
			Instructions: `Evaluate COMPLETENESS. Flag missing error cases, unstated edge cases, absent acceptance criteria,
undefined inputs or outputs, and references to behavior that is never described.`,
		},
		{
			Name:     "spec-testability",
			Category: "testability",
			Instructions: `Evaluate TESTABILITY. Flag requirements that cannot be verified by a test, criteria without
measurable thresholds, and behavior that depends on unobservable internal state.`,
		},
		{
			Name:     "spec-consistency",
			Category: "consistency",
			Instructions: `Evaluate CONSISTENCY. Flag contradictions between sections, terms used with different meanings,
conflicting numbers or limits, and data model fields that disagree with the operations using them.`,
		},
		{
			Name:     "spec-scope",
			Category: "scope",
			Instructions: `Evaluate SCOPE. Decide whether this document describes one cohesive feature or several unrelated
ones. If it covers multiple independent feature domains, personas, or system boundaries that would be
better delivered as separate documents, answer with verdict SPLIT_RECOMMENDED and name the proposed
parts in the issues list.`,
			AllowSplit: true,
		},
	}
}

// BuildHeader renders the contextual header shared by every category prompt
func BuildHeader(in Input) string {
	var b strings.Builder
	b.WriteString("You are reviewing a software specification document.\n\n")
	fmt.Fprintf(&b, "Document path: %s\n\n", in.DocumentPath)
	if ctx := strings.TrimSpace(in.ProjectContext); ctx != "" {
		fmt.Fprintf(&b, "Project context:\n%s\n\n", ctx)
	}
	b.WriteString("Document content (line numbers prefixed):\n")
	b.WriteString(NumberLines(in.Content))
	b.WriteString("\n")
	return b.String()
}

// NumberLines prefixes every line with its 1-based line number
func NumberLines(content string) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	width := len(fmt.Sprint(len(lines)))
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%*d | %s\n", width, i+1, line)
	}
	return b.String()
}

// BuildPrompt renders the full prompt text for one category
func BuildPrompt(p Prompt, in Input) string {
	verdicts := "PASS, FAIL, or NEEDS_IMPROVEMENT"
	if p.AllowSplit {
		verdicts = "PASS, FAIL, NEEDS_IMPROVEMENT, or SPLIT_RECOMMENDED"
	}

	return fmt.Sprintf(`%s
%s

Verdict rules:
- PASS: no material problems in this category
- NEEDS_IMPROVEMENT: only warnings or style notes
- FAIL: at least one defect that would block implementation
Answer with one of: %s.

For every problem, add a suggestion. Use kind "change" when you can propose replacement text for an
exact snippet of the document, and kind "comment" otherwise. Line numbers refer to the prefixed numbers above.

Output ONLY a JSON object with this exact structure:
{
  "verdict": "PASS",
  "issues": ["Short description of each problem"],
  "suggestions": [
    {
      "severity": "critical | warning | info",
      "kind": "change | comment",
      "section": "Heading the problem is under",
      "lineStart": 12,
      "lineEnd": 14,
      "textSnippet": "exact text from the document",
      "issue": "What is wrong",
      "suggestedFix": "Replacement text or recommendation"
    }
  ]
}`, BuildHeader(in), p.Instructions, verdicts)
}
