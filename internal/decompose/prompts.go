package decompose

import (
	"encoding/json"
	"fmt"
)

const taskSchema = `{
  "tasks": [
    {
      "id": "US-001",
      "type": "story | technical",
      "title": "Short imperative title",
      "description": "What to build and why",
      "acceptanceCriteria": ["Observable criterion"],
      "testCases": ["Concrete test case"],
      "dependencies": ["TS-001"],
      "complexity": "low | medium | high",
      "sourceSection": "Heading the task comes from"
    }
  ]
}`

// buildGeneratePrompt asks for the initial task list
func buildGeneratePrompt(docPath, content string) string {
	return fmt.Sprintf(`You are an expert software architect. Decompose the specification below into implementable tasks.

Guidelines:
1. Use type "story" for user-visible behavior and "technical" for enabling work
2. Give every task provisional ids like US-001 or TS-001; they will be renumbered
3. Every requirement in the document must be covered by at least one task
4. Dependencies may only reference ids from this list
5. Acceptance criteria must be verifiable and test cases concrete

Specification path: %s

Specification:
%s

Output ONLY a JSON object with this exact structure:
%s`, docPath, content, taskSchema)
}

// buildRevisePrompt asks for a corrected task list. It runs in the same assistant session
// as the initial generation.
func buildRevisePrompt(docPath, content string, tasks any, feedback *Feedback) string {
	taskJSON, _ := json.MarshalIndent(tasks, "", "  ")
	feedbackJSON, _ := json.MarshalIndent(feedback, "", "  ")

	return fmt.Sprintf(`A review of your task list found problems. Revise the task list.

Instructions:
1. Fix every issue listed in the feedback, critical issues first
2. Apply every entry in taskGroupings: merge the listed task ids into the FIRST id of the group,
   union and deduplicate their acceptance criteria and test cases, and rewrite any other task's
   dependencies that referenced a removed id so they reference the surviving id instead
3. Keep the ids of tasks you do not remove; give new tasks provisional ids
4. Return the complete task list, not just the changes

Specification path: %s

Specification:
%s

Current task list:
%s

Review feedback:
%s

Output ONLY a JSON object with this exact structure:
%s`, docPath, content, taskJSON, feedbackJSON, taskSchema)
}

type reviewPrompt struct {
	Category     string
	Instructions string
}

func reviewCatalog() []reviewPrompt {
	return []reviewPrompt{
		{
			Category: CategoryCoverage,
			Instructions: `Check COVERAGE. Report every requirement, constraint, or edge case in the specification that
no task covers. Reference the affected section in the description.`,
		},
		{
			Category: CategoryConsistency,
			Instructions: `Check CONSISTENCY. Report tasks that contradict the specification or each other, and acceptance
criteria that conflict with the stated requirements.`,
		},
		{
			Category: CategoryDependencies,
			Instructions: `Check DEPENDENCIES. Report dependencies on unknown ids, cycles, missing prerequisites, and
tasks that depend on work scheduled after them.`,
		},
		{
			Category: CategoryDuplication,
			Instructions: `Check DUPLICATION. Report tasks that overlap or are too small to stand alone. For each set of
tasks that should be one task, add a taskGroupings entry listing the ids, surviving id first.`,
		},
	}
}

// buildReviewPrompt renders one stateless decompose-review category prompt
func buildReviewPrompt(p reviewPrompt, docPath, content string, tasks any) string {
	taskJSON, _ := json.MarshalIndent(tasks, "", "  ")

	return fmt.Sprintf(`You are reviewing a task list generated from a specification.

%s

Severity rules:
- critical: the task list cannot be implemented correctly as written
- warning: the task list works but should be improved
- info: optional polish

Specification path: %s

Specification:
%s

Task list:
%s

Output ONLY a JSON object with this exact structure:
{
  "issues": [
    {
      "id": "%s-1",
      "severity": "critical | warning | info",
      "description": "What is wrong",
      "affectedTasks": ["US-001"]
    }
  ],
  "taskGroupings": [
    {
      "taskIds": ["US-001", "US-002"],
      "reason": "Why they belong together",
      "complexity": "low | medium | high"
    }
  ]
}`, p.Instructions, docPath, content, taskJSON, p.Category)
}
