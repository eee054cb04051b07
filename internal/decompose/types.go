// Package decompose turns a spec into a reviewed task list.
package decompose

import (
	"time"

	"github.com/felixgeelhaar/specforge/internal/review"
)

// Status of a decompose run
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusDecomposing  Status = "DECOMPOSING"
	StatusDecomposed   Status = "DECOMPOSED"
	StatusReviewing    Status = "REVIEWING"
	StatusRevising     Status = "REVISING"
	StatusCompleted    Status = "COMPLETED"
	StatusError        Status = "ERROR"
)

// Terminal reports whether the run has ended
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// State is the latest snapshot of a decompose run. It is rewritten after every transition.
type State struct {
	Status           Status         `json:"status"`
	Message          string         `json:"message"`
	DraftFile        string         `json:"draftFile,omitempty"`
	Verdict          review.Verdict `json:"verdict,omitempty"`
	Error            string         `json:"error,omitempty"`
	StartedAt        time.Time      `json:"startedAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	Attempt          int            `json:"attempt"`
	MaxAttempts      int            `json:"maxAttempts"`
	BackendSessionID string         `json:"backendSessionId,omitempty"`
	Feedback         *Feedback      `json:"feedback,omitempty"`
}

// Issue is one finding from the decompose review
type Issue struct {
	ID            string          `json:"id"`
	Severity      review.Severity `json:"severity"`
	Description   string          `json:"description"`
	AffectedTasks []string        `json:"affectedTasks"`
}

// TaskGrouping asks for several tasks to be merged into the first one
type TaskGrouping struct {
	TaskIDs    []string `json:"taskIds"`
	Reason     string   `json:"reason"`
	Complexity string   `json:"complexity"`
}

// Feedback is the aggregated decompose review. Verdict is PASS or FAIL.
type Feedback struct {
	Verdict             review.Verdict `json:"verdict"`
	MissingRequirements []Issue        `json:"missingRequirements"`
	Contradictions      []Issue        `json:"contradictions"`
	DependencyErrors    []Issue        `json:"dependencyErrors"`
	Duplicates          []Issue        `json:"duplicates"`
	TaskGroupings       []TaskGrouping `json:"taskGroupings,omitempty"`
	FailedCategories    []string       `json:"failedCategories,omitempty"`
}

// Issues returns every issue across all categories
func (f *Feedback) Issues() []Issue {
	all := make([]Issue, 0, len(f.MissingRequirements)+len(f.Contradictions)+len(f.DependencyErrors)+len(f.Duplicates))
	all = append(all, f.MissingRequirements...)
	all = append(all, f.Contradictions...)
	all = append(all, f.DependencyErrors...)
	all = append(all, f.Duplicates...)
	return all
}

// Critical counts critical issues
func (f *Feedback) Critical() int {
	n := 0
	for _, i := range f.Issues() {
		if i.Severity == review.SeverityCritical {
			n++
		}
	}
	return n
}
