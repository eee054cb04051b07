package review

import (
	"time"
)

// Verdict is the outcome of one category or of a whole review
type Verdict string

const (
	VerdictPass             Verdict = "PASS"
	VerdictFail             Verdict = "FAIL"
	VerdictNeedsImprovement Verdict = "NEEDS_IMPROVEMENT"
	VerdictSplitRecommended Verdict = "SPLIT_RECOMMENDED"
)

// rank orders verdicts by precedence. A structural split signal dominates defects,
// and defects dominate style notes.
func (v Verdict) rank() int {
	switch v {
	case VerdictSplitRecommended:
		return 3
	case VerdictFail:
		return 2
	case VerdictNeedsImprovement:
		return 1
	default:
		return 0
	}
}

// Valid reports whether v is a known verdict
func (v Verdict) Valid() bool {
	switch v {
	case VerdictPass, VerdictFail, VerdictNeedsImprovement, VerdictSplitRecommended:
		return true
	}
	return false
}

// Severity of a suggestion or issue
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Rank returns 0 for critical, 1 for warning, and 2 for everything else
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Kind distinguishes suggestions that propose a text change from plain comments
type Kind string

const (
	KindChange  Kind = "change"
	KindComment Kind = "comment"
)

// Status is the lifecycle state of a suggestion
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusEdited    Status = "edited"
	StatusDismissed Status = "dismissed"
	StatusResolved  Status = "resolved"
)

// Terminal reports whether no further transition is allowed from s
func (s Status) Terminal() bool {
	return s != StatusPending && s != ""
}

// SuggestionCard is one proposed change or comment tied to a document location
type SuggestionCard struct {
	ID           string     `json:"id"`
	Category     string     `json:"category"`
	Severity     Severity   `json:"severity"`
	Kind         Kind       `json:"kind"`
	Section      string     `json:"section,omitempty"`
	LineStart    *int       `json:"lineStart,omitempty"`
	LineEnd      *int       `json:"lineEnd,omitempty"`
	TextSnippet  string     `json:"textSnippet,omitempty"`
	Issue        string     `json:"issue"`
	SuggestedFix string     `json:"suggestedFix,omitempty"`
	Status       Status     `json:"status"`
	UserVersion  string     `json:"userVersion,omitempty"`
	ReviewedAt   *time.Time `json:"reviewedAt,omitempty"`
}

// CategoryResult is the outcome of one category prompt
type CategoryResult struct {
	PromptName  string           `json:"promptName"`
	Category    string           `json:"category"`
	Verdict     Verdict          `json:"verdict"`
	Issues      []string         `json:"issues"`
	Suggestions []SuggestionCard `json:"suggestions"`
	DurationMs  int64            `json:"durationMs"`
	Error       string           `json:"error,omitempty"`
}

// Failed reports whether the category degraded to a failure marker
func (c CategoryResult) Failed() bool {
	return c.Error != ""
}

// TimeoutInfo records how far a review got before its deadline
type TimeoutInfo struct {
	TimeoutMs            int64    `json:"timeoutMs"`
	CompletedPrompts     int      `json:"completedPrompts"`
	TotalPrompts         int      `json:"totalPrompts"`
	CompletedPromptNames []string `json:"completedPromptNames"`
}

// AggregatedReviewResult is the merged outcome of every category in a review
type AggregatedReviewResult struct {
	Verdict          Verdict                   `json:"verdict"`
	Categories       map[string]CategoryResult `json:"categories"`
	Suggestions      []SuggestionCard          `json:"suggestions"`
	DurationMs       int64                     `json:"durationMs"`
	TimeoutInfo      *TimeoutInfo              `json:"timeoutInfo,omitempty"`
	FailedCategories []string                  `json:"failedCategories,omitempty"`
}

// Succeeded returns the number of categories that produced a parseable result
func (r *AggregatedReviewResult) Succeeded() int {
	n := 0
	for _, c := range r.Categories {
		if !c.Failed() {
			n++
		}
	}
	return n
}

// Degraded reports whether any category failed or the review ran out of time
func (r *AggregatedReviewResult) Degraded() bool {
	return len(r.FailedCategories) > 0 || r.TimeoutInfo != nil
}
