package decompose

import (
	"sort"
	"strings"

	"github.com/felixgeelhaar/specforge/internal/extract"
	"github.com/felixgeelhaar/specforge/internal/review"
)

// Review categories
const (
	CategoryCoverage     = "coverage"
	CategoryConsistency  = "consistency"
	CategoryDependencies = "dependencies"
	CategoryDuplication  = "duplication"
)

// CategoryFeedback is what one decompose-review category reported
type CategoryFeedback struct {
	Category      string         `json:"category"`
	Issues        []Issue        `json:"issues"`
	TaskGroupings []TaskGrouping `json:"taskGroupings,omitempty"`
}

type rawFeedback struct {
	// Verdict is accepted but ignored; the aggregate verdict is derived from severities
	Verdict       string         `json:"verdict"`
	Issues        []Issue        `json:"issues"`
	TaskGroupings []TaskGrouping `json:"taskGroupings"`
}

// ParseCategoryFeedback extracts one category's findings from raw assistant output
func ParseCategoryFeedback(category, output string) (CategoryFeedback, error) {
	var raw rawFeedback
	if err := extract.Into(output, &raw); err != nil {
		return CategoryFeedback{}, err
	}
	cf := CategoryFeedback{Category: category, Issues: make([]Issue, 0, len(raw.Issues)), TaskGroupings: raw.TaskGroupings}
	for _, issue := range raw.Issues {
		sev := review.Severity(strings.ToLower(strings.TrimSpace(string(issue.Severity))))
		switch sev {
		case review.SeverityCritical, review.SeverityWarning, review.SeverityInfo:
		default:
			sev = review.SeverityWarning
		}
		issue.Severity = sev
		if issue.AffectedTasks == nil {
			issue.AffectedTasks = []string{}
		}
		cf.Issues = append(cf.Issues, issue)
	}
	return cf, nil
}

// AggregateFeedback merges category findings. The verdict is FAIL iff any issue is critical;
// warnings and info notes alone still pass.
func AggregateFeedback(parts []CategoryFeedback, failed []string) *Feedback {
	f := &Feedback{
		Verdict:             review.VerdictPass,
		MissingRequirements: []Issue{},
		Contradictions:      []Issue{},
		DependencyErrors:    []Issue{},
		Duplicates:          []Issue{},
	}
	for _, p := range parts {
		switch p.Category {
		case CategoryCoverage:
			f.MissingRequirements = append(f.MissingRequirements, p.Issues...)
		case CategoryConsistency:
			f.Contradictions = append(f.Contradictions, p.Issues...)
		case CategoryDependencies:
			f.DependencyErrors = append(f.DependencyErrors, p.Issues...)
		default:
			f.Duplicates = append(f.Duplicates, p.Issues...)
		}
		f.TaskGroupings = append(f.TaskGroupings, p.TaskGroupings...)
	}
	if f.Critical() > 0 {
		f.Verdict = review.VerdictFail
	}
	if len(failed) > 0 {
		f.FailedCategories = append([]string(nil), failed...)
		sort.Strings(f.FailedCategories)
	}
	return f
}
