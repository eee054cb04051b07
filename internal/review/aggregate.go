package review

import (
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// AggregateOptions tunes Aggregate
type AggregateOptions struct {
	// ExistingIDs are ids already used in the session; new suggestions avoid them
	ExistingIDs []string

	// NewID generates suggestion ids. Defaults to uuid.NewString.
	NewID func() string
}

// Aggregate merges category results into one review result.
//
// The overall verdict follows SPLIT_RECOMMENDED > FAIL > NEEDS_IMPROVEMENT > PASS.
// Suggestions are unioned, given unique ids, deduplicated by section, start line, and
// normalized issue text, then sorted by severity and start line with unnumbered ones last.
func Aggregate(results []CategoryResult, opts AggregateOptions) *AggregatedReviewResult {
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	agg := &AggregatedReviewResult{
		Verdict:     VerdictPass,
		Categories:  make(map[string]CategoryResult, len(results)),
		Suggestions: []SuggestionCard{},
	}
	if len(results) == 0 {
		return agg
	}

	used := make(map[string]bool, len(opts.ExistingIDs))
	for _, id := range opts.ExistingIDs {
		used[id] = true
	}
	seen := make(map[string]bool)

	for _, cr := range results {
		agg.Categories[cr.Category] = cr
		if cr.Verdict.rank() > agg.Verdict.rank() {
			agg.Verdict = cr.Verdict
		}
		if cr.Failed() {
			agg.FailedCategories = append(agg.FailedCategories, cr.Category)
		}

		for _, s := range cr.Suggestions {
			key := dedupeKey(s)
			if seen[key] {
				continue
			}
			seen[key] = true

			if s.ID == "" || used[s.ID] {
				s.ID = newID()
				for used[s.ID] {
					s.ID = newID()
				}
			}
			used[s.ID] = true
			if s.Category == "" {
				s.Category = cr.Category
			}
			if s.Status == "" {
				s.Status = StatusPending
			}
			agg.Suggestions = append(agg.Suggestions, s)
		}
	}

	SortSuggestions(agg.Suggestions)
	sort.Strings(agg.FailedCategories)
	return agg
}

// SortSuggestions orders by severity, then ascending LineStart with nil last. The sort is stable.
func SortSuggestions(s []SuggestionCard) {
	sort.SliceStable(s, func(i, j int) bool {
		ri, rj := s[i].Severity.Rank(), s[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		li, lj := s[i].LineStart, s[j].LineStart
		switch {
		case li == nil && lj == nil:
			return false
		case li == nil:
			return false
		case lj == nil:
			return true
		default:
			return *li < *lj
		}
	})
}

func dedupeKey(s SuggestionCard) string {
	line := "-"
	if s.LineStart != nil {
		line = strconv.Itoa(*s.LineStart)
	}
	return strings.ToLower(strings.TrimSpace(s.Section)) + "|" + line + "|" + normalizeIssue(s.Issue)
}

func normalizeIssue(issue string) string {
	fields := strings.Fields(strings.ToLower(issue))
	joined := strings.Join(fields, " ")
	return strings.TrimRight(joined, ".!;:")
}
