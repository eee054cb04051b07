package exitcode

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/review"
)

func TestDetermine(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error returns success", nil, Success},
		{"pass verdict", ForVerdict(review.VerdictPass), Success},
		{"fail verdict", ForVerdict(review.VerdictFail), Findings},
		{"needs improvement", ForVerdict(review.VerdictNeedsImprovement), Findings},
		{"split recommended", ForVerdict(review.VerdictSplitRecommended), Findings},
		{"wrapped findings", fmt.Errorf("review: %w", ForVerdict(review.VerdictFail)), Findings},
		{"missing file", errors.NewFileNotFoundError("spec.md"), Operational},
		{"backend failure", errors.NewBackendFailure("review.clarity", fmt.Errorf("exit 1")), Operational},
		{"plain error", fmt.Errorf("unknown flag: --bogus"), Operational},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Determine(tt.err))
		})
	}
}

func TestIsFindings(t *testing.T) {
	assert.True(t, IsFindings(ForVerdict(review.VerdictFail)))
	assert.False(t, IsFindings(nil))
	assert.False(t, IsFindings(errors.NewFileNotFoundError("x")))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Success", Describe(Success))
	assert.Equal(t, "Review did not pass", Describe(Findings))
	assert.Equal(t, "Operational error", Describe(Operational))
	assert.Equal(t, "Unknown exit code", Describe(42))
}

func TestHint(t *testing.T) {
	assert.Contains(t, Hint(errors.NewTimeoutError(errors.ErrCodeReviewTimeout, 2, 5)), "--timeout")
	assert.Empty(t, Hint(fmt.Errorf("plain")))
}
