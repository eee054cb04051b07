package exitcode

import (
	stderrors "errors"
	"os"

	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/review"
)

// Exit codes shared by every specforge command
const (
	// Success means the command ran and the document passed
	Success = 0

	// Findings means the command ran but the review did not pass
	Findings = 1

	// Operational means the command could not do its job: a missing file, a bad flag, an
	// assistant that never answered
	Operational = 2
)

// FindingsError reports a completed run whose verdict is not PASS. Commands return it after
// printing their report so main can exit 1 without printing an error.
type FindingsError struct {
	Verdict review.Verdict
}

func (e *FindingsError) Error() string {
	return "review verdict " + string(e.Verdict)
}

// ForVerdict returns Success for PASS and a FindingsError otherwise
func ForVerdict(v review.Verdict) error {
	if v == review.VerdictPass {
		return nil
	}
	return &FindingsError{Verdict: v}
}

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with the code Determine picks for err
func ExitWithError(err error) {
	Exit(Determine(err))
}

// Determine maps an error to an exit code
func Determine(err error) int {
	if err == nil {
		return Success
	}
	var findings *FindingsError
	if stderrors.As(err, &findings) {
		return Findings
	}
	return Operational
}

// IsFindings reports whether err only carries a non-passing verdict
func IsFindings(err error) bool {
	return Determine(err) == Findings
}

// Describe returns a human-readable description of an exit code
func Describe(code int) string {
	switch code {
	case Success:
		return "Success"
	case Findings:
		return "Review did not pass"
	case Operational:
		return "Operational error"
	default:
		return "Unknown exit code"
	}
}

// Hint returns a short next step for an operational error, based on its kind
func Hint(err error) string {
	switch errors.KindOf(err) {
	case errors.KindBackendFailure:
		return "Check that the assistant CLI is installed and authenticated"
	case errors.KindExtractionFailure:
		return "Inspect the raw output under .specforge/specs/<name>/logs"
	case errors.KindTimeout:
		return "Raise --timeout or review.timeout in .specforge/config.yaml"
	case errors.KindStateConflict:
		return "Reload the current state and retry"
	default:
		return ""
	}
}
