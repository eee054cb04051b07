package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Kind groups error codes by how callers are expected to react to them
type Kind string

const (
	// KindBackendFailure means the assistant call itself failed (process error, non-zero exit)
	KindBackendFailure Kind = "backend_failure"
	// KindExtractionFailure means the assistant ran but its output could not be parsed
	KindExtractionFailure Kind = "extraction_failure"
	// KindTimeout means a deadline expired; partial results may be attached elsewhere
	KindTimeout Kind = "timeout_exceeded"
	// KindValidation means the caller supplied malformed input
	KindValidation Kind = "validation_error"
	// KindStateConflict means the requested transition is not allowed from the current state
	KindStateConflict Kind = "state_conflict"
	// KindIO covers filesystem and storage failures
	KindIO Kind = "io_error"
	// KindUnknown is returned by KindOf for errors that carry no kind
	KindUnknown Kind = "unknown"
)

// Error categories
const (
	// Backend errors (BACKEND-001 to BACKEND-099)
	ErrCodeBackendUnavailable ErrorCode = "BACKEND-001"
	ErrCodeBackendFailed      ErrorCode = "BACKEND-002"
	ErrCodeBackendCancelled   ErrorCode = "BACKEND-003"

	// Extraction errors (EXTRACT-001 to EXTRACT-099)
	ErrCodeExtractNoJSON  ErrorCode = "EXTRACT-001"
	ErrCodeExtractInvalid ErrorCode = "EXTRACT-002"
	ErrCodeExtractShape   ErrorCode = "EXTRACT-003"

	// Timeout errors (TIMEOUT-001 to TIMEOUT-099)
	ErrCodeReviewTimeout    ErrorCode = "TIMEOUT-001"
	ErrCodeDecomposeTimeout ErrorCode = "TIMEOUT-002"

	// Validation errors (VALIDATION-001 to VALIDATION-099)
	ErrCodeUserVersionRequired ErrorCode = "VALIDATION-001"
	ErrCodeUnknownAction       ErrorCode = "VALIDATION-002"
	ErrCodeUnknownSuggestion   ErrorCode = "VALIDATION-003"
	ErrCodeUnknownChange       ErrorCode = "VALIDATION-004"
	ErrCodeInvalidInput        ErrorCode = "VALIDATION-005"

	// State errors (STATE-001 to STATE-099)
	ErrCodeAlreadyReverted   ErrorCode = "STATE-001"
	ErrCodeSuggestionClosed  ErrorCode = "STATE-002"
	ErrCodeVersionConflict   ErrorCode = "STATE-003"
	ErrCodeRunInFlight       ErrorCode = "STATE-004"
	ErrCodePatchNotApplied   ErrorCode = "STATE-005"
	ErrCodeNoPendingEdit     ErrorCode = "STATE-006"
	ErrCodeStatusRegression  ErrorCode = "STATE-007"
	ErrCodeSplitExists       ErrorCode = "STATE-008"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileNotFound    ErrorCode = "IO-001"
	ErrCodeFileReadFailed  ErrorCode = "IO-002"
	ErrCodeFileWriteFailed ErrorCode = "IO-003"
	ErrCodeDirectoryFailed ErrorCode = "IO-004"
	ErrCodeFileUnmarshal   ErrorCode = "IO-005"
	ErrCodeSequenceFailed  ErrorCode = "IO-006"
)

// ForgeError represents an error with code, kind, and recovery suggestions
type ForgeError struct {
	Code        ErrorCode
	Kind        Kind
	Message     string
	Suggestions []string
	Cause       error
}

// Error implements the error interface
func (e *ForgeError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *ForgeError) Unwrap() error {
	return e.Cause
}

// New creates a new ForgeError
func New(code ErrorCode, kind Kind, message string) *ForgeError {
	return &ForgeError{
		Code:    code,
		Kind:    kind,
		Message: message,
	}
}

// Wrap creates a new ForgeError wrapping an existing error
func Wrap(code ErrorCode, kind Kind, message string, cause error) *ForgeError {
	return &ForgeError{
		Code:    code,
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *ForgeError) WithSuggestion(suggestion string) *ForgeError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// KindOf returns the kind of the first ForgeError in err's chain
func KindOf(err error) Kind {
	var fe *ForgeError
	if stderrors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf returns the code of the first ForgeError in err's chain, or ""
func CodeOf(err error) ErrorCode {
	var fe *ForgeError
	if stderrors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Common error constructors for frequently used errors

// NewBackendFailure reports a failed assistant invocation
func NewBackendFailure(label string, cause error) *ForgeError {
	return Wrap(ErrCodeBackendFailed, KindBackendFailure, fmt.Sprintf("assistant call failed: %s", label), cause).
		WithSuggestion("Check the raw output under the spec's logs/ directory").
		WithSuggestion("Run 'specforge config init' and verify the assistant command")
}

// NewBackendUnavailable reports that the assistant executable could not be started
func NewBackendUnavailable(command string, cause error) *ForgeError {
	return Wrap(ErrCodeBackendUnavailable, KindBackendFailure, fmt.Sprintf("assistant not available: %s", command), cause).
		WithSuggestion(fmt.Sprintf("Install %s or set assistant.command in .specforge/config.yaml", command))
}

// NewExtractionFailure reports assistant output that held no parseable structure
func NewExtractionFailure(code ErrorCode, message string, cause error) *ForgeError {
	return Wrap(code, KindExtractionFailure, message, cause)
}

// NewTimeoutError reports an expired deadline with progress counts
func NewTimeoutError(code ErrorCode, completed, total int) *ForgeError {
	return New(code, KindTimeout, fmt.Sprintf("exceeded timeout with %d of %d steps complete", completed, total))
}

// NewValidationError reports malformed caller input
func NewValidationError(code ErrorCode, message string) *ForgeError {
	return New(code, KindValidation, message)
}

// NewStateConflict reports a transition that the current state does not allow
func NewStateConflict(code ErrorCode, message string) *ForgeError {
	return New(code, KindStateConflict, message)
}

// NewFileNotFoundError creates a file not found error
func NewFileNotFoundError(path string) *ForgeError {
	return New(ErrCodeFileNotFound, KindIO, fmt.Sprintf("file not found: %s", path)).
		WithSuggestion("Check if the file path is correct").
		WithSuggestion("Verify the file exists and you have read permissions")
}

// NewFileUnmarshalError creates an unmarshal error
func NewFileUnmarshalError(path string, format string, cause error) *ForgeError {
	return Wrap(ErrCodeFileUnmarshal, KindIO, fmt.Sprintf("failed to parse %s file: %s", format, path), cause).
		WithSuggestion("Check the file syntax and format").
		WithSuggestion(fmt.Sprintf("Ensure the file is valid %s", format))
}

// NewIOError wraps a filesystem failure
func NewIOError(code ErrorCode, message string, cause error) *ForgeError {
	return Wrap(code, KindIO, message, cause)
}
