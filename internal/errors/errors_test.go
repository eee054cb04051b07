package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeAlreadyReverted, KindStateConflict, "already reverted")

	if err.Code != ErrCodeAlreadyReverted {
		t.Errorf("expected code %s, got %s", ErrCodeAlreadyReverted, err.Code)
	}
	if err.Kind != KindStateConflict {
		t.Errorf("expected kind %s, got %s", KindStateConflict, err.Kind)
	}
	if err.Cause != nil {
		t.Errorf("expected nil cause, got %v", err.Cause)
	}
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("exit status 1")
	err := Wrap(ErrCodeBackendFailed, KindBackendFailure, "assistant call failed", cause)

	if !errors.Is(err, cause) {
		t.Errorf("Wrap should support errors.Is")
	}
}

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name     string
		err      *ForgeError
		wantCode string
		wantMsg  string
	}{
		{
			name:     "simple error",
			err:      New(ErrCodeUnknownAction, KindValidation, "unknown action: frobnicate"),
			wantCode: "VALIDATION-002",
			wantMsg:  "frobnicate",
		},
		{
			name:     "error with cause",
			err:      Wrap(ErrCodeFileReadFailed, KindIO, "read failed", fmt.Errorf("permission denied")),
			wantCode: "IO-002",
			wantMsg:  "permission denied",
		},
		{
			name:     "timeout carries progress",
			err:      NewTimeoutError(ErrCodeReviewTimeout, 2, 5),
			wantCode: "TIMEOUT-001",
			wantMsg:  "2 of 5 steps complete",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()

			if !strings.Contains(errStr, tt.wantCode) {
				t.Errorf("error string should contain code %s, got: %s", tt.wantCode, errStr)
			}
			if !strings.Contains(errStr, tt.wantMsg) {
				t.Errorf("error string should contain message '%s', got: %s", tt.wantMsg, errStr)
			}
		})
	}
}

func TestWithSuggestion(t *testing.T) {
	err := NewBackendUnavailable("claude", fmt.Errorf("not found"))

	if len(err.Suggestions) == 0 {
		t.Fatal("expected suggestions")
	}
	if !strings.Contains(err.Error(), "Suggestions:") {
		t.Errorf("expected suggestions in output, got: %s", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"forge error", NewExtractionFailure(ErrCodeExtractNoJSON, "no json", nil), KindExtractionFailure},
		{"wrapped forge error", fmt.Errorf("category clarity: %w", NewBackendFailure("clarity", nil)), KindBackendFailure},
		{"plain error", fmt.Errorf("boom"), KindUnknown},
		{"nil", nil, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsKindDistinguishesBackendFromExtraction(t *testing.T) {
	backend := NewBackendFailure("review", fmt.Errorf("exit status 2"))
	extraction := NewExtractionFailure(ErrCodeExtractInvalid, "bad json", nil)

	if IsKind(backend, KindExtractionFailure) {
		t.Error("backend failure must not report as extraction failure")
	}
	if IsKind(extraction, KindBackendFailure) {
		t.Error("extraction failure must not report as backend failure")
	}
	if CodeOf(extraction) != ErrCodeExtractInvalid {
		t.Errorf("CodeOf() = %s", CodeOf(extraction))
	}
}
