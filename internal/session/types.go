package session

import (
	"time"

	"github.com/felixgeelhaar/specforge/internal/review"
)

// Status summarises where a suggestion session stands
type Status string

const (
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusNeedsAttention Status = "needs_attention"
)

// File is the persisted suggestion session for one document
type File struct {
	SessionID        string                         `json:"sessionId"`
	SpecFilePath     string                         `json:"specFilePath"`
	Status           Status                         `json:"status"`
	Suggestions      []review.SuggestionCard        `json:"suggestions"`
	ChangeHistory    []ChangeRecord                 `json:"changeHistory"`
	ChatMessages     []ChatMessage                  `json:"chatMessages"`
	ReviewResult     *review.AggregatedReviewResult `json:"reviewResult,omitempty"`
	SplitSpecs       []string                       `json:"splitSpecs,omitempty"`
	ParentSpecPath   string                         `json:"parentSpecPath,omitempty"`
	BackendSessionID string                         `json:"backendSessionId,omitempty"`
	PendingEdit      *PendingEdit                   `json:"pendingEdit,omitempty"`
	Version          int                            `json:"version"`
	CreatedAt        time.Time                      `json:"createdAt"`
	UpdatedAt        time.Time                      `json:"updatedAt"`
}

// ChangeRecord is one committed document edit. Only Reverted ever changes after creation.
type ChangeRecord struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Description   string    `json:"description"`
	FilePath      string    `json:"filePath"`
	BeforeContent string    `json:"beforeContent"`
	AfterContent  string    `json:"afterContent"`
	BeforeHash    string    `json:"beforeHash"`
	AfterHash     string    `json:"afterHash"`
	Patch         string    `json:"patch,omitempty"`
	SuggestionID  string    `json:"suggestionId,omitempty"`
	Reverted      bool      `json:"reverted"`
}

// PendingEdit is a staged change waiting for approve or reject
type PendingEdit struct {
	SuggestionID string    `json:"suggestionId"`
	Original     string    `json:"original"`
	Proposed     string    `json:"proposed"`
	LineHint     *int      `json:"lineHint,omitempty"`
	StagedAt     time.Time `json:"stagedAt"`
}

// Chat roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a conversation about the document
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Pending returns the suggestions still awaiting a decision
func (f *File) Pending() []review.SuggestionCard {
	var out []review.SuggestionCard
	for _, s := range f.Suggestions {
		if s.Status == review.StatusPending {
			out = append(out, s)
		}
	}
	return out
}

// Counts tallies suggestions by status
func (f *File) Counts() map[review.Status]int {
	counts := make(map[review.Status]int)
	for _, s := range f.Suggestions {
		counts[s.Status]++
	}
	return counts
}

// ComputeStatus derives the session status from suggestions and the last review
func (f *File) ComputeStatus() Status {
	if len(f.Pending()) > 0 {
		return StatusInProgress
	}
	if f.ReviewResult != nil && f.ReviewResult.Degraded() {
		return StatusNeedsAttention
	}
	return StatusCompleted
}
