package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/events"
	"github.com/felixgeelhaar/specforge/internal/log"
	"github.com/felixgeelhaar/specforge/internal/metrics"
	"github.com/felixgeelhaar/specforge/internal/review"
)

// Action is a decision a user can take on a suggestion
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionEdit    Action = "edit"
	ActionDismiss Action = "dismiss"
	ActionResolve Action = "resolve"
)

// ParseAction validates an action name
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionApprove, ActionReject, ActionEdit, ActionDismiss, ActionResolve:
		return a, nil
	}
	return "", errors.NewValidationError(errors.ErrCodeUnknownAction, fmt.Sprintf("unknown action %q", s)).
		WithSuggestion("Use one of: approve, reject, edit, dismiss, resolve")
}

// Options configures a Session
type Options struct {
	Name      string
	Logger    *log.Logger
	Metrics   *metrics.Metrics
	Publisher events.Publisher
}

// Session applies user decisions to one document's suggestions. It is not safe for
// concurrent use; Manager serialises access per document.
type Session struct {
	file    *File
	doc     Document
	diff    *differ
	logger  *log.Logger
	metrics *metrics.Metrics
	events  events.Scoped
	now     func() time.Time
	newID   func() string
}

// New wraps a session file and the document it edits
func New(file *File, doc Document, opts Options) *Session {
	name := opts.Name
	if name == "" {
		name = file.SessionID
	}
	return &Session{
		file:    file,
		doc:     doc,
		diff:    newDiffer(),
		logger:  log.OrDefault(opts.Logger).Component("session").With("spec", name),
		metrics: metrics.OrDefault(opts.Metrics),
		events:  events.ForSpec(opts.Publisher, name),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// File returns the underlying session file
func (s *Session) File() *File { return s.file }

func (s *Session) find(id string) (*review.SuggestionCard, error) {
	for i := range s.file.Suggestions {
		if s.file.Suggestions[i].ID == id {
			return &s.file.Suggestions[i], nil
		}
	}
	return nil, errors.NewValidationError(errors.ErrCodeUnknownSuggestion, fmt.Sprintf("unknown suggestion %q", id))
}

func (s *Session) pending(id string) (*review.SuggestionCard, error) {
	sg, err := s.find(id)
	if err != nil {
		return nil, err
	}
	if sg.Status.Terminal() {
		return nil, errors.NewStateConflict(errors.ErrCodeSuggestionClosed,
			fmt.Sprintf("suggestion %s is already %s", id, sg.Status))
	}
	return sg, nil
}

// LoadReview replaces the pending suggestions with those of a new review. Decided
// suggestions stay as history; incoming ids that collide with them are reassigned.
func (s *Session) LoadReview(result *review.AggregatedReviewResult) int {
	kept := make([]review.SuggestionCard, 0, len(s.file.Suggestions)+len(result.Suggestions))
	taken := make(map[string]bool)
	for _, sg := range s.file.Suggestions {
		if sg.Status.Terminal() {
			kept = append(kept, sg)
			taken[sg.ID] = true
		}
	}
	for _, sg := range result.Suggestions {
		if sg.ID == "" || taken[sg.ID] {
			sg.ID = s.newID()
		}
		taken[sg.ID] = true
		sg.Status = review.StatusPending
		kept = append(kept, sg)
	}
	s.file.Suggestions = kept
	s.file.ReviewResult = result
	if s.file.PendingEdit != nil && !taken[s.file.PendingEdit.SuggestionID] {
		s.file.PendingEdit = nil
	}
	s.touch()
	s.events.Emit(events.SessionUpdated, map[string]any{"status": string(s.file.Status), "loaded": len(result.Suggestions)})
	return len(result.Suggestions)
}

// EnterDiffMode stages an edit for a pending suggestion. A new stage replaces any earlier one.
func (s *Session) EnterDiffMode(id, original, proposed string, lineHint *int) (*PendingEdit, error) {
	if _, err := s.pending(id); err != nil {
		return nil, err
	}
	if original == proposed {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidInput, "proposed text is identical to the original")
	}
	if prev := s.file.PendingEdit; prev != nil && prev.SuggestionID != id {
		s.logger.Debug("replacing staged edit", "previous", prev.SuggestionID, "suggestion", id)
	}
	s.file.PendingEdit = &PendingEdit{
		SuggestionID: id,
		Original:     original,
		Proposed:     proposed,
		LineHint:     lineHint,
		StagedAt:     s.now().UTC(),
	}
	s.touch()
	return s.file.PendingEdit, nil
}

// Approve accepts a suggestion. A staged edit for it is committed to the document; a change
// suggestion with nothing staged commits its own snippet and fix. Comments only change status.
func (s *Session) Approve(id string) (*ChangeRecord, error) {
	sg, err := s.pending(id)
	if err != nil {
		return nil, err
	}

	edit := s.stagedFor(id)
	if edit == nil && sg.Kind == review.KindChange && sg.TextSnippet != "" && sg.SuggestedFix != "" {
		edit = &PendingEdit{SuggestionID: id, Original: sg.TextSnippet, Proposed: sg.SuggestedFix, LineHint: sg.LineStart}
	}

	var rec *ChangeRecord
	if edit != nil {
		if rec, err = s.commit(edit, fmt.Sprintf("Approved %s suggestion: %s", sg.Category, sg.Issue)); err != nil {
			return nil, err
		}
	}
	s.unstage(id)
	s.close(sg, review.StatusApproved)
	return rec, nil
}

// Reject declines a suggestion and drops its staged edit. The document is never touched.
func (s *Session) Reject(id string) error {
	sg, err := s.pending(id)
	if err != nil {
		return err
	}
	s.unstage(id)
	s.close(sg, review.StatusRejected)
	return nil
}

// Edit accepts a suggestion with the user's own wording. When the suggestion quotes a snippet,
// the snippet is replaced with userVersion in the document.
func (s *Session) Edit(id, userVersion string) (*ChangeRecord, error) {
	if strings.TrimSpace(userVersion) == "" {
		return nil, errors.NewValidationError(errors.ErrCodeUserVersionRequired, "edit requires a non-empty user version").
			WithSuggestion("Pass the replacement text, e.g. --text \"...\"")
	}
	sg, err := s.pending(id)
	if err != nil {
		return nil, err
	}

	var rec *ChangeRecord
	if sg.TextSnippet != "" {
		edit := &PendingEdit{SuggestionID: id, Original: sg.TextSnippet, Proposed: userVersion, LineHint: sg.LineStart}
		if rec, err = s.commit(edit, fmt.Sprintf("Edited %s suggestion: %s", sg.Category, sg.Issue)); err != nil {
			return nil, err
		}
	}
	sg.UserVersion = userVersion
	s.unstage(id)
	s.close(sg, review.StatusEdited)
	return rec, nil
}

// Dismiss closes a suggestion without acting on it
func (s *Session) Dismiss(id string) error {
	return s.closeOnly(id, review.StatusDismissed)
}

// Resolve marks a suggestion as handled outside the session
func (s *Session) Resolve(id string) error {
	return s.closeOnly(id, review.StatusResolved)
}

// Apply dispatches an action by name
func (s *Session) Apply(action Action, id, userVersion string) (*ChangeRecord, error) {
	switch action {
	case ActionApprove:
		return s.Approve(id)
	case ActionReject:
		return nil, s.Reject(id)
	case ActionEdit:
		return s.Edit(id, userVersion)
	case ActionDismiss:
		return nil, s.Dismiss(id)
	case ActionResolve:
		return nil, s.Resolve(id)
	}
	_, err := ParseAction(string(action))
	return nil, err
}

// Revert restores the document to a change's before content. Each change reverts once.
func (s *Session) Revert(changeID string) (*ChangeRecord, error) {
	var rec *ChangeRecord
	for i := range s.file.ChangeHistory {
		if s.file.ChangeHistory[i].ID == changeID {
			rec = &s.file.ChangeHistory[i]
			break
		}
	}
	if rec == nil {
		return nil, errors.NewValidationError(errors.ErrCodeUnknownChange, fmt.Sprintf("unknown change %q", changeID))
	}
	if rec.Reverted {
		return nil, errors.NewStateConflict(errors.ErrCodeAlreadyReverted, fmt.Sprintf("change %s already reverted", changeID))
	}

	current, err := s.doc.Read()
	switch {
	case err == nil && Hash(current) != rec.AfterHash:
		s.logger.Warn("document changed since this edit; later edits will be lost", "change", changeID)
	case err != nil && errors.CodeOf(err) != errors.ErrCodeFileNotFound:
		return nil, err
	}

	if err := s.doc.Write(rec.BeforeContent); err != nil {
		return nil, err
	}
	rec.Reverted = true
	s.metrics.ChangeReverts.Inc()
	s.events.Emit(events.FileChanged, map[string]any{"path": s.doc.Path(), "changeId": rec.ID, "reverted": true})
	s.logger.Info("change reverted", "change", changeID)
	s.touch()
	return rec, nil
}

// Changes returns the change history, newest last
func (s *Session) Changes() []ChangeRecord {
	return s.file.ChangeHistory
}

func (s *Session) stagedFor(id string) *PendingEdit {
	if s.file.PendingEdit != nil && s.file.PendingEdit.SuggestionID == id {
		return s.file.PendingEdit
	}
	return nil
}

func (s *Session) unstage(id string) {
	if s.stagedFor(id) != nil {
		s.file.PendingEdit = nil
	}
}

// commit applies edit to the document and records the change. A no-op edit records nothing.
func (s *Session) commit(edit *PendingEdit, description string) (*ChangeRecord, error) {
	before, err := s.doc.Read()
	if err != nil {
		return nil, err
	}
	after, patch, err := s.diff.apply(before, edit.Original, edit.Proposed, edit.LineHint)
	if err != nil {
		return nil, err
	}
	if after == before {
		return nil, nil
	}
	if err := s.doc.Write(after); err != nil {
		return nil, err
	}

	s.file.ChangeHistory = append(s.file.ChangeHistory, ChangeRecord{
		ID:            s.newID(),
		Timestamp:     s.now().UTC(),
		Description:   description,
		FilePath:      s.doc.Path(),
		BeforeContent: before,
		AfterContent:  after,
		BeforeHash:    Hash(before),
		AfterHash:     Hash(after),
		Patch:         patch,
		SuggestionID:  edit.SuggestionID,
	})
	rec := &s.file.ChangeHistory[len(s.file.ChangeHistory)-1]
	s.events.Emit(events.FileChanged, map[string]any{"path": s.doc.Path(), "changeId": rec.ID, "suggestionId": edit.SuggestionID})
	return rec, nil
}

func (s *Session) closeOnly(id string, status review.Status) error {
	sg, err := s.pending(id)
	if err != nil {
		return err
	}
	s.unstage(id)
	s.close(sg, status)
	return nil
}

func (s *Session) close(sg *review.SuggestionCard, status review.Status) {
	now := s.now().UTC()
	sg.Status = status
	sg.ReviewedAt = &now
	s.metrics.SuggestionTransitions.WithLabelValues(string(status)).Inc()
	s.touch()
	s.events.Emit(events.SessionUpdated, map[string]any{
		"suggestionId": sg.ID,
		"suggestion":   string(status),
		"status":       string(s.file.Status),
	})
	s.logger.Debug("suggestion closed", "suggestion", sg.ID, "status", status)
}

func (s *Session) touch() {
	s.file.UpdatedAt = s.now().UTC()
	s.file.Status = s.file.ComputeStatus()
}
