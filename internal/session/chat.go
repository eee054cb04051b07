package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/specforge/internal/assistant"
	"github.com/felixgeelhaar/specforge/internal/errors"
)

// ChatOptions tune a chat turn
type ChatOptions struct {
	Model  string
	LogDir string
}

// Chat sends one user message about the document and records both sides of the exchange.
// The first turn opens a backend session; later turns resume it. Nothing is recorded when
// the assistant call fails.
func (s *Session) Chat(ctx context.Context, runner assistant.Runner, message string, opts ChatOptions) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.NewValidationError(errors.ErrCodeInvalidInput, "chat message is empty")
	}

	resume := s.file.BackendSessionID != ""
	if !resume {
		s.file.BackendSessionID = s.newID()
	}

	var prompt string
	if resume {
		prompt = message
	} else {
		content, err := s.doc.Read()
		if err != nil {
			return "", err
		}
		prompt = s.chatPrompt(content, message)
	}

	res, err := runner.Run(ctx, assistant.Request{
		Prompt:     prompt,
		WorkingDir: filepath.Dir(s.doc.Path()),
		LogDir:     opts.LogDir,
		Label:      "session.chat",
		Model:      opts.Model,
		SessionID:  s.file.BackendSessionID,
		Resume:     resume,
	})
	if err != nil {
		if !resume {
			s.file.BackendSessionID = ""
		}
		return "", err
	}

	reply := strings.TrimSpace(res.Output)
	now := s.now().UTC()
	s.file.ChatMessages = append(s.file.ChatMessages,
		ChatMessage{Role: RoleUser, Content: message, Timestamp: now},
		ChatMessage{Role: RoleAssistant, Content: reply, Timestamp: now},
	)
	s.touch()
	return reply, nil
}

func (s *Session) chatPrompt(content, message string) string {
	var b strings.Builder
	b.WriteString("You are helping a user refine a specification document. Answer concisely.\n\n")
	fmt.Fprintf(&b, "Document path: %s\n\nDocument:\n%s\n", s.doc.Path(), content)

	if pending := s.file.Pending(); len(pending) > 0 {
		b.WriteString("\nOpen review suggestions:\n")
		for _, sg := range pending {
			fmt.Fprintf(&b, "- [%s] %s (%s): %s\n", sg.ID, sg.Severity, sg.Category, sg.Issue)
		}
	}
	fmt.Fprintf(&b, "\nUser: %s\n", message)
	return b.String()
}
