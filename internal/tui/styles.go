// Package tui renders review, session, and decompose state for the terminal and drives the
// interactive suggestion triage.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/specforge/internal/review"
)

// Styles contains lipgloss styles for terminal output
type Styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Error    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Muted    lipgloss.Style
	Border   lipgloss.Style
	Snippet  lipgloss.Style
	Fix      lipgloss.Style
}

// DefaultStyles returns the default lipgloss styles
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")), // Purple
		Subtitle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		Error: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196")),
		Success: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("46")),
		Warning: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")),
		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1),
		Snippet: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Strikethrough(true),
		Fix: lipgloss.NewStyle().
			Foreground(lipgloss.Color("84")),
	}
}

// VerdictStyle picks the style a verdict is rendered with
func (s Styles) VerdictStyle(v review.Verdict) lipgloss.Style {
	switch v {
	case review.VerdictPass:
		return s.Success
	case review.VerdictNeedsImprovement:
		return s.Warning
	default:
		return s.Error
	}
}

// SeverityStyle picks the style a severity is rendered with
func (s Styles) SeverityStyle(sev review.Severity) lipgloss.Style {
	switch sev {
	case review.SeverityCritical:
		return s.Error
	case review.SeverityWarning:
		return s.Warning
	default:
		return s.Muted
	}
}
