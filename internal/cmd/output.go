package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/events"
	"github.com/felixgeelhaar/specforge/internal/exitcode"
	"github.com/felixgeelhaar/specforge/internal/tui"
)

// Output formats accepted by --format
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func validateFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
		return nil
	}
	return errors.NewValidationError(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown format %q", format)).
		WithSuggestion("Use --format text, json, or yaml")
}

// writeStructured writes v as JSON or YAML
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// PrintError writes err with its suggestions and a hint for its kind. A FindingsError prints
// nothing: the report was already written.
func PrintError(w io.Writer, err error) {
	if err == nil || exitcode.IsFindings(err) {
		return
	}
	styles := tui.DefaultStyles()
	fmt.Fprintln(w, styles.Error.Render("Error:")+" "+err.Error())
	if hint := exitcode.Hint(err); hint != "" && !strings.Contains(err.Error(), hint) {
		fmt.Fprintln(w, styles.Muted.Render("Hint: "+hint))
	}
}

// streamEvents prints progress events to w until the channel closes
func streamEvents(w io.Writer, ch <-chan events.Event) {
	muted := tui.DefaultStyles().Muted
	for e := range ch {
		switch e.Type {
		case events.LogChunk:
			fmt.Fprintf(w, "%s %v\n", muted.Render(fmt.Sprintf("[%v]", e.Data["label"])), e.Data["line"])
		case events.ReviewCategoryCompleted:
			fmt.Fprintf(w, "%s %v %v\n", muted.Render("category"), e.Data["category"], e.Data["verdict"])
		case events.DecomposeStatus:
			fmt.Fprintf(w, "%s %v %v\n", muted.Render("decompose"), e.Data["status"], e.Data["message"])
		case events.ReviewStatus:
			fmt.Fprintf(w, "%s %v\n", muted.Render("review"), e.Data["status"])
		}
	}
}
