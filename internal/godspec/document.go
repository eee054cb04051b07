package godspec

import (
	"regexp"
	"strings"
	"unicode"
)

// Section is one heading and the text under it
type Section struct {
	Title string
	Level int
	Body  string
}

var (
	headingRe   = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	numberingRe = regexp.MustCompile(`^(?:\d+(?:\.\d+)*\.?|[A-Z]\.)\s+`)
)

// boilerplate headings never count as feature sections
var boilerplate = map[string]bool{
	"overview":            true,
	"introduction":        true,
	"background":          true,
	"goals":               true,
	"non-goals":           true,
	"non goals":           true,
	"glossary":            true,
	"appendix":            true,
	"references":          true,
	"summary":             true,
	"open questions":      true,
	"definition of done":  true,
	"acceptance criteria": true,
	"table of contents":   true,
	"scope":               true,
	"out of scope":        true,
	"context":             true,
}

// CleanTitle strips numbering, trailing colons, and surrounding space from a heading
func CleanTitle(title string) string {
	t := strings.TrimSpace(title)
	t = numberingRe.ReplaceAllString(t, "")
	return strings.TrimSpace(strings.TrimRight(t, ":"))
}

func isBoilerplate(title string) bool {
	return boilerplate[strings.ToLower(CleanTitle(title))]
}

// StripCode removes fenced code blocks
func StripCode(content string) string {
	var b strings.Builder
	inFence := false
	for _, line := range strings.Split(content, "\n") {
		if isFence(line) {
			inFence = !inFence
			continue
		}
		if !inFence {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func isFence(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~")
}

// ParseSections splits a markdown document at every heading outside fenced code.
// Text before the first heading is dropped.
func ParseSections(content string) []Section {
	var (
		sections []Section
		current  *Section
		body     strings.Builder
		inFence  bool
	)
	flush := func() {
		if current != nil {
			current.Body = strings.Trim(body.String(), "\n")
			sections = append(sections, *current)
		}
		body.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		if isFence(line) {
			inFence = !inFence
		}
		if !inFence {
			if m := headingRe.FindStringSubmatch(line); m != nil {
				flush()
				current = &Section{Title: CleanTitle(m[2]), Level: len(m[1])}
				continue
			}
		}
		if current != nil {
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}
	flush()
	return sections
}

// FeatureSections returns level-2 sections that are not boilerplate, or level-3 ones when
// no level-2 feature heading exists. A feature section's body includes its subsections.
func FeatureSections(content string) []Section {
	all := ParseSections(content)
	for _, level := range []int{2, 3} {
		features := collect(all, level)
		if len(features) > 0 {
			return features
		}
	}
	return nil
}

func collect(all []Section, level int) []Section {
	var out []Section
	for i := 0; i < len(all); i++ {
		s := all[i]
		if s.Level != level || isBoilerplate(s.Title) {
			continue
		}
		body := []string{s.Body}
		for j := i + 1; j < len(all) && all[j].Level > level; j++ {
			body = append(body, strings.Repeat("#", all[j].Level)+" "+all[j].Title, all[j].Body)
		}
		s.Body = strings.Trim(strings.Join(body, "\n"), "\n")
		out = append(out, s)
	}
	return out
}

// WordCount counts words outside fenced code. Tokens without a letter or digit, such as
// heading markers and bullets, are not words.
func WordCount(content string) int {
	return countWords(StripCode(content))
}

func countWords(text string) int {
	n := 0
	for _, f := range strings.Fields(text) {
		if strings.IndexFunc(f, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0 {
			n++
		}
	}
	return n
}
