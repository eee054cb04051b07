package godspec

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/workspace"
)

// ProposedSpec is one document in a split proposal
type ProposedSpec struct {
	Filename         string   `json:"filename"`
	Description      string   `json:"description"`
	EstimatedStories int      `json:"estimatedStories"`
	Sections         []string `json:"sections"`
}

// SplitProposal describes how to partition a document
type SplitProposal struct {
	OriginalFile  string         `json:"originalFile"`
	Reason        string         `json:"reason"`
	ProposedSpecs []ProposedSpec `json:"proposedSpecs"`
}

// relation patterns are tried in order; the first match wins
var relations = []keywordGroup{
	group("auth", "auth", "authentication", "authorization", "login", "logout", "sign[- ]?in", "sign[- ]?up", "passwords?", "sessions?", "tokens?", "mfa", "2fa", "sso", "oauth"),
	group("user-management", "users?", "profiles?", "accounts?", "registration", "members?", "roles?", "permissions?"),
	group("admin", "admin", "administration", "dashboard", "moderation", "back[- ]?office", "settings"),
	group("integration", "integrations?", "api", "webhooks?", "sync", "import", "export", "third[- ]party", "connectors?"),
	group("notification", "notifications?", "email", "sms", "push", "alerts?", "reminders?"),
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true, "for": true,
	"to": true, "in": true, "on": true, "with": true, "by": true, "at": true, "from": true,
	"as": true, "is": true, "are": true, "be": true, "its": true, "into": true, "via": true,
	"&": true, "new": true, "feature": true, "features": true,
}

var wordSplit = regexp.MustCompile(`[^a-z0-9]+`)

// BuildSplitProposal groups the document's feature sections into proposed documents
func BuildSplitProposal(originalFile, content string) SplitProposal {
	ind := Detect(content)
	sections := FeatureSections(content)

	type bucket struct {
		key      string
		sections []Section
	}
	var buckets []*bucket
	byKey := make(map[string]*bucket)

	for _, s := range sections {
		key := "section:" + s.Title
		for _, rel := range relations {
			if rel.re.MatchString(s.Title) {
				key = "relation:" + rel.name
				break
			}
		}
		b, ok := byKey[key]
		if !ok {
			b = &bucket{key: key}
			byKey[key] = b
			buckets = append(buckets, b)
		}
		b.sections = append(b.sections, s)
	}

	base := strings.TrimSuffix(filepath.Base(originalFile), filepath.Ext(originalFile))
	used := make(map[string]bool)

	proposal := SplitProposal{
		OriginalFile:  originalFile,
		Reason:        reason(ind),
		ProposedSpecs: make([]ProposedSpec, 0, len(buckets)),
	}
	for _, b := range buckets {
		ps := ProposedSpec{
			Filename:    uniqueFilename(base, Slug(b.sections[0].Title), used),
			Description: describe(b.sections, originalFile),
		}
		for _, s := range b.sections {
			ps.Sections = append(ps.Sections, s.Title)
			ps.EstimatedStories += max(2, CountStoryIndicators(StripCode(s.Body)))
		}
		proposal.ProposedSpecs = append(proposal.ProposedSpecs, ps)
	}
	return proposal
}

func reason(ind Indicators) string {
	if len(ind.Indicators) == 0 {
		return "no god spec indicators triggered"
	}
	return fmt.Sprintf("%d of 3 indicator categories triggered: %s", len(ind.Categories), strings.Join(ind.Indicators, "; "))
}

// Slug turns a heading into kebab case from its first three significant words
func Slug(title string) string {
	var words []string
	for _, w := range wordSplit.Split(strings.ToLower(CleanTitle(title)), -1) {
		if w == "" || stopWords[w] {
			continue
		}
		words = append(words, w)
		if len(words) == 3 {
			break
		}
	}
	if len(words) == 0 {
		return "part"
	}
	return strings.Join(words, "-")
}

func uniqueFilename(base, slug string, used map[string]bool) string {
	name := fmt.Sprintf("%s.%s.md", base, slug)
	for n := 2; used[name]; n++ {
		name = fmt.Sprintf("%s.%s-%d.md", base, slug, n)
	}
	used[name] = true
	return name
}

func describe(sections []Section, originalFile string) string {
	var lines []string
	for _, line := range strings.Split(StripCode(sections[0].Body), "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		lines = append(lines, t)
		if len(lines) == 2 {
			break
		}
	}
	if len(lines) > 0 {
		return strings.Join(lines, " ")
	}
	titles := make([]string, 0, len(sections))
	for _, s := range sections {
		titles = append(titles, s.Title)
	}
	return fmt.Sprintf("Split from %s covering %s", filepath.Base(originalFile), strings.Join(titles, ", "))
}

// WriteSplit materialises each proposed document next to the original and returns their paths.
// Existing files are left alone unless overwrite is set; a collision is reported before any
// document is written.
func WriteSplit(proposal SplitProposal, content string, overwrite bool) ([]string, error) {
	dir := filepath.Dir(proposal.OriginalFile)
	paths := make([]string, 0, len(proposal.ProposedSpecs))
	for _, ps := range proposal.ProposedSpecs {
		path := filepath.Join(dir, ps.Filename)
		if _, err := os.Stat(path); err == nil && !overwrite {
			return nil, errors.NewStateConflict(errors.ErrCodeSplitExists, fmt.Sprintf("%s already exists", path)).
				WithSuggestion("Pass --force to overwrite existing split documents")
		}
		paths = append(paths, path)
	}

	bodies := make(map[string]Section)
	for _, s := range FeatureSections(content) {
		bodies[s.Title] = s
	}
	for i, ps := range proposal.ProposedSpecs {
		doc := renderSplit(ps, bodies, filepath.Base(proposal.OriginalFile))
		if err := workspace.WriteFileAtomic(paths[i], []byte(doc), 0o644); err != nil {
			return paths[:i], errors.NewIOError(errors.ErrCodeFileWriteFailed, fmt.Sprintf("failed to write %s", paths[i]), err)
		}
	}
	return paths, nil
}

func renderSplit(ps ProposedSpec, bodies map[string]Section, original string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", ps.Sections[0])
	fmt.Fprintf(&b, "> Split from %s\n\n", original)
	for _, title := range ps.Sections {
		fmt.Fprintf(&b, "## %s\n\n", title)
		if body := strings.TrimSpace(bodies[title].Body); body != "" {
			b.WriteString(body)
			b.WriteString("\n\n")
		}
	}
	return b.String()
}
