// Package godspec flags specification documents that should be split and proposes how.
package godspec

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Thresholds for the size, scope, and cohesion rules
const (
	MaxFeatureSections  = 3
	MaxWords            = 2000
	MaxEstimatedStories = 15
	WordsPerStory       = 200
	MinJourneys         = 2
	MaxBoundaryGroups   = 3
	MaxPersonas         = 2
	MinCategories       = 2
)

// Indicators is the detector verdict for one document
type Indicators struct {
	IsGodSpec        bool     `json:"isGodSpec"`
	Indicators       []string `json:"indicators"`
	EstimatedStories int      `json:"estimatedStories"`
	FeatureDomains   []string `json:"featureDomains"`
	SystemBoundaries []string `json:"systemBoundaries"`

	// Categories lists which of size, scope, and cohesion triggered
	Categories []string `json:"categories"`
	WordCount  int      `json:"wordCount"`
}

var (
	storyRe       = regexp.MustCompile(`(?i)\bas an?\s+([a-z][a-z -]{0,40}?)\s*,?\s+(?:i|we)\s+(?:want|need|can|should|would like)\b`)
	taskIDRe      = regexp.MustCompile(`\b(?:US|TS|STORY)-\d+\b`)
	requirementRe = regexp.MustCompile(`(?i)^\s*(?:[-*+]|\d+[.)])\s+.*\b(?:shall|must)\b`)
	doneRe        = regexp.MustCompile(`(?i)\b(?:definition of done|acceptance criteria|done when|success criteria|exit criteria)\b`)
)

type keywordGroup struct {
	name string
	re   *regexp.Regexp
}

func group(name string, words ...string) keywordGroup {
	return keywordGroup{name: name, re: regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)\b`)}
}

var boundaryGroups = []keywordGroup{
	group("database", "database", "postgres(?:ql)?", "mysql", "sqlite", "schema", "migrations?"),
	group("api", "api", "endpoints?", "rest", "graphql", "grpc"),
	group("ui", "ui", "frontend", "screens?", "web app", "mobile app"),
	group("messaging", "queues?", "kafka", "webhooks?", "pub/sub", "event bus"),
	group("storage", "s3", "blob storage", "file storage", "object storage", "cdn"),
	group("payments", "payments?", "billing", "stripe", "invoices?"),
	group("email", "email", "smtp", "sms"),
	group("identity", "oauth", "sso", "saml", "ldap", "oidc"),
	group("search", "search index", "elasticsearch", "full-text search"),
	group("analytics", "analytics", "tracking", "telemetry"),
}

var personaGroups = []keywordGroup{
	group("user", "users?", "end users?"),
	group("admin", "admins?", "administrators?"),
	group("customer", "customers?"),
	group("developer", "developers?"),
	group("operator", "operators?"),
	group("manager", "managers?"),
	group("guest", "guests?", "visitors?"),
	group("vendor", "vendors?", "suppliers?", "partners?"),
	group("support", "support agents?", "support staff"),
	group("auditor", "auditors?"),
}

// Detect evaluates size, scope, and cohesion indicators over a markdown document
func Detect(content string) Indicators {
	prose := StripCode(content)
	features := FeatureSections(content)
	words := countWords(prose)

	ind := Indicators{
		Indicators:       []string{},
		FeatureDomains:   make([]string, 0, len(features)),
		SystemBoundaries: matchGroups(boundaryGroups, prose),
		Categories:       []string{},
		WordCount:        words,
	}
	for _, f := range features {
		ind.FeatureDomains = append(ind.FeatureDomains, f.Title)
	}
	ind.EstimatedStories = EstimateStories(CountStoryIndicators(prose), len(features), words)

	var size, scope, cohesion []string
	if len(features) > MaxFeatureSections {
		size = append(size, fmt.Sprintf("%d feature sections (more than %d)", len(features), MaxFeatureSections))
	}
	if words > MaxWords {
		size = append(size, fmt.Sprintf("%d words (more than %d)", words, MaxWords))
	}
	if ind.EstimatedStories > MaxEstimatedStories {
		size = append(size, fmt.Sprintf("about %d stories (more than %d)", ind.EstimatedStories, MaxEstimatedStories))
	}

	journeys := journeyPersonas(prose)
	if len(journeys) >= MinJourneys {
		scope = append(scope, fmt.Sprintf("%d distinct user journeys (%s)", len(journeys), strings.Join(journeys, ", ")))
	}
	if len(ind.SystemBoundaries) > MaxBoundaryGroups {
		scope = append(scope, fmt.Sprintf("%d system boundaries (%s)", len(ind.SystemBoundaries), strings.Join(ind.SystemBoundaries, ", ")))
	}

	if !doneRe.MatchString(prose) {
		cohesion = append(cohesion, "no definition of done")
	}
	personas := matchGroups(personaGroups, prose)
	if len(personas) > MaxPersonas {
		cohesion = append(cohesion, fmt.Sprintf("%d personas (%s)", len(personas), strings.Join(personas, ", ")))
	}

	for _, c := range []struct {
		name  string
		rules []string
	}{{"size", size}, {"scope", scope}, {"cohesion", cohesion}} {
		if len(c.rules) == 0 {
			continue
		}
		ind.Categories = append(ind.Categories, c.name)
		for _, r := range c.rules {
			ind.Indicators = append(ind.Indicators, c.name+": "+r)
		}
	}
	ind.IsGodSpec = len(ind.Categories) >= MinCategories
	return ind
}

// EstimateStories is max(indicators + 2*sections, words/WordsPerStory, 1)
func EstimateStories(indicators, sections, words int) int {
	return max(indicators+2*sections, words/WordsPerStory, 1)
}

// CountStoryIndicators counts story statements, task ids, and shall/must requirement bullets
func CountStoryIndicators(text string) int {
	n := len(storyRe.FindAllStringIndex(text, -1))

	ids := make(map[string]bool)
	for _, id := range taskIDRe.FindAllString(text, -1) {
		ids[id] = true
	}
	n += len(ids)

	for _, line := range strings.Split(text, "\n") {
		if requirementRe.MatchString(line) && !storyRe.MatchString(line) {
			n++
		}
	}
	return n
}

func journeyPersonas(text string) []string {
	seen := make(map[string]bool)
	for _, m := range storyRe.FindAllStringSubmatch(text, -1) {
		seen[strings.TrimSpace(strings.ToLower(m[1]))] = true
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func matchGroups(groups []keywordGroup, text string) []string {
	out := []string{}
	for _, g := range groups {
		if g.re.MatchString(text) {
			out = append(out, g.name)
		}
	}
	return out
}
