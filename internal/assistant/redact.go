package assistant

import (
	"regexp"
	"strings"
)

// secretPattern matches one kind of credential. When the pattern has a capture group only
// the last non-empty group is replaced, so surrounding keys stay readable.
type secretPattern struct {
	kind string
	re   *regexp.Regexp
}

var secretPatterns = []secretPattern{
	{"private_key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`)},
	{"aws_access_key", regexp.MustCompile(`\b(AKIA[0-9A-Z]{16})\b`)},
	{"aws_secret_key", regexp.MustCompile(`(?i)(?:aws|amazon)[\w ]*secret[\w ]*[:=]\s*["']?([A-Za-z0-9/+=]{40})`)},
	{"github_token", regexp.MustCompile(`\b(gh[pousr]_[A-Za-z0-9_]{36,})\b`)},
	{"slack_token", regexp.MustCompile(`xox[baprs]-[0-9]{10,12}-[0-9]{10,12}-[A-Za-z0-9]{24,}`)},
	{"jwt", regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+`)},
	{"database_url", regexp.MustCompile(`(?i)(?:postgres(?:ql)?|mysql|mongodb|redis)://[^\s'"/:@]+:([^\s'"@]+)@`)},
	{"api_key", regexp.MustCompile(`(?i)api[ _-]?key[\w ]*[:=]\s*["']?([A-Za-z0-9_\-]{32,})`)},
	{"password", regexp.MustCompile(`(?i)password[\w ]*[:=]\s*["']([^"']{8,})["']`)},
	{"secret", regexp.MustCompile(`(?i)secret[\w ]*[:=]\s*["']([A-Za-z0-9_\-+=]{20,})["']`)},
}

// Redact replaces credentials in s with a [REDACTED kind] marker
func Redact(s string) string {
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllStringFunc(s, func(m string) string {
			marker := "[REDACTED " + p.kind + "]"
			groups := p.re.FindStringSubmatch(m)
			for i := len(groups) - 1; i > 0; i-- {
				if groups[i] != "" {
					return strings.Replace(m, groups[i], marker, 1)
				}
			}
			return marker
		})
	}
	return s
}
