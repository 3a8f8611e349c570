package checkers

import (
	"regexp"
)

// Redacted replaces flagged values in audit previews.
const Redacted = "[REDACTED]"

// secretPattern pairs a label with its detection regexp.
type secretPattern struct {
	label string
	re    *regexp.Regexp
}

// RegexSecrets scans string arguments against a pattern set and produces a
// redacted deep copy. The default set covers common credential shapes; the
// exact rule content is a collaborator concern, not gate logic.
type RegexSecrets struct {
	patterns []secretPattern
}

// NewRegexSecrets creates a scanner with the default pattern set.
func NewRegexSecrets() *RegexSecrets {
	return &RegexSecrets{patterns: []secretPattern{
		{"aws_access_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
		{"github_token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
		{"private_key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
		{"bearer_header", regexp.MustCompile(`(?i)\bauthorization:\s*bearer\s+\S+`)},
		{"generic_api_key", regexp.MustCompile(`(?i)\b(api[_-]?key|secret[_-]?key|access[_-]?token)["']?\s*[:=]\s*["']?[A-Za-z0-9/_\-+=]{16,}`)},
	}}
}

// AddPattern registers an extra detection rule.
func (s *RegexSecrets) AddPattern(label, expr string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, secretPattern{label, re})
	return nil
}

// Scan walks args recursively. It returns whether any secret was found, the
// labels of matched patterns, and a redacted copy safe for previews. The
// input is never mutated.
func (s *RegexSecrets) Scan(args map[string]interface{}) (bool, []string, map[string]interface{}) {
	var matches []string
	redacted := s.redactMap(args, &matches)
	return len(matches) > 0, matches, redacted
}

func (s *RegexSecrets) redactMap(m map[string]interface{}, matches *[]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = s.redactValue(v, matches)
	}
	return out
}

func (s *RegexSecrets) redactValue(v interface{}, matches *[]string) interface{} {
	switch t := v.(type) {
	case string:
		hit := false
		for _, p := range s.patterns {
			if p.re.MatchString(t) {
				*matches = append(*matches, p.label)
				hit = true
			}
		}
		if hit {
			return Redacted
		}
		return t
	case map[string]interface{}:
		return s.redactMap(t, matches)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = s.redactValue(e, matches)
		}
		return out
	default:
		return v
	}
}
