package checkers

import (
	"fmt"
	"regexp"
	"strings"
)

// HeuristicFirewall flags text that tries to smuggle instructions into the
// agent's context. Detection rule content is deliberately shallow here; the
// contract is the interesting part.
type HeuristicFirewall struct {
	rules []firewallRule
}

type firewallRule struct {
	kind string
	re   *regexp.Regexp
}

// NewHeuristicFirewall creates a firewall with the default rule set.
func NewHeuristicFirewall() *HeuristicFirewall {
	return &HeuristicFirewall{rules: []firewallRule{
		{"override_instructions", regexp.MustCompile(`(?i)\b(ignore|disregard|forget)\b.{0,40}\b(previous|prior|above|all)\b.{0,40}\b(instruction|prompt|rule)`)},
		{"role_hijack", regexp.MustCompile(`(?i)\byou are now\b|\bact as\b.{0,30}\b(admin|root|developer mode)`)},
		{"exfil_request", regexp.MustCompile(`(?i)\b(send|post|upload|leak)\b.{0,40}\b(secret|credential|token|key|password)`)},
		{"tool_coercion", regexp.MustCompile(`(?i)\b(run|execute|call)\b.{0,30}\b(bash|shell|rm -rf|curl)\b.{0,60}\bwithout\b.{0,20}\b(asking|approval|confirmation)`)},
	}}
}

// DetectInjection returns a signal per matched rule.
func (f *HeuristicFirewall) DetectInjection(text string) []Signal {
	var signals []Signal
	for _, r := range f.rules {
		if loc := r.re.FindStringIndex(text); loc != nil {
			end := loc[1]
			if end > loc[0]+80 {
				end = loc[0] + 80
			}
			signals = append(signals, Signal{Kind: r.kind, Snippet: text[loc[0]:end]})
		}
	}
	return signals
}

// ProcessUntrusted wraps content in an explicit untrusted envelope so
// downstream consumers can never mistake it for operator instructions.
func (f *HeuristicFirewall) ProcessUntrusted(content, domain string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<untrusted source=%q>\n", domain)
	b.WriteString(content)
	b.WriteString("\n</untrusted>")
	return b.String()
}
