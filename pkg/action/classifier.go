package action

import (
	"path"
	"sync"
)

// DomainQuarantine is assigned to tools the classifier has never seen.
// Unknown tools always land in the most conservative tier.
const DomainQuarantine = "quarantine"

// Rule maps a tool name or glob pattern to a classification.
type Rule struct {
	// Tool is an exact tool name or a path.Match pattern (e.g. "mcp__git_*").
	Tool   string   `json:"tool" yaml:"tool"`
	Domain string   `json:"domain" yaml:"domain"`
	Risk   RiskTier `json:"risk" yaml:"risk"`
}

// Classifier resolves (domain, risk tier) for tool names. Exact names win
// over patterns; patterns are checked in registration order.
type Classifier struct {
	mu       sync.RWMutex
	exact    map[string]Rule
	patterns []Rule
}

// NewClassifier creates an empty classifier.
func NewClassifier() *Classifier {
	return &Classifier{exact: make(map[string]Rule)}
}

// NewClassifierFromRules creates a classifier preloaded with rules.
func NewClassifierFromRules(rules []Rule) *Classifier {
	c := NewClassifier()
	for _, r := range rules {
		c.AddRule(r)
	}
	return c
}

// AddRule registers a classification rule. A rule whose Tool contains a
// glob metacharacter is treated as a pattern.
func (c *Classifier) AddRule(r Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if isPattern(r.Tool) {
		c.patterns = append(c.patterns, r)
		return
	}
	c.exact[r.Tool] = r
}

// Classify resolves the domain and risk tier for a tool name.
// Unknown tools default to (quarantine, destructive).
func (c *Classifier) Classify(tool string) (string, RiskTier) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if r, ok := c.exact[tool]; ok {
		return r.Domain, r.Risk
	}
	for _, r := range c.patterns {
		if ok, err := path.Match(r.Tool, tool); err == nil && ok {
			return r.Domain, r.Risk
		}
	}
	return DomainQuarantine, RiskDestructive
}

// Classified builds a fully classified Action, including its argument hash.
func (c *Classifier) Classified(tool string, args map[string]interface{}) (*Action, error) {
	domain, risk := c.Classify(tool)
	h, err := Hash(tool, args)
	if err != nil {
		return nil, err
	}
	return &Action{
		Tool:     tool,
		Args:     args,
		Domain:   domain,
		Risk:     risk,
		ArgsHash: h,
	}, nil
}

func isPattern(s string) bool {
	for _, ch := range s {
		switch ch {
		case '*', '?', '[':
			return true
		}
	}
	return false
}
