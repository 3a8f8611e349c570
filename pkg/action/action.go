// Package action models a single mediated tool call: its classification into
// a domain and risk tier, and the canonical argument hash that binds approval
// tokens to one exact invocation.
package action

import (
	"github.com/wardenhq/warden/pkg/canonicalize"
)

// RiskTier classifies the potential harm of an action.
type RiskTier string

const (
	RiskRead        RiskTier = "read"
	RiskWrite       RiskTier = "write"
	RiskDestructive RiskTier = "destructive"
)

// Rank orders tiers by severity; higher is riskier.
func (r RiskTier) Rank() int {
	switch r {
	case RiskRead:
		return 0
	case RiskWrite:
		return 1
	case RiskDestructive:
		return 2
	default:
		return 2
	}
}

// Action is a classified tool call.
type Action struct {
	Tool     string                 `json:"tool"`
	Args     map[string]interface{} `json:"args"`
	Domain   string                 `json:"domain"`
	Risk     RiskTier               `json:"risk"`
	ArgsHash string                 `json:"args_hash"`
}

// Hash computes the canonical digest of (tool, args). The digest is stable
// across runs and key orderings for identical logical input.
func Hash(tool string, args map[string]interface{}) (string, error) {
	return canonicalize.CanonicalHash(struct {
		Tool string                 `json:"tool"`
		Args map[string]interface{} `json:"args"`
	}{tool, args})
}
