package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wardenhq/warden/pkg/action"
	"github.com/wardenhq/warden/pkg/checkers"
	"github.com/wardenhq/warden/pkg/gate"
	"github.com/wardenhq/warden/pkg/ladder"
)

// Profile is the operator-tuned policy profile. Thresholds, deltas, and
// windows are policy parameters, never hardcoded.
type Profile struct {
	Name string `yaml:"name"`

	Autonomy AutonomyConfig `yaml:"autonomy"`
	Intent   IntentConfig   `yaml:"intent"`
	Gate     GateConfig     `yaml:"gate"`
	Ledger   LedgerConfig   `yaml:"ledger"`

	Workspace WorkspaceConfig        `yaml:"workspace"`
	Browser   checkers.BrowserPolicy `yaml:"browser"`
	Tools     []action.Rule          `yaml:"tools"`
	DenyRules []DenyRule             `yaml:"deny_rules"`
}

// AutonomyConfig tunes the ladder.
type AutonomyConfig struct {
	Thresholds       ladder.Thresholds            `yaml:"thresholds"`
	DomainThresholds map[string]ladder.Thresholds `yaml:"domain_thresholds"`
	WriteLevel       ladder.Level                 `yaml:"write_level"`
	InitialScore     float64                      `yaml:"initial_score"`

	SuccessDelta map[action.RiskTier]float64 `yaml:"success_delta"`
	FailureDelta map[action.RiskTier]float64 `yaml:"failure_delta"`
	ReopenFactor float64                     `yaml:"reopen_factor"`

	MaturationHours    int `yaml:"maturation_hours"`
	ApprovalTTLMinutes int `yaml:"approval_ttl_minutes"`
}

// IntentConfig tunes the intent guard.
type IntentConfig struct {
	TTLMinutes int      `yaml:"ttl_minutes"`
	Bypass     []string `yaml:"bypass"`
}

// GateConfig tunes the gate.
type GateConfig struct {
	Bypass             []string          `yaml:"bypass"`
	IntentTiers        []action.RiskTier `yaml:"intent_tiers"`
	IntentDomains      []string          `yaml:"intent_domains"`
	AllowReadOnFailure bool              `yaml:"allow_read_on_failure"`
}

// LedgerConfig tunes the audit log's append lease.
type LedgerConfig struct {
	LockStalenessSeconds int `yaml:"lock_staleness_seconds"`
	LockMaxTries         int `yaml:"lock_max_tries"`
}

// WorkspaceConfig scopes the filesystem collaborator.
type WorkspaceConfig struct {
	Roots []string `yaml:"roots"`
}

// DenyRule is one operator-configured CEL deny rule.
type DenyRule struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

// LoadProfile reads and parses a policy profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return &p, nil
}

// LadderConfig converts the profile's autonomy section.
func (p *Profile) LadderConfig() ladder.Config {
	cfg := ladder.DefaultConfig()
	a := p.Autonomy

	if a.Thresholds.Trusted > 0 || a.Thresholds.Autonomous > 0 {
		cfg.Thresholds = a.Thresholds
	}
	if len(a.DomainThresholds) > 0 {
		cfg.DomainThresholds = a.DomainThresholds
	}
	if a.WriteLevel != "" {
		cfg.WriteLevel = a.WriteLevel
	}
	if a.InitialScore > 0 {
		cfg.InitialScore = a.InitialScore
	}
	if len(a.SuccessDelta) > 0 {
		cfg.Rewards.SuccessDelta = a.SuccessDelta
	}
	if len(a.FailureDelta) > 0 {
		cfg.Rewards.FailureDelta = a.FailureDelta
	}
	if a.ReopenFactor > 0 {
		cfg.Rewards.ReopenFactor = a.ReopenFactor
	}
	if a.MaturationHours > 0 {
		cfg.Rewards.MaturationWindow = time.Duration(a.MaturationHours) * time.Hour
	}
	if a.ApprovalTTLMinutes > 0 {
		cfg.ApprovalTTL = time.Duration(a.ApprovalTTLMinutes) * time.Minute
	}
	return cfg
}

// GateConfig converts the profile's gate section.
func (p *Profile) GateConfig() gate.Config {
	return gate.Config{
		Bypass:             p.Gate.Bypass,
		IntentTiers:        p.Gate.IntentTiers,
		IntentDomains:      p.Gate.IntentDomains,
		AllowReadOnFailure: p.Gate.AllowReadOnFailure,
	}
}

// IntentTTL returns the intent token time-to-live.
func (p *Profile) IntentTTL() time.Duration {
	if p.Intent.TTLMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(p.Intent.TTLMinutes) * time.Minute
}

// LockStaleness returns the ledger lease staleness timeout.
func (p *Profile) LockStaleness() time.Duration {
	if p.Ledger.LockStalenessSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.Ledger.LockStalenessSeconds) * time.Second
}

// Classifier builds the tool classifier from the profile's rules.
func (p *Profile) Classifier() *action.Classifier {
	return action.NewClassifierFromRules(p.Tools)
}

// Registry builds the collaborator registry the profile describes. Slots the
// profile leaves unconfigured stay in their unavailable variants.
func (p *Profile) Registry() (*checkers.Registry, error) {
	reg := checkers.NewRegistry()

	if len(p.Workspace.Roots) > 0 {
		ws, err := checkers.NewRootWorkspace(p.Workspace.Roots)
		if err != nil {
			return nil, err
		}
		reg.Workspace = ws
	}
	if p.Browser.Mode != "" {
		browser := p.Browser
		reg.Browser = &browser
	}
	reg.Secrets = checkers.NewRegexSecrets()
	reg.Firewall = checkers.NewHeuristicFirewall()

	if len(p.DenyRules) > 0 {
		rules, err := checkers.NewRuleChecker()
		if err != nil {
			return nil, err
		}
		for _, r := range p.DenyRules {
			if err := rules.AddRule(r.Name, r.Expr); err != nil {
				return nil, err
			}
		}
		reg.Extra = append(reg.Extra, rules)
	}
	return reg, nil
}
