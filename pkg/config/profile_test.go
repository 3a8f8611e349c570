package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/action"
	"github.com/wardenhq/warden/pkg/checkers"
	"github.com/wardenhq/warden/pkg/ladder"
)

const sampleProfile = `
name: staging
autonomy:
  thresholds:
    trusted: 0.5
    autonomous: 0.9
  domain_thresholds:
    shell:
      trusted: 0.7
      autonomous: 0.95
  write_level: TRUSTED
  initial_score: 0.25
  success_delta:
    write: 0.03
  failure_delta:
    write: -0.08
  maturation_hours: 48
  approval_ttl_minutes: 5
intent:
  ttl_minutes: 20
gate:
  bypass: [ping, health]
  intent_tiers: [write, destructive]
  allow_read_on_failure: true
ledger:
  lock_staleness_seconds: 60
workspace:
  roots: [/workspace]
browser:
  mode: allowlist
  allowlist: [docs.example.com]
tools:
  - tool: read_file
    domain: filesystem
    risk: read
  - tool: "mcp__git_*"
    domain: vcs
    risk: write
deny_rules:
  - name: no_force_push
    expr: 'tool == "mcp__git_push" && "force" in args && args.force == true'
`

func writeProfile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleProfile), 0o644))
	return path
}

func TestLoadProfile(t *testing.T) {
	p, err := LoadProfile(writeProfile(t))
	require.NoError(t, err)
	assert.Equal(t, "staging", p.Name)

	cfg := p.LadderConfig()
	assert.Equal(t, ladder.Thresholds{Trusted: 0.5, Autonomous: 0.9}, cfg.Thresholds)
	assert.Equal(t, ladder.Thresholds{Trusted: 0.7, Autonomous: 0.95}, cfg.DomainThresholds["shell"])
	assert.Equal(t, ladder.LevelTrusted, cfg.WriteLevel)
	assert.Equal(t, 0.25, cfg.InitialScore)
	assert.Equal(t, 0.03, cfg.Rewards.SuccessDelta[action.RiskWrite])
	assert.Equal(t, -0.08, cfg.Rewards.FailureDelta[action.RiskWrite])
	assert.Equal(t, 48*time.Hour, cfg.Rewards.MaturationWindow)
	assert.Equal(t, 5*time.Minute, cfg.ApprovalTTL)

	gcfg := p.GateConfig()
	assert.Equal(t, []string{"ping", "health"}, gcfg.Bypass)
	assert.True(t, gcfg.AllowReadOnFailure)

	assert.Equal(t, 20*time.Minute, p.IntentTTL())
	assert.Equal(t, 60*time.Second, p.LockStaleness())
}

func TestProfileDefaults(t *testing.T) {
	p := &Profile{}
	cfg := p.LadderConfig()
	assert.Equal(t, ladder.DefaultThresholds(), cfg.Thresholds)
	assert.Equal(t, 10*time.Minute, p.IntentTTL())
	assert.Equal(t, 30*time.Second, p.LockStaleness())
}

func TestProfileClassifier(t *testing.T) {
	p, err := LoadProfile(writeProfile(t))
	require.NoError(t, err)

	c := p.Classifier()
	domain, risk := c.Classify("read_file")
	assert.Equal(t, "filesystem", domain)
	assert.Equal(t, action.RiskRead, risk)

	domain, risk = c.Classify("mcp__git_push")
	assert.Equal(t, "vcs", domain)
	assert.Equal(t, action.RiskWrite, risk)

	domain, risk = c.Classify("never_heard_of_it")
	assert.Equal(t, action.DomainQuarantine, domain)
	assert.Equal(t, action.RiskDestructive, risk)
}

func TestProfileRegistry(t *testing.T) {
	p, err := LoadProfile(writeProfile(t))
	require.NoError(t, err)

	reg, err := p.Registry()
	require.NoError(t, err)
	assert.True(t, checkers.Available(reg.Workspace))
	assert.True(t, checkers.Available(reg.Browser))
	assert.True(t, checkers.Available(reg.Secrets))
	assert.True(t, checkers.Available(reg.Firewall))
	require.Len(t, reg.Extra, 1)
	assert.Equal(t, "rules", reg.Extra[0].Name())
}

func TestProfileRegistryLeavesUnconfiguredUnavailable(t *testing.T) {
	reg, err := (&Profile{}).Registry()
	require.NoError(t, err)
	assert.False(t, checkers.Available(reg.Workspace))
	assert.False(t, checkers.Available(reg.Browser))
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("WARDEN_LEDGER_DIR", "/var/lib/warden")
	t.Setenv("WARDEN_SIGNING_SECRET", "s3cret")
	t.Setenv("WARDEN_LOG_LEVEL", "")

	cfg := Load()
	assert.Equal(t, "/var/lib/warden", cfg.LedgerDir)
	assert.Equal(t, "s3cret", cfg.SigningSecret)
	assert.Equal(t, "INFO", cfg.LogLevel)
}
