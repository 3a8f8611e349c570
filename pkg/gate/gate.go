// Package gate implements the policy gate: the single decision point every
// sensitive agent action passes through. The gate classifies the action,
// consults the intent guard and the autonomy ladder, runs the collaborator
// checkers, and writes exactly one audit record per decision. Collaborators
// are advisory; the gate alone issues the final verdict.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wardenhq/warden/pkg/action"
	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/checkers"
	"github.com/wardenhq/warden/pkg/intent"
	"github.com/wardenhq/warden/pkg/ladder"
)

var (
	// ErrPolicyDenied reports a rule-based refusal.
	ErrPolicyDenied = errors.New("policy denied")
	// ErrTokenInvalid reports an intent or approval token that failed
	// verification.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrCheckerUnavailable reports a collaborator that failed to initialize.
	ErrCheckerUnavailable = errors.New("checker unavailable")
)

// Context carries caller identity for one evaluation.
type Context struct {
	SessionID string
	// IntentTokenID proves the call traces to a user instruction in the
	// current turn.
	IntentTokenID string
	// ApprovalTokenID, when set, redeems a one-shot approval for this exact
	// action.
	ApprovalTokenID string
}

// Config holds the gate's policy parameters.
type Config struct {
	// Bypass lists tools that short-circuit to ALLOW (diagnostics, pure
	// reads). Bypassed calls are still audited.
	Bypass []string `yaml:"bypass"`
	// IntentTiers lists the risk tiers that must present an intent token.
	// Empty means write and destructive.
	IntentTiers []action.RiskTier `yaml:"intent_tiers"`
	// IntentDomains lists domains that must present an intent token
	// regardless of tier.
	IntentDomains []string `yaml:"intent_domains"`
	// AllowReadOnFailure lets read-tier tools degrade to ALLOW with a
	// warning when evaluation breaks or a collaborator is unavailable.
	// Off by default: fail closed.
	AllowReadOnFailure bool `yaml:"allow_read_on_failure"`
}

// AuditSink receives the gate's decision records. *audit.Log satisfies it.
type AuditSink interface {
	Append(ctx context.Context, e audit.Event) (*audit.Event, error)
}

// Gate orchestrates one evaluation per tool call.
type Gate struct {
	cfg        Config
	classifier *action.Classifier
	ladder     *ladder.Ladder
	intents    *intent.Guard
	pipeline   []checkers.Checker
	secrets    checkers.Secrets
	sink       AuditSink
	logger     *slog.Logger

	bypass        map[string]bool
	intentTiers   map[action.RiskTier]bool
	intentDomains map[string]bool
}

// New creates a gate. The classifier and ladder are required; the intent
// guard, checker registry, and audit sink are attached with setters.
func New(classifier *action.Classifier, lad *ladder.Ladder, cfg Config) *Gate {
	bypass := make(map[string]bool, len(cfg.Bypass))
	for _, tool := range cfg.Bypass {
		bypass[tool] = true
	}
	tiers := make(map[action.RiskTier]bool, len(cfg.IntentTiers))
	for _, t := range cfg.IntentTiers {
		tiers[t] = true
	}
	if len(tiers) == 0 {
		tiers[action.RiskWrite] = true
		tiers[action.RiskDestructive] = true
	}
	domains := make(map[string]bool, len(cfg.IntentDomains))
	for _, d := range cfg.IntentDomains {
		domains[d] = true
	}
	return &Gate{
		cfg:           cfg,
		classifier:    classifier,
		ladder:        lad,
		logger:        slog.Default().With("component", "gate"),
		bypass:        bypass,
		intentTiers:   tiers,
		intentDomains: domains,
	}
}

// SetIntentGuard wires the intent guard. Without one the intent step is
// skipped entirely.
func (g *Gate) SetIntentGuard(guard *intent.Guard) { g.intents = guard }

// SetRegistry wires the collaborator registry. The registry's checker
// pipeline and secrets scanner are captured at call time.
func (g *Gate) SetRegistry(reg *checkers.Registry) {
	g.pipeline = reg.Checkers()
	g.secrets = reg.Secrets
}

// SetAuditSink wires the decision ledger.
func (g *Gate) SetAuditSink(sink AuditSink) { g.sink = sink }

// Evaluate decides one tool call. It never returns ALLOW because of an
// internal failure: a panic or error during evaluation converts to a DENY
// with an "internal error" reason, recorded at elevated severity.
func (g *Gate) Evaluate(ctx context.Context, tool string, args map[string]interface{}, call Context) (d action.Decision) {
	var act *action.Action
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("evaluation panicked", "tool", tool, "panic", r)
			d = g.failClosed(ctx, tool, act, call, fmt.Sprintf("internal error: %v", r))
		}
	}()

	act, err := g.classifier.Classified(tool, args)
	if err != nil {
		return g.failClosed(ctx, tool, nil, call, fmt.Sprintf("internal error: %v", err))
	}

	if g.bypass[tool] {
		d = action.Decision{Verdict: action.VerdictAllow, Reason: "tool in bypass set", ActionID: act.ArgsHash}
		g.record(ctx, act, d, call, audit.SeverityInfo, "bypass")
		return d
	}

	if g.intents != nil && (g.intentTiers[act.Risk] || g.intentDomains[act.Domain]) {
		ok, reason, mechanism := g.intents.RequireIntent(tool, call.IntentTokenID)
		if !ok {
			d = action.Decision{Verdict: action.VerdictDeny, Reason: "intent: " + reason, ActionID: act.ArgsHash}
			g.record(ctx, act, d, call, audit.SeverityInfo, "intent", mechanism)
			return d
		}
	}

	d = g.ladder.CheckAction(act.Domain, act.Risk)
	d.ActionID = act.ArgsHash
	if d.Verdict == action.VerdictNeedApproval && call.ApprovalTokenID != "" {
		ok, reason := g.ladder.ConsumeToken(ctx, call.ApprovalTokenID, act.ArgsHash)
		if ok {
			d = action.Decision{Verdict: action.VerdictAllow, Reason: "approval token consumed", ActionID: act.ArgsHash}
		} else {
			d = action.Decision{Verdict: action.VerdictDeny, Reason: "approval token rejected: " + reason, ActionID: act.ArgsHash}
		}
	}
	if d.Verdict == action.VerdictNeedApproval && act.Risk == action.RiskDestructive {
		// Destructive actions never wait in an approvable state: without a
		// token the call is refused outright. The caller still gets the
		// action id to request approval against.
		d = action.Decision{Verdict: action.VerdictDeny, Reason: "destructive requires approval", ActionID: act.ArgsHash}
	}
	if d.Verdict == action.VerdictDeny {
		g.record(ctx, act, d, call, audit.SeverityInfo, "ladder")
		return d
	}

	// Checkers run even for an approved or autonomous action: an approval
	// token does not bypass workspace or argument scoping. First DENY wins.
	for _, c := range g.pipeline {
		res := c.Check(ctx, act)
		if res.Unavailable {
			if act.Risk == action.RiskRead && g.cfg.AllowReadOnFailure {
				g.logger.Warn("collaborator unavailable, read tier degraded to allow", "checker", c.Name(), "tool", tool)
				continue
			}
			d = action.Decision{Verdict: action.VerdictDeny, Reason: res.Reason, ActionID: act.ArgsHash}
			g.record(ctx, act, d, call, audit.SeverityWarning, "checker-unavailable")
			return d
		}
		if !res.Allowed {
			d = action.Decision{Verdict: action.VerdictDeny, Reason: res.Reason, ActionID: act.ArgsHash}
			g.record(ctx, act, d, call, audit.SeverityInfo, "checker")
			return d
		}
	}

	if err := g.record(ctx, act, d, call, audit.SeverityInfo); err != nil && act.Risk != action.RiskRead {
		// A decision that cannot be recorded is not issued.
		return action.Decision{Verdict: action.VerdictDeny, Reason: "internal error: audit unavailable", ActionID: act.ArgsHash}
	}
	return d
}

// failClosed converts an internal failure into the safe verdict for the
// action's tier.
func (g *Gate) failClosed(ctx context.Context, tool string, act *action.Action, call Context, reason string) action.Decision {
	if act == nil {
		// Classification never finished; treat as the most conservative tier.
		act = &action.Action{Tool: tool, Domain: action.DomainQuarantine, Risk: action.RiskDestructive}
	}
	if act.Risk == action.RiskRead && g.cfg.AllowReadOnFailure {
		d := action.Decision{Verdict: action.VerdictAllow, Reason: reason + " (read tier degraded)", ActionID: act.ArgsHash}
		g.record(ctx, act, d, call, audit.SeverityWarning, "internal-error")
		return d
	}
	d := action.Decision{Verdict: action.VerdictDeny, Reason: reason, ActionID: act.ArgsHash}
	g.record(ctx, act, d, call, audit.SeverityError, "internal-error")
	return d
}

// record appends the single decision event for this evaluation. The preview
// only ever contains arguments that passed through the secrets scanner;
// without a scanner no preview is written at all.
func (g *Gate) record(ctx context.Context, act *action.Action, d action.Decision, call Context, sev audit.Severity, tags ...string) error {
	if g.sink == nil {
		return nil
	}

	var preview map[string]interface{}
	if checkers.Available(g.secrets) && act.Args != nil {
		_, _, preview = g.secrets.Scan(act.Args)
	}

	_, err := g.sink.Append(ctx, audit.Event{
		Type:        audit.EventDecision,
		Severity:    sev,
		Tool:        act.Tool,
		Domain:      act.Domain,
		Risk:        string(act.Risk),
		Decision:    string(d.Verdict),
		Reason:      d.Reason,
		ArgsHash:    act.ArgsHash,
		ArgsPreview: preview,
		Tags:        tags,
		SessionID:   call.SessionID,
	})
	if err != nil {
		g.logger.Error("decision audit append failed", "tool", act.Tool, "verdict", d.Verdict, "error", err)
	}
	return err
}
