package ladder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardenhq/warden/pkg/action"
	"github.com/wardenhq/warden/pkg/audit"
)

// AuditSink receives ladder lifecycle events. *audit.Log satisfies it.
type AuditSink interface {
	Append(ctx context.Context, e audit.Event) (*audit.Event, error)
}

// Config holds the ladder's policy parameters.
type Config struct {
	// Thresholds maps scores to autonomy levels, with optional per-domain
	// overrides.
	Thresholds       Thresholds            `yaml:"thresholds"`
	DomainThresholds map[string]Thresholds `yaml:"domain_thresholds"`
	// WriteLevel is the minimum level at which writes run autonomously.
	WriteLevel Level `yaml:"write_level"`
	// InitialScore seeds domains that have no history yet.
	InitialScore float64      `yaml:"initial_score"`
	Rewards      RewardPolicy `yaml:"rewards"`
	// ApprovalTTL bounds how long an issued approval token stays valid.
	ApprovalTTL time.Duration `yaml:"approval_ttl"`
}

// DefaultConfig returns a conservative ladder configuration.
func DefaultConfig() Config {
	return Config{
		Thresholds:   DefaultThresholds(),
		WriteLevel:   LevelTrusted,
		InitialScore: 0.3,
		Rewards:      DefaultRewardPolicy(),
		ApprovalTTL:  15 * time.Minute,
	}
}

// Ladder is the reputation-gated approval engine.
type Ladder struct {
	cfg    Config
	store  *ReputationStore
	tokens *tokenStore
	sink   AuditSink
	logger *slog.Logger
	clock  func() time.Time
}

// New creates a ladder with its own reputation and token stores.
func New(cfg Config) *Ladder {
	if cfg.WriteLevel == "" {
		cfg.WriteLevel = LevelTrusted
	}
	if cfg.ApprovalTTL <= 0 {
		cfg.ApprovalTTL = 15 * time.Minute
	}
	clock := time.Now
	store := NewReputationStore(cfg.InitialScore)
	return &Ladder{
		cfg:    cfg,
		store:  store,
		tokens: newTokenStore(clock),
		clock:  clock,
		logger: slog.Default().With("component", "ladder"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ladder) WithClock(clock func() time.Time) *Ladder {
	l.clock = clock
	l.store.WithClock(clock)
	l.tokens.clock = clock
	return l
}

// WithAuditSink wires ladder lifecycle events into the ledger.
func (l *Ladder) WithAuditSink(sink AuditSink) *Ladder {
	l.sink = sink
	return l
}

// Store exposes the reputation store handle (read access for dashboards).
func (l *Ladder) Store() *ReputationStore { return l.store }

func (l *Ladder) thresholdsFor(domain string) Thresholds {
	if t, ok := l.cfg.DomainThresholds[domain]; ok {
		return t
	}
	return l.cfg.Thresholds
}

// LevelFor returns a domain's current autonomy level.
func (l *Ladder) LevelFor(domain string) Level {
	return l.thresholdsFor(domain).LevelFor(l.store.Score(domain))
}

// CheckAction gates an action by domain and risk tier. Reads are always
// allowed. Writes are allowed when the domain's level meets the configured
// write level, otherwise they need approval. Destructive actions are never
// unconditionally autonomous regardless of score: they always require a
// valid approval token obtained out of band.
func (l *Ladder) CheckAction(domain string, risk action.RiskTier) action.Decision {
	switch risk {
	case action.RiskRead:
		return action.Decision{Verdict: action.VerdictAllow, Reason: "read tier"}
	case action.RiskWrite:
		level := l.LevelFor(domain)
		if level.Rank() >= l.cfg.WriteLevel.Rank() {
			return action.Decision{
				Verdict: action.VerdictAllow,
				Reason:  fmt.Sprintf("domain %s at level %s", domain, level),
			}
		}
		return action.Decision{
			Verdict: action.VerdictNeedApproval,
			Reason:  fmt.Sprintf("domain %s at level %s requires approval for writes", domain, level),
		}
	default:
		return action.Decision{
			Verdict: action.VerdictNeedApproval,
			Reason:  "destructive requires approval",
		}
	}
}

// IssueToken mints a one-shot approval token bound to an action hash.
// This is the explicit out-of-band approval step.
func (l *Ladder) IssueToken(ctx context.Context, actionHash string) *ApprovalToken {
	t := l.tokens.issue(actionHash, l.cfg.ApprovalTTL)
	l.emit(ctx, audit.Event{
		Type:     audit.EventToken,
		Decision: "ISSUED",
		Reason:   "approval token issued",
		ArgsHash: actionHash,
	})
	return t
}

// ConsumeToken redeems an approval token against the hash of the call being
// attempted. Exactly one concurrent attempt succeeds.
func (l *Ladder) ConsumeToken(ctx context.Context, tokenID, currentActionHash string) (bool, string) {
	ok, reason := l.tokens.consume(tokenID, currentActionHash)
	decision := "CONSUMED"
	if !ok {
		decision = "REJECTED"
	}
	l.emit(ctx, audit.Event{
		Type:     audit.EventToken,
		Decision: decision,
		Reason:   reason,
		ArgsHash: currentActionHash,
	})
	return ok, reason
}

// RecordOutcome books a pending reward for an executed action. The delta's
// sign and magnitude come from the reward policy; nothing touches the score
// until the maturation window passes.
func (l *Ladder) RecordOutcome(ctx context.Context, actionID, domain string, risk action.RiskTier, outcome Outcome) *PendingReward {
	delta := l.cfg.Rewards.delta(outcome, risk)
	r := l.store.Schedule(actionID, domain, delta, l.cfg.Rewards.MaturationWindow)
	l.emit(ctx, audit.Event{
		Type:     audit.EventReputation,
		Domain:   domain,
		Risk:     string(risk),
		Decision: "SCHEDULED",
		Reason:   fmt.Sprintf("outcome %s, delta %+.3f matures %s", outcome, delta, r.MaturesAt.UTC().Format(time.RFC3339)),
	})
	return r
}

// RunMaturation sweeps due rewards. Safe to invoke concurrently or
// repeatedly; each reward matures at most once.
func (l *Ladder) RunMaturation(ctx context.Context) int {
	matured := l.store.Mature()
	for _, r := range matured {
		l.emit(ctx, audit.Event{
			Type:     audit.EventReputation,
			Domain:   r.Domain,
			Decision: "MATURED",
			Reason:   fmt.Sprintf("applied %+.3f, score now %.3f", r.Delta, l.store.Score(r.Domain)),
		})
	}
	return len(matured)
}

// HandleReopen reverses the reputation effect of an action a human reopened:
// pending rewards are canceled, matured ones are compensated and penalized.
func (l *Ladder) HandleReopen(ctx context.Context, actionID string) error {
	touched, err := l.store.Reopen(actionID, l.cfg.Rewards.ReopenFactor)
	if err != nil {
		return err
	}
	for _, r := range touched {
		l.emit(ctx, audit.Event{
			Type:     audit.EventReputation,
			Domain:   r.Domain,
			Decision: string(r.Status),
			Reason:   fmt.Sprintf("reopen of action %s", actionID),
		})
	}
	return nil
}

func (l *Ladder) emit(ctx context.Context, e audit.Event) {
	if l.sink == nil {
		return
	}
	if _, err := l.sink.Append(ctx, e); err != nil {
		l.logger.Warn("audit emit failed", "type", e.Type, "error", err)
	}
}
