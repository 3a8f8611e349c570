package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/action"
	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/checkers"
	"github.com/wardenhq/warden/pkg/intent"
	"github.com/wardenhq/warden/pkg/ladder"
)

type fixture struct {
	gate  *Gate
	lad   *ladder.Ladder
	guard *intent.Guard
	reg   *checkers.Registry
	log   *audit.Log
	now   time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	classifier := action.NewClassifierFromRules([]action.Rule{
		{Tool: "read_file", Domain: "filesystem", Risk: action.RiskRead},
		{Tool: "write_file", Domain: "filesystem", Risk: action.RiskWrite},
		{Tool: "delete_artifact", Domain: "artifacts", Risk: action.RiskDestructive},
		{Tool: "ping", Domain: "diagnostics", Risk: action.RiskRead},
	})

	f := &fixture{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	log, err := audit.NewLog(t.TempDir(), nil)
	require.NoError(t, err)
	f.log = log.WithClock(clock)

	f.lad = ladder.New(ladder.DefaultConfig()).WithClock(clock)
	f.guard = intent.NewGuard(10*time.Minute, nil).WithClock(clock)

	f.reg = checkers.NewRegistry()
	ws, err := checkers.NewRootWorkspace([]string{t.TempDir()})
	require.NoError(t, err)
	f.reg.Workspace = ws
	f.reg.Secrets = checkers.NewRegexSecrets()
	f.reg.Firewall = checkers.NewHeuristicFirewall()
	f.reg.Browser = &checkers.BrowserPolicy{Mode: "denylist"}

	f.gate = New(classifier, f.lad, cfg)
	f.gate.SetIntentGuard(f.guard)
	f.gate.SetRegistry(f.reg)
	f.gate.SetAuditSink(f.log)
	return f
}

func (f *fixture) intentToken() string {
	return f.guard.OnUserMessage("do the thing").TokenID
}

func (f *fixture) decisions(t *testing.T) []*audit.Event {
	t.Helper()
	events, err := f.log.Query(audit.Filter{Type: audit.EventDecision})
	require.NoError(t, err)
	return events
}

func TestReadAllowedWithoutToken(t *testing.T) {
	f := newFixture(t, Config{})

	d := f.gate.Evaluate(context.Background(), "read_file", map[string]interface{}{"path": "notes.txt"}, Context{SessionID: "s1"})
	assert.Equal(t, action.VerdictAllow, d.Verdict)
	assert.NotEmpty(t, d.ActionID)

	events := f.decisions(t)
	require.Len(t, events, 1)
	assert.Equal(t, "ALLOW", events[0].Decision)
	assert.Equal(t, "s1", events[0].SessionID)
}

func TestDestructiveDeniedWithoutApproval(t *testing.T) {
	f := newFixture(t, Config{})
	token := f.intentToken()

	d := f.gate.Evaluate(context.Background(), "delete_artifact",
		map[string]interface{}{"id": "a1"}, Context{IntentTokenID: token})
	assert.Equal(t, action.VerdictDeny, d.Verdict)
	assert.Equal(t, "destructive requires approval", d.Reason)
	assert.NotEmpty(t, d.ActionID, "caller needs the action id to request approval")
}

func TestApprovalRetryFlow(t *testing.T) {
	f := newFixture(t, Config{})
	args := map[string]interface{}{"id": "a1"}

	d := f.gate.Evaluate(context.Background(), "delete_artifact", args, Context{IntentTokenID: f.intentToken()})
	require.Equal(t, action.VerdictDeny, d.Verdict)

	approval := f.lad.IssueToken(context.Background(), d.ActionID)

	retry := f.gate.Evaluate(context.Background(), "delete_artifact", args,
		Context{IntentTokenID: f.intentToken(), ApprovalTokenID: approval.TokenID})
	assert.Equal(t, action.VerdictAllow, retry.Verdict)
	assert.Equal(t, "approval token consumed", retry.Reason)
	assert.Equal(t, d.ActionID, retry.ActionID, "identical arguments keep a stable action id")

	// The token is one-shot: presenting it again fails.
	replay := f.gate.Evaluate(context.Background(), "delete_artifact", args,
		Context{IntentTokenID: f.intentToken(), ApprovalTokenID: approval.TokenID})
	assert.Equal(t, action.VerdictDeny, replay.Verdict)
	assert.Contains(t, replay.Reason, "already consumed")
}

func TestApprovalBoundToExactArguments(t *testing.T) {
	f := newFixture(t, Config{})

	d := f.gate.Evaluate(context.Background(), "delete_artifact",
		map[string]interface{}{"id": "a1"}, Context{IntentTokenID: f.intentToken()})
	require.Equal(t, action.VerdictDeny, d.Verdict)

	approval := f.lad.IssueToken(context.Background(), d.ActionID)

	// Modified arguments hash differently: the approval never transfers.
	mutated := f.gate.Evaluate(context.Background(), "delete_artifact",
		map[string]interface{}{"id": "a2"}, Context{IntentTokenID: f.intentToken(), ApprovalTokenID: approval.TokenID})
	assert.Equal(t, action.VerdictDeny, mutated.Verdict)
	assert.Contains(t, mutated.Reason, "action hash mismatch")
	assert.NotEqual(t, d.ActionID, mutated.ActionID)
}

func TestWriteRequiresIntentToken(t *testing.T) {
	f := newFixture(t, Config{})
	args := map[string]interface{}{"path": "out.txt", "content": "x"}

	d := f.gate.Evaluate(context.Background(), "write_file", args, Context{})
	assert.Equal(t, action.VerdictDeny, d.Verdict)
	assert.Equal(t, "intent: not found", d.Reason)

	stale := f.intentToken()
	f.intentToken() // rotates the turn, invalidating stale
	d = f.gate.Evaluate(context.Background(), "write_file", args, Context{IntentTokenID: stale})
	assert.Equal(t, action.VerdictDeny, d.Verdict)
	assert.Equal(t, "intent: wrong turn", d.Reason)
}

func TestBypassShortCircuitsButAudits(t *testing.T) {
	f := newFixture(t, Config{Bypass: []string{"ping"}})

	d := f.gate.Evaluate(context.Background(), "ping", nil, Context{})
	assert.Equal(t, action.VerdictAllow, d.Verdict)
	assert.Equal(t, "tool in bypass set", d.Reason)

	events := f.decisions(t)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Tags, "bypass")
}

func TestCheckerDenyIsTerminal(t *testing.T) {
	f := newFixture(t, Config{})

	d := f.gate.Evaluate(context.Background(), "read_file",
		map[string]interface{}{"path": "/etc/shadow"}, Context{})
	assert.Equal(t, action.VerdictDeny, d.Verdict)
	assert.Contains(t, d.Reason, "workspace")
}

func TestUnknownToolQuarantined(t *testing.T) {
	f := newFixture(t, Config{})

	d := f.gate.Evaluate(context.Background(), "mystery_tool", nil, Context{IntentTokenID: f.intentToken()})
	assert.Equal(t, action.VerdictDeny, d.Verdict, "unknown tools land in the destructive tier")

	events := f.decisions(t)
	require.Len(t, events, 1)
	assert.Equal(t, action.DomainQuarantine, events[0].Domain)
}

func TestUnavailableCollaboratorFailsClosed(t *testing.T) {
	f := newFixture(t, Config{})
	f.gate.SetRegistry(checkers.NewRegistry()) // everything unavailable

	d := f.gate.Evaluate(context.Background(), "write_file",
		map[string]interface{}{"path": "out.txt"}, Context{IntentTokenID: f.intentToken()})
	assert.Equal(t, action.VerdictDeny, d.Verdict)
	assert.Contains(t, d.Reason, "unavailable")

	events := f.decisions(t)
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityWarning, events[0].Severity)
}

func TestUnavailableCollaboratorReadDegradesWhenConfigured(t *testing.T) {
	f := newFixture(t, Config{AllowReadOnFailure: true})
	f.gate.SetRegistry(checkers.NewRegistry())

	d := f.gate.Evaluate(context.Background(), "read_file",
		map[string]interface{}{"path": "notes.txt"}, Context{})
	assert.Equal(t, action.VerdictAllow, d.Verdict)
}

type panickyChecker struct{}

func (panickyChecker) Name() string { return "panicky" }
func (panickyChecker) Check(context.Context, *action.Action) checkers.Result {
	panic("checker blew up")
}

func TestPanicConvertsToInternalErrorDeny(t *testing.T) {
	f := newFixture(t, Config{})
	f.reg.Extra = append(f.reg.Extra, panickyChecker{})
	f.gate.SetRegistry(f.reg)

	d := f.gate.Evaluate(context.Background(), "write_file",
		map[string]interface{}{"path": "out.txt"}, Context{IntentTokenID: f.intentToken()})
	assert.Equal(t, action.VerdictDeny, d.Verdict)
	assert.Contains(t, d.Reason, "internal error")

	events := f.decisions(t)
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityError, events[0].Severity, "malfunction is recorded above policy denials")
	assert.Contains(t, events[0].Tags, "internal-error")
}

func TestAuditPreviewIsRedacted(t *testing.T) {
	f := newFixture(t, Config{})

	f.gate.Evaluate(context.Background(), "read_file",
		map[string]interface{}{"path": "notes.txt", "token": "Authorization: Bearer supersecret123"}, Context{})

	events := f.decisions(t)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].ArgsPreview)
	assert.Equal(t, checkers.Redacted, events[0].ArgsPreview["token"])
	assert.Equal(t, "notes.txt", events[0].ArgsPreview["path"])
}

func TestExactlyOneDecisionEventPerEvaluation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.gate.Evaluate(ctx, "read_file", map[string]interface{}{"path": "a.txt"}, Context{})
	f.gate.Evaluate(ctx, "write_file", map[string]interface{}{"path": "b.txt"}, Context{})
	f.gate.Evaluate(ctx, "delete_artifact", map[string]interface{}{"id": "x"}, Context{IntentTokenID: f.intentToken()})

	assert.Len(t, f.decisions(t), 3)
}
