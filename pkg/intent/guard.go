// Package intent issues and verifies capability tokens that bind tool calls
// to a genuine user instruction in the current conversation turn. Content
// derived from untrusted sources (fetched pages, tool output) has no path to
// minting a token, which is the structural defense against instruction
// injection: an injected "instruction" can never present valid intent.
package intent

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source identifies who a token was minted for.
type Source string

const (
	SourceUser   Source = "user"
	SourceSystem Source = "system"
)

// Verification reasons, each distinct so audit records pinpoint the failure.
const (
	ReasonOK                 = "ok"
	ReasonBypass             = "tool in bypass set"
	ReasonNotFound           = "not found"
	ReasonExpired            = "expired"
	ReasonMissingTurnBinding = "missing turn binding"
	ReasonWrongTurn          = "wrong turn"
	ReasonOutOfScope         = "out of scope"
)

// Mechanism reports how a call was admitted.
const (
	MechanismBypass = "bypass"
	MechanismToken  = "token"
)

// Token is a capability credential bound to one conversation turn.
// A token whose TurnID is empty is invalid by construction: it never
// implicitly matches any turn.
type Token struct {
	TokenID   string    `json:"token_id"`
	Source    Source    `json:"source"`
	TurnID    string    `json:"turn_id"`
	Scope     []string  `json:"scope,omitempty"` // optional tool allow-set
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// InScope reports whether the token covers a tool. An empty scope covers all.
func (t *Token) InScope(tool string) bool {
	if len(t.Scope) == 0 {
		return true
	}
	for _, s := range t.Scope {
		if s == tool {
			return true
		}
	}
	return false
}

// Guard tracks the active conversation turn and the tokens minted for it.
type Guard struct {
	mu          sync.Mutex
	tokens      map[string]*Token
	currentTurn string
	ttl         time.Duration
	bypass      map[string]bool
	clock       func() time.Time
	logger      *slog.Logger
}

// NewGuard creates a guard. Tokens live for ttl; tools in bypass never need
// a token.
func NewGuard(ttl time.Duration, bypass []string) *Guard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	set := make(map[string]bool, len(bypass))
	for _, tool := range bypass {
		set[tool] = true
	}
	return &Guard{
		tokens: make(map[string]*Token),
		ttl:    ttl,
		bypass: set,
		clock:  time.Now,
		logger: slog.Default().With("component", "intent"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (g *Guard) WithClock(clock func() time.Time) *Guard {
	g.clock = clock
	return g
}

// OnUserMessage is the only entry point that mints a user token. It rotates
// the turn id, which invalidates every prior-turn token for binding purposes.
func (g *Guard) OnUserMessage(text string) *Token {
	_ = text // the message content itself is not stored

	g.mu.Lock()
	defer g.mu.Unlock()

	g.currentTurn = uuid.New().String()
	return g.mintLocked(SourceUser, nil)
}

// MintSystem issues a system-origin token bound to the current turn, scoped
// to an explicit tool allow-set. It fails before any user turn exists.
func (g *Guard) MintSystem(scope []string) (*Token, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.currentTurn == "" {
		return nil, false
	}
	return g.mintLocked(SourceSystem, scope), true
}

func (g *Guard) mintLocked(source Source, scope []string) *Token {
	now := g.clock()
	t := &Token{
		TokenID:   uuid.New().String(),
		Source:    source,
		TurnID:    g.currentTurn,
		Scope:     scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(g.ttl),
	}
	g.tokens[t.TokenID] = t
	return t
}

// CurrentTurn returns the active turn id ("" before the first user message).
func (g *Guard) CurrentTurn() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentTurn
}

// RequireIntent checks that a tool call traces to the current turn. Tools in
// the bypass set pass without a token; everything else must present a token
// that exists, is unexpired, carries a non-empty turn id, equals the active
// turn, and covers the tool.
func (g *Guard) RequireIntent(tool, presentedTokenID string) (bool, string, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.bypass[tool] {
		return true, ReasonBypass, MechanismBypass
	}

	t, ok := g.tokens[presentedTokenID]
	if !ok {
		return false, ReasonNotFound, MechanismToken
	}
	if t.TurnID == "" {
		return false, ReasonMissingTurnBinding, MechanismToken
	}
	if g.clock().After(t.ExpiresAt) {
		return false, ReasonExpired, MechanismToken
	}
	if t.TurnID != g.currentTurn {
		return false, ReasonWrongTurn, MechanismToken
	}
	if !t.InScope(tool) {
		return false, ReasonOutOfScope, MechanismToken
	}
	return true, ReasonOK, MechanismToken
}
