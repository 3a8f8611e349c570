package ladder

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Approval token consumption reasons, each a distinct string so callers can
// tell replay from expiry from a binding mismatch.
const (
	ReasonConsumed        = "consumed"
	ReasonNotFound        = "not found"
	ReasonExpired         = "expired"
	ReasonAlreadyConsumed = "already consumed"
	ReasonHashMismatch    = "action hash mismatch"
)

// ApprovalToken is a one-shot credential bound to one exact action by its
// argument hash. Consumed flips exactly once.
type ApprovalToken struct {
	TokenID         string    `json:"token_id"`
	BoundActionHash string    `json:"bound_action_hash"`
	IssuedAt        time.Time `json:"issued_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	Consumed        bool      `json:"consumed"`
}

// tokenStore tracks issued approval tokens.
type tokenStore struct {
	mu     sync.Mutex
	tokens map[string]*ApprovalToken
	clock  func() time.Time
}

func newTokenStore(clock func() time.Time) *tokenStore {
	return &tokenStore{
		tokens: make(map[string]*ApprovalToken),
		clock:  clock,
	}
}

func (ts *tokenStore) issue(actionHash string, ttl time.Duration) *ApprovalToken {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.clock()
	t := &ApprovalToken{
		TokenID:         uuid.New().String(),
		BoundActionHash: actionHash,
		IssuedAt:        now,
		ExpiresAt:       now.Add(ttl),
	}
	ts.tokens[t.TokenID] = t
	return t
}

// consume atomically marks a token consumed. Under concurrent attempts
// exactly one caller succeeds; all others observe a deterministic failure.
// A token bound to hash A never unlocks a call whose hash differs from A.
func (ts *tokenStore) consume(tokenID, currentActionHash string) (bool, string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	t, ok := ts.tokens[tokenID]
	if !ok {
		return false, ReasonNotFound
	}
	if t.Consumed {
		return false, ReasonAlreadyConsumed
	}
	if ts.clock().After(t.ExpiresAt) {
		return false, ReasonExpired
	}
	if t.BoundActionHash != currentActionHash {
		return false, ReasonHashMismatch
	}
	t.Consumed = true
	return true, ReasonConsumed
}
