package ladder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/pkg/action"
)

var (
	ErrRewardNotFound = errors.New("pending reward not found")
)

// Outcome is the observed result of an executed action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// RewardStatus is the lifecycle state of a pending reward.
type RewardStatus string

const (
	RewardPending   RewardStatus = "pending"
	RewardMatured   RewardStatus = "matured"
	RewardCanceled  RewardStatus = "canceled"
	RewardPenalized RewardStatus = "penalized"
)

// DomainScore is a domain's current reputation.
type DomainScore struct {
	Score       float64   `json:"score"`
	LastUpdated time.Time `json:"last_updated"`
}

// PendingReward is a scheduled, reversible reputation change. The domain
// score is mutated only by maturing one of these.
type PendingReward struct {
	RewardID  string       `json:"reward_id"`
	ActionID  string       `json:"action_id"`
	Domain    string       `json:"domain"`
	Delta     float64      `json:"delta"`
	Status    RewardStatus `json:"status"`
	MaturesAt time.Time    `json:"matures_at"`
}

// RewardPolicy sets the delta magnitude per outcome and risk tier, the
// maturation window, and the reopen compensation factor. All values are
// external configuration.
type RewardPolicy struct {
	MaturationWindow time.Duration               `yaml:"maturation_window"`
	SuccessDelta     map[action.RiskTier]float64 `yaml:"success_delta"`
	FailureDelta     map[action.RiskTier]float64 `yaml:"failure_delta"`
	ReopenFactor     float64                     `yaml:"reopen_factor"`
}

// DefaultRewardPolicy returns a conservative policy: small, slow gains and
// larger losses.
func DefaultRewardPolicy() RewardPolicy {
	return RewardPolicy{
		MaturationWindow: 72 * time.Hour,
		SuccessDelta: map[action.RiskTier]float64{
			action.RiskRead:        0.005,
			action.RiskWrite:       0.02,
			action.RiskDestructive: 0.03,
		},
		FailureDelta: map[action.RiskTier]float64{
			action.RiskRead:        -0.01,
			action.RiskWrite:       -0.05,
			action.RiskDestructive: -0.10,
		},
		ReopenFactor: 1.0,
	}
}

func (p RewardPolicy) delta(outcome Outcome, risk action.RiskTier) float64 {
	if outcome == OutcomeSuccess {
		return p.SuccessDelta[risk]
	}
	return p.FailureDelta[risk]
}

// ReputationStore holds per-domain scores and the pending-reward book.
// It is an explicit handle constructed once at process start, never a
// package-level singleton, so tests get isolated instances.
type ReputationStore struct {
	mu           sync.RWMutex
	scores       map[string]*DomainScore
	rewards      map[string]*PendingReward // by reward id
	byAction     map[string][]string       // action id -> reward ids
	initialScore float64
	clock        func() time.Time
}

// NewReputationStore creates an empty store. New domains start at initial,
// clamped to [0, 1].
func NewReputationStore(initial float64) *ReputationStore {
	return &ReputationStore{
		scores:       make(map[string]*DomainScore),
		rewards:      make(map[string]*PendingReward),
		byAction:     make(map[string][]string),
		initialScore: clamp(initial),
		clock:        time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *ReputationStore) WithClock(clock func() time.Time) *ReputationStore {
	s.clock = clock
	return s
}

// Score returns the current score for a domain.
func (s *ReputationStore) Score(domain string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ds, ok := s.scores[domain]; ok {
		return ds.Score
	}
	return s.initialScore
}

// Schedule books a pending reward maturing after window. No score changes
// until maturation.
func (s *ReputationStore) Schedule(actionID, domain string, delta float64, window time.Duration) *PendingReward {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &PendingReward{
		RewardID:  uuid.New().String(),
		ActionID:  actionID,
		Domain:    domain,
		Delta:     delta,
		Status:    RewardPending,
		MaturesAt: s.clock().Add(window),
	}
	s.rewards[r.RewardID] = r
	s.byAction[actionID] = append(s.byAction[actionID], r.RewardID)
	return r
}

// Mature sweeps due pending rewards, applying each delta exactly once.
// The pending→matured transition is a check-and-set under the store lock, so
// concurrent or repeated sweeps produce one winner per reward. Returns the
// rewards matured by this call.
func (s *ReputationStore) Mature() []*PendingReward {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	var matured []*PendingReward
	for _, r := range s.rewards {
		if r.Status != RewardPending || now.Before(r.MaturesAt) {
			continue
		}
		r.Status = RewardMatured
		s.applyLocked(r.Domain, r.Delta)
		matured = append(matured, r)
	}
	return matured
}

// Reopen handles a human reversing an action after the fact. Pending rewards
// are canceled with no score effect; matured rewards get a compensating
// negative delta and become penalized. Already-canceled or penalized rewards
// are untouched, so repeated reopen events cannot double-punish.
func (s *ReputationStore) Reopen(actionID string, factor float64) ([]*PendingReward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byAction[actionID]
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: action %s", ErrRewardNotFound, actionID)
	}
	if factor <= 0 {
		factor = 1.0
	}

	var touched []*PendingReward
	for _, id := range ids {
		r := s.rewards[id]
		switch r.Status {
		case RewardPending:
			r.Status = RewardCanceled
			touched = append(touched, r)
		case RewardMatured:
			r.Status = RewardPenalized
			s.applyLocked(r.Domain, -r.Delta*factor)
			touched = append(touched, r)
		}
	}
	return touched, nil
}

// Rewards returns the rewards booked for an action id.
func (s *ReputationStore) Rewards(actionID string) []*PendingReward {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*PendingReward, 0, len(s.byAction[actionID]))
	for _, id := range s.byAction[actionID] {
		cp := *s.rewards[id]
		out = append(out, &cp)
	}
	return out
}

func (s *ReputationStore) applyLocked(domain string, delta float64) {
	ds, ok := s.scores[domain]
	if !ok {
		ds = &DomainScore{Score: s.initialScore}
		s.scores[domain] = ds
	}
	ds.Score = clamp(ds.Score + delta)
	ds.LastUpdated = s.clock()
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
