// Package ladder implements the autonomy ladder: per-domain reputation scores
// that an agent earns over time, delayed and reversible reward maturation, and
// the one-shot approval tokens that unlock otherwise-blocked actions.
package ladder

// Level is an autonomy level derived from a domain's reputation score.
type Level string

const (
	LevelSupervised Level = "SUPERVISED" // every write needs approval
	LevelTrusted    Level = "TRUSTED"    // autonomous writes
	LevelAutonomous Level = "AUTONOMOUS" // autonomous writes, fast-tracked approvals
)

// Rank orders levels; higher means more autonomy.
func (l Level) Rank() int {
	switch l {
	case LevelTrusted:
		return 1
	case LevelAutonomous:
		return 2
	default:
		return 0
	}
}

// Thresholds maps scores to levels. Values are policy parameters supplied by
// configuration, not inferred constants.
type Thresholds struct {
	Trusted    float64 `json:"trusted" yaml:"trusted"`
	Autonomous float64 `json:"autonomous" yaml:"autonomous"`
}

// DefaultThresholds is a conservative starting ladder.
func DefaultThresholds() Thresholds {
	return Thresholds{Trusted: 0.6, Autonomous: 0.85}
}

// LevelFor resolves the autonomy level for a score.
func (t Thresholds) LevelFor(score float64) Level {
	switch {
	case score >= t.Autonomous:
		return LevelAutonomous
	case score >= t.Trusted:
		return LevelTrusted
	default:
		return LevelSupervised
	}
}
