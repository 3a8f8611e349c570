package action

// Verdict is the outcome of gating one action.
type Verdict string

const (
	VerdictAllow        Verdict = "ALLOW"
	VerdictDeny         Verdict = "DENY"
	VerdictNeedApproval Verdict = "NEED_APPROVAL"
)

// Decision is returned to the caller of every gate evaluation. ActionID is
// stable for identical arguments: retrying the same call after approval hits
// the same id, while changed arguments yield a new, unapproved action.
type Decision struct {
	Verdict  Verdict `json:"verdict"`
	Reason   string  `json:"reason"`
	ActionID string  `json:"action_id,omitempty"`
}

// Allowed reports whether the action may proceed.
func (d Decision) Allowed() bool { return d.Verdict == VerdictAllow }
