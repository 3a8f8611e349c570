// Package audit implements the tamper-evident decision ledger: an append-only
// sequence of hash-chained records persisted as JSONL, with an O(1) head
// pointer, an exclusive cross-process append lease, full-chain verification,
// and an optional HMAC signature per record.
package audit

import (
	"errors"
	"time"

	"github.com/wardenhq/warden/pkg/canonicalize"
)

var (
	// ErrChainCorruption reports that verification found an altered record.
	ErrChainCorruption = errors.New("audit chain is corrupted")
	// ErrLeaseTimeout reports that the append lease could not be acquired
	// within the retry budget.
	ErrLeaseTimeout = errors.New("audit append lease timed out")
)

// EventType categorizes audit events.
type EventType string

const (
	EventDecision   EventType = "decision"
	EventToken      EventType = "token"
	EventReputation EventType = "reputation"
	EventSystem     EventType = "system"
)

// Severity distinguishes ordinary policy outcomes from malfunctions.
// Internal errors are recorded above policy denials so operators can tell
// "blocked by rule" from "blocked because something broke".
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ChainBlock links an event to its predecessor.
type ChainBlock struct {
	PrevHash    string `json:"prev_hash"`
	PayloadHash string `json:"payload_hash"`
	ChainHash   string `json:"chain_hash"`
	Signature   string `json:"signature,omitempty"`
}

// Event is one immutable ledger record. Events are never mutated or deleted
// after Append returns.
type Event struct {
	EventID     string                 `json:"event_id"`
	Type        EventType              `json:"event_type"`
	Severity    Severity               `json:"severity"`
	Tool        string                 `json:"tool,omitempty"`
	Domain      string                 `json:"domain,omitempty"`
	Risk        string                 `json:"risk,omitempty"`
	Decision    string                 `json:"decision,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	ArgsHash    string                 `json:"args_hash,omitempty"`
	ArgsPreview map[string]interface{} `json:"redacted_args_preview,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Chain       ChainBlock             `json:"chain"`
}

// payloadView is the hashable representation of an event: everything except
// the chain block, in a fixed shape so identical logical content always
// hashes identically.
type payloadView struct {
	EventID     string                 `json:"event_id"`
	Type        EventType              `json:"event_type"`
	Severity    Severity               `json:"severity"`
	Tool        string                 `json:"tool,omitempty"`
	Domain      string                 `json:"domain,omitempty"`
	Risk        string                 `json:"risk,omitempty"`
	Decision    string                 `json:"decision,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	ArgsHash    string                 `json:"args_hash,omitempty"`
	ArgsPreview map[string]interface{} `json:"redacted_args_preview,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
	Timestamp   string                 `json:"timestamp"`
}

// PayloadHash computes the canonical digest of the event payload.
func (e *Event) PayloadHash() (string, error) {
	view := payloadView{
		EventID:     e.EventID,
		Type:        e.Type,
		Severity:    e.Severity,
		Tool:        e.Tool,
		Domain:      e.Domain,
		Risk:        e.Risk,
		Decision:    e.Decision,
		Reason:      e.Reason,
		ArgsHash:    e.ArgsHash,
		ArgsPreview: e.ArgsPreview,
		Tags:        e.Tags,
		SessionID:   e.SessionID,
		Timestamp:   e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	return canonicalize.CanonicalHash(view)
}

// ChainHash derives the chain link for a payload hash given its predecessor.
func ChainHash(prevHash, payloadHash string) string {
	return canonicalize.HashBytes([]byte(prevHash + payloadHash))
}
