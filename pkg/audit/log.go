package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Genesis is the fixed predecessor hash of the first event.
const Genesis = "genesis"

// head is the O(1) append pointer persisted next to the ledger file.
type head struct {
	PrevHash    string `json:"prev_hash"`
	LastEventID string `json:"last_event_id"`
	Count       int    `json:"count"`
}

// EventHandler is notified after an event has been durably appended.
type EventHandler func(e *Event)

// Log is the durable, tamper-evident event ledger. Records are appended to a
// JSONL file under an exclusive lease and never rewritten.
type Log struct {
	path     string
	headPath string
	lease    Lease
	signer   Signer
	clock    func() time.Time
	logger   *slog.Logger

	mu            sync.Mutex
	handlers      []EventHandler
	untrustedFrom int // 1-based line where corruption was found; 0 = trusted
}

// NewLog opens (or creates) a ledger at dir/events.log. If lease is nil a
// process-local mutex lease is used.
func NewLog(dir string, lease Lease) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	if lease == nil {
		lease = NewMutexLease()
	}
	return &Log{
		path:     filepath.Join(dir, "events.log"),
		headPath: filepath.Join(dir, "head.json"),
		lease:    lease,
		clock:    time.Now,
		logger:   slog.Default().With("component", "audit"),
	}, nil
}

// WithClock overrides the clock for deterministic testing.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// WithSigner enables per-record HMAC signatures.
func (l *Log) WithSigner(s Signer) *Log {
	l.signer = s
	return l
}

// AddHandler registers a handler invoked after each durable append.
func (l *Log) AddHandler(h EventHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// Append writes one immutable record. Under the lease it reads the current
// head, computes the payload and chain hashes (and signature when configured),
// appends the record, and atomically updates the head.
func (l *Log) Append(ctx context.Context, e Event) (*Event, error) {
	if err := l.lease.Acquire(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if rerr := l.lease.Release(); rerr != nil {
			l.logger.Warn("lease release failed", "error", rerr)
		}
	}()

	h, err := l.readHead()
	if err != nil {
		return nil, err
	}

	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.clock()
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	payloadHash, err := e.PayloadHash()
	if err != nil {
		return nil, fmt.Errorf("hash payload: %w", err)
	}
	e.Chain = ChainBlock{
		PrevHash:    h.PrevHash,
		PayloadHash: payloadHash,
		ChainHash:   ChainHash(h.PrevHash, payloadHash),
	}
	if l.signer != nil {
		e.Chain.Signature = l.signer.Sign(e.Chain.ChainHash)
	}

	line, err := json.Marshal(&e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("append event: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close ledger: %w", err)
	}

	if err := l.writeHead(head{
		PrevHash:    e.Chain.ChainHash,
		LastEventID: e.EventID,
		Count:       h.Count + 1,
	}); err != nil {
		return nil, err
	}

	l.mu.Lock()
	handlers := l.handlers
	l.mu.Unlock()
	for _, fn := range handlers {
		fn(&e)
	}

	return &e, nil
}

// VerifyResult reports the outcome of a full-chain replay.
type VerifyResult struct {
	Valid           bool  `json:"valid"`
	TotalEvents     int   `json:"total_events"`
	VerifiedEvents  int   `json:"verified_events"`
	FirstBrokenLine int   `json:"first_broken_line,omitempty"` // 1-based
	SignatureValid  *bool `json:"signature_valid,omitempty"`
}

// Verify replays the ledger from genesis, recomputing every hash (and
// signature, when a signer is configured). A single altered byte invalidates
// verification from that line forward, never earlier. Corruption does not
// block further appends; the log is flagged untrusted from the broken line
// until the operator acknowledges it.
func (l *Log) Verify() (*VerifyResult, error) {
	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{Valid: true, TotalEvents: len(events)}
	sigOK := true
	prev := Genesis

	for i, e := range events {
		line := i + 1
		payloadHash, herr := e.PayloadHash()
		broken := herr != nil ||
			e.Chain.PrevHash != prev ||
			e.Chain.PayloadHash != payloadHash ||
			e.Chain.ChainHash != ChainHash(prev, payloadHash)
		if broken {
			res.Valid = false
			res.FirstBrokenLine = line
			l.flagUntrusted(line)
			break
		}
		if l.signer != nil && !l.signer.Verify(e.Chain.ChainHash, e.Chain.Signature) {
			sigOK = false
			res.Valid = false
			res.FirstBrokenLine = line
			l.flagUntrusted(line)
			break
		}
		res.VerifiedEvents++
		prev = e.Chain.ChainHash
	}

	if l.signer != nil {
		res.SignatureValid = &sigOK
	}
	return res, nil
}

func (l *Log) flagUntrusted(line int) {
	l.mu.Lock()
	first := l.untrustedFrom == 0 || line < l.untrustedFrom
	if first {
		l.untrustedFrom = line
	}
	l.mu.Unlock()
	if first {
		l.logger.Error("ledger untrusted from broken line", "line", line)
	}
}

// UntrustedFrom returns the 1-based line from which the ledger is flagged
// untrusted, or 0 if no corruption has been observed.
func (l *Log) UntrustedFrom() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.untrustedFrom
}

// Acknowledge clears the untrusted flag after operator review.
func (l *Log) Acknowledge() {
	l.mu.Lock()
	l.untrustedFrom = 0
	l.mu.Unlock()
}

// Filter selects events for Query. Zero fields match everything.
type Filter struct {
	Type     EventType
	Tool     string
	Domain   string
	Decision string
	Severity Severity
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

func (f Filter) matches(e *Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Tool != "" && e.Tool != f.Tool {
		return false
	}
	if f.Domain != "" && e.Domain != f.Domain {
		return false
	}
	if f.Decision != "" && e.Decision != f.Decision {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

// Query scans the ledger and returns matching events, newest first.
func (l *Log) Query(f Filter) ([]*Event, error) {
	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	results := make([]*Event, 0)
	for i := len(events) - 1; i >= 0; i-- {
		if f.matches(events[i]) {
			results = append(results, events[i])
			if f.Limit > 0 && len(results) >= f.Limit {
				break
			}
		}
	}
	return results, nil
}

// Length returns the number of appended events per the head pointer.
func (l *Log) Length() (int, error) {
	h, err := l.readHead()
	if err != nil {
		return 0, err
	}
	return h.Count, nil
}

func (l *Log) readAll() ([]*Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []*Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			// An unparsable line is corruption: surface it as a broken record
			// at this position rather than skipping it.
			events = append(events, &Event{Chain: ChainBlock{PrevHash: "unparsable"}})
			continue
		}
		events = append(events, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	return events, nil
}

func (l *Log) readHead() (head, error) {
	data, err := os.ReadFile(l.headPath)
	if err != nil {
		if os.IsNotExist(err) {
			return head{PrevHash: Genesis}, nil
		}
		return head{}, fmt.Errorf("read head: %w", err)
	}
	var h head
	if err := json.Unmarshal(data, &h); err != nil {
		return head{}, fmt.Errorf("parse head: %w", err)
	}
	if h.PrevHash == "" {
		h.PrevHash = Genesis
	}
	return h, nil
}

func (l *Log) writeHead(h head) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	tmp := l.headPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write head: %w", err)
	}
	if err := os.Rename(tmp, l.headPath); err != nil {
		return fmt.Errorf("commit head: %w", err)
	}
	return nil
}
