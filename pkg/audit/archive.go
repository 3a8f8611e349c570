package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Archive is a SQLite read-model of the ledger for structured querying.
// It mirrors events as they are appended; the JSONL chain stays the source
// of truth and the archive is rebuildable from it at any time.
type Archive struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewArchive prepares the archive schema on db.
func NewArchive(db *sql.DB) (*Archive, error) {
	a := &Archive{
		db:     db,
		logger: slog.Default().With("component", "audit.archive"),
	}
	if err := a.migrate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Archive) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS audit_events (
        event_id   TEXT PRIMARY KEY,
        event_type TEXT NOT NULL,
        severity   TEXT NOT NULL,
        tool       TEXT,
        domain     TEXT,
        risk       TEXT,
        decision   TEXT,
        reason     TEXT,
        args_hash  TEXT,
        timestamp  DATETIME NOT NULL,
        chain_hash TEXT NOT NULL,
        prev_hash  TEXT NOT NULL,
        payload    JSON
    );
    CREATE INDEX IF NOT EXISTS idx_audit_events_tool ON audit_events(tool);
    CREATE INDEX IF NOT EXISTS idx_audit_events_decision ON audit_events(decision);`
	_, err := a.db.ExecContext(context.Background(), query)
	return err
}

// Mirror is an EventHandler that copies appended events into the archive.
// A mirror failure is logged, never propagated: the ledger append already
// succeeded and the archive can be rebuilt.
func (a *Archive) Mirror(e *Event) {
	if err := a.Store(context.Background(), e); err != nil {
		a.logger.Warn("archive mirror failed", "event_id", e.EventID, "error", err)
	}
}

// Store inserts one event.
func (a *Archive) Store(ctx context.Context, e *Event) error {
	payload, _ := json.Marshal(e)
	query := `INSERT INTO audit_events (
        event_id, event_type, severity, tool, domain, risk, decision, reason,
        args_hash, timestamp, chain_hash, prev_hash, payload
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := a.db.ExecContext(ctx, query,
		e.EventID, string(e.Type), string(e.Severity), e.Tool, e.Domain, e.Risk,
		e.Decision, e.Reason, e.ArgsHash,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Chain.ChainHash, e.Chain.PrevHash, string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Recent returns the most recent events for a tool, newest first.
func (a *Archive) Recent(ctx context.Context, tool string, limit int) ([]*Event, error) {
	query := `SELECT payload FROM audit_events WHERE (? = '' OR tool = ?) ORDER BY timestamp DESC, rowid DESC LIMIT ?`
	rows, err := a.db.QueryContext(ctx, query, tool, tool, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var e Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("decode archived event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// CountByDecision returns how many archived events carry each decision.
func (a *Archive) CountByDecision(ctx context.Context) (map[string]int, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT decision, COUNT(*) FROM audit_events GROUP BY decision`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var decision sql.NullString
		var n int
		if err := rows.Scan(&decision, &n); err != nil {
			return nil, err
		}
		counts[decision.String] = n
	}
	return counts, rows.Err()
}
