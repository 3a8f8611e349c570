package audit

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	a, err := NewArchive(db)
	require.NoError(t, err)
	return a
}

func TestArchiveMirrorsLedger(t *testing.T) {
	l := newTestLog(t)
	a := newTestArchive(t)
	l.AddHandler(a.Mirror)

	_, err := l.Append(context.Background(), Event{Type: EventDecision, Tool: "read_file", Decision: "ALLOW"})
	require.NoError(t, err)
	_, err = l.Append(context.Background(), Event{Type: EventDecision, Tool: "delete_artifact", Decision: "DENY"})
	require.NoError(t, err)

	events, err := a.Recent(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	ledgerEvents, err := l.Query(Filter{})
	require.NoError(t, err)
	assert.Equal(t, ledgerEvents[0].EventID, events[0].EventID)
	assert.Equal(t, ledgerEvents[0].Chain.ChainHash, events[0].Chain.ChainHash)

	byTool, err := a.Recent(context.Background(), "delete_artifact", 10)
	require.NoError(t, err)
	require.Len(t, byTool, 1)
	assert.Equal(t, "DENY", byTool[0].Decision)
}

func TestArchiveCountByDecision(t *testing.T) {
	l := newTestLog(t)
	a := newTestArchive(t)
	l.AddHandler(a.Mirror)

	for i := 0; i < 3; i++ {
		_, err := l.Append(context.Background(), Event{Type: EventDecision, Decision: "ALLOW"})
		require.NoError(t, err)
	}
	_, err := l.Append(context.Background(), Event{Type: EventDecision, Decision: "DENY"})
	require.NoError(t, err)

	counts, err := a.CountByDecision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts["ALLOW"])
	assert.Equal(t, 1, counts["DENY"])
}
