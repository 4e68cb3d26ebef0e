package auditchain

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetgate/vetgate/internal/model"
)

func newTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := NewSQLiteIndex(filepath.Join(t.TempDir(), "decisions.db"), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func indexRow(entryID, caller, outcome string, critical int, ts time.Time) IndexEntry {
	return IndexEntry{
		EntryID:          entryID,
		Timestamp:        ts,
		RequestID:        "req-" + entryID,
		CallerID:         caller,
		SourceAddress:    "10.0.0.1",
		Action:           "db.query",
		Resource:         "orders",
		Outcome:          outcome,
		CriticalFailures: critical,
	}
}

// drain waits for the async writer to pick up queued rows.
func drain(t *testing.T, idx *SQLiteIndex, want int) []IndexEntry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rows, err := idx.Query(QueryOpts{Limit: 100})
		require.NoError(t, err)
		if len(rows) >= want {
			return rows
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("index never reached %d rows", want)
	return nil
}

func TestIndexRecordAndQuery(t *testing.T) {
	idx := newTestIndex(t)
	now := time.Now().UTC()

	idx.Record(indexRow("a", "svc-a", string(model.OutcomeAllowed), 0, now.Add(-2*time.Minute)))
	idx.Record(indexRow("b", "svc-b", string(model.OutcomeQuarantined), 1, now.Add(-time.Minute)))
	idx.Record(indexRow("c", "svc-a", string(model.OutcomeDenied), 3, now))

	rows := drain(t, idx, 3)
	assert.Equal(t, "c", rows[0].EntryID) // newest first

	quarantined, err := idx.Query(QueryOpts{Outcome: string(model.OutcomeQuarantined)})
	require.NoError(t, err)
	require.Len(t, quarantined, 1)
	assert.Equal(t, "b", quarantined[0].EntryID)
	assert.Equal(t, 1, quarantined[0].CriticalFailures)

	byCaller, err := idx.Query(QueryOpts{Caller: "svc-a"})
	require.NoError(t, err)
	assert.Len(t, byCaller, 2)

	recent, err := idx.Query(QueryOpts{Since: now.Add(-90 * time.Second).Format(time.RFC3339)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestIndexDuplicateEntryIgnored(t *testing.T) {
	idx := newTestIndex(t)
	now := time.Now().UTC()

	idx.Record(indexRow("a", "svc-a", string(model.OutcomeAllowed), 0, now))
	drain(t, idx, 1)
	idx.Record(indexRow("a", "svc-a", string(model.OutcomeDenied), 3, now))

	time.Sleep(50 * time.Millisecond)
	rows, err := idx.Query(QueryOpts{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, string(model.OutcomeAllowed), rows[0].Outcome)
}

func TestProjectFlattensEntry(t *testing.T) {
	sc := &model.SecurityContext{
		RequestID:     "req-42",
		CallerID:      "svc-reporting",
		SourceAddress: "10.4.2.1",
		Action:        "db.query",
		Resource:      "orders",
	}
	results := []model.GateResult{
		{GateID: "content", Passed: false, Severity: model.SeverityCritical},
		{GateID: "ssrf", Passed: true, Severity: model.SeverityInfo},
		{GateID: "auth", Passed: false, Severity: model.SeverityWarning},
	}

	e := &Entry{
		EntryID:     "e-1",
		Timestamp:   time.Now().UTC(),
		Context:     model.CanonicalContext(sc),
		GateResults: results,
		Outcome:     model.OutcomeQuarantined,
	}

	row := Project(e)
	assert.Equal(t, "req-42", row.RequestID)
	assert.Equal(t, "svc-reporting", row.CallerID)
	assert.Equal(t, string(model.OutcomeQuarantined), row.Outcome)
	assert.Equal(t, 1, row.CriticalFailures) // warning failures do not count

	var decoded []model.GateResult
	require.NoError(t, json.Unmarshal([]byte(row.GateResults), &decoded))
	assert.Len(t, decoded, 3)
}
