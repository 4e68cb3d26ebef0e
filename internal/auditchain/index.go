package auditchain

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vetgate/vetgate/internal/model"
)

// IndexEntry is the queryable projection of a chain entry. The chain
// file stays authoritative; the index only exists for fast lookups.
type IndexEntry struct {
	EntryID          string    `json:"entry_id"`
	Timestamp        time.Time `json:"timestamp"`
	RequestID        string    `json:"request_id"`
	CallerID         string    `json:"caller_id"`
	SourceAddress    string    `json:"source_address"`
	Action           string    `json:"action"`
	Resource         string    `json:"resource"`
	Outcome          string    `json:"outcome"`
	CriticalFailures int       `json:"critical_failures"`
	GateResults      string    `json:"gate_results,omitempty"`
}

// QueryOpts filters an index query.
type QueryOpts struct {
	Outcome string
	Caller  string
	Action  string
	Since   string // RFC 3339
	Limit   int
}

// Index stores decision projections for querying. Implementations must
// tolerate bursty writes without blocking the gate pipeline.
type Index interface {
	Record(e IndexEntry)
	Query(opts QueryOpts) ([]IndexEntry, error)
	Close() error
}

// Project flattens a chain entry into its index row.
func Project(e *Entry) IndexEntry {
	var sc model.SecurityContext
	_ = json.Unmarshal(e.Context, &sc)

	critical := 0
	for _, r := range e.GateResults {
		if r.CriticalFailure() {
			critical++
		}
	}

	results, _ := json.Marshal(e.GateResults)
	return IndexEntry{
		EntryID:          e.EntryID,
		Timestamp:        e.Timestamp,
		RequestID:        sc.RequestID,
		CallerID:         sc.CallerID,
		SourceAddress:    sc.SourceAddress,
		Action:           sc.Action,
		Resource:         sc.Resource,
		Outcome:          string(e.Outcome),
		CriticalFailures: critical,
		GateResults:      string(results),
	}
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	entry_id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	request_id TEXT NOT NULL,
	caller_id TEXT,
	source_address TEXT,
	action TEXT,
	resource TEXT,
	outcome TEXT NOT NULL,
	critical_failures INTEGER NOT NULL,
	gate_results TEXT
);

CREATE INDEX IF NOT EXISTS idx_decisions_outcome ON decisions(outcome);
CREATE INDEX IF NOT EXISTS idx_decisions_caller ON decisions(caller_id);
CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(timestamp);
`

// SQLiteIndex is the default local index backend.
type SQLiteIndex struct {
	db     *sql.DB
	writes chan IndexEntry
	done   chan struct{}
	logger *slog.Logger
}

// NewSQLiteIndex opens (or creates) the SQLite decision index.
func NewSQLiteIndex(dbPath string, logger *slog.Logger) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening decision index: %w", err)
	}

	// WAL keeps concurrent reads cheap while the writer runs
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("setting WAL mode: %w (also: close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("creating schema: %w (also: close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &SQLiteIndex{
		db:     db,
		writes: make(chan IndexEntry, 256),
		done:   make(chan struct{}),
		logger: logger,
	}

	go s.writeLoop()
	return s, nil
}

// Record enqueues an index row for async writing.
func (s *SQLiteIndex) Record(e IndexEntry) {
	select {
	case s.writes <- e:
	default:
		s.logger.Warn("index write buffer full, dropping row", "entry_id", e.EntryID)
	}
}

func (s *SQLiteIndex) writeLoop() {
	defer close(s.done)
	for e := range s.writes {
		_, err := s.db.Exec(
			`INSERT OR IGNORE INTO decisions
			 (entry_id, timestamp, request_id, caller_id, source_address, action, resource, outcome, critical_failures, gate_results)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.EntryID, e.Timestamp.UTC().Format(time.RFC3339Nano), e.RequestID,
			e.CallerID, e.SourceAddress, e.Action, e.Resource,
			e.Outcome, e.CriticalFailures, e.GateResults,
		)
		if err != nil {
			s.logger.Error("writing index row", "entry_id", e.EntryID, "error", err)
		}
	}
}

// Query returns index rows matching the given filters, newest first.
func (s *SQLiteIndex) Query(opts QueryOpts) ([]IndexEntry, error) {
	query := "SELECT entry_id, timestamp, request_id, caller_id, source_address, action, resource, outcome, critical_failures, gate_results FROM decisions WHERE 1=1"
	var args []any

	if opts.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, opts.Outcome)
	}
	if opts.Caller != "" {
		query += " AND caller_id = ?"
		args = append(args, opts.Caller)
	}
	if opts.Action != "" {
		query += " AND action = ?"
		args = append(args, opts.Action)
	}
	if opts.Since != "" {
		query += " AND timestamp >= ?"
		args = append(args, opts.Since)
	}

	query += " ORDER BY timestamp DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	} else {
		query += " LIMIT 50"
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying decision index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []IndexEntry
	for rows.Next() {
		var e IndexEntry
		var ts string
		var caller, source, action, resource, results sql.NullString
		if err := rows.Scan(&e.EntryID, &ts, &e.RequestID, &caller, &source, &action, &resource, &e.Outcome, &e.CriticalFailures, &results); err != nil {
			return nil, fmt.Errorf("scanning index row: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.CallerID = caller.String
		e.SourceAddress = source.String
		e.Action = action.String
		e.Resource = resource.String
		e.GateResults = results.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close drains pending writes and closes the database.
func (s *SQLiteIndex) Close() error {
	close(s.writes)
	<-s.done
	return s.db.Close()
}
