package auditchain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	entry_id TEXT PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
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

// PostgresIndex backs the decision index with Postgres for deployments
// where multiple gateway instances share one queryable view. The chain
// file is still the authoritative record per instance.
type PostgresIndex struct {
	pool   *pgxpool.Pool
	writes chan IndexEntry
	done   chan struct{}
	logger *slog.Logger
}

// NewPostgresIndex connects to Postgres and ensures the schema exists.
func NewPostgresIndex(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresIndex, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	p := &PostgresIndex{
		pool:   pool,
		writes: make(chan IndexEntry, 256),
		done:   make(chan struct{}),
		logger: logger,
	}

	go p.writeLoop()
	return p, nil
}

// Record enqueues an index row for async writing.
func (p *PostgresIndex) Record(e IndexEntry) {
	select {
	case p.writes <- e:
	default:
		p.logger.Warn("index write buffer full, dropping row", "entry_id", e.EntryID)
	}
}

func (p *PostgresIndex) writeLoop() {
	defer close(p.done)
	for e := range p.writes {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := p.pool.Exec(ctx,
			`INSERT INTO decisions
			 (entry_id, timestamp, request_id, caller_id, source_address, action, resource, outcome, critical_failures, gate_results)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (entry_id) DO NOTHING`,
			e.EntryID, e.Timestamp.UTC(), e.RequestID,
			e.CallerID, e.SourceAddress, e.Action, e.Resource,
			e.Outcome, e.CriticalFailures, e.GateResults,
		)
		cancel()
		if err != nil {
			p.logger.Error("writing index row", "entry_id", e.EntryID, "error", err)
		}
	}
}

// Query returns index rows matching the given filters, newest first.
func (p *PostgresIndex) Query(opts QueryOpts) ([]IndexEntry, error) {
	query := "SELECT entry_id, timestamp, request_id, caller_id, source_address, action, resource, outcome, critical_failures, gate_results FROM decisions WHERE 1=1"
	var args []any

	next := func() string { return fmt.Sprintf("$%d", len(args)) }
	if opts.Outcome != "" {
		args = append(args, opts.Outcome)
		query += " AND outcome = " + next()
	}
	if opts.Caller != "" {
		args = append(args, opts.Caller)
		query += " AND caller_id = " + next()
	}
	if opts.Action != "" {
		args = append(args, opts.Action)
		query += " AND action = " + next()
	}
	if opts.Since != "" {
		since, err := time.Parse(time.RFC3339, opts.Since)
		if err != nil {
			return nil, fmt.Errorf("invalid since timestamp %q: %w", opts.Since, err)
		}
		args = append(args, since)
		query += " AND timestamp >= " + next()
	}

	query += " ORDER BY timestamp DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	} else {
		query += " LIMIT 50"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying decision index: %w", err)
	}
	defer rows.Close()

	var entries []IndexEntry
	for rows.Next() {
		var e IndexEntry
		if err := rows.Scan(&e.EntryID, &e.Timestamp, &e.RequestID, &e.CallerID, &e.SourceAddress, &e.Action, &e.Resource, &e.Outcome, &e.CriticalFailures, &e.GateResults); err != nil {
			return nil, fmt.Errorf("scanning index row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close drains pending writes and releases the pool.
func (p *PostgresIndex) Close() error {
	close(p.writes)
	<-p.done
	p.pool.Close()
	return nil
}
