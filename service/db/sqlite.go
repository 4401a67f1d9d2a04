package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/brojonat/solbridge/service/metrics"
	"github.com/brojonat/solbridge/service/tracker"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bridge_claims (
	source_tx_id TEXT PRIMARY KEY,
	claimed_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS bridge_claims_claimed_at_idx ON bridge_claims (claimed_at);
`

var _ tracker.Ledger = (*SQLiteStore)(nil)

// SQLiteStore is an embedded single-node claim ledger.
type SQLiteStore struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
func OpenSQLite(path string, m *metrics.Metrics) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// single writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create claims schema: %w", err)
	}

	return &SQLiteStore{db: db, metrics: m}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Claim inserts the source transaction id, returning true if this call created it.
func (s *SQLiteStore) Claim(ctx context.Context, sourceTxID string) (bool, error) {
	start := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO bridge_claims (source_tx_id, claimed_at) VALUES (?, ?)`,
		sourceTxID, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		s.record("claim", start, err)
		return false, fmt.Errorf("failed to insert claim: %w", err)
	}
	n, err := res.RowsAffected()
	s.record("claim", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n == 1, nil
}

// Contains reports whether the source transaction id has been claimed.
func (s *SQLiteStore) Contains(ctx context.Context, sourceTxID string) (bool, error) {
	start := time.Now()
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM bridge_claims WHERE source_tx_id = ?)`,
		sourceTxID,
	).Scan(&exists)
	s.record("contains", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to look up claim: %w", err)
	}
	return exists == 1, nil
}

// Count returns the total number of claims.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	start := time.Now()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM bridge_claims`).Scan(&n)
	s.record("count", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count claims: %w", err)
	}
	return n, nil
}

// List returns claims newest first. A limit of 0 returns all claims.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]tracker.Claim, error) {
	start := time.Now()
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source_tx_id, claimed_at FROM bridge_claims ORDER BY claimed_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		s.record("list", start, err)
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var claims []tracker.Claim
	for rows.Next() {
		var (
			c  tracker.Claim
			ns int64
		)
		if err := rows.Scan(&c.SourceTxID, &ns); err != nil {
			s.record("list", start, err)
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		c.ClaimedAt = time.Unix(0, ns).UTC()
		claims = append(claims, c)
	}
	err = rows.Err()
	s.record("list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to iterate claims: %w", err)
	}
	return claims, nil
}

func (s *SQLiteStore) record(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordLedgerOp("sqlite", op, time.Since(start).Seconds(), err)
	}
}
