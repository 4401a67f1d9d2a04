package db

import (
	"context"
	"fmt"
	"time"

	"github.com/brojonat/solbridge/service/metrics"
	"github.com/brojonat/solbridge/service/tracker"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS bridge_claims (
	source_tx_id TEXT PRIMARY KEY,
	claimed_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS bridge_claims_claimed_at_idx ON bridge_claims (claimed_at DESC);
`

var _ tracker.Ledger = (*Store)(nil)

// Store is the Postgres-backed claim ledger. The primary key on source_tx_id
// makes Claim an atomic insert-if-absent across every process sharing the database.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// OpenPostgres connects to the database and verifies the connection.
func OpenPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the claims table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create claims schema: %w", err)
	}
	return nil
}

// Claim inserts the source transaction id, returning true if this call created it.
func (s *Store) Claim(ctx context.Context, sourceTxID string) (bool, error) {
	start := time.Now()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO bridge_claims (source_tx_id) VALUES ($1) ON CONFLICT (source_tx_id) DO NOTHING`,
		sourceTxID,
	)
	s.record("claim", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to insert claim: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Contains reports whether the source transaction id has been claimed.
func (s *Store) Contains(ctx context.Context, sourceTxID string) (bool, error) {
	start := time.Now()
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM bridge_claims WHERE source_tx_id = $1)`,
		sourceTxID,
	).Scan(&exists)
	s.record("contains", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to look up claim: %w", err)
	}
	return exists, nil
}

// Count returns the total number of claims.
func (s *Store) Count(ctx context.Context) (int, error) {
	start := time.Now()
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM bridge_claims`).Scan(&n)
	s.record("count", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count claims: %w", err)
	}
	return int(n), nil
}

// List returns claims newest first. A limit of 0 returns all claims.
func (s *Store) List(ctx context.Context, limit int) ([]tracker.Claim, error) {
	start := time.Now()

	var limitArg any
	if limit > 0 {
		limitArg = limit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT source_tx_id, claimed_at FROM bridge_claims ORDER BY claimed_at DESC LIMIT $1`,
		limitArg,
	)
	if err != nil {
		s.record("list", start, err)
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var claims []tracker.Claim
	for rows.Next() {
		var c tracker.Claim
		if err := rows.Scan(&c.SourceTxID, &c.ClaimedAt); err != nil {
			s.record("list", start, err)
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	err = rows.Err()
	s.record("list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to iterate claims: %w", err)
	}
	return claims, nil
}

func (s *Store) record(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordLedgerOp("postgres", op, time.Since(start).Seconds(), err)
	}
}
