// Package tracker records which Solana source transactions have already been
// claimed for payout so that no source transaction is ever paid twice.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/brojonat/solbridge/service/metrics"
)

// Claim is a consumed source transaction identifier.
type Claim struct {
	SourceTxID string    `json:"source_tx_id"`
	ClaimedAt  time.Time `json:"claimed_at"`
}

// Ledger is an optional durable backing store for claims.
// Claim must be an atomic insert-if-absent: it reports true only for the
// caller that created the record.
type Ledger interface {
	Claim(ctx context.Context, sourceTxID string) (bool, error)
	Contains(ctx context.Context, sourceTxID string) (bool, error)
	Count(ctx context.Context) (int, error)
	List(ctx context.Context, limit int) ([]Claim, error)
}

// Tracker is the process-wide set of claimed source transactions.
// Construct one per process and share it by reference.
type Tracker struct {
	mu      sync.Mutex
	claimed map[string]time.Time

	ledger  Ledger
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Tracker. ledger may be nil, in which case claims live only in
// memory for the lifetime of the process.
func New(ledger Ledger, m *metrics.Metrics, logger *slog.Logger) *Tracker {
	return &Tracker{
		claimed: make(map[string]time.Time),
		ledger:  ledger,
		metrics: m,
		logger:  logger,
	}
}

// Warm loads previously recorded claims from the ledger into memory.
func (t *Tracker) Warm(ctx context.Context) (int, error) {
	if t.ledger == nil {
		return 0, nil
	}

	claims, err := t.ledger.List(ctx, 0)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range claims {
		t.claimed[c.SourceTxID] = c.ClaimedAt
	}

	t.logger.InfoContext(ctx, "loaded claims from ledger", "count", len(claims))
	return len(claims), nil
}

// IsProcessed reports whether the source transaction has already been claimed.
// Ledger read errors are logged and treated as "not processed"; CheckAndMark
// is the authoritative gate.
func (t *Tracker) IsProcessed(ctx context.Context, sourceTxID string) bool {
	t.mu.Lock()
	_, ok := t.claimed[sourceTxID]
	t.mu.Unlock()
	if ok || t.ledger == nil {
		return ok
	}

	found, err := t.ledger.Contains(ctx, sourceTxID)
	if err != nil {
		t.logger.WarnContext(ctx, "ledger lookup failed",
			"source_tx_id", sourceTxID,
			"error", err,
		)
		return false
	}
	return found
}

// MarkProcessed records the source transaction as claimed. Marking an id that
// is already present is a no-op.
func (t *Tracker) MarkProcessed(ctx context.Context, sourceTxID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.claimed[sourceTxID]; ok {
		return nil
	}
	if t.ledger != nil {
		if _, err := t.ledger.Claim(ctx, sourceTxID); err != nil {
			return err
		}
	}
	t.claimed[sourceTxID] = time.Now().UTC()
	return nil
}

// ErrLedgerUnavailable is returned by CheckAndMark when the ledger could not
// record a claim. Nothing was claimed and the request may be retried.
var ErrLedgerUnavailable = errors.New("claim ledger unavailable")

// CheckAndMark atomically claims the source transaction. It returns true when
// the id was already claimed (a duplicate) and false when this call claimed it.
//
// If the ledger cannot record the claim, CheckAndMark returns an error wrapping
// ErrLedgerUnavailable and the id stays unclaimed.
func (t *Tracker) CheckAndMark(ctx context.Context, sourceTxID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.claimed[sourceTxID]; ok {
		t.recordClaim("duplicate")
		return true, nil
	}

	if t.ledger != nil {
		created, err := t.ledger.Claim(ctx, sourceTxID)
		if err != nil {
			t.logger.ErrorContext(ctx, "failed to record claim in ledger, refusing claim",
				"source_tx_id", sourceTxID,
				"error", err,
			)
			t.recordClaim("error")
			return false, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
		}
		if !created {
			// claimed by another process sharing the ledger
			t.claimed[sourceTxID] = time.Now().UTC()
			t.recordClaim("duplicate")
			return true, nil
		}
	}

	t.claimed[sourceTxID] = time.Now().UTC()
	t.recordClaim("claimed")
	return false, nil
}

// ProcessedCount returns the number of claimed source transactions. With a
// ledger configured the ledger count is used, so claims made by other
// processes are included.
func (t *Tracker) ProcessedCount(ctx context.Context) int {
	if t.ledger != nil {
		n, err := t.ledger.Count(ctx)
		if err == nil {
			return n
		}
		t.logger.WarnContext(ctx, "ledger count failed, using in-memory count", "error", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.claimed)
}

// Claims returns up to limit claims, newest first. A limit of 0 returns all.
// When a ledger is configured it is the source of truth.
func (t *Tracker) Claims(ctx context.Context, limit int) ([]Claim, error) {
	if t.ledger != nil {
		return t.ledger.List(ctx, limit)
	}

	t.mu.Lock()
	claims := make([]Claim, 0, len(t.claimed))
	for id, at := range t.claimed {
		claims = append(claims, Claim{SourceTxID: id, ClaimedAt: at})
	}
	t.mu.Unlock()

	sortNewestFirst(claims)
	if limit > 0 && len(claims) > limit {
		claims = claims[:limit]
	}
	return claims, nil
}

func (t *Tracker) recordClaim(result string) {
	if t.metrics != nil {
		t.metrics.RecordClaim(result)
	}
}

func sortNewestFirst(claims []Claim) {
	slices.SortFunc(claims, func(a, b Claim) int {
		return b.ClaimedAt.Compare(a.ClaimedAt)
	})
}
