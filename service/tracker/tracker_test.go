package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLedger is an in-memory Ledger with injectable failures.
type fakeLedger struct {
	mu       sync.Mutex
	claims   map[string]time.Time
	claimErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{claims: make(map[string]time.Time)}
}

func (f *fakeLedger) Claim(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if _, ok := f.claims[id]; ok {
		return false, nil
	}
	f.claims[id] = time.Now()
	return true, nil
}

func (f *fakeLedger) Contains(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.claims[id]
	return ok, nil
}

func (f *fakeLedger) Count(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.claims), nil
}

func (f *fakeLedger) List(ctx context.Context, limit int) ([]Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Claim, 0, len(f.claims))
	for id, at := range f.claims {
		out = append(out, Claim{SourceTxID: id, ClaimedAt: at})
	}
	return out, nil
}

func mustCheckAndMark(t *testing.T, tr *Tracker, id string) bool {
	t.Helper()
	dup, err := tr.CheckAndMark(context.Background(), id)
	require.NoError(t, err)
	return dup
}

func TestTracker_InMemory(t *testing.T) {
	ctx := context.Background()
	tr := New(nil, nil, testLogger())

	assert.False(t, tr.IsProcessed(ctx, "abc123"))
	assert.Equal(t, 0, tr.ProcessedCount(ctx))

	require.NoError(t, tr.MarkProcessed(ctx, "abc123"))
	assert.True(t, tr.IsProcessed(ctx, "abc123"))
	assert.Equal(t, 1, tr.ProcessedCount(ctx))

	// idempotent
	require.NoError(t, tr.MarkProcessed(ctx, "abc123"))
	assert.Equal(t, 1, tr.ProcessedCount(ctx))
}

func TestTracker_CheckAndMark(t *testing.T) {
	ctx := context.Background()
	tr := New(nil, nil, testLogger())

	assert.False(t, mustCheckAndMark(t, tr, "tx-1"), "first claim should succeed")
	assert.True(t, mustCheckAndMark(t, tr, "tx-1"), "second claim should be a duplicate")
	assert.False(t, mustCheckAndMark(t, tr, "tx-2"))
	assert.Equal(t, 2, tr.ProcessedCount(ctx))
}

func TestTracker_CheckAndMark_Concurrent(t *testing.T) {
	ctx := context.Background()
	tr := New(nil, nil, testLogger())

	const workers = 64
	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			dup, err := tr.CheckAndMark(ctx, "same-tx")
			if err == nil && !dup {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, 1, tr.ProcessedCount(ctx))
}

func TestTracker_WithLedger(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	tr := New(ledger, nil, testLogger())

	assert.False(t, mustCheckAndMark(t, tr, "tx-1"))
	found, err := ledger.Contains(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, found, "claim should be written through to the ledger")
}

func TestTracker_LedgerClaimedElsewhere(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	_, err := ledger.Claim(ctx, "tx-1")
	require.NoError(t, err)

	tr := New(ledger, nil, testLogger())

	assert.True(t, tr.IsProcessed(ctx, "tx-1"), "ledger lookup should find the claim")
	assert.True(t, mustCheckAndMark(t, tr, "tx-1"), "claim recorded by another process is a duplicate")
}

func TestTracker_LedgerErrorFailsClosed(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.claimErr = errors.New("connection refused")
	tr := New(ledger, nil, testLogger())

	dup, err := tr.CheckAndMark(ctx, "tx-1")
	require.ErrorIs(t, err, ErrLedgerUnavailable)
	assert.False(t, dup, "a failed write is not a duplicate")
	assert.False(t, tr.IsProcessed(ctx, "tx-1"))

	require.Error(t, tr.MarkProcessed(ctx, "tx-1"))

	// the id is still claimable once the ledger recovers
	ledger.mu.Lock()
	ledger.claimErr = nil
	ledger.mu.Unlock()
	assert.False(t, mustCheckAndMark(t, tr, "tx-1"))
	assert.Equal(t, 1, tr.ProcessedCount(ctx))
}

func TestTracker_Warm(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	for _, id := range []string{"a", "b", "c"} {
		_, err := ledger.Claim(ctx, id)
		require.NoError(t, err)
	}

	tr := New(ledger, nil, testLogger())
	n, err := tr.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, tr.ProcessedCount(ctx))
	assert.True(t, mustCheckAndMark(t, tr, "b"))
}

func TestTracker_Claims(t *testing.T) {
	ctx := context.Background()
	tr := New(nil, nil, testLogger())

	for _, id := range []string{"first", "second", "third"} {
		require.False(t, mustCheckAndMark(t, tr, id))
		time.Sleep(2 * time.Millisecond)
	}

	claims, err := tr.Claims(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, "third", claims[0].SourceTxID)
	assert.Equal(t, "second", claims[1].SourceTxID)

	all, err := tr.Claims(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestTracker_ProcessedCountReadsLedger(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	tr := New(ledger, nil, testLogger())

	assert.False(t, mustCheckAndMark(t, tr, "local"))

	// claims written by another process sharing the ledger
	for _, id := range []string{"remote-1", "remote-2"} {
		_, err := ledger.Claim(ctx, id)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, tr.ProcessedCount(ctx))
}
