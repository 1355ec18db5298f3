package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"branchstock/backend/internal/domain"
	"branchstock/backend/internal/partition"
	"branchstock/backend/internal/store"
	"branchstock/backend/internal/store/memory"
)

// conflictingStore fails the first n swaps with a version conflict.
type conflictingStore struct {
	store.BranchStore
	remaining atomic.Int64
}

func (s *conflictingStore) SwapInventory(ctx context.Context, row domain.InventoryRow, expected int64) (*domain.InventoryRow, error) {
	if s.remaining.Add(-1) >= 0 {
		return nil, store.ErrVersionConflict
	}
	return s.BranchStore.SwapInventory(ctx, row, expected)
}

func newLedger(t *testing.T, branch store.BranchStore, policy RetryPolicy) *Ledger {
	t.Helper()
	router, err := partition.New(partition.Config{
		Shared:   partition.SharedPartition{Store: memory.NewReference()},
		Branches: map[string]partition.BranchPartition{"CN1": {Store: branch}},
	})
	require.NoError(t, err)
	return New(router, policy, zerolog.Nop())
}

func TestAdjustCreatesAndUpdates(t *testing.T) {
	l := newLedger(t, memory.NewBranch(), RetryPolicy{})
	ctx := context.Background()

	qty, err := l.GetQuantity(ctx, "CN1", "K1", "VT01")
	require.NoError(t, err)
	assert.Zero(t, qty)

	row, err := l.Adjust(ctx, "CN1", "K1", "VT01", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), row.Quantity)
	assert.Equal(t, int64(1), row.Version)

	row, err = l.Adjust(ctx, "cn1", "K1", "VT01", -4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), row.Quantity)

	ok, err := l.CheckSufficient(ctx, "CN1", "K1", "VT01", 6)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.CheckSufficient(ctx, "CN1", "K1", "VT01", 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdjustRejectsOverdraw(t *testing.T) {
	l := newLedger(t, memory.NewBranch(), RetryPolicy{})
	ctx := context.Background()

	_, err := l.Adjust(ctx, "CN1", "K1", "VT01", 2)
	require.NoError(t, err)

	_, err = l.Adjust(ctx, "CN1", "K1", "VT01", -3)
	var insufficient *store.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(2), insufficient.Available)

	qty, err := l.GetQuantity(ctx, "CN1", "K1", "VT01")
	require.NoError(t, err)
	assert.Equal(t, int64(2), qty)
}

func TestAdjustUnknownBranch(t *testing.T) {
	l := newLedger(t, memory.NewBranch(), RetryPolicy{})
	_, err := l.Adjust(context.Background(), "CN9", "K1", "VT01", 1)
	assert.ErrorIs(t, err, store.ErrInvalidPartition)
}

func TestAdjustRetriesVersionConflicts(t *testing.T) {
	flaky := &conflictingStore{BranchStore: memory.NewBranch()}
	flaky.remaining.Store(2)

	var retries atomic.Int32
	l := newLedger(t, flaky, RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		OnRetry:     func(string) { retries.Add(1) },
	})

	row, err := l.Adjust(context.Background(), "CN1", "K1", "VT01", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), row.Quantity)
	assert.Equal(t, int32(2), retries.Load())
}

func TestAdjustGivesUpAfterMaxAttempts(t *testing.T) {
	flaky := &conflictingStore{BranchStore: memory.NewBranch()}
	flaky.remaining.Store(100)

	l := newLedger(t, flaky, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})
	_, err := l.Adjust(context.Background(), "CN1", "K1", "VT01", 5)

	var conflict *store.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 3, conflict.Attempts)
	assert.ErrorIs(t, err, store.ErrConcurrencyConflict)
}

func TestConcurrentAdjustKeepsEveryDelta(t *testing.T) {
	l := newLedger(t, memory.NewBranch(), RetryPolicy{MaxAttempts: 50, BaseDelay: time.Millisecond})
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Adjust(ctx, "CN1", "K1", "VT01", 1); err != nil {
				t.Errorf("adjust: %v", err)
			}
		}()
	}
	wg.Wait()

	qty, err := l.GetQuantity(ctx, "CN1", "K1", "VT01")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), qty)
}

func TestChangeBuilders(t *testing.T) {
	tests := []struct {
		name    string
		change  store.LedgerChange
		delta   int64
		guarded bool
	}{
		{"order create", ForInsert(domain.DetailOrder, "K1", "VT01", 4), -4, true},
		{"inbound create", ForInsert(domain.DetailInbound, "K1", "VT01", 4), 4, false},
		{"outbound delete", ForDelete(domain.DetailOutbound, "K1", "VT01", 4), 4, false},
		{"inbound delete", ForDelete(domain.DetailInbound, "K1", "VT01", 4), -4, false},
		{"order edit up", Change(domain.DetailOrder, "K1", "VT01", 2, 5), -3, true},
		{"order edit down", Change(domain.DetailOrder, "K1", "VT01", 5, 2), 3, false},
		{"inbound edit up", Change(domain.DetailInbound, "K1", "VT01", 2, 5), 3, false},
		{"inbound edit down", Change(domain.DetailInbound, "K1", "VT01", 5, 2), -3, false},
		{"no-op edit", Change(domain.DetailOutbound, "K1", "VT01", 5, 5), 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.change.Delta != tc.delta || tc.change.Guarded != tc.guarded {
				t.Fatalf("got delta=%d guarded=%v, want delta=%d guarded=%v",
					tc.change.Delta, tc.change.Guarded, tc.delta, tc.guarded)
			}
		})
	}
}
