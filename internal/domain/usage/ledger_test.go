package usage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_Reserve_CapReached(t *testing.T) {
	store := NewMemoryStore()
	store.SeedCount("promo-1", 5)

	l := NewLedger(store, time.Minute)
	_, err := l.Reserve(context.Background(), "promo-1", "cust-1", Caps{Max: 5})
	require.ErrorIs(t, err, ErrUsageExceeded)
}

func TestLedger_Reserve_PerCustomerCap(t *testing.T) {
	store := NewMemoryStore()
	l := NewLedger(store, time.Minute)
	ctx := context.Background()

	r1, err := l.Reserve(ctx, "promo-1", "cust-1", Caps{MaxPerCustomer: 1})
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, r1))

	_, err = l.Reserve(ctx, "promo-1", "cust-1", Caps{MaxPerCustomer: 1})
	require.ErrorIs(t, err, ErrUsageExceeded)

	// A different customer is unaffected.
	_, err = l.Reserve(ctx, "promo-1", "cust-2", Caps{MaxPerCustomer: 1})
	require.NoError(t, err)
}

// Two concurrent reservations racing for the last slot of a capped entity:
// exactly one must win.
func TestLedger_Reserve_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	l := NewLedger(store, time.Minute)
	ctx := context.Background()

	const attempts = 32
	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Reserve(ctx, "coupon-last-one", "", Caps{Max: 1})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrUsageExceeded):
				losses.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(attempts-1), losses.Load())
}

func TestLedger_ReleaseReturnsSlot(t *testing.T) {
	store := NewMemoryStore()
	l := NewLedger(store, time.Minute)
	ctx := context.Background()

	r, err := l.Reserve(ctx, "promo-1", "cust-1", Caps{Max: 1})
	require.NoError(t, err)

	_, err = l.Reserve(ctx, "promo-1", "cust-2", Caps{Max: 1})
	require.ErrorIs(t, err, ErrUsageExceeded)

	require.NoError(t, l.Release(ctx, r))

	_, err = l.Reserve(ctx, "promo-1", "cust-2", Caps{Max: 1})
	require.NoError(t, err)
}

func TestLedger_CommitRecordsRedemption(t *testing.T) {
	store := NewMemoryStore()
	l := NewLedger(store, time.Minute)
	ctx := context.Background()

	prior, err := l.HasPriorRedemption(ctx, "coupon:WELCOME", "cust-1")
	require.NoError(t, err)
	assert.False(t, prior)

	r, err := l.Reserve(ctx, "coupon:WELCOME", "cust-1", Caps{})
	require.NoError(t, err)

	// Uncommitted reservations do not count as redemptions.
	prior, err = l.HasPriorRedemption(ctx, "coupon:WELCOME", "cust-1")
	require.NoError(t, err)
	assert.False(t, prior)

	require.NoError(t, l.Commit(ctx, r))

	prior, err = l.HasPriorRedemption(ctx, "coupon:WELCOME", "cust-1")
	require.NoError(t, err)
	assert.True(t, prior)
}

func TestLedger_ReapExpired(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	current := base
	store.now = func() time.Time { return current }

	l := NewLedger(store, time.Minute)
	ctx := context.Background()

	_, err := l.Reserve(ctx, "promo-1", "cust-1", Caps{Max: 1})
	require.NoError(t, err)

	_, err = l.Reserve(ctx, "promo-1", "cust-2", Caps{Max: 1})
	require.ErrorIs(t, err, ErrUsageExceeded)

	// Before the TTL nothing is reclaimed.
	reaped, err := l.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, reaped)

	current = base.Add(2 * time.Minute)
	reaped, err = l.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	// The abandoned slot is available again.
	_, err = l.Reserve(ctx, "promo-1", "cust-2", Caps{Max: 1})
	require.NoError(t, err)
}

type flakyStore struct {
	*MemoryStore
	failures atomic.Int32
}

func (f *flakyStore) ConditionalIncrement(ctx context.Context, entityID, customerID string, caps Caps, ttl time.Duration) (string, bool, error) {
	if f.failures.Add(-1) >= 0 {
		return "", false, errors.New("transient")
	}
	return f.MemoryStore.ConditionalIncrement(ctx, entityID, customerID, caps, ttl)
}

func TestLedger_Reserve_RetriesTransientErrors(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	store.failures.Store(2)

	l := NewLedger(store, time.Minute)
	_, err := l.Reserve(context.Background(), "promo-1", "", Caps{})
	require.NoError(t, err, "two transient failures fit within the retry budget")

	store.failures.Store(5)
	_, err = l.Reserve(context.Background(), "promo-2", "", Caps{})
	require.Error(t, err, "persistent failures must not be retried indefinitely")
}
