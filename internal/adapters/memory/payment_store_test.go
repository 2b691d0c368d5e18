package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fitstack/membership-payments/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPending(orderID string, createdAt time.Time) *domain.Payment {
	return &domain.Payment{
		UserID:        7,
		MembershipID:  3,
		AmountPaid:    100000,
		OrderID:       orderID,
		StatusCode:    domain.StatusPending,
		PaymentMethod: domain.PaymentMethodZaloPay,
		CreatedAt:     createdAt,
	}
}

func TestPaymentStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	store := NewPaymentStore()

	p := newPending("PAY1", time.Now())
	require.NoError(t, store.Create(ctx, p))
	assert.Equal(t, int64(1), p.ID)

	byOrder, err := store.FindByOrderID(ctx, "PAY1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byOrder.ID)

	byID, err := store.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "PAY1", byID.OrderID)

	_, err = store.FindByOrderID(ctx, "PAY")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.FindByID(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPaymentStore_OrderIDIsUnique(t *testing.T) {
	ctx := context.Background()
	store := NewPaymentStore()

	first := newPending("PAY1", time.Now())
	second := newPending("PAY2", time.Now())
	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, second))

	assert.ErrorIs(t, store.Create(ctx, newPending("PAY1", time.Now())), domain.ErrDuplicateOrderID)
	assert.ErrorIs(t, store.UpdateOrderID(ctx, second.ID, "PAY1"), domain.ErrDuplicateOrderID)

	require.NoError(t, store.UpdateOrderID(ctx, first.ID, "250101_PAY1"))
	require.NoError(t, store.UpdateOrderID(ctx, first.ID, "250101_PAY1"), "rewriting to the same id is a no-op")

	_, err := store.FindByOrderID(ctx, "PAY1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	healed, err := store.FindByOrderID(ctx, "250101_PAY1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, healed.ID)
}

func TestPaymentStore_FindByLocalOrderID(t *testing.T) {
	ctx := context.Background()
	store := NewPaymentStore()

	rewritten := newPending("PAY12", time.Now())
	require.NoError(t, store.Create(ctx, rewritten))
	require.NoError(t, store.UpdateOrderID(ctx, rewritten.ID, "250101_PAY12"))
	require.NoError(t, store.Create(ctx, newPending("PAY1", time.Now())))
	require.NoError(t, store.Create(ctx, newPending("X50101_PAY2", time.Now())))

	found, err := store.FindByLocalOrderID(ctx, "PAY12")
	require.NoError(t, err)
	assert.Equal(t, rewritten.ID, found.ID)

	for _, id := range []string{"PAY1", "AY12", "PAY2", ""} {
		_, err := store.FindByLocalOrderID(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound, id)
	}
}

func TestPaymentStore_UpdateStatusIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewPaymentStore()
	p := newPending("PAY1", time.Now())
	require.NoError(t, store.Create(ctx, p))

	paidAt := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	updated, changed, err := store.UpdateStatus(ctx, p.ID, domain.StatusSuccess, paidAt)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.StatusSuccess, updated.StatusCode)
	require.NotNil(t, updated.PaymentDate)
	assert.Equal(t, paidAt, *updated.PaymentDate)

	again, changed, err := store.UpdateStatus(ctx, p.ID, domain.StatusSuccess, paidAt.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, paidAt, *again.PaymentDate, "a repeated transition keeps the first payment date")

	_, _, err = store.UpdateStatus(ctx, p.ID, domain.StatusFailed, paidAt)
	assert.ErrorIs(t, err, domain.ErrStatusConflict)

	stored, err := store.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, stored.StatusCode)
	assert.Len(t, store.Events(), 1)
}

func TestPaymentStore_ConcurrentIdenticalUpdates(t *testing.T) {
	ctx := context.Background()
	store := NewPaymentStore()
	p := newPending("PAY1", time.Now())
	require.NoError(t, store.Create(ctx, p))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changes int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := store.UpdateStatus(ctx, p.ID, domain.StatusFailed, time.Now())
			assert.NoError(t, err)
			if changed {
				mu.Lock()
				changes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, changes)
	assert.Len(t, store.Events(), 1)
}

func TestPaymentStore_ListPending(t *testing.T) {
	ctx := context.Background()
	store := NewPaymentStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"PAY3", "PAY1", "PAY2", "PAY4"} {
		offsets := []time.Duration{3, 1, 2, 30}
		require.NoError(t, store.Create(ctx, newPending(id, base.Add(offsets[i]*time.Minute))))
	}

	settled, err := store.FindByOrderID(ctx, "PAY2")
	require.NoError(t, err)
	_, _, err = store.UpdateStatus(ctx, settled.ID, domain.StatusSuccess, base)
	require.NoError(t, err)

	pending, err := store.ListPending(ctx, base.Add(10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "PAY1", pending[0].OrderID)
	assert.Equal(t, "PAY3", pending[1].OrderID)

	limited, err := store.ListPending(ctx, base.Add(time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "PAY1", limited[0].OrderID)
}

func TestPaymentStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewPaymentStore()
	p := newPending("PAY1", time.Now())
	require.NoError(t, store.Create(ctx, p))

	got, err := store.FindByID(ctx, p.ID)
	require.NoError(t, err)
	got.StatusCode = domain.StatusFailed

	again, err := store.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, again.StatusCode)
}
