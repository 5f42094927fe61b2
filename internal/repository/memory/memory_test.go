package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
)

func newReservation(id, sku string, qty int) repository.StockReservation {
	now := time.Now()
	return repository.StockReservation{
		ID:        id,
		SKU:       sku,
		Quantity:  qty,
		CartID:    "cart-1",
		CreatedAt: now,
		ExpiresAt: now.Add(30 * time.Minute),
	}
}

func seedItem(t *testing.T, repo *MemoryRepository, sku string, qty int) {
	t.Helper()
	require.NoError(t, repo.CreateItem(context.Background(), repository.InventoryItem{
		SKU:               sku,
		Quantity:          qty,
		LowStockThreshold: repository.DefaultLowStockThreshold,
	}))
}

func TestReserveAndResolve(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		outcome      repository.ReservationStatus
		wantQuantity int
	}{
		{name: "commit decrements quantity", outcome: repository.ReservationCommitted, wantQuantity: 7},
		{name: "release keeps quantity", outcome: repository.ReservationReleased, wantQuantity: 10},
		{name: "expire keeps quantity", outcome: repository.ReservationExpired, wantQuantity: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMemoryRepository()
			seedItem(t, repo, "SKU-A", 10)

			item, err := repo.Reserve(ctx, newReservation("r1", "SKU-A", 3))
			require.NoError(t, err)
			assert.Equal(t, 3, item.ReservedQuantity)
			assert.Equal(t, 7, item.Available())

			out, err := repo.ResolveReservations(ctx, []string{"r1"}, tt.outcome, time.Now())
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, tt.outcome, out[0].Reservation.Status)
			assert.NotNil(t, out[0].Reservation.ResolvedAt)
			assert.Equal(t, 0, out[0].Item.ReservedQuantity)
			assert.Equal(t, tt.wantQuantity, out[0].Item.Quantity)

			// повторное разрешение ничего не меняет
			_, err = repo.ResolveReservations(ctx, []string{"r1"}, repository.ReservationReleased, time.Now())
			require.ErrorIs(t, err, repository.ErrAlreadyResolved)

			got, err := repo.GetItem(ctx, "SKU-A")
			require.NoError(t, err)
			assert.Equal(t, tt.wantQuantity, got.Quantity)
			assert.Equal(t, 0, got.ReservedQuantity)
		})
	}
}

func TestReserve_Insufficient(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedItem(t, repo, "SKU-A", 2)

	_, err := repo.Reserve(ctx, newReservation("r1", "SKU-A", 3))

	var stockErr *repository.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "SKU-A", stockErr.SKU)
	assert.Equal(t, 2, stockErr.Available)
	require.ErrorIs(t, err, repository.ErrInsufficientStock)

	_, err = repo.Find(ctx, "r1")
	require.ErrorIs(t, err, repository.ErrReservationNotFound)
}

func TestReserve_UnknownSKU(t *testing.T) {
	_, err := NewMemoryRepository().Reserve(context.Background(), newReservation("r1", "nope", 1))
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestResolveReservations_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedItem(t, repo, "SKU-A", 5)
	seedItem(t, repo, "SKU-B", 5)

	_, err := repo.Reserve(ctx, newReservation("r1", "SKU-A", 2))
	require.NoError(t, err)
	_, err = repo.Reserve(ctx, newReservation("r2", "SKU-B", 2))
	require.NoError(t, err)
	_, err = repo.ResolveReservations(ctx, []string{"r2"}, repository.ReservationExpired, time.Now())
	require.NoError(t, err)

	_, err = repo.ResolveReservations(ctx, []string{"r1", "r2"}, repository.ReservationCommitted, time.Now())
	require.ErrorIs(t, err, repository.ErrAlreadyResolved)

	r1, err := repo.Find(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, repository.ReservationReserved, r1.Status)

	a, err := repo.GetItem(ctx, "SKU-A")
	require.NoError(t, err)
	assert.Equal(t, 5, a.Quantity)
	assert.Equal(t, 2, a.ReservedQuantity)
}

func TestResolveReservations_RejectsNonTerminalOutcome(t *testing.T) {
	_, err := NewMemoryRepository().ResolveReservations(context.Background(), []string{"r1"}, repository.ReservationReserved, time.Now())
	require.ErrorIs(t, err, repository.ErrInvalidOutcome)
}

func TestAdjustAndSetQuantity(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedItem(t, repo, "SKU-A", 10)
	_, err := repo.Reserve(ctx, newReservation("r1", "SKU-A", 4))
	require.NoError(t, err)

	item, err := repo.Adjust(ctx, "SKU-A", 5)
	require.NoError(t, err)
	assert.Equal(t, 15, item.Quantity)
	assert.Equal(t, 4, item.ReservedQuantity)

	_, err = repo.Adjust(ctx, "SKU-A", -12)
	require.ErrorIs(t, err, repository.ErrInvalidAdjustment)

	_, err = repo.SetQuantity(ctx, "SKU-A", 3)
	require.ErrorIs(t, err, repository.ErrInvalidAdjustment)

	item, err = repo.SetQuantity(ctx, "SKU-A", 4)
	require.NoError(t, err)
	assert.Equal(t, 0, item.Available())
}

func TestReservationStore(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Now()

	expired := newReservation("r-old", "SKU-B", 1)
	expired.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, repo.Create(ctx, expired))
	require.NoError(t, repo.Create(ctx, newReservation("r-new", "SKU-A", 1)))

	active, err := repo.FindActiveByCart(ctx, "cart-1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "SKU-A", active[0].SKU)

	found, err := repo.FindExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "r-old", found[0].ID)

	require.NoError(t, repo.AttachPaymentIntent(ctx, "cart-1", "pi_1"))
	got, err := repo.Find(ctx, "r-new")
	require.NoError(t, err)
	assert.Equal(t, "pi_1", got.PaymentIntentID)

	res, err := repo.Resolve(ctx, "r-old", repository.ReservationExpired, now)
	require.NoError(t, err)
	assert.Equal(t, repository.ReservationExpired, res.Status)

	_, err = repo.Resolve(ctx, "r-old", repository.ReservationCommitted, now)
	require.ErrorIs(t, err, repository.ErrAlreadyResolved)
}

func TestReserve_ConcurrentNeverOversells(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	const stock, workers = 7, 50
	seedItem(t, repo, "SKU-HOT", stock)

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Reserve(ctx, newReservation(fmt.Sprintf("r-%d", i), "SKU-HOT", 1))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, repository.ErrInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, stock, ok.Load())
	assert.EqualValues(t, workers-stock, rejected.Load())

	item, err := repo.GetItem(ctx, "SKU-HOT")
	require.NoError(t, err)
	assert.Equal(t, stock, item.ReservedQuantity)
	assert.True(t, item.Consistent())
}

func TestReserve_ConcurrentMixedQuantities(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	const stock, workers = 23, 40
	seedItem(t, repo, "SKU-HOT", stock)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			qty := 1 + i%4
			_, err := repo.Reserve(ctx, newReservation(fmt.Sprintf("r-%d", i), "SKU-HOT", qty))
			if err == nil {
				granted.Add(int32(qty))
				return
			}
			var stockErr *repository.InsufficientStockError
			if assert.ErrorAs(t, err, &stockErr) {
				assert.Less(t, stockErr.Available, qty)
			}
		}(i)
	}
	wg.Wait()

	item, err := repo.GetItem(ctx, "SKU-HOT")
	require.NoError(t, err)
	assert.LessOrEqual(t, int(granted.Load()), stock)
	assert.Equal(t, int(granted.Load()), item.ReservedQuantity)
	assert.True(t, item.Consistent())
}

func TestOutbox(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.AddOutboxEvent(ctx, repository.OutboxEvent{EventID: "e1", Topic: "t"}))
	require.NoError(t, repo.AddOutboxEvent(ctx, repository.OutboxEvent{EventID: "e2", Topic: "t"}))

	pending, err := repo.GetPendingOutboxEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e1", pending[0].EventID)

	require.NoError(t, repo.MarkOutboxEventSent(ctx, "e1"))
	require.NoError(t, repo.MarkOutboxEventFailed(ctx, "e2", "broker down"))

	pending, err = repo.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, repo.ResetOutboxEventPending(ctx, "e2"))
	pending, err = repo.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
}

func TestResolveReservations_RejectsOverRelease(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedItem(t, repo, "SKU-1", 5)

	// запись без Reserve: reserved_quantity не увеличен
	orphan := newReservation("orphan", "SKU-1", 2)
	orphan.Status = repository.ReservationReserved
	require.NoError(t, repo.Create(ctx, orphan))

	_, err := repo.ResolveReservations(ctx, []string{"orphan"}, repository.ReservationReleased, time.Now())
	require.ErrorIs(t, err, repository.ErrLedgerInvariant)

	item, err := repo.GetItem(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 0, item.ReservedQuantity)
	assert.Equal(t, 5, item.Quantity)

	res, err := repo.Find(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, repository.ReservationReserved, res.Status)
}
