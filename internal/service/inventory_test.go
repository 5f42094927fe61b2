package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
	"github.com/rinta-toyoda/retailer-agent-project/internal/repository/memory"
)

func newLedger(repo *memory.MemoryRepository) *InventoryService {
	return NewInventoryService(zap.NewNop(), repo, repo, InventoryOptions{
		Outbox:        repo,
		LowStockTopic: "storefront.inventory",
	})
}

func TestInventoryService_ReserveAllThenRejectNext(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemoryRepository()
	seedItem(t, repo, "X", 10)
	ledger := newLedger(repo)

	res, err := ledger.Reserve(ctx, "X", 10, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, repository.ReservationReserved, res.Status)

	available, err := ledger.Available(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, 0, available)

	_, err = ledger.Reserve(ctx, "X", 1, "cart-2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrInsufficientStock))

	var stockErr *repository.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "X", stockErr.SKU)
	assert.Equal(t, 1, stockErr.Requested)
	assert.Equal(t, 0, stockErr.Available)
}

func TestInventoryService_ReleaseRestoresAvailability(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemoryRepository()
	seedItem(t, repo, "X", 10)
	ledger := newLedger(repo)

	res, err := ledger.Reserve(ctx, "X", 6, "cart-1")
	require.NoError(t, err)

	out, err := ledger.Release(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, repository.ReservationReleased, out[0].Reservation.Status)

	item := getItem(t, repo, "X")
	assert.Equal(t, 10, item.Quantity)
	assert.Equal(t, 0, item.ReservedQuantity)
	assert.Equal(t, 10, item.Available())
}

func TestInventoryService_CommitDecrementsQuantity(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemoryRepository()
	seedItem(t, repo, "X", 10)
	ledger := newLedger(repo)

	res, err := ledger.Reserve(ctx, "X", 6, "cart-1")
	require.NoError(t, err)

	_, err = ledger.Commit(ctx, res.ID)
	require.NoError(t, err)

	item := getItem(t, repo, "X")
	assert.Equal(t, 4, item.Quantity)
	assert.Equal(t, 0, item.ReservedQuantity)
	assert.Equal(t, 4, item.Available())

	stored, err := ledger.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.ReservationCommitted, stored.Status)
	require.NotNil(t, stored.ResolvedAt)
}

func TestInventoryService_SecondResolveIsRejected(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemoryRepository()
	seedItem(t, repo, "X", 10)
	ledger := newLedger(repo)

	res, err := ledger.Reserve(ctx, "X", 6, "cart-1")
	require.NoError(t, err)
	_, err = ledger.Release(ctx, res.ID)
	require.NoError(t, err)

	// повторное освобождение не должно вернуть остаток ещё раз
	_, err = ledger.Release(ctx, res.ID)
	require.ErrorIs(t, err, ErrReservationAlreadyResolved)
	_, err = ledger.Commit(ctx, res.ID)
	require.ErrorIs(t, err, ErrReservationAlreadyResolved)
	_, err = ledger.Expire(ctx, res.ID)
	require.ErrorIs(t, err, ErrReservationAlreadyResolved)

	item := getItem(t, repo, "X")
	assert.Equal(t, 10, item.Quantity)
	assert.Equal(t, 0, item.ReservedQuantity)

	stored, err := ledger.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.ReservationReleased, stored.Status)
}

func TestInventoryService_BatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemoryRepository()
	seedItem(t, repo, "A", 5)
	seedItem(t, repo, "B", 5)
	ledger := newLedger(repo)

	a, err := ledger.Reserve(ctx, "A", 2, "cart-1")
	require.NoError(t, err)
	b, err := ledger.Reserve(ctx, "B", 3, "cart-1")
	require.NoError(t, err)
	_, err = ledger.Release(ctx, b.ID)
	require.NoError(t, err)

	_, err = ledger.Commit(ctx, a.ID, b.ID)
	require.ErrorIs(t, err, ErrReservationAlreadyResolved)

	itemA := getItem(t, repo, "A")
	assert.Equal(t, 5, itemA.Quantity)
	assert.Equal(t, 2, itemA.ReservedQuantity)
}

func TestInventoryService_ReserveValidation(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemoryRepository()
	seedItem(t, repo, "X", 10)
	ledger := newLedger(repo)

	tests := []struct {
		name    string
		sku     string
		qty     int
		wantErr error
	}{
		{name: "zero quantity", sku: "X", qty: 0, wantErr: ErrInvalidQuantity},
		{name: "negative quantity", sku: "X", qty: -3, wantErr: ErrInvalidQuantity},
		{name: "empty sku", sku: "", qty: 1, wantErr: ErrInvalidSKU},
		{name: "unknown sku", sku: "missing", qty: 1, wantErr: repository.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.Reserve(ctx, tt.sku, tt.qty, "cart-1")
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 0, getItem(t, repo, "X").ReservedQuantity)
}

func TestInventoryService_ConcurrentReservesNeverOversell(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemoryRepository()
	seedItem(t, repo, "X", 10)
	ledger := newLedger(repo)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Reserve(ctx, "X", 1, "cart")
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, repository.ErrInsufficientStock):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), succeeded.Load())
	assert.Equal(t, int32(90), rejected.Load())
	item := getItem(t, repo, "X")
	assert.Equal(t, 10, item.ReservedQuantity)
	assert.True(t, item.Consistent())
}

func TestInventoryService_ConcurrentMixedQuantitiesNeverOversell(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemoryRepository()
	const stock, workers = 37, 60
	seedItem(t, repo, "X", stock)
	ledger := newLedger(repo)

	var (
		mu          sync.Mutex
		wg          sync.WaitGroup
		reservedSum int
		minRejected = stock + 1
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			_, err := ledger.Reserve(ctx, "X", qty, "cart")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				reservedSum += qty
				return
			}
			var stockErr *repository.InsufficientStockError
			if !errors.As(err, &stockErr) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			assert.Equal(t, qty, stockErr.Requested)
			assert.Less(t, stockErr.Available, stockErr.Requested)
			minRejected = min(minRejected, qty)
		}(1 + i%4)
	}
	wg.Wait()

	item := getItem(t, repo, "X")
	assert.LessOrEqual(t, reservedSum, stock)
	assert.Equal(t, reservedSum, item.ReservedQuantity)
	assert.True(t, item.Consistent())
	// остаток меньше любого отклонённого запроса, иначе его бы обслужили
	assert.Less(t, item.Available(), minRejected)

	active, err := repo.FindActiveByCart(ctx, "cart")
	require.NoError(t, err)
	total := 0
	for _, r := range active {
		total += r.Quantity
	}
	assert.Equal(t, reservedSum, total)
}

func TestInventoryService_AdjustAndSetStock(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemoryRepository()
	seedItem(t, repo, "X", 10)
	ledger := newLedger(repo)

	_, err := ledger.Reserve(ctx, "X", 4, "cart-1")
	require.NoError(t, err)

	item, err := ledger.Adjust(ctx, "X", 5)
	require.NoError(t, err)
	assert.Equal(t, 15, item.Quantity)
	assert.Equal(t, 4, item.ReservedQuantity)

	// нельзя опустить quantity ниже зарезервированного
	_, err = ledger.Adjust(ctx, "X", -12)
	require.ErrorIs(t, err, repository.ErrInvalidAdjustment)
	_, err = ledger.SetStock(ctx, "X", 3)
	require.ErrorIs(t, err, repository.ErrInvalidAdjustment)
	_, err = ledger.SetStock(ctx, "X", -1)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	item, err = ledger.SetStock(ctx, "X", 4)
	require.NoError(t, err)
	assert.Equal(t, 0, item.Available())
}

func TestInventoryService_LowStockEventOnCommit(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemoryRepository()
	seedItem(t, repo, "X", 3)
	ledger := newLedger(repo)

	res, err := ledger.Reserve(ctx, "X", 2, "cart-1")
	require.NoError(t, err)
	assert.Empty(t, repo.OutboxEvents())

	_, err = ledger.Commit(ctx, res.ID)
	require.NoError(t, err)

	events := repo.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventInventoryLowStock, events[0].EventType)
	assert.Equal(t, "X", events[0].AggregateID)
	assert.Equal(t, "storefront.inventory", events[0].Topic)

	low, err := ledger.ListLowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "X", low[0].SKU)
}

func TestInventoryService_ReservationTTL(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemoryRepository()
	seedItem(t, repo, "X", 10)

	ledger := NewInventoryService(zap.NewNop(), repo, repo, InventoryOptions{ReservationTTL: 5 * time.Minute})
	fixed := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return fixed }

	res, err := ledger.Reserve(ctx, "X", 1, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(5*time.Minute), res.ExpiresAt)

	def := NewInventoryService(zap.NewNop(), repo, repo, InventoryOptions{})
	assert.Equal(t, DefaultReservationTTL, def.ttl)
}
