//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	_ "github.com/jackc/pgx/v5/stdlib" //для goose миграций

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
	"github.com/rinta-toyoda/retailer-agent-project/migrations"
)

func setupRepository(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("storefront"),
		postgres.WithUsername("storefront"),
		postgres.WithPassword("storefront"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	var pingErr error
	for i := 0; i < 10; i++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, pingErr, "Failed to ping database after retries")
	require.NoError(t, migrations.Up(ctx, db))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewRepository(pool)
}

func reservation(id, sku, cart string, qty int, ttl time.Duration) repository.StockReservation {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return repository.StockReservation{
		ID: id, SKU: sku, Quantity: qty, CartID: cart,
		CreatedAt: now, ExpiresAt: now.Add(ttl),
	}
}

func TestRepository_Ledger_Integration(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t)

	require.NoError(t, repo.CreateItem(ctx, repository.InventoryItem{SKU: "SKU-A", Quantity: 10, LowStockThreshold: 3}))
	require.ErrorIs(t, repo.CreateItem(ctx, repository.InventoryItem{SKU: "SKU-A", Quantity: 1}), repository.ErrAlreadyExists)

	t.Run("reserve then commit", func(t *testing.T) {
		item, err := repo.Reserve(ctx, reservation("r-commit", "SKU-A", "cart-1", 4, time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 4, item.ReservedQuantity)

		out, err := repo.ResolveReservations(ctx, []string{"r-commit"}, repository.ReservationCommitted, time.Now())
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, 6, out[0].Item.Quantity)
		assert.Equal(t, 0, out[0].Item.ReservedQuantity)

		_, err = repo.ResolveReservations(ctx, []string{"r-commit"}, repository.ReservationReleased, time.Now())
		require.ErrorIs(t, err, repository.ErrAlreadyResolved)
	})

	t.Run("reserve then release", func(t *testing.T) {
		_, err := repo.Reserve(ctx, reservation("r-release", "SKU-A", "cart-2", 2, time.Hour))
		require.NoError(t, err)
		out, err := repo.ResolveReservations(ctx, []string{"r-release"}, repository.ReservationReleased, time.Now())
		require.NoError(t, err)
		assert.Equal(t, 6, out[0].Item.Quantity)
		assert.Equal(t, 6, out[0].Item.Available())
	})

	t.Run("insufficient stock", func(t *testing.T) {
		_, err := repo.Reserve(ctx, reservation("r-big", "SKU-A", "cart-3", 7, time.Hour))
		var stockErr *repository.InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, 6, stockErr.Available)
		_, err = repo.Find(ctx, "r-big")
		require.ErrorIs(t, err, repository.ErrReservationNotFound)
	})

	t.Run("adjust and set respect reserved", func(t *testing.T) {
		_, err := repo.Reserve(ctx, reservation("r-hold", "SKU-A", "cart-4", 5, time.Hour))
		require.NoError(t, err)

		_, err = repo.Adjust(ctx, "SKU-A", -2)
		require.ErrorIs(t, err, repository.ErrInvalidAdjustment)
		_, err = repo.SetQuantity(ctx, "SKU-A", 4)
		require.ErrorIs(t, err, repository.ErrInvalidAdjustment)
		_, err = repo.Adjust(ctx, "missing", 1)
		require.ErrorIs(t, err, repository.ErrNotFound)

		item, err := repo.Adjust(ctx, "SKU-A", 4)
		require.NoError(t, err)
		assert.Equal(t, 10, item.Quantity)
		assert.Equal(t, 5, item.ReservedQuantity)
	})

	t.Run("expired reservations are found and attach works", func(t *testing.T) {
		_, err := repo.Reserve(ctx, reservation("r-stale", "SKU-A", "cart-5", 1, -time.Minute))
		require.NoError(t, err)
		require.NoError(t, repo.AttachPaymentIntent(ctx, "cart-5", "pi_stale"))

		expired, err := repo.FindExpired(ctx, time.Now(), 10)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, "r-stale", expired[0].ID)
		assert.Equal(t, "pi_stale", expired[0].PaymentIntentID)

		active, err := repo.FindActiveByCart(ctx, "cart-5")
		require.NoError(t, err)
		require.Len(t, active, 1)
	})
}

func TestRepository_ConcurrentReserve_Integration(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t)

	const stock, workers = 5, 40
	require.NoError(t, repo.CreateItem(ctx, repository.InventoryItem{SKU: "SKU-HOT", Quantity: stock, LowStockThreshold: 1}))

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Reserve(ctx, reservation(fmt.Sprintf("r-%02d", i), "SKU-HOT", fmt.Sprintf("cart-%d", i), 1, time.Hour))
			if err == nil {
				ok.Add(1)
				return
			}
			if !errors.Is(err, repository.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, stock, ok.Load())
	item, err := repo.GetItem(ctx, "SKU-HOT")
	require.NoError(t, err)
	assert.Equal(t, stock, item.ReservedQuantity)
	assert.Equal(t, 0, item.Available())
}

func TestRepository_CartsOrdersOutbox_Integration(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t)

	require.NoError(t, repo.SaveProduct(ctx, repository.Product{SKU: "SKU-A", Name: "Mug", Price: decimal.RequireFromString("12.50"), IsActive: true}))
	p, err := repo.GetProduct(ctx, "SKU-A")
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("12.5")))

	require.NoError(t, repo.CreateCart(ctx, repository.Cart{ID: "cart-1", CustomerID: 7}))
	require.NoError(t, repo.SaveItem(ctx, "cart-1", repository.CartItem{SKU: "SKU-A", Name: "Mug", Quantity: 2, UnitPrice: p.Price}))
	require.ErrorIs(t, repo.SaveItem(ctx, "missing", repository.CartItem{SKU: "SKU-A", Quantity: 1}), repository.ErrCartNotFound)

	cart, err := repo.GetCart(ctx, "cart-1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.True(t, cart.Total().Equal(decimal.RequireFromString("25")))

	order := repository.Order{
		ID: "o-1", Number: "ORD-ABCDEF123456", CustomerID: 7, CartID: "cart-1", PaymentIntentID: "pi_1",
		PaymentStatus: repository.PaymentStatusPaid, Status: repository.OrderStatusProcessing,
		Subtotal: cart.Total(), Tax: decimal.Zero, Total: cart.Total(),
		Items:     []repository.OrderItem{{SKU: "SKU-A", Name: "Mug", Quantity: 2, Price: p.Price, Subtotal: cart.Total()}},
		CreatedAt: time.Now(), PaidAt: time.Now(),
	}
	event := repository.OutboxEvent{EventID: "e-1", AggregateID: "o-1", Topic: "storefront.checkout", EventType: "checkout.completed", Payload: []byte(`{"order_id":"o-1"}`)}
	require.NoError(t, repo.CreateOrder(ctx, order, event))

	got, err := repo.GetByPaymentIntent(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, "ORD-ABCDEF123456", got.Number)
	require.Len(t, got.Items, 1)

	require.NoError(t, repo.Clear(ctx, "cart-1"))
	require.NoError(t, repo.MarkCheckedOut(ctx, "cart-1", time.Now()))
	cart, err = repo.GetCart(ctx, "cart-1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Equal(t, repository.CartCheckedOut, cart.Status)

	pending, err := repo.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, repo.MarkOutboxEventSent(ctx, "e-1"))
	pending, err = repo.GetPendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
