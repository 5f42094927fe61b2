package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
	"github.com/rinta-toyoda/retailer-agent-project/internal/repository/memory"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) OpenSession(ctx context.Context, req SessionRequest) (PaymentSession, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(PaymentSession), args.Error(1)
}

func (m *mockGateway) Capture(ctx context.Context, paymentIntentID string) (CaptureResult, error) {
	args := m.Called(ctx, paymentIntentID)
	return args.Get(0).(CaptureResult), args.Error(1)
}

func (m *mockGateway) Refund(ctx context.Context, paymentIntentID string) error {
	args := m.Called(ctx, paymentIntentID)
	return args.Error(0)
}

func seedItem(t *testing.T, repo *memory.MemoryRepository, sku string, quantity int) {
	t.Helper()
	require.NoError(t, repo.CreateItem(context.Background(), repository.InventoryItem{
		SKU:               sku,
		Quantity:          quantity,
		LowStockThreshold: 2,
	}))
	require.NoError(t, repo.SaveProduct(context.Background(), repository.Product{
		SKU:      sku,
		Name:     "Product " + sku,
		Price:    decimal.RequireFromString("19.99"),
		IsActive: true,
	}))
}

func seedCart(t *testing.T, repo *memory.MemoryRepository, cartID string, lines map[string]int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.CreateCart(ctx, repository.Cart{ID: cartID, CustomerID: 42}))
	for sku, qty := range lines {
		require.NoError(t, repo.SaveItem(ctx, cartID, repository.CartItem{
			SKU:       sku,
			Name:      "Product " + sku,
			Quantity:  qty,
			UnitPrice: decimal.RequireFromString("19.99"),
		}))
	}
}

func getItem(t *testing.T, repo *memory.MemoryRepository, sku string) repository.InventoryItem {
	t.Helper()
	item, err := repo.GetItem(context.Background(), sku)
	require.NoError(t, err)
	return item
}

func seedCartLine(t *testing.T, repo *memory.MemoryRepository, cartID, sku string, qty int) {
	t.Helper()
	require.NoError(t, repo.SaveItem(context.Background(), cartID, repository.CartItem{
		SKU:       sku,
		Name:      "Product " + sku,
		Quantity:  qty,
		UnitPrice: decimal.RequireFromString("19.99"),
	}))
}
