package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
)

type demoProduct struct {
	sku      string
	name     string
	price    string
	quantity int
}

// demoCatalog небольшой каталог для локального запуска
var demoCatalog = []demoProduct{
	{sku: "RUN-001", name: "CloudRunner Pro", price: "129.99", quantity: 40},
	{sku: "RUN-002", name: "AeroFlex Runners", price: "149.99", quantity: 25},
	{sku: "RUN-003", name: "TrailBlaze Elite", price: "159.99", quantity: 12},
	{sku: "SNK-001", name: "Urban Flex Sneakers", price: "89.99", quantity: 60},
	{sku: "SNK-002", name: "Classic Canvas", price: "59.99", quantity: 3},
	{sku: "SHT-001", name: "Performance Tee", price: "34.99", quantity: 100},
	{sku: "SHT-002", name: "Casual Cotton Shirt", price: "29.99", quantity: 80},
	{sku: "JKT-001", name: "WindShield Jacket", price: "119.99", quantity: 1},
}

// seedDemoData заполняет каталог и склад. Уже существующие позиции не трогает.
func seedDemoData(ctx context.Context, logger *zap.Logger, st stores) error {
	created := 0
	for _, p := range demoCatalog {
		if err := st.catalog.SaveProduct(ctx, repository.Product{
			SKU:      p.sku,
			Name:     p.name,
			Price:    decimal.RequireFromString(p.price),
			IsActive: true,
		}); err != nil {
			return fmt.Errorf("save product %s: %w", p.sku, err)
		}

		err := st.items.CreateItem(ctx, repository.InventoryItem{
			SKU:               p.sku,
			Quantity:          p.quantity,
			LowStockThreshold: repository.DefaultLowStockThreshold,
		})
		if errors.Is(err, repository.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("create inventory item %s: %w", p.sku, err)
		}
		created++
	}
	logger.Info("Demo data seeded", zap.Int("products", len(demoCatalog)), zap.Int("new_items", created))
	return nil
}
