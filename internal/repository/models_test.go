package repository

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestInventoryItem_Available(t *testing.T) {
	tests := []struct {
		name     string
		item     InventoryItem
		want     int
		lowStock bool
	}{
		{name: "plenty", item: InventoryItem{Quantity: 20, ReservedQuantity: 5, LowStockThreshold: 10}, want: 15},
		{name: "all reserved", item: InventoryItem{Quantity: 4, ReservedQuantity: 4, LowStockThreshold: 10}, want: 0, lowStock: true},
		{name: "corrupt row clamps", item: InventoryItem{Quantity: 1, ReservedQuantity: 3}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.Available())
			assert.Equal(t, tt.lowStock, tt.item.IsLowStock())
		})
	}
}

func TestReservationStatus(t *testing.T) {
	assert.False(t, ReservationReserved.IsTerminal())
	assert.True(t, ReservationCommitted.IsTerminal())
	assert.True(t, ReservationReleased.IsTerminal())
	assert.True(t, ReservationExpired.IsTerminal())
	assert.False(t, ReservationStatus("PENDING").Valid())

	now := time.Now()
	r := StockReservation{Status: ReservationReserved, ExpiresAt: now}
	assert.True(t, r.ExpiredAt(now.Add(time.Second)))
	r.Status = ReservationCommitted
	assert.False(t, r.ExpiredAt(now.Add(time.Second)))
}

func TestCart_Total(t *testing.T) {
	cart := Cart{Items: []CartItem{
		{SKU: "A", Quantity: 2, UnitPrice: decimal.RequireFromString("19.99")},
		{SKU: "B", Quantity: 1, UnitPrice: decimal.RequireFromString("5.02")},
	}}
	assert.True(t, cart.Total().Equal(decimal.RequireFromString("45.00")))
}
