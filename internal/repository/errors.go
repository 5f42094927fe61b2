package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound позиция склада не найдена
	ErrNotFound = errors.New("inventory item not found")
	// ErrAlreadyExists позиция с таким sku уже есть
	ErrAlreadyExists = errors.New("inventory item already exists")
	// ErrReservationNotFound резерв не найден
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrCartNotFound корзина не найдена
	ErrCartNotFound = errors.New("cart not found")
	// ErrProductNotFound товар не найден в каталоге
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound заказ не найден
	ErrOrderNotFound = errors.New("order not found")

	// ErrInsufficientStock доступного остатка не хватает на резерв
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrAlreadyResolved резерв уже в терминальном статусе
	ErrAlreadyResolved = errors.New("reservation already resolved")
	// ErrInvalidAdjustment изменение остатка нарушило бы 0 <= reserved <= quantity
	ErrInvalidAdjustment = errors.New("stock adjustment would break reserved quantity")
	// ErrLedgerInvariant списание больше, чем зарезервировано. Не должно происходить.
	ErrLedgerInvariant = errors.New("ledger invariant violation")
	// ErrInvalidOutcome недопустимый целевой статус резерва
	ErrInvalidOutcome = errors.New("invalid reservation outcome")
)

// InsufficientStockError детали отказа в резерве
type InsufficientStockError struct {
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}
