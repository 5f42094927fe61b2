package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
)

// SessionRequest параметры платёжной сессии
type SessionRequest struct {
	CartID     string
	CustomerID int64
	Amount     decimal.Decimal
	Currency   string
}

// PaymentSession открытая сессия оплаты
type PaymentSession struct {
	SessionID       string
	PaymentIntentID string
	RedirectURL     string
	Amount          decimal.Decimal
	CartID          string
	ExpiresAt       time.Time
}

// CaptureStatus результат списания
type CaptureStatus string

const (
	CaptureSucceeded CaptureStatus = "success"
	CaptureFailed    CaptureStatus = "failed"
)

// CaptureResult ответ шлюза на списание
type CaptureResult struct {
	Status          CaptureStatus
	PaymentIntentID string
	ReceiptURL      string
	ErrorReason     string
	ErrorMessage    string
	CapturedAt      time.Time
}

// PaymentGateway внешний платёжный шлюз.
// Отказ по карте возвращается как CaptureResult со статусом failed, error означает сбой вызова.
type PaymentGateway interface {
	OpenSession(ctx context.Context, req SessionRequest) (PaymentSession, error)
	Capture(ctx context.Context, paymentIntentID string) (CaptureResult, error)
	Refund(ctx context.Context, paymentIntentID string) error
}

// Ledger операции над остатками, которые использует checkout и sweeper
type Ledger interface {
	Reserve(ctx context.Context, sku string, quantity int, cartID string) (repository.StockReservation, error)
	Commit(ctx context.Context, reservationIDs ...string) ([]repository.Resolution, error)
	Release(ctx context.Context, reservationIDs ...string) ([]repository.Resolution, error)
	Expire(ctx context.Context, reservationIDs ...string) ([]repository.Resolution, error)
	Adjust(ctx context.Context, sku string, delta int) (repository.InventoryItem, error)
}
