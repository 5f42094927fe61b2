package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrSessionNotFound сессии нет или истёк её TTL
var ErrSessionNotFound = errors.New("payment session not found")

// SessionStatus состояние платёжной сессии
type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionCaptured SessionStatus = "captured"
	SessionDeclined SessionStatus = "declined"
	SessionRefunded SessionStatus = "refunded"
)

// Session платёжная сессия, ключ - payment_intent_id
type Session struct {
	ID              string
	PaymentIntentID string
	CartID          string
	CustomerID      int64
	Amount          decimal.Decimal
	Currency        string
	Status          SessionStatus
	ReceiptURL      string
	ErrorReason     string
	ErrorMessage    string
	CreatedAt       time.Time
	CapturedAt      time.Time
}

// SessionStore хранилище сессий
type SessionStore interface {
	Save(ctx context.Context, s Session, ttl time.Duration) error
	Get(ctx context.Context, paymentIntentID string) (Session, error)
}
