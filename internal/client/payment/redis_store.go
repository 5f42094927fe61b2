package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	fieldSessionID    = "session_id"
	fieldCartID       = "cart_id"
	fieldCustomerID   = "customer_id"
	fieldAmount       = "amount"
	fieldCurrency     = "currency"
	fieldStatus       = "status"
	fieldReceiptURL   = "receipt_url"
	fieldErrorReason  = "error_reason"
	fieldErrorMessage = "error_message"
	fieldCreatedAt    = "created_at"
	fieldCapturedAt   = "captured_at"
)

// RedisSessionStore хранит сессию в Redis hash с TTL
type RedisSessionStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisSessionStore(client *redis.Client, logger *zap.Logger) *RedisSessionStore {
	return &RedisSessionStore{client: client, logger: logger}
}

func sessionKey(paymentIntentID string) string {
	return fmt.Sprintf("payment_session:%s", paymentIntentID)
}

// Save записывает все поля сессии и выставляет TTL одной транзакцией
func (r *RedisSessionStore) Save(ctx context.Context, s Session, ttl time.Duration) error {
	key := sessionKey(s.PaymentIntentID)

	var capturedAt string
	if !s.CapturedAt.IsZero() {
		capturedAt = s.CapturedAt.UTC().Format(time.RFC3339Nano)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key,
		fieldSessionID, s.ID,
		fieldCartID, s.CartID,
		fieldCustomerID, strconv.FormatInt(s.CustomerID, 10),
		fieldAmount, s.Amount.String(),
		fieldCurrency, s.Currency,
		fieldStatus, string(s.Status),
		fieldReceiptURL, s.ReceiptURL,
		fieldErrorReason, s.ErrorReason,
		fieldErrorMessage, s.ErrorMessage,
		fieldCreatedAt, s.CreatedAt.UTC().Format(time.RFC3339Nano),
		fieldCapturedAt, capturedAt,
	)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("failed to save payment session in redis",
			zap.Error(err),
			zap.String("payment_intent_id", s.PaymentIntentID),
		)
		return fmt.Errorf("save payment session: %w", err)
	}
	return nil
}

// Get читает сессию. Отсутствующий ключ - ErrSessionNotFound.
func (r *RedisSessionStore) Get(ctx context.Context, paymentIntentID string) (Session, error) {
	fields, err := r.client.HGetAll(ctx, sessionKey(paymentIntentID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("get payment session: %w", err)
	}
	// HGETALL на несуществующем ключе возвращает пустой hash
	if len(fields) == 0 || fields[fieldSessionID] == "" {
		return Session{}, ErrSessionNotFound
	}
	return decodeSession(paymentIntentID, fields)
}

func decodeSession(paymentIntentID string, fields map[string]string) (Session, error) {
	s := Session{
		ID:              fields[fieldSessionID],
		PaymentIntentID: paymentIntentID,
		CartID:          fields[fieldCartID],
		Currency:        fields[fieldCurrency],
		Status:          SessionStatus(fields[fieldStatus]),
		ReceiptURL:      fields[fieldReceiptURL],
		ErrorReason:     fields[fieldErrorReason],
		ErrorMessage:    fields[fieldErrorMessage],
	}

	var err error
	if v := fields[fieldCustomerID]; v != "" {
		if s.CustomerID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return Session{}, fmt.Errorf("decode customer_id: %w", err)
		}
	}
	if v := fields[fieldAmount]; v != "" {
		if s.Amount, err = decimal.NewFromString(v); err != nil {
			return Session{}, fmt.Errorf("decode amount: %w", err)
		}
	}
	if v := fields[fieldCreatedAt]; v != "" {
		if s.CreatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return Session{}, fmt.Errorf("decode created_at: %w", err)
		}
	}
	if v := fields[fieldCapturedAt]; v != "" {
		if s.CapturedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return Session{}, fmt.Errorf("decode captured_at: %w", err)
		}
	}
	return s, nil
}
