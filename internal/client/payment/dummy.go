package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rinta-toyoda/retailer-agent-project/internal/service"
)

// Причины отказа, которые возвращает шлюз
const (
	ReasonCardDeclined         = "card_declined"
	ReasonInvalidPaymentIntent = "invalid_payment_intent"
)

// ErrNotCaptured возврат по сессии, которая не была оплачена
var ErrNotCaptured = errors.New("payment was not captured")

// DummyConfig параметры фейкового шлюза
type DummyConfig struct {
	// DeclineRate доля отказов по карте, 0..1
	DeclineRate float64
	// Latency задержка каждого вызова (имитация сети)
	Latency    time.Duration
	SessionTTL time.Duration
	// CheckoutBaseURL префикс redirect_url
	CheckoutBaseURL string
	ReceiptBaseURL  string
}

// DummyGateway фейковый платёжный шлюз в стиле Stripe Checkout.
// Повторный Capture по тому же intent возвращает сохранённый результат.
type DummyGateway struct {
	logger *zap.Logger
	store  SessionStore
	cfg    DummyConfig
	roll   func() float64
	now    func() time.Time

	// сериализует чтение-изменение сессии
	mu sync.Mutex
}

var _ service.PaymentGateway = (*DummyGateway)(nil)

func NewDummyGateway(logger *zap.Logger, store SessionStore, cfg DummyConfig) *DummyGateway {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.CheckoutBaseURL == "" {
		cfg.CheckoutBaseURL = "/dummy/checkout"
	}
	if cfg.ReceiptBaseURL == "" {
		cfg.ReceiptBaseURL = "https://pay.example.com/receipts"
	}
	return &DummyGateway{
		logger: logger,
		store:  store,
		cfg:    cfg,
		roll:   rand.Float64,
		now:    time.Now,
	}
}

func (g *DummyGateway) OpenSession(ctx context.Context, req service.SessionRequest) (service.PaymentSession, error) {
	if err := g.wait(ctx); err != nil {
		return service.PaymentSession{}, err
	}

	now := g.now()
	s := Session{
		ID:              "cs_" + shortID(16),
		PaymentIntentID: "pi_" + shortID(32),
		CartID:          req.CartID,
		CustomerID:      req.CustomerID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Status:          SessionOpen,
		CreatedAt:       now,
	}
	if err := g.store.Save(ctx, s, g.cfg.SessionTTL); err != nil {
		return service.PaymentSession{}, err
	}

	g.logger.Debug("payment session opened",
		zap.String("session_id", s.ID),
		zap.String("payment_intent_id", s.PaymentIntentID),
		zap.String("cart_id", req.CartID),
		zap.String("amount", req.Amount.StringFixed(2)),
	)
	return service.PaymentSession{
		SessionID:       s.ID,
		PaymentIntentID: s.PaymentIntentID,
		RedirectURL:     strings.TrimRight(g.cfg.CheckoutBaseURL, "/") + "/" + req.CartID,
		Amount:          req.Amount,
		CartID:          req.CartID,
		ExpiresAt:       now.Add(g.cfg.SessionTTL),
	}, nil
}

func (g *DummyGateway) Capture(ctx context.Context, paymentIntentID string) (service.CaptureResult, error) {
	if err := g.wait(ctx); err != nil {
		return service.CaptureResult{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := g.store.Get(ctx, paymentIntentID)
	if errors.Is(err, ErrSessionNotFound) {
		return service.CaptureResult{
			Status:          service.CaptureFailed,
			PaymentIntentID: paymentIntentID,
			ErrorReason:     ReasonInvalidPaymentIntent,
			ErrorMessage:    "No such payment intent.",
		}, nil
	}
	if err != nil {
		return service.CaptureResult{}, err
	}

	switch s.Status {
	case SessionCaptured, SessionDeclined, SessionRefunded:
		return captureResult(s), nil
	}

	if g.roll() < g.cfg.DeclineRate {
		s.Status = SessionDeclined
		s.ErrorReason = ReasonCardDeclined
		s.ErrorMessage = "Your card was declined. Please try another payment method."
	} else {
		s.Status = SessionCaptured
		s.CapturedAt = g.now()
		s.ReceiptURL = fmt.Sprintf("%s/receipt_%s", strings.TrimRight(g.cfg.ReceiptBaseURL, "/"), shortID(12))
	}
	if err := g.store.Save(ctx, s, g.cfg.SessionTTL); err != nil {
		return service.CaptureResult{}, err
	}

	g.logger.Info("payment capture processed",
		zap.String("payment_intent_id", paymentIntentID),
		zap.String("status", string(s.Status)),
	)
	return captureResult(s), nil
}

// Refund возвращает деньги по оплаченной сессии. Повторный возврат ничего не делает.
func (g *DummyGateway) Refund(ctx context.Context, paymentIntentID string) error {
	if err := g.wait(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := g.store.Get(ctx, paymentIntentID)
	if err != nil {
		return fmt.Errorf("refund %s: %w", paymentIntentID, err)
	}
	switch s.Status {
	case SessionRefunded:
		return nil
	case SessionCaptured:
	default:
		return fmt.Errorf("refund %s: %w", paymentIntentID, ErrNotCaptured)
	}

	s.Status = SessionRefunded
	if err := g.store.Save(ctx, s, g.cfg.SessionTTL); err != nil {
		return err
	}
	g.logger.Info("payment refunded", zap.String("payment_intent_id", paymentIntentID))
	return nil
}

// wait имитирует сетевую задержку, прерывается по ctx
func (g *DummyGateway) wait(ctx context.Context) error {
	if g.cfg.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(g.cfg.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func captureResult(s Session) service.CaptureResult {
	r := service.CaptureResult{
		PaymentIntentID: s.PaymentIntentID,
		ReceiptURL:      s.ReceiptURL,
		ErrorReason:     s.ErrorReason,
		ErrorMessage:    s.ErrorMessage,
		CapturedAt:      s.CapturedAt,
		Status:          service.CaptureFailed,
	}
	if s.Status == SessionCaptured || s.Status == SessionRefunded {
		r.Status = service.CaptureSucceeded
	}
	return r
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
