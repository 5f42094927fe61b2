package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/rinta-toyoda/retailer-agent-project/internal/service"
)

// BreakerConfig настройки circuit breaker
type BreakerConfig struct {
	Name string
	// MaxFailures подряд идущих сбоев до открытия
	MaxFailures uint32
	// OpenTimeout сколько breaker остаётся открытым до half-open
	OpenTimeout time.Duration
}

// BreakerGateway оборачивает шлюз circuit breaker-ом.
// Сбоем считается только error; отказ по карте приходит как CaptureResult и breaker не трогает.
type BreakerGateway struct {
	next   service.PaymentGateway
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

var _ service.PaymentGateway = (*BreakerGateway)(nil)

func NewBreakerGateway(next service.PaymentGateway, logger *zap.Logger, cfg BreakerConfig) *BreakerGateway {
	if cfg.Name == "" {
		cfg.Name = "payment-gateway"
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &BreakerGateway{
		next:   next,
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
	}
}

func (b *BreakerGateway) OpenSession(ctx context.Context, req service.SessionRequest) (service.PaymentSession, error) {
	var out service.PaymentSession
	err := b.execute(ctx, func() error {
		var err error
		out, err = b.next.OpenSession(ctx, req)
		return err
	})
	return out, err
}

func (b *BreakerGateway) Capture(ctx context.Context, paymentIntentID string) (service.CaptureResult, error) {
	var out service.CaptureResult
	err := b.execute(ctx, func() error {
		var err error
		out, err = b.next.Capture(ctx, paymentIntentID)
		return err
	})
	return out, err
}

func (b *BreakerGateway) Refund(ctx context.Context, paymentIntentID string) error {
	return b.execute(ctx, func() error {
		return b.next.Refund(ctx, paymentIntentID)
	})
}

// State текущее состояние breaker
func (b *BreakerGateway) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerGateway) execute(ctx context.Context, fn func() error) error {
	// отмена запроса клиентом не говорит о здоровье шлюза
	var callerErr error
	_, err := b.cb.Execute(func() (interface{}, error) {
		err := fn()
		if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
			callerErr = err
			return nil, nil
		}
		return nil, err
	})
	if callerErr != nil {
		return callerErr
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.Warn("payment gateway call rejected by circuit breaker", zap.Error(err))
		return fmt.Errorf("%w: %v", service.ErrPaymentGatewayUnavailable, err)
	}
	return err
}
