package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rinta-toyoda/retailer-agent-project/internal/metrics"
	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
)

// ExpirySweeper периодически переводит просроченные резервы в EXPIRED и возвращает остаток.
// Идёт через тот же Ledger, что и finalize, поэтому гонка с finalize разрешается статусом резерва.
type ExpirySweeper struct {
	logger       *zap.Logger
	reservations repository.ReservationRepository
	ledger       Ledger
	metrics      *metrics.Metrics
	interval     time.Duration
	batchSize    int
	now          func() time.Time
}

// NewExpirySweeper создаёт sweeper
func NewExpirySweeper(
	logger *zap.Logger,
	reservations repository.ReservationRepository,
	ledger Ledger,
	m *metrics.Metrics,
	interval time.Duration, // как часто искать просроченные резервы
	batchSize int, // сколько резервов выбирать за один запрос
) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpirySweeper{
		logger:       logger,
		reservations: reservations,
		ledger:       ledger,
		metrics:      m,
		interval:     interval,
		batchSize:    batchSize,
		now:          time.Now,
	}
}

// Start блокируется до отмены ctx
func (s *ExpirySweeper) Start(ctx context.Context) error {
	s.logger.Info("starting expiry sweeper",
		zap.Duration("interval", s.interval),
		zap.Int("batch_size", s.batchSize),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("initial sweep failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper context cancelled, stopping")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce обрабатывает все резервы, просроченные на текущий момент, и возвращает число переведённых в EXPIRED.
// Резерв, который успел разрешить finalize, пропускается.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()
	expired := 0

	for {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}

		batch, err := s.reservations.FindExpired(ctx, now, s.batchSize)
		if err != nil {
			return expired, fmt.Errorf("find expired reservations: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		progressed := 0
		for _, r := range batch {
			if _, err := s.ledger.Expire(ctx, r.ID); err != nil {
				if errors.Is(err, repository.ErrAlreadyResolved) {
					progressed++
					continue
				}
				if ctx.Err() != nil {
					return expired, ctx.Err()
				}
				s.logger.Error("failed to expire reservation",
					zap.String("reservation_id", r.ID),
					zap.String("sku", r.SKU),
					zap.Error(err),
				)
				continue
			}
			progressed++
			expired++
			s.logger.Info("reservation expired",
				zap.String("reservation_id", r.ID),
				zap.String("sku", r.SKU),
				zap.Int("quantity", r.Quantity),
				zap.String("cart_id", r.CartID),
			)
		}

		// неполный батч или нет прогресса: остальное на следующем тике
		if len(batch) < s.batchSize || progressed == 0 {
			break
		}
	}

	s.metrics.Expired(expired)
	if expired > 0 {
		s.logger.Info("sweep completed", zap.Int("expired", expired))
	}
	return expired, nil
}
