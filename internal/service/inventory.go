package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rinta-toyoda/retailer-agent-project/internal/metrics"
	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
	"github.com/rinta-toyoda/retailer-agent-project/platform/observability"
)

// DefaultReservationTTL срок жизни резерва по умолчанию
const DefaultReservationTTL = 30 * time.Minute

// InventoryOptions необязательные зависимости InventoryService
type InventoryOptions struct {
	ReservationTTL time.Duration
	// Outbox и LowStockTopic включают события inventory.low_stock
	Outbox        repository.OutboxRepository
	LowStockTopic string
	Metrics       *metrics.Metrics
}

// InventoryService ledger остатков: единственное место, где меняются quantity и reserved_quantity.
type InventoryService struct {
	logger       *zap.Logger
	items        repository.InventoryRepository
	reservations repository.ReservationRepository
	outbox       repository.OutboxRepository
	topic        string
	metrics      *metrics.Metrics
	ttl          time.Duration
	now          func() time.Time
}

var _ Ledger = (*InventoryService)(nil)

// NewInventoryService создаёт ledger
func NewInventoryService(
	logger *zap.Logger,
	items repository.InventoryRepository,
	reservations repository.ReservationRepository,
	opts InventoryOptions,
) *InventoryService {
	ttl := opts.ReservationTTL
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &InventoryService{
		logger:       logger,
		items:        items,
		reservations: reservations,
		outbox:       opts.Outbox,
		topic:        opts.LowStockTopic,
		metrics:      opts.Metrics,
		ttl:          ttl,
		now:          time.Now,
	}
}

// CreateItem заводит новую позицию склада
func (s *InventoryService) CreateItem(ctx context.Context, sku string, quantity, threshold int) (repository.InventoryItem, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return repository.InventoryItem{}, ErrInvalidSKU
	}
	if quantity < 0 {
		return repository.InventoryItem{}, ErrInvalidQuantity
	}
	if threshold <= 0 {
		threshold = repository.DefaultLowStockThreshold
	}
	item := repository.InventoryItem{SKU: sku, Quantity: quantity, LowStockThreshold: threshold}
	if err := s.items.CreateItem(ctx, item); err != nil {
		return repository.InventoryItem{}, fmt.Errorf("create item %s: %w", sku, err)
	}
	return s.items.GetItem(ctx, sku)
}

// Reserve удерживает quantity единиц sku под корзину cartID на время ReservationTTL
func (s *InventoryService) Reserve(ctx context.Context, sku string, quantity int, cartID string) (repository.StockReservation, error) {
	if sku == "" {
		return repository.StockReservation{}, ErrInvalidSKU
	}
	if quantity <= 0 {
		return repository.StockReservation{}, ErrInvalidQuantity
	}

	now := s.now()
	res := repository.StockReservation{
		ID:        uuid.NewString(),
		SKU:       sku,
		Quantity:  quantity,
		CartID:    cartID,
		Status:    repository.ReservationReserved,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	item, err := s.items.Reserve(ctx, res)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientStock) {
			s.metrics.Reservation("reserve", "insufficient_stock")
		} else {
			s.metrics.Reservation("reserve", "error")
		}
		return repository.StockReservation{}, fmt.Errorf("reserve %s: %w", sku, err)
	}
	s.metrics.Reservation("reserve", "ok")

	observability.L(ctx, s.logger).Debug("stock reserved",
		zap.String("reservation_id", res.ID),
		zap.String("sku", sku),
		zap.Int("quantity", quantity),
		zap.String("cart_id", cartID),
		zap.Int("available", item.Available()),
	)
	return res, nil
}

// Commit списывает резервы: reserved_quantity и quantity уменьшаются на их количество
func (s *InventoryService) Commit(ctx context.Context, reservationIDs ...string) ([]repository.Resolution, error) {
	return s.resolve(ctx, "commit", repository.ReservationCommitted, reservationIDs)
}

// Release возвращает резервы в доступный остаток
func (s *InventoryService) Release(ctx context.Context, reservationIDs ...string) ([]repository.Resolution, error) {
	return s.resolve(ctx, "release", repository.ReservationReleased, reservationIDs)
}

// Expire то же, что Release, но со статусом EXPIRED
func (s *InventoryService) Expire(ctx context.Context, reservationIDs ...string) ([]repository.Resolution, error) {
	return s.resolve(ctx, "expire", repository.ReservationExpired, reservationIDs)
}

func (s *InventoryService) resolve(ctx context.Context, op string, outcome repository.ReservationStatus, ids []string) ([]repository.Resolution, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	log := observability.L(ctx, s.logger).With(zap.String("op", op), zap.Strings("reservation_ids", ids))

	out, err := s.items.ResolveReservations(ctx, ids, outcome, s.now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyResolved):
			s.metrics.Reservation(op, "already_resolved")
			log.Debug("reservation already resolved")
		case errors.Is(err, repository.ErrLedgerInvariant):
			s.metrics.Reservation(op, "anomaly")
			log.Error("ledger anomaly: resolve exceeds reserved quantity", zap.Error(err))
		default:
			s.metrics.Reservation(op, "error")
		}
		return nil, fmt.Errorf("%s reservations: %w", op, err)
	}
	s.metrics.Reservation(op, "ok")
	log.Info("reservations resolved", zap.String("outcome", string(outcome)))

	if outcome == repository.ReservationCommitted {
		seen := make(map[string]bool, len(out))
		for _, r := range out {
			if !seen[r.Item.SKU] {
				seen[r.Item.SKU] = true
				s.checkLowStock(ctx, r.Item)
			}
		}
	}
	return out, nil
}

// Adjust меняет quantity на delta (приход или списание брака). reserved_quantity не трогается.
func (s *InventoryService) Adjust(ctx context.Context, sku string, delta int) (repository.InventoryItem, error) {
	item, err := s.items.Adjust(ctx, sku, delta)
	if err != nil {
		return repository.InventoryItem{}, fmt.Errorf("adjust %s by %d: %w", sku, delta, err)
	}
	observability.L(ctx, s.logger).Info("stock adjusted",
		zap.String("sku", sku), zap.Int("delta", delta), zap.Int("quantity", item.Quantity))
	s.checkLowStock(ctx, item)
	return item, nil
}

// SetStock устанавливает абсолютное значение quantity
func (s *InventoryService) SetStock(ctx context.Context, sku string, quantity int) (repository.InventoryItem, error) {
	if quantity < 0 {
		return repository.InventoryItem{}, ErrInvalidQuantity
	}
	item, err := s.items.SetQuantity(ctx, sku, quantity)
	if err != nil {
		return repository.InventoryItem{}, fmt.Errorf("set stock %s to %d: %w", sku, quantity, err)
	}
	observability.L(ctx, s.logger).Info("stock set", zap.String("sku", sku), zap.Int("quantity", quantity))
	s.checkLowStock(ctx, item)
	return item, nil
}

// Available возвращает max(0, quantity - reserved_quantity)
func (s *InventoryService) Available(ctx context.Context, sku string) (int, error) {
	item, err := s.items.GetItem(ctx, sku)
	if err != nil {
		return 0, fmt.Errorf("get item %s: %w", sku, err)
	}
	return item.Available(), nil
}

func (s *InventoryService) GetItem(ctx context.Context, sku string) (repository.InventoryItem, error) {
	return s.items.GetItem(ctx, sku)
}

func (s *InventoryService) ListItems(ctx context.Context) ([]repository.InventoryItem, error) {
	return s.items.ListItems(ctx)
}

// ListLowStock позиции с quantity < low_stock_threshold
func (s *InventoryService) ListLowStock(ctx context.Context) ([]repository.InventoryItem, error) {
	items, err := s.items.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	low := make([]repository.InventoryItem, 0)
	for _, it := range items {
		if it.IsLowStock() {
			low = append(low, it)
		}
	}
	return low, nil
}

func (s *InventoryService) GetReservation(ctx context.Context, id string) (repository.StockReservation, error) {
	return s.reservations.Find(ctx, id)
}

// checkLowStock пишет inventory.low_stock в outbox. Ошибка только логируется.
func (s *InventoryService) checkLowStock(ctx context.Context, item repository.InventoryItem) {
	if s.outbox == nil || s.topic == "" || !item.IsLowStock() {
		return
	}
	event, err := newOutboxEvent(s.topic, EventInventoryLowStock, item.SKU, s.now(), LowStockEvent{
		SKU:               item.SKU,
		Quantity:          item.Quantity,
		ReservedQuantity:  item.ReservedQuantity,
		Available:         item.Available(),
		LowStockThreshold: item.LowStockThreshold,
	})
	if err == nil {
		err = s.outbox.AddOutboxEvent(ctx, event)
	}
	if err != nil {
		observability.L(ctx, s.logger).Warn("failed to enqueue low stock event", zap.String("sku", item.SKU), zap.Error(err))
	}
}
