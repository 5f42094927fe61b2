package repository

import (
	"context"
	"time"
)

// InventoryRepository хранилище складских остатков.
// Reserve, Resolve, Adjust и SetQuantity выполняют проверку и изменение одной атомарной операцией
// (блокировка строки или compare-and-swap).
type InventoryRepository interface {
	// CreateItem добавляет позицию. ErrAlreadyExists, если sku занят.
	CreateItem(ctx context.Context, item InventoryItem) error
	// GetItem возвращает позицию или ErrNotFound
	GetItem(ctx context.Context, sku string) (InventoryItem, error)
	// ListItems возвращает все позиции, отсортированные по sku
	ListItems(ctx context.Context) ([]InventoryItem, error)

	// Reserve увеличивает reserved_quantity и создаёт запись резерва r (статус RESERVED).
	// *InsufficientStockError, если available < r.Quantity.
	Reserve(ctx context.Context, r StockReservation) (InventoryItem, error)
	// ResolveReservations переводит резервы ids в outcome и применяет изменение остатков:
	// COMMITTED списывает reserved_quantity и quantity, RELEASED/EXPIRED только reserved_quantity.
	// Всё или ничего: если хотя бы один резерв терминальный, возвращается ErrAlreadyResolved.
	ResolveReservations(ctx context.Context, ids []string, outcome ReservationStatus, at time.Time) ([]Resolution, error)
	// Adjust меняет quantity на delta. ErrInvalidAdjustment, если quantity станет меньше reserved_quantity.
	Adjust(ctx context.Context, sku string, delta int) (InventoryItem, error)
	// SetQuantity устанавливает quantity. ErrInvalidAdjustment, если значение меньше reserved_quantity.
	SetQuantity(ctx context.Context, sku string, quantity int) (InventoryItem, error)
}

// ReservationRepository хранилище записей резерва
type ReservationRepository interface {
	// Create сохраняет запись резерва без изменения остатков.
	// Ledger вызывает его в одной транзакции с увеличением reserved_quantity.
	Create(ctx context.Context, r StockReservation) error
	// Find возвращает резерв или ErrReservationNotFound
	Find(ctx context.Context, id string) (StockReservation, error)
	// FindActiveByCart возвращает RESERVED резервы корзины, отсортированные по sku
	FindActiveByCart(ctx context.Context, cartID string) ([]StockReservation, error)
	// FindExpired возвращает до limit RESERVED резервов с expires_at < now
	FindExpired(ctx context.Context, now time.Time, limit int) ([]StockReservation, error)
	// Resolve меняет только статус и resolved_at. ErrAlreadyResolved для терминального резерва.
	Resolve(ctx context.Context, id string, outcome ReservationStatus, at time.Time) (StockReservation, error)
	// AttachPaymentIntent проставляет payment_intent_id активным резервам корзины
	AttachPaymentIntent(ctx context.Context, cartID, paymentIntentID string) error
}

// CartRepository хранилище корзин
type CartRepository interface {
	CreateCart(ctx context.Context, cart Cart) error
	// GetCart возвращает корзину со строками или ErrCartNotFound
	GetCart(ctx context.Context, id string) (Cart, error)
	// SaveItem добавляет строку или заменяет строку с тем же sku
	SaveItem(ctx context.Context, cartID string, item CartItem) error
	DeleteItem(ctx context.Context, cartID, sku string) error
	Clear(ctx context.Context, cartID string) error
	MarkCheckedOut(ctx context.Context, cartID string, at time.Time) error
}

// CatalogRepository каталог товаров
type CatalogRepository interface {
	GetProduct(ctx context.Context, sku string) (Product, error)
	SaveProduct(ctx context.Context, p Product) error
}

// OrderRepository хранилище заказов
type OrderRepository interface {
	// CreateOrder сохраняет заказ, его строки и события outbox одной транзакцией
	CreateOrder(ctx context.Context, order Order, events ...OutboxEvent) error
	GetByNumber(ctx context.Context, number string) (Order, error)
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (Order, error)
}

// OutboxRepository outbox событий для Kafka
type OutboxRepository interface {
	AddOutboxEvent(ctx context.Context, event OutboxEvent) error
	// GetPendingOutboxEvents возвращает до limit pending событий в порядке создания
	GetPendingOutboxEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkOutboxEventSent(ctx context.Context, eventID string) error
	MarkOutboxEventFailed(ctx context.Context, eventID, lastError string) error
	ResetOutboxEventPending(ctx context.Context, eventID string) error
}
