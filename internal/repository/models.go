package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultLowStockThreshold порог low stock, если не задан при создании позиции
const DefaultLowStockThreshold = 10

// InventoryItem складская позиция. quantity и reserved_quantity меняет только ledger.
type InventoryItem struct {
	SKU               string
	Quantity          int
	ReservedQuantity  int
	LowStockThreshold int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Available возвращает max(0, quantity - reserved_quantity)
func (i InventoryItem) Available() int {
	if a := i.Quantity - i.ReservedQuantity; a > 0 {
		return a
	}
	return 0
}

// IsLowStock true, если остаток ниже порога
func (i InventoryItem) IsLowStock() bool {
	return i.Quantity < i.LowStockThreshold
}

// Consistent проверяет 0 <= reserved_quantity <= quantity
func (i InventoryItem) Consistent() bool {
	return i.ReservedQuantity >= 0 && i.ReservedQuantity <= i.Quantity
}

// ReservationStatus статус резерва
type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "RESERVED"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// IsTerminal true для COMMITTED, RELEASED и EXPIRED
func (s ReservationStatus) IsTerminal() bool {
	switch s {
	case ReservationCommitted, ReservationReleased, ReservationExpired:
		return true
	}
	return false
}

// Valid проверяет, что статус известен
func (s ReservationStatus) Valid() bool {
	return s == ReservationReserved || s.IsTerminal()
}

// StockReservation запись о временном удержании товара под корзину.
// Пока статус RESERVED, quantity учтено в reserved_quantity позиции.
type StockReservation struct {
	ID              string
	SKU             string
	Quantity        int
	CartID          string
	PaymentIntentID string
	Status          ReservationStatus
	CreatedAt       time.Time
	ExpiresAt       time.Time
	ResolvedAt      *time.Time
}

// Active true, если резерв ещё не разрешён
func (r StockReservation) Active() bool {
	return r.Status == ReservationReserved
}

// ExpiredAt true, если резерв активен и его срок прошёл к моменту now
func (r StockReservation) ExpiredAt(now time.Time) bool {
	return r.Active() && now.After(r.ExpiresAt)
}

// Resolution результат разрешения резерва вместе с состоянием позиции после него
type Resolution struct {
	Reservation StockReservation
	Item        InventoryItem
}

// CartStatus статус корзины
type CartStatus string

const (
	CartActive     CartStatus = "active"
	CartCheckedOut CartStatus = "checked_out"
)

// Cart корзина покупателя. CustomerID == 0 для гостя.
type Cart struct {
	ID         string
	CustomerID int64
	Status     CartStatus
	Items      []CartItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CartItem строка корзины, цена зафиксирована при добавлении
type CartItem struct {
	SKU       string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Subtotal цена строки
func (i CartItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Total сумма корзины
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// Product товар каталога (только чтение)
type Product struct {
	SKU      string
	Name     string
	Price    decimal.Decimal
	IsActive bool
}

// Статусы заказа
const (
	OrderStatusProcessing = "PROCESSING"
	PaymentStatusPaid     = "PAID"
)

// Order снимок оплаченной корзины
type Order struct {
	ID              string
	Number          string
	CustomerID      int64
	CartID          string
	PaymentIntentID string
	PaymentStatus   string
	Status          string
	ReceiptURL      string
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal
	Items           []OrderItem
	CreatedAt       time.Time
	PaidAt          time.Time
}

// OrderItem строка заказа
type OrderItem struct {
	SKU      string
	Name     string
	Quantity int
	Price    decimal.Decimal
	Subtotal decimal.Decimal
}

// Статусы outbox
const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"
)

// OutboxEvent событие для публикации в Kafka
type OutboxEvent struct {
	EventID     string
	AggregateID string
	Topic       string
	EventType   string
	Payload     []byte
	Status      string
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	SentAt      *time.Time
}
