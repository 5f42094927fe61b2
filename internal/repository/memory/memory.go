package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
)

// MemoryRepository реализует все репозитории storefront в памяти.
// Один мьютекс сериализует операции ledger, что эквивалентно блокировке строки.
// Используется для разработки (STORAGE_DRIVER=memory) и тестов.
type MemoryRepository struct {
	mu           sync.RWMutex
	items        map[string]repository.InventoryItem
	reservations map[string]repository.StockReservation
	carts        map[string]repository.Cart
	products     map[string]repository.Product
	orders       map[string]repository.Order
	outbox       []repository.OutboxEvent
	now          func() time.Time
}

// NewMemoryRepository создаёт пустой in-memory репозиторий
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items:        make(map[string]repository.InventoryItem),
		reservations: make(map[string]repository.StockReservation),
		carts:        make(map[string]repository.Cart),
		products:     make(map[string]repository.Product),
		orders:       make(map[string]repository.Order),
		now:          time.Now,
	}
}

var (
	_ repository.InventoryRepository   = (*MemoryRepository)(nil)
	_ repository.ReservationRepository = (*MemoryRepository)(nil)
	_ repository.CartRepository        = (*MemoryRepository)(nil)
	_ repository.CatalogRepository     = (*MemoryRepository)(nil)
	_ repository.OrderRepository       = (*MemoryRepository)(nil)
	_ repository.OutboxRepository      = (*MemoryRepository)(nil)
)

// ---- inventory ----

func (r *MemoryRepository) CreateItem(_ context.Context, item repository.InventoryItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[item.SKU]; ok {
		return repository.ErrAlreadyExists
	}
	if item.Quantity < 0 || !item.Consistent() {
		return repository.ErrInvalidAdjustment
	}
	now := r.now()
	item.CreatedAt, item.UpdatedAt = now, now
	r.items[item.SKU] = item
	return nil
}

func (r *MemoryRepository) GetItem(_ context.Context, sku string) (repository.InventoryItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[sku]
	if !ok {
		return repository.InventoryItem{}, repository.ErrNotFound
	}
	return item, nil
}

func (r *MemoryRepository) ListItems(_ context.Context) ([]repository.InventoryItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]repository.InventoryItem, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (r *MemoryRepository) Reserve(_ context.Context, res repository.StockReservation) (repository.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[res.SKU]
	if !ok {
		return repository.InventoryItem{}, repository.ErrNotFound
	}
	if item.Available() < res.Quantity {
		return repository.InventoryItem{}, &repository.InsufficientStockError{
			SKU:       res.SKU,
			Requested: res.Quantity,
			Available: item.Available(),
		}
	}
	if _, exists := r.reservations[res.ID]; exists {
		return repository.InventoryItem{}, repository.ErrAlreadyExists
	}

	item.ReservedQuantity += res.Quantity
	item.UpdatedAt = r.now()
	res.Status = repository.ReservationReserved
	res.ResolvedAt = nil

	r.items[item.SKU] = item
	r.reservations[res.ID] = res
	return item, nil
}

func (r *MemoryRepository) ResolveReservations(_ context.Context, ids []string, outcome repository.ReservationStatus, at time.Time) ([]repository.Resolution, error) {
	if !outcome.IsTerminal() {
		return nil, repository.ErrInvalidOutcome
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ids = uniqueSorted(ids)

	// сначала проверяем всё, потом применяем
	type delta struct{ reserved, quantity int }
	deltas := make(map[string]delta)
	for _, id := range ids {
		res, ok := r.reservations[id]
		if !ok {
			return nil, repository.ErrReservationNotFound
		}
		if res.Status.IsTerminal() {
			return nil, repository.ErrAlreadyResolved
		}
		d := deltas[res.SKU]
		d.reserved += res.Quantity
		if outcome == repository.ReservationCommitted {
			d.quantity += res.Quantity
		}
		deltas[res.SKU] = d
	}
	for sku, d := range deltas {
		item, ok := r.items[sku]
		if !ok {
			return nil, repository.ErrNotFound
		}
		if item.ReservedQuantity < d.reserved || item.Quantity < d.quantity {
			return nil, repository.ErrLedgerInvariant
		}
	}

	now := r.now()
	for sku, d := range deltas {
		item := r.items[sku]
		item.ReservedQuantity -= d.reserved
		item.Quantity -= d.quantity
		item.UpdatedAt = now
		r.items[sku] = item
	}

	out := make([]repository.Resolution, 0, len(ids))
	for _, id := range ids {
		res := r.reservations[id]
		resolvedAt := at
		res.Status = outcome
		res.ResolvedAt = &resolvedAt
		r.reservations[id] = res
		out = append(out, repository.Resolution{Reservation: res, Item: r.items[res.SKU]})
	}
	return out, nil
}

func (r *MemoryRepository) Adjust(_ context.Context, sku string, delta int) (repository.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[sku]
	if !ok {
		return repository.InventoryItem{}, repository.ErrNotFound
	}
	if item.Quantity+delta < item.ReservedQuantity {
		return repository.InventoryItem{}, repository.ErrInvalidAdjustment
	}
	item.Quantity += delta
	item.UpdatedAt = r.now()
	r.items[sku] = item
	return item, nil
}

func (r *MemoryRepository) SetQuantity(_ context.Context, sku string, quantity int) (repository.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[sku]
	if !ok {
		return repository.InventoryItem{}, repository.ErrNotFound
	}
	if quantity < 0 || quantity < item.ReservedQuantity {
		return repository.InventoryItem{}, repository.ErrInvalidAdjustment
	}
	item.Quantity = quantity
	item.UpdatedAt = r.now()
	r.items[sku] = item
	return item, nil
}

// ---- reservations ----

func (r *MemoryRepository) Create(_ context.Context, res repository.StockReservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.reservations[res.ID]; exists {
		return repository.ErrAlreadyExists
	}
	if res.Status == "" {
		res.Status = repository.ReservationReserved
	}
	r.reservations[res.ID] = res
	return nil
}

func (r *MemoryRepository) Find(_ context.Context, id string) (repository.StockReservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.reservations[id]
	if !ok {
		return repository.StockReservation{}, repository.ErrReservationNotFound
	}
	return res, nil
}

func (r *MemoryRepository) FindActiveByCart(_ context.Context, cartID string) ([]repository.StockReservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []repository.StockReservation
	for _, res := range r.reservations {
		if res.CartID == cartID && res.Active() {
			out = append(out, res)
		}
	}
	sortReservations(out)
	return out, nil
}

func (r *MemoryRepository) FindExpired(_ context.Context, now time.Time, limit int) ([]repository.StockReservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []repository.StockReservation
	for _, res := range r.reservations {
		if res.ExpiredAt(now) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Resolve(_ context.Context, id string, outcome repository.ReservationStatus, at time.Time) (repository.StockReservation, error) {
	if !outcome.IsTerminal() {
		return repository.StockReservation{}, repository.ErrInvalidOutcome
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[id]
	if !ok {
		return repository.StockReservation{}, repository.ErrReservationNotFound
	}
	if res.Status.IsTerminal() {
		return res, repository.ErrAlreadyResolved
	}
	resolvedAt := at
	res.Status = outcome
	res.ResolvedAt = &resolvedAt
	r.reservations[id] = res
	return res, nil
}

func (r *MemoryRepository) AttachPaymentIntent(_ context.Context, cartID, paymentIntentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, res := range r.reservations {
		if res.CartID == cartID && res.Active() {
			res.PaymentIntentID = paymentIntentID
			r.reservations[id] = res
		}
	}
	return nil
}

// ---- carts & catalog ----

func (r *MemoryRepository) CreateCart(_ context.Context, cart repository.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.carts[cart.ID]; ok {
		return nil
	}
	now := r.now()
	if cart.Status == "" {
		cart.Status = repository.CartActive
	}
	cart.CreatedAt, cart.UpdatedAt = now, now
	cart.Items = cloneItems(cart.Items)
	r.carts[cart.ID] = cart
	return nil
}

func (r *MemoryRepository) GetCart(_ context.Context, id string) (repository.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.carts[id]
	if !ok {
		return repository.Cart{}, repository.ErrCartNotFound
	}
	cart.Items = cloneItems(cart.Items)
	return cart, nil
}

func (r *MemoryRepository) SaveItem(_ context.Context, cartID string, item repository.CartItem) error {
	return r.updateCart(cartID, func(c *repository.Cart) {
		for i := range c.Items {
			if c.Items[i].SKU == item.SKU {
				c.Items[i] = item
				return
			}
		}
		c.Items = append(c.Items, item)
		sort.Slice(c.Items, func(i, j int) bool { return c.Items[i].SKU < c.Items[j].SKU })
	})
}

func (r *MemoryRepository) DeleteItem(_ context.Context, cartID, sku string) error {
	return r.updateCart(cartID, func(c *repository.Cart) {
		kept := c.Items[:0]
		for _, it := range c.Items {
			if it.SKU != sku {
				kept = append(kept, it)
			}
		}
		c.Items = kept
	})
}

func (r *MemoryRepository) Clear(_ context.Context, cartID string) error {
	return r.updateCart(cartID, func(c *repository.Cart) { c.Items = nil })
}

func (r *MemoryRepository) MarkCheckedOut(_ context.Context, cartID string, _ time.Time) error {
	return r.updateCart(cartID, func(c *repository.Cart) { c.Status = repository.CartCheckedOut })
}

func (r *MemoryRepository) updateCart(cartID string, fn func(c *repository.Cart)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[cartID]
	if !ok {
		return repository.ErrCartNotFound
	}
	cart.Items = cloneItems(cart.Items)
	fn(&cart)
	cart.UpdatedAt = r.now()
	r.carts[cartID] = cart
	return nil
}

func (r *MemoryRepository) GetProduct(_ context.Context, sku string) (repository.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[sku]
	if !ok {
		return repository.Product{}, repository.ErrProductNotFound
	}
	return p, nil
}

func (r *MemoryRepository) SaveProduct(_ context.Context, p repository.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.SKU] = p
	return nil
}

// ---- orders & outbox ----

func (r *MemoryRepository) CreateOrder(_ context.Context, order repository.Order, events ...repository.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.Number]; ok {
		return repository.ErrAlreadyExists
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = r.now()
	}
	order.Items = append([]repository.OrderItem(nil), order.Items...)
	r.orders[order.Number] = order
	for _, e := range events {
		r.appendOutbox(e)
	}
	return nil
}

func (r *MemoryRepository) GetByNumber(_ context.Context, number string) (repository.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[number]
	if !ok {
		return repository.Order{}, repository.ErrOrderNotFound
	}
	return o, nil
}

func (r *MemoryRepository) GetByPaymentIntent(_ context.Context, paymentIntentID string) (repository.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.orders {
		if o.PaymentIntentID == paymentIntentID {
			return o, nil
		}
	}
	return repository.Order{}, repository.ErrOrderNotFound
}

func (r *MemoryRepository) AddOutboxEvent(_ context.Context, event repository.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendOutbox(event)
	return nil
}

func (r *MemoryRepository) appendOutbox(e repository.OutboxEvent) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	e.Status = repository.OutboxStatusPending
	r.outbox = append(r.outbox, e)
}

func (r *MemoryRepository) GetPendingOutboxEvents(_ context.Context, limit int) ([]repository.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []repository.OutboxEvent
	for _, e := range r.outbox {
		if e.Status != repository.OutboxStatusPending {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) MarkOutboxEventSent(_ context.Context, eventID string) error {
	return r.updateOutbox(eventID, func(e *repository.OutboxEvent) {
		now := r.now()
		e.Status = repository.OutboxStatusSent
		e.SentAt = &now
	})
}

func (r *MemoryRepository) MarkOutboxEventFailed(_ context.Context, eventID, lastError string) error {
	return r.updateOutbox(eventID, func(e *repository.OutboxEvent) {
		e.Status = repository.OutboxStatusFailed
		e.Attempts++
		e.LastError = lastError
	})
}

func (r *MemoryRepository) ResetOutboxEventPending(_ context.Context, eventID string) error {
	return r.updateOutbox(eventID, func(e *repository.OutboxEvent) {
		e.Status = repository.OutboxStatusPending
	})
}

func (r *MemoryRepository) updateOutbox(eventID string, fn func(e *repository.OutboxEvent)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.outbox {
		if r.outbox[i].EventID == eventID {
			fn(&r.outbox[i])
			return nil
		}
	}
	return repository.ErrNotFound
}

// OutboxEvents возвращает копию всех событий outbox
func (r *MemoryRepository) OutboxEvents() []repository.OutboxEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]repository.OutboxEvent(nil), r.outbox...)
}

func cloneItems(items []repository.CartItem) []repository.CartItem {
	if items == nil {
		return nil
	}
	return append([]repository.CartItem(nil), items...)
}

func sortReservations(rs []repository.StockReservation) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].SKU != rs[j].SKU {
			return rs[i].SKU < rs[j].SKU
		}
		return rs[i].ID < rs[j].ID
	})
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
