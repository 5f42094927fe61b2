package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rinta-toyoda/retailer-agent-project/internal/metrics"
	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
	"github.com/rinta-toyoda/retailer-agent-project/platform/observability"
)

// DefaultPaymentTimeout ограничение на один вызов платёжного шлюза
const DefaultPaymentTimeout = 10 * time.Second

// CheckoutDeps зависимости оркестратора
type CheckoutDeps struct {
	Carts        repository.CartRepository
	Reservations repository.ReservationRepository
	Orders       repository.OrderRepository
	Ledger       Ledger
	Payments     PaymentGateway
}

// CheckoutOptions настройки оркестратора
type CheckoutOptions struct {
	PaymentTimeout time.Duration
	CheckoutTopic  string
	Currency       string
	Metrics        *metrics.Metrics
}

// CheckoutService двухфазное оформление заказа: prepare резервирует остатки и открывает оплату,
// finalize списывает деньги и либо фиксирует резервы, либо освобождает их.
type CheckoutService struct {
	logger         *zap.Logger
	carts          repository.CartRepository
	reservations   repository.ReservationRepository
	orders         repository.OrderRepository
	ledger         Ledger
	payments       PaymentGateway
	metrics        *metrics.Metrics
	paymentTimeout time.Duration
	topic          string
	currency       string
	now            func() time.Time
}

// NewCheckoutService создаёт оркестратор
func NewCheckoutService(logger *zap.Logger, deps CheckoutDeps, opts CheckoutOptions) *CheckoutService {
	timeout := opts.PaymentTimeout
	if timeout <= 0 {
		timeout = DefaultPaymentTimeout
	}
	currency := opts.Currency
	if currency == "" {
		currency = "usd"
	}
	return &CheckoutService{
		logger:         logger,
		carts:          deps.Carts,
		reservations:   deps.Reservations,
		orders:         deps.Orders,
		ledger:         deps.Ledger,
		payments:       deps.Payments,
		metrics:        opts.Metrics,
		paymentTimeout: timeout,
		topic:          opts.CheckoutTopic,
		currency:       currency,
		now:            time.Now,
	}
}

// PrepareOutput результат prepare
type PrepareOutput struct {
	SessionID       string
	PaymentIntentID string
	RedirectURL     string
	ReservationIDs  []string
	ExpiresAt       time.Time
}

// FinalizeInput входные данные finalize
type FinalizeInput struct {
	PaymentIntentID string
	CartID          string
	CustomerID      int64
}

// FinalizeOutput результат успешного finalize
type FinalizeOutput struct {
	OrderNumber   string
	Status        string
	PaymentStatus string
	Total         decimal.Decimal
	ReceiptURL    string
}

type cartLine struct {
	SKU      string
	Quantity int
}

// Prepare резервирует все строки корзины по возрастанию sku и открывает платёжную сессию.
// При любой ошибке освобождает всё, что успело зарезервироваться в этой попытке.
func (s *CheckoutService) Prepare(ctx context.Context, cartID string) (*PrepareOutput, error) {
	log := observability.L(ctx, s.logger).With(zap.String("op", "checkout.prepare"), zap.String("cart_id", cartID))

	cart, err := s.activeCart(ctx, cartID)
	if err != nil {
		s.metrics.Checkout("prepare", "rejected")
		return nil, err
	}

	// повторный prepare: резервы прошлой попытки больше не нужны
	if err := s.releaseActive(ctx, cartID); err != nil {
		return nil, err
	}

	lines := mergeLines(cart.Items)
	reserved := make([]string, 0, len(lines))
	var expiresAt time.Time
	for _, line := range lines {
		res, err := s.ledger.Reserve(ctx, line.SKU, line.Quantity, cartID)
		if err != nil {
			s.compensate(ctx, reserved)
			if errors.Is(err, repository.ErrInsufficientStock) {
				s.metrics.Checkout("prepare", "insufficient_stock")
				log.Info("checkout rejected: insufficient stock", zap.String("sku", line.SKU), zap.Error(err))
			} else {
				s.metrics.Checkout("prepare", "error")
			}
			return nil, err
		}
		reserved = append(reserved, res.ID)
		if expiresAt.IsZero() || res.ExpiresAt.Before(expiresAt) {
			expiresAt = res.ExpiresAt
		}
	}

	session, err := s.openSession(ctx, cart)
	if err != nil {
		s.compensate(ctx, reserved)
		s.metrics.Checkout("prepare", "gateway_error")
		log.Warn("failed to open payment session", zap.Error(err))
		return nil, err
	}

	if err := s.reservations.AttachPaymentIntent(ctx, cartID, session.PaymentIntentID); err != nil {
		s.compensate(ctx, reserved)
		s.metrics.Checkout("prepare", "error")
		return nil, fmt.Errorf("attach payment intent: %w", err)
	}

	s.metrics.Checkout("prepare", "ok")
	log.Info("checkout prepared",
		zap.String("payment_intent_id", session.PaymentIntentID),
		zap.Int("reservations", len(reserved)),
		zap.Time("expires_at", expiresAt),
	)
	return &PrepareOutput{
		SessionID:       session.SessionID,
		PaymentIntentID: session.PaymentIntentID,
		RedirectURL:     session.RedirectURL,
		ReservationIDs:  reserved,
		ExpiresAt:       expiresAt,
	}, nil
}

// Finalize списывает оплату и фиксирует резервы. Резервы проверяются до обращения к шлюзу,
// поэтому за истёкшие резервы деньги не списываются.
func (s *CheckoutService) Finalize(ctx context.Context, in FinalizeInput) (*FinalizeOutput, error) {
	log := observability.L(ctx, s.logger).With(
		zap.String("op", "checkout.finalize"),
		zap.String("cart_id", in.CartID),
		zap.String("payment_intent_id", in.PaymentIntentID),
	)

	cart, err := s.carts.GetCart(ctx, in.CartID)
	if err != nil {
		return nil, fmt.Errorf("get cart %s: %w", in.CartID, err)
	}
	if cart.Status == repository.CartCheckedOut {
		// повтор уже успешного finalize
		order, err := s.orders.GetByPaymentIntent(ctx, in.PaymentIntentID)
		if err == nil && order.CartID == in.CartID {
			log.Info("finalize retried for completed checkout", zap.String("order_number", order.Number))
			return finalizeOutput(order), nil
		}
		return nil, ErrCartNotActive
	}
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if in.CustomerID != 0 && cart.CustomerID != 0 && in.CustomerID != cart.CustomerID {
		log.Warn("finalize rejected: customer does not own the cart",
			zap.Int64("customer_id", in.CustomerID), zap.Int64("cart_customer_id", cart.CustomerID))
		return nil, ErrCustomerMismatch
	}

	active, err := s.reservations.FindActiveByCart(ctx, in.CartID)
	if err != nil {
		return nil, fmt.Errorf("find reservations: %w", err)
	}
	mine := make([]repository.StockReservation, 0, len(active))
	for _, r := range active {
		if r.PaymentIntentID == in.PaymentIntentID {
			mine = append(mine, r)
		}
	}
	ids := reservationIDs(mine)

	if reason := s.staleReason(cart, mine); reason != "" {
		s.dropStale(ctx, mine)
		s.metrics.Checkout("finalize", "stale")
		log.Info("finalize rejected: stale reservations", zap.String("reason", reason))
		return nil, ErrStaleReservation
	}

	result, err := s.capture(ctx, in.PaymentIntentID)
	if err != nil {
		s.compensate(ctx, ids)
		if errors.Is(err, ErrPaymentGatewayTimeout) {
			s.metrics.Checkout("finalize", "gateway_timeout")
			log.Warn("payment gateway timeout, reservations released",
				zap.String("event", "payment_gateway_timeout"),
				zap.Duration("timeout", s.paymentTimeout))
		} else {
			s.metrics.Checkout("finalize", "gateway_error")
			log.Warn("payment capture failed, reservations released", zap.Error(err))
		}
		return nil, err
	}
	if result.Status != CaptureSucceeded {
		s.compensate(ctx, ids)
		s.metrics.Checkout("finalize", "declined")
		log.Info("payment declined, reservations released", zap.String("reason", result.ErrorReason))
		return nil, &PaymentDeclinedError{Reason: result.ErrorReason, Message: result.ErrorMessage}
	}

	if _, err := s.ledger.Commit(ctx, ids...); err != nil {
		if errors.Is(err, repository.ErrAlreadyResolved) {
			return s.resolvedConcurrently(ctx, log, in, ids)
		}
		// хранилище упало, commit откатился: возвращаем деньги
		s.refund(ctx, in.PaymentIntentID)
		s.compensate(ctx, ids)
		s.metrics.Checkout("finalize", "error")
		return nil, fmt.Errorf("commit reservations: %w", err)
	}

	order := s.buildOrder(cart, in, result)
	event, err := newOutboxEvent(s.topic, EventCheckoutCompleted, order.ID, order.PaidAt, checkoutEvent(order))
	if err != nil {
		return nil, err
	}
	if err := s.orders.CreateOrder(ctx, order, event); err != nil {
		// резервы уже списаны: возвращаем деньги и товар на склад, корзина остаётся активной
		s.metrics.Checkout("finalize", "error")
		log.Error("failed to persist order after commit, refunding and restocking",
			zap.String("order_number", order.Number), zap.Error(err))
		s.refund(ctx, in.PaymentIntentID)
		s.restock(ctx, mine)
		return nil, fmt.Errorf("create order: %w", err)
	}

	// заказ уже создан, поэтому ошибки корзины только логируются
	if err := s.carts.Clear(ctx, in.CartID); err != nil {
		log.Warn("failed to clear cart", zap.Error(err))
	}
	if err := s.carts.MarkCheckedOut(ctx, in.CartID, s.now()); err != nil {
		log.Warn("failed to mark cart checked out", zap.Error(err))
	}

	s.metrics.Checkout("finalize", "ok")
	log.Info("checkout completed",
		zap.String("order_number", order.Number),
		zap.String("total", order.Total.StringFixed(2)),
	)
	return finalizeOutput(order), nil
}

// Cancel явная отмена: освобождает все активные резервы корзины
func (s *CheckoutService) Cancel(ctx context.Context, cartID string) (int, error) {
	active, err := s.reservations.FindActiveByCart(ctx, cartID)
	if err != nil {
		return 0, fmt.Errorf("find reservations: %w", err)
	}
	released := 0
	for _, r := range active {
		if _, err := s.ledger.Release(ctx, r.ID); err != nil {
			if errors.Is(err, repository.ErrAlreadyResolved) {
				continue
			}
			return released, err
		}
		released++
	}
	observability.L(ctx, s.logger).Info("checkout cancelled", zap.String("cart_id", cartID), zap.Int("released", released))
	return released, nil
}

func (s *CheckoutService) activeCart(ctx context.Context, cartID string) (repository.Cart, error) {
	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return repository.Cart{}, fmt.Errorf("get cart %s: %w", cartID, err)
	}
	if cart.Status != repository.CartActive {
		return repository.Cart{}, ErrCartNotActive
	}
	if len(cart.Items) == 0 {
		return repository.Cart{}, ErrEmptyCart
	}
	return cart, nil
}

func (s *CheckoutService) releaseActive(ctx context.Context, cartID string) error {
	active, err := s.reservations.FindActiveByCart(ctx, cartID)
	if err != nil {
		return fmt.Errorf("find reservations: %w", err)
	}
	s.compensate(ctx, reservationIDs(active))
	return nil
}

// staleReason возвращает причину, по которой резервы нельзя фиксировать, или ""
func (s *CheckoutService) staleReason(cart repository.Cart, mine []repository.StockReservation) string {
	if len(mine) == 0 {
		return "no active reservations for payment intent"
	}
	now := s.now()
	reserved := make(map[string]int, len(mine))
	for _, r := range mine {
		if r.ExpiredAt(now) {
			return "reservation expired"
		}
		reserved[r.SKU] += r.Quantity
	}
	lines := mergeLines(cart.Items)
	if len(lines) != len(reserved) {
		return "cart changed after prepare"
	}
	for _, l := range lines {
		if reserved[l.SKU] != l.Quantity {
			return "cart changed after prepare"
		}
	}
	return ""
}

// dropStale истёкшие резервы переводит в EXPIRED, остальные освобождает
func (s *CheckoutService) dropStale(ctx context.Context, mine []repository.StockReservation) {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	for _, r := range mine {
		var err error
		if r.ExpiredAt(now) {
			_, err = s.ledger.Expire(ctx, r.ID)
		} else {
			_, err = s.ledger.Release(ctx, r.ID)
		}
		if err != nil && !errors.Is(err, repository.ErrAlreadyResolved) {
			observability.L(ctx, s.logger).Error("failed to drop stale reservation",
				zap.String("reservation_id", r.ID), zap.Error(err))
		}
	}
}

// resolvedConcurrently разбирает проигранную гонку за commit после успешного списания.
// Если резервы зафиксировал параллельный finalize того же intent, платёж принадлежит ему
// и возврат не делается. Деньги возвращаются только когда резервы истекли или освобождены.
func (s *CheckoutService) resolvedConcurrently(ctx context.Context, log *zap.Logger, in FinalizeInput, ids []string) (*FinalizeOutput, error) {
	committed := 0
	for _, id := range ids {
		r, err := s.reservations.Find(ctx, id)
		if err != nil {
			s.metrics.Checkout("finalize", "error")
			log.Error("cannot inspect reservation after lost commit, manual action required",
				zap.String("reservation_id", id), zap.Error(err))
			return nil, fmt.Errorf("find reservation %s: %w", id, err)
		}
		if r.Status == repository.ReservationCommitted {
			committed++
		}
	}

	if committed == 0 {
		s.refund(ctx, in.PaymentIntentID)
		s.compensate(ctx, ids)
		s.metrics.Checkout("finalize", "stale_after_capture")
		log.Warn("reservation resolved concurrently after capture, payment refunded")
		return nil, ErrStaleReservation
	}
	if committed != len(ids) {
		// commit идёт одной пачкой, смешанные статусы означают чужие резервы в наборе
		s.metrics.Checkout("finalize", "error")
		log.Error("ledger anomaly: reservations of one payment intent partially committed",
			zap.Int("committed", committed), zap.Int("total", len(ids)))
		return nil, ErrStaleReservation
	}

	s.metrics.Checkout("finalize", "duplicate")
	order, err := s.orders.GetByPaymentIntent(ctx, in.PaymentIntentID)
	if err != nil || order.CartID != in.CartID {
		log.Info("reservations committed by concurrent finalize, order not stored yet")
		return nil, ErrCheckoutInProgress
	}
	log.Info("reservations committed by concurrent finalize", zap.String("order_number", order.Number))
	return finalizeOutput(order), nil
}

// restock возвращает на склад товар уже зафиксированных резервов
func (s *CheckoutService) restock(ctx context.Context, committed []repository.StockReservation) {
	ctx = context.WithoutCancel(ctx)
	for _, line := range mergeReservations(committed) {
		if _, err := s.ledger.Adjust(ctx, line.SKU, line.Quantity); err != nil {
			observability.L(ctx, s.logger).Error("ledger anomaly: restock after failed order failed, manual action required",
				zap.String("sku", line.SKU), zap.Int("quantity", line.Quantity), zap.Error(err))
		}
	}
}

// compensate освобождает резервы по одному. Уже разрешённые (например sweeper-ом) пропускаются.
// Отмена запроса не должна мешать освобождению, поэтому контекст отвязан от отмены.
func (s *CheckoutService) compensate(ctx context.Context, ids []string) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range ids {
		if _, err := s.ledger.Release(ctx, id); err != nil && !errors.Is(err, repository.ErrAlreadyResolved) {
			observability.L(ctx, s.logger).Error("failed to release reservation, sweeper will expire it",
				zap.String("reservation_id", id), zap.Error(err))
		}
	}
}

func (s *CheckoutService) openSession(ctx context.Context, cart repository.Cart) (PaymentSession, error) {
	var session PaymentSession
	err := s.callGateway(ctx, "open_session", func(ctx context.Context) error {
		var err error
		session, err = s.payments.OpenSession(ctx, SessionRequest{
			CartID:     cart.ID,
			CustomerID: cart.CustomerID,
			Amount:     cart.Total(),
			Currency:   s.currency,
		})
		return err
	})
	return session, err
}

func (s *CheckoutService) capture(ctx context.Context, paymentIntentID string) (CaptureResult, error) {
	var result CaptureResult
	err := s.callGateway(ctx, "capture", func(ctx context.Context) error {
		var err error
		result, err = s.payments.Capture(ctx, paymentIntentID)
		return err
	})
	return result, err
}

func (s *CheckoutService) refund(ctx context.Context, paymentIntentID string) {
	err := s.callGateway(context.WithoutCancel(ctx), "refund", func(ctx context.Context) error {
		return s.payments.Refund(ctx, paymentIntentID)
	})
	if err != nil {
		observability.L(ctx, s.logger).Error("refund failed, manual action required",
			zap.String("payment_intent_id", paymentIntentID), zap.Error(err))
	}
}

// callGateway вызывает шлюз с таймаутом paymentTimeout
func (s *CheckoutService) callGateway(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	s.metrics.ObserveGateway(op, time.Since(start))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, ErrPaymentGatewayTimeout)
	case errors.Is(err, ErrPaymentGatewayUnavailable):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrPaymentGatewayUnavailable, err)
	}
}

func (s *CheckoutService) buildOrder(cart repository.Cart, in FinalizeInput, result CaptureResult) repository.Order {
	now := s.now()
	paidAt := result.CapturedAt
	if paidAt.IsZero() {
		paidAt = now
	}
	// несовпадение с владельцем корзины отсекается в Finalize
	customerID := in.CustomerID
	if customerID == 0 {
		customerID = cart.CustomerID
	}

	items := make([]repository.OrderItem, 0, len(cart.Items))
	subtotal := decimal.Zero
	for _, it := range cart.Items {
		line := it.Subtotal()
		subtotal = subtotal.Add(line)
		items = append(items, repository.OrderItem{
			SKU:      it.SKU,
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    it.UnitPrice,
			Subtotal: line,
		})
	}
	tax := decimal.Zero

	return repository.Order{
		ID:              uuid.NewString(),
		Number:          newOrderNumber(),
		CustomerID:      customerID,
		CartID:          cart.ID,
		PaymentIntentID: in.PaymentIntentID,
		PaymentStatus:   repository.PaymentStatusPaid,
		Status:          repository.OrderStatusProcessing,
		ReceiptURL:      result.ReceiptURL,
		Subtotal:        subtotal,
		Tax:             tax,
		Total:           subtotal.Add(tax),
		Items:           items,
		CreatedAt:       now,
		PaidAt:          paidAt,
	}
}

// newOrderNumber формат ORD-XXXXXXXXXXXX (12 hex в верхнем регистре)
func newOrderNumber() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "ORD-" + strings.ToUpper(hex[:12])
}

func finalizeOutput(o repository.Order) *FinalizeOutput {
	return &FinalizeOutput{
		OrderNumber:   o.Number,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Total:         o.Total,
		ReceiptURL:    o.ReceiptURL,
	}
}

func checkoutEvent(o repository.Order) CheckoutCompletedEvent {
	items := make([]CheckoutLineItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, CheckoutLineItem{SKU: it.SKU, Quantity: it.Quantity, Price: it.Price.StringFixed(2)})
	}
	return CheckoutCompletedEvent{
		OrderID:         o.ID,
		OrderNumber:     o.Number,
		CartID:          o.CartID,
		CustomerID:      o.CustomerID,
		PaymentIntentID: o.PaymentIntentID,
		Total:           o.Total.StringFixed(2),
		Items:           items,
	}
}

// mergeLines суммирует строки с одинаковым sku и сортирует по sku
func mergeLines(items []repository.CartItem) []cartLine {
	qty := make(map[string]int, len(items))
	for _, it := range items {
		qty[it.SKU] += it.Quantity
	}
	lines := make([]cartLine, 0, len(qty))
	for sku, q := range qty {
		lines = append(lines, cartLine{SKU: sku, Quantity: q})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].SKU < lines[j].SKU })
	return lines
}

func mergeReservations(rs []repository.StockReservation) []cartLine {
	items := make([]repository.CartItem, 0, len(rs))
	for _, r := range rs {
		items = append(items, repository.CartItem{SKU: r.SKU, Quantity: r.Quantity})
	}
	return mergeLines(items)
}

func reservationIDs(rs []repository.StockReservation) []string {
	ids := make([]string, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.ID)
	}
	return ids
}

// GetOrder заказ по номеру
func (s *CheckoutService) GetOrder(ctx context.Context, number string) (repository.Order, error) {
	return s.orders.GetByNumber(ctx, number)
}
